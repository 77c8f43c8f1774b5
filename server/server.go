package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/gqlparser/v2/ast"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/pithecene-io/chatlink/log"
	"github.com/pithecene-io/chatlink/types"
)

// Defaults.
const (
	DefaultTokenTTL        = 24 * time.Hour
	DefaultKeepAlive       = 10 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	maxRequestBytes        = 1 << 20
)

// User is a login account of the dev server.
type User struct {
	ID       string
	Password string
}

// DefaultUsers are the accounts available when Config.Users is nil.
var DefaultUsers = map[string]User{
	"alice@example.com": {ID: "alice", Password: "alice"},
	"bob@example.com":   {ID: "bob", Password: "bob"},
}

// Config configures a Server.
type Config struct {
	// Secret signs issued tokens (HS256). Required.
	Secret []byte
	// Users maps login email to account (default DefaultUsers).
	Users map[string]User
	// TokenTTL is the lifetime of issued tokens (default 24h).
	TokenTTL time.Duration
	// KeepAlive is the interval of ka frames; negative disables them.
	KeepAlive time.Duration
	// Store holds the messages; a new empty store when nil.
	Store  *Store
	Logger *log.Logger
}

// Server is the chat dev server.
type Server struct {
	schema    *ast.Schema
	table     Table
	store     *Store
	secret    []byte
	users     map[string]User
	tokenTTL  time.Duration
	keepAlive time.Duration
	logger    *log.Logger
	upgrader  websocket.Upgrader
	router    *mux.Router
	now       func() time.Time

	starts atomic.Int64

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

// New loads the schema and validates the resolver table against it.
func New(cfg Config) (*Server, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("server: secret is required")
	}
	schema, err := LoadSchema(SchemaSDL)
	if err != nil {
		return nil, err
	}
	store := cfg.Store
	if store == nil {
		store = NewStore()
	}
	table := chatTable(store)
	if err := table.Validate(schema); err != nil {
		return nil, err
	}

	if cfg.Users == nil {
		cfg.Users = DefaultUsers
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}

	s := &Server{
		schema:    schema,
		table:     table,
		store:     store,
		secret:    cfg.Secret,
		users:     cfg.Users,
		tokenTTL:  cfg.TokenTTL,
		keepAlive: cfg.KeepAlive,
		logger:    logger.Named("server"),
		upgrader: websocket.Upgrader{
			Subprotocols: []string{types.Subprotocol},
			CheckOrigin:  func(*http.Request) bool { return true },
		},
		now:   time.Now,
		conns: make(map[*wsConn]struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/graphql", s.handleGraphQL).Methods(http.MethodPost)
	r.HandleFunc("/graphql", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	s.router = r
	return s, nil
}

// Handler returns the HTTP handler serving /graphql and /login.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Store returns the message store.
func (s *Server) Store() *Store {
	return s.store
}

// IssueToken signs a token for user.
func (s *Server) IssueToken(user string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   user,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("server: sign token: %w", err)
	}
	return signed, nil
}

// verify returns the subject of a valid token.
func (s *Server) verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// DropConnections abruptly closes every open WebSocket connection without
// a close handshake.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.conn.NetConn().Close()
	}
	s.logger.Info("connections dropped", map[string]any{"count": len(conns)})
}

// Connections returns the number of open WebSocket connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Starts returns the number of start frames accepted over WebSocket.
func (s *Server) Starts() int64 {
	return s.starts.Load()
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("listening", map[string]any{"addr": ln.Addr().String()})

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	s.DropConnections()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
