package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dgraph-io/gqlparser/v2/ast"
	"github.com/gorilla/websocket"

	"github.com/pithecene-io/chatlink/types"
)

const wsWriteTimeout = 5 * time.Second

// wsConn is one graphql-ws connection. Writes are serialized by wmu.
type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex

	mu    sync.Mutex
	user  string
	acked bool
	ops   map[string]context.CancelFunc
}

func (c *wsConn) write(f types.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(f)
}

func (c *wsConn) writePayload(id string, typ types.FrameType, payload any) error {
	f := types.Frame{ID: id, Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		f.Payload = raw
	}
	return c.write(f)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	c := &wsConn{conn: conn, ops: make(map[string]context.CancelFunc)}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	s.readLoop(ctx, c)
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	for {
		var f types.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			s.logger.Debug("websocket closed", map[string]any{"error": err.Error()})
			return
		}

		switch f.Type {
		case types.FrameConnectionInit:
			if !s.handleInit(ctx, c, f.Payload) {
				return
			}
		case types.FrameStart:
			c.mu.Lock()
			acked := c.acked
			c.mu.Unlock()
			if !acked {
				_ = c.writePayload(f.ID, types.FrameError, map[string]any{"message": "connection not initialized"})
				continue
			}
			s.start(ctx, c, f.ID, f.Payload)
		case types.FrameStop:
			c.mu.Lock()
			stop := c.ops[f.ID]
			delete(c.ops, f.ID)
			c.mu.Unlock()
			if stop != nil {
				stop()
			}
		case types.FrameConnectionTerminate:
			return
		default:
			s.logger.Debug("unknown frame ignored", map[string]any{"type": string(f.Type)})
		}
	}
}

// handleInit authenticates the connection. An invalid token is answered
// with connection_error and ends the connection.
func (s *Server) handleInit(ctx context.Context, c *wsConn, payload json.RawMessage) bool {
	var params struct {
		AccessToken string `json:"accessToken"`
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &params)
	}

	user := ""
	if params.AccessToken != "" {
		u, err := s.verify(params.AccessToken)
		if err != nil {
			_ = c.writePayload("", types.FrameConnectionError, map[string]any{"message": "invalid access token"})
			return false
		}
		user = u
	}

	c.mu.Lock()
	c.user = user
	first := !c.acked
	c.acked = true
	c.mu.Unlock()

	if err := c.write(types.Frame{Type: types.FrameConnectionAck}); err != nil {
		return false
	}
	if first && s.keepAlive > 0 {
		_ = c.write(types.Frame{Type: types.FrameKeepAlive})
		go s.keepAliveLoop(ctx, c)
	}
	return true
}

func (s *Server) keepAliveLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(types.Frame{Type: types.FrameKeepAlive}); err != nil {
				return
			}
		}
	}
}

// start runs one operation of the connection. Queries and mutations answer
// with one data frame then complete; subscriptions stream until stopped.
func (s *Server) start(ctx context.Context, c *wsConn, id string, payload json.RawMessage) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		_ = c.writePayload(id, types.FrameError, []types.GraphQLError{{Message: "invalid start payload"}})
		return
	}
	p, errs := s.prepare(req)
	if errs != nil {
		_ = c.writePayload(id, types.FrameError, errs)
		return
	}
	s.starts.Add(1)

	c.mu.Lock()
	user := c.user
	if prev := c.ops[id]; prev != nil {
		prev()
	}
	opCtx, cancel := context.WithCancel(ctx)
	c.ops[id] = cancel
	c.mu.Unlock()

	if p.op.Operation != ast.Subscription {
		defer s.finish(c, id)
		env := s.execute(opCtx, p, user)
		_ = c.writePayload(id, types.FrameData, env)
		_ = c.write(types.Frame{ID: id, Type: types.FrameComplete})
		return
	}

	fields := collectFields(p.op.SelectionSet)
	if len(fields) != 1 {
		s.finish(c, id)
		_ = c.writePayload(id, types.FrameError, []types.GraphQLError{{Message: "subscription must select exactly one field"}})
		return
	}
	f := fields[0]
	fn, _ := s.table[FieldKey{Type: s.schema.Subscription.Name, Field: f.Name}].(StreamFunc)
	if fn == nil {
		s.finish(c, id)
		_ = c.writePayload(id, types.FrameError, []types.GraphQLError{{Message: "no resolver for " + f.Name}})
		return
	}
	values, err := fn(opCtx, ResolveContext{Args: f.ArgumentMap(p.vars), User: user})
	if err != nil {
		s.finish(c, id)
		_ = c.writePayload(id, types.FrameError, []types.GraphQLError{fieldError(f, err)})
		return
	}
	s.logger.Debug("subscription started", map[string]any{"id": id, "field": f.Name, "user": user})

	go func() {
		for {
			select {
			case <-opCtx.Done():
				return
			case v, ok := <-values:
				if !ok {
					if opCtx.Err() != nil {
						return
					}
					s.finish(c, id)
					_ = c.write(types.Frame{ID: id, Type: types.FrameComplete})
					return
				}
				if err := c.writePayload(id, types.FrameData, s.event(opCtx, f, p.vars, v, user)); err != nil {
					return
				}
			}
		}
	}()
}

// finish forgets the operation id.
func (s *Server) finish(c *wsConn, id string) {
	c.mu.Lock()
	cancel := c.ops[id]
	delete(c.ops, id)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
