package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/dgraph-io/gqlparser/v2/ast"

	"github.com/pithecene-io/chatlink/types"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// handleGraphQL serves queries and mutations. Request errors (parse,
// validation, subscriptions over HTTP) are 400 with an errors envelope;
// executed operations are 200 even when they carry errors.
func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope([]types.GraphQLError{{Message: "invalid request body: " + err.Error()}}))
		return
	}

	p, errs := s.prepare(req)
	if errs != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope(errs))
		return
	}
	if p.op.Operation == ast.Subscription {
		writeJSON(w, http.StatusBadRequest, errorEnvelope([]types.GraphQLError{{Message: "subscriptions are served over WebSocket"}}))
		return
	}

	user := s.requestUser(r)
	env := s.execute(r.Context(), p, user)
	s.logger.Debug("operation executed", map[string]any{
		"operation": p.op.Name,
		"kind":      string(p.op.Operation),
		"user":      user,
		"errors":    len(env.Errors),
	})
	writeJSON(w, http.StatusOK, env)
}

// requestUser returns the subject of a valid bearer token, or "".
func (s *Server) requestUser(r *http.Request) string {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		return ""
	}
	user, err := s.verify(token)
	if err != nil {
		s.logger.Debug("rejected bearer token", map[string]any{"error": err.Error()})
		return ""
	}
	return user
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	u, ok := s.users[req.Email]
	if !ok || u.Password != req.Password {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	token, err := s.IssueToken(u.ID)
	if err != nil {
		s.logger.Error("token issuance failed", map[string]any{"error": err.Error()})
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.logger.Info("login", map[string]any{"user": u.ID})
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
