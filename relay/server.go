package relay

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"chat-relay/auth"
	"chat-relay/errors"
	"chat-relay/services"

	"github.com/gorilla/websocket"
)

// Server is the HTTP surface: the websocket upgrade endpoint plus the two
// JSON auth endpoints that bootstrap a client before it opens a socket.
type Server struct {
	log        *slog.Logger
	router     *Router
	authSvc    services.IAuthService
	sendBuffer int
	upgrader   websocket.Upgrader
}

func NewServer(log *slog.Logger, router *Router, authSvc services.IAuthService, sendBuffer int) *Server {
	return &Server{
		log:        log,
		router:     router,
		authSvc:    authSvc,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Token validation happens on newConnection, not at upgrade
			// time, so cross-origin upgrades are allowed through here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := newConn(ws, s.router, s.sendBuffer, s.log)
	s.log.Debug("Connection opened", "conn_id", conn.ID(), "remote", r.RemoteAddr)

	go conn.writePump()
	go conn.readPump()
}

type authResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	token, user, err := s.authSvc.Register(req)
	if err != nil {
		s.log.Warn("Registration failed", "email", req.Email, "error", err)
		s.writeServiceError(w, err)
		return
	}

	s.log.Info("User registered", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{
		Token: string(token),
		User:  user.Domain().Public(false),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	token, user, err := s.authSvc.Login(req)
	if err != nil {
		s.log.Warn("Login failed", "email", req.Email, "error", err)
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Token: string(token),
		User:  user.Domain().Public(false),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	reply := errors.MapToReply(err)
	writeJSONError(w, statusFor(err), reply.Message)
}

func statusFor(err error) int {
	switch {
	case stderrors.Is(err, errors.ErrValidationFailed), stderrors.Is(err, errors.ErrInvalidPassword):
		return http.StatusBadRequest
	case stderrors.Is(err, errors.ErrInvalidCredentials), stderrors.Is(err, errors.ErrUnauthorized):
		return http.StatusUnauthorized
	case stderrors.Is(err, errors.ErrUserAlreadyExists):
		return http.StatusConflict
	case stderrors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{OK: false, Message: message})
}
