package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/crimson-sun/stepwise/internal/background"
	"github.com/crimson-sun/stepwise/internal/model"
	"github.com/crimson-sun/stepwise/internal/recording"
)

const maxControlBody = 1 << 20

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithToken requires "Authorization: Bearer <token>" (or ?token= on
// websocket upgrades) on every route except /healthz.
func WithToken(token string) ServerOption {
	return func(s *Server) { s.token = token }
}

// Server exposes the background service over websocket ports and a small
// HTTP control surface.
type Server struct {
	svc      *background.Service
	reg      *Registry
	token    string
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// NewServer wires the routes.
func NewServer(svc *background.Service, reg *Registry, opts ...ServerOption) *Server {
	s := &Server{
		svc: svc,
		reg: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 65536,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}
	s.mux.HandleFunc("GET /ws/capture", s.auth(s.handleCapture))
	s.mux.HandleFunc("GET /ws/ui", s.auth(s.handleUI))
	s.mux.HandleFunc("POST /control", s.auth(s.handleControl))
	s.mux.HandleFunc("GET /recording-data", s.auth(s.handleRecordingData))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" {
			got = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			jsonResponse(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	tabID, err := strconv.Atoi(r.URL.Query().Get("tabId"))
	if err != nil || tabID <= 0 {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "tabId must be a positive integer"})
		return
	}
	s.servePort(w, r, RoleCapture, tabID, r.URL.Query().Get("frameUrl"))
}

func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	s.servePort(w, r, RoleUI, 0, "")
}

func (s *Server) servePort(w http.ResponseWriter, r *http.Request, role Role, tabID int, frameURL string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "role", role, "error", err)
		return
	}
	p := newPort(conn, role, tabID, frameURL)
	p.pinging = true
	if err := s.reg.add(p); err != nil {
		slog.Warn("rejecting port", "role", role, "tab_id", tabID, "error", err)
		p.Close()
		return
	}
	defer s.reg.remove(p)
	slog.Info("port connected", "role", role, "tab_id", tabID, "port", p.ID)

	go p.keepalive()

	ctx := r.Context()
	if role == RoleUI {
		s.greetUI(ctx, p)
	}
	from := background.Sender{TabID: tabID, FrameURL: frameURL}
	err = p.serve(func(msg model.Message) {
		payload, err := s.svc.Handle(ctx, from, msg)
		if err != nil && msg.ID == "" {
			slog.Debug("message failed", "type", msg.Type, "tab_id", tabID, "error", err)
		}
		p.reply(ctx, msg, payload, err)
	})
	if err != nil {
		slog.Debug("port read ended", "port", p.ID, "error", err)
	}
	slog.Info("port disconnected", "role", role, "tab_id", tabID, "port", p.ID)
}

// greetUI sends the current status and workflow to a freshly connected UI.
func (s *Server) greetUI(ctx context.Context, p *Port) {
	st := s.svc.Controller().Status()
	status, err := model.NewMessage(model.MsgRecordingStatusUpdated, model.StatusUpdate{
		Status:    string(st.State),
		SessionID: st.SessionID,
		Message:   st.Message,
	})
	if err == nil {
		p.Send(ctx, status)
	}
	wf, err := model.NewMessage(model.MsgWorkflowUpdated, s.svc.Aggregator().Snapshot())
	if err == nil {
		p.Send(ctx, wf)
	}
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var msg model.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxControlBody)).Decode(&msg); err != nil {
		jsonResponse(w, http.StatusBadRequest, model.Message{Type: model.MsgError, Error: "invalid message: " + err.Error()})
		return
	}

	payload, err := s.svc.Handle(r.Context(), background.Sender{}, msg)
	if err != nil {
		jsonResponse(w, controlStatus(err), msg.ReplyError(err))
		return
	}
	reply, err := msg.Reply(payload)
	if err != nil {
		jsonResponse(w, http.StatusInternalServerError, msg.ReplyError(err))
		return
	}
	jsonResponse(w, http.StatusOK, reply)
}

func controlStatus(err error) int {
	switch {
	case errors.Is(err, recording.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, background.ErrUnsupported):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleRecordingData(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, http.StatusOK, s.svc.RecordingData())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"state":   s.svc.Controller().Status().State,
		"capture": len(s.reg.Ports(RoleCapture)),
		"ui":      len(s.reg.Ports(RoleUI)),
	})
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("encoding JSON response failed", "error", err)
	}
}
