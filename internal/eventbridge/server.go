package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kingrea/stepflow/internal/config"
	"github.com/kingrea/stepflow/internal/stepflow"
)

// MaxBodyBytes limits event payloads to 64 KB.
const MaxBodyBytes int64 = 64 << 10

const shutdownGrace = 2 * time.Second

// Wizard is the running wizard the bridge answers for. *stepflow.Orchestrator
// satisfies it.
type Wizard interface {
	Snapshot() stepflow.Snapshot
}

// Server accepts events for one wizard session over loopback HTTP. Events are
// checked against the wizard's plan before they reach the processor.
type Server struct {
	cfg        config.BridgeConfig
	processor  EventProcessor
	wizard     Wizard
	templateID string
	sessionID  string
	maxBody    int64
	logger     Logger
	clock      func() time.Time
	started    time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithProcessor receives accepted events, usually a Router.
func WithProcessor(p EventProcessor) Option {
	return func(s *Server) {
		if p != nil {
			s.processor = p
		}
	}
}

// WithWizard attaches the session the bridge serves. Events for another
// template or session are refused, and step numbers are checked against the
// wizard's plan.
func WithWizard(templateID, sessionID string, w Wizard) Option {
	return func(s *Server) {
		s.templateID = strings.TrimSpace(templateID)
		s.sessionID = strings.TrimSpace(sessionID)
		s.wizard = w
	}
}

// WithMaxBodyBytes overrides the payload limit.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a bridge for the configured address.
func NewServer(cfg config.BridgeConfig, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		processor: EventProcessorFunc(func(Event) error { return nil }),
		maxBody:   MaxBodyBytes,
		logger:    nopLogger{},
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.started = s.clock()
	return s
}

// Handler returns the bridge's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /events", s.handleEvents)
	return mux
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return nil, fmt.Errorf("eventbridge: listen %s: %w", s.cfg.Address(), err)
	}
	return ln, nil
}

// Serve handles requests on ln until ctx ends, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Printf("eventbridge: serving session %s on %s", s.sessionID, ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("eventbridge: serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("eventbridge: shutdown: %w", err)
	}
	return nil
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	TemplateID    string `json:"template_id,omitempty"`
	ActiveStep    int    `json:"active_step"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:        "ready",
		Version:       ProtocolVersion,
		TemplateID:    s.templateID,
		ActiveStep:    stepflow.None,
		UptimeSeconds: int64(s.clock().Sub(s.started).Seconds()),
	}
	if s.wizard != nil {
		resp.ActiveStep = s.wizard.Snapshot().Active
	}
	writeJSON(w, http.StatusOK, resp)
}

type stateResponse struct {
	SessionID  string            `json:"session_id"`
	TemplateID string            `json:"template_id"`
	Wizard     stepflow.Snapshot `json:"wizard"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	if s.wizard == nil {
		writeError(w, http.StatusNotFound, "no wizard attached")
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{
		SessionID:  s.sessionID,
		TemplateID: s.templateID,
		Wizard:     s.wizard.Snapshot(),
	})
}

type eventResponse struct {
	Status     string    `json:"status"`
	ServerTime time.Time `json:"server_time"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload exceeds limit")
			return
		}
		writeError(w, http.StatusBadRequest, "unable to read body")
		return
	}
	evt, err := DecodeEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, code, err := s.admit(evt)
	if err != nil {
		s.logger.Printf("eventbridge: refused %s %s: %v", evt.Type, evt.EventID, err)
		writeError(w, code, err.Error())
		return
	}
	evt.StampServerTime(s.clock())
	if err := s.processor.HandleEvent(evt); err != nil {
		s.logger.Printf("eventbridge: processor error for %s %s: %v", evt.Type, evt.EventID, err)
		writeError(w, http.StatusInternalServerError, "event processing failed")
		return
	}
	writeJSON(w, http.StatusAccepted, eventResponse{Status: status, ServerTime: evt.ServerTime})
}

// admit checks an event against the attached wizard and returns the status
// reported back to the sender.
func (s *Server) admit(evt Event) (string, int, error) {
	if s.wizard == nil {
		return "accepted", 0, nil
	}
	if s.templateID != "" && templateKey(evt.TemplateID) != templateKey(s.templateID) {
		return "", http.StatusNotFound, fmt.Errorf("template %q is not running here", evt.TemplateID)
	}
	if s.sessionID != "" && evt.SessionID != "" && evt.SessionID != s.sessionID {
		return "", http.StatusNotFound, fmt.Errorf("session %q is not running here", evt.SessionID)
	}
	snap := s.wizard.Snapshot()
	switch evt.Type {
	case TypeStepCompleted:
		if evt.Step > len(snap.Steps) {
			return "", http.StatusUnprocessableEntity, fmt.Errorf("step %d is outside the %d-step plan", evt.Step, len(snap.Steps))
		}
		for _, done := range snap.Completed {
			if done == evt.Step {
				return "already_completed", 0, nil
			}
		}
	case TypeDirtyChanged:
		if snap.Active == stepflow.None {
			return "", http.StatusConflict, errors.New("no step is open")
		}
	}
	return "accepted", 0, nil
}

// DecodeEvent parses, normalizes, and validates an inbound event body.
func DecodeEvent(body []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, errors.New("invalid JSON")
	}
	evt.Normalize()
	if err := evt.Validate(); err != nil {
		return Event{}, err
	}
	return evt, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
