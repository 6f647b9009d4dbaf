package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/sensordash/internal/config"
	"codeberg.org/mutker/sensordash/internal/errors"
	"codeberg.org/mutker/sensordash/internal/logger"
	"codeberg.org/mutker/sensordash/internal/sample"
	"codeberg.org/mutker/sensordash/internal/session"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	serverTimeout  = 10 * time.Second
	maxHeaderBytes = 1 << 20
	maxBodyBytes   = 64 << 10
)

type Options struct {
	Addr    string
	WebRoot string
	// Defaults are used by POST /api/start for fields the request omits.
	Defaults session.Config
	// Metrics, when set, is served on /metrics.
	Metrics http.Handler
	Logger  logger.Logger
}

// Server exposes the session over HTTP and a WebSocket stream.
type Server struct {
	sess     *session.Session
	hub      *Hub
	router   *mux.Router
	srv      *http.Server
	defaults session.Config
	upgrader websocket.Upgrader
	log      logger.Logger
}

// New builds the router and subscribes the stream hub to the session.
func New(sess *session.Session, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	s := &Server{
		sess:     sess,
		hub:      NewHub(log),
		router:   mux.NewRouter(),
		defaults: opts.Defaults,
		log:      log.With("api"),
	}

	sess.AddRenderer(s.hub)
	sess.Reporter().Subscribe(s.hub)
	sess.History().Subscribe(s.hub)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/latest", s.handleLatest).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/clear", s.handleClear).Methods(http.MethodPost)
	api.HandleFunc("/definitions", s.handleDefinitions).Methods(http.MethodGet)
	api.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/endpoint/camera", s.handleCamera).Methods(http.MethodPost)
	api.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)

	if opts.Metrics != nil {
		s.router.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	if opts.WebRoot != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(opts.WebRoot)))
	}

	s.srv = &http.Server{
		Addr:           opts.Addr,
		ReadTimeout:    serverTimeout,
		WriteTimeout:   serverTimeout,
		IdleTimeout:    3 * serverTimeout,
		MaxHeaderBytes: maxHeaderBytes,
		Handler:        s.router,
	}

	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the stream hub.
func (s *Server) Hub() *Hub { return s.hub }

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("Dashboard API listening")

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New().Wrap(ErrServe, err)
	}
	return nil
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errors.New().Wrap(ErrServe, err)
	}
	return s.Serve(ln)
}

// Shutdown closes stream clients and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if err := s.srv.Shutdown(ctx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}

type statusResponse struct {
	State       session.State `json:"state"`
	Status      string        `json:"status"`
	Mode        session.Mode  `json:"mode"`
	EndpointURL string        `json:"endpointUrl"`
	UseMock     bool          `json:"useMock"`
	IntervalMs  int64         `json:"intervalMs"`
	Running     bool          `json:"running"`
	Count       int           `json:"count"`
	RunID       string        `json:"runId,omitempty"`
}

func (s *Server) snapshot() statusResponse {
	cfg := s.sess.Config()
	state := s.sess.State()

	return statusResponse{
		State:       state,
		Status:      string(s.sess.Reporter().Current()),
		Mode:        cfg.Mode,
		EndpointURL: cfg.EndpointURL,
		UseMock:     cfg.UseMock,
		IntervalMs:  cfg.Interval.Milliseconds(),
		Running:     state == session.StateRunning,
		Count:       s.sess.History().Count(),
		RunID:       s.sess.RunID(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sess.Last())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, errors.New().WithMessage(ErrBadRequest, "limit must be a non-negative integer").WithData(v))
			return
		}
		limit = n
	}

	s.writeJSON(w, http.StatusOK, s.sess.History().Recent(limit))
}

func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	s.sess.ClearHistory()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDefinitions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, sample.Definitions)
}

type startRequest struct {
	EndpointURL *string `json:"endpointUrl"`
	Mode        *string `json:"mode"`
	IntervalMs  *int    `json:"intervalMs"`
	UseMock     *bool   `json:"useMock"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, errors.New().Wrap(ErrBadRequest, err))
		return
	}

	cfg := s.defaults
	if req.EndpointURL != nil {
		cfg.EndpointURL = *req.EndpointURL
	}
	if req.Mode != nil {
		mode, err := session.ParseMode(*req.Mode)
		if err != nil {
			s.writeError(w, err)
			return
		}
		cfg.Mode = mode
	}
	if req.IntervalMs != nil {
		cfg.Interval = session.NormalizeInterval(*req.IntervalMs)
	}
	if req.UseMock != nil {
		cfg.UseMock = *req.UseMock
	}

	if err := s.sess.Start(r.Context(), cfg); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, s.snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.sess.Stop(); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.snapshot())
}

type cameraRequest struct {
	CameraURL string `json:"cameraUrl"`
}

type cameraResponse struct {
	EndpointURL string `json:"endpointUrl"`
}

func (s *Server) handleCamera(w http.ResponseWriter, r *http.Request) {
	var req cameraRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, errors.New().Wrap(ErrBadRequest, err))
		return
	}

	endpoint, err := config.PushURLFromCamera(req.CameraURL)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, cameraResponse{EndpointURL: endpoint})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("Stream upgrade failed")
		return
	}

	s.hub.serve(conn, s.streamSnapshot)
}

// streamSnapshot returns the frames a new stream client starts from.
func (s *Server) streamSnapshot() []Message {
	initial := []Message{{Type: TypeStatus, Status: s.sess.Reporter().Current()}}
	if last := s.sess.Last(); last != nil {
		initial = append(initial, Message{Type: TypeSample, Sample: last})
	}

	return initial
}

type errorResponse struct {
	Error   errors.ErrorCode `json:"error"`
	Message string           `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("Request failed")
	}

	s.writeJSON(w, code, errorResponse{Error: errors.CodeOf(err), Message: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("Failed to write response")
	}
}
