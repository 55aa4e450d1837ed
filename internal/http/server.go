package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/parkswap/internal/dispatch"
	"github.com/example/parkswap/internal/geo"
	"github.com/example/parkswap/internal/lifecycle"
	"github.com/example/parkswap/internal/localstate"
	"github.com/example/parkswap/internal/matcher"
	"github.com/example/parkswap/internal/models"
	"github.com/example/parkswap/internal/storage"
)

// LocationPublisher forwards position reports to the ingest stream.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, p models.Position) error
}

type Deps struct {
	Lifecycle *lifecycle.Service
	Matcher   *matcher.Service
	Store     storage.Store
	Tracker   geo.Tracker
	Hidden    localstate.HiddenCards
	Locations LocationPublisher // optional
	WS        *dispatch.WSRegistry
	Logger    *slog.Logger
}

type Server struct {
	life      *lifecycle.Service
	matcher   *matcher.Service
	store     storage.Store
	tracker   geo.Tracker
	hidden    localstate.HiddenCards
	locations LocationPublisher
	wsReg     *dispatch.WSRegistry
	logger    *slog.Logger
	mux       *mux.Router
}

func NewServer(d Deps) (*Server, error) {
	if d.Lifecycle == nil || d.Matcher == nil || d.Store == nil {
		return nil, errors.New("httpapi: lifecycle, matcher and store are required")
	}
	if d.Tracker == nil {
		d.Tracker = geo.NewIndex()
	}
	if d.Hidden == nil {
		d.Hidden = localstate.NewMemoryHidden()
	}
	if d.WS == nil {
		d.WS = dispatch.NewWSRegistry(d.Logger)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		life:      d.Lifecycle,
		matcher:   d.Matcher,
		store:     d.Store,
		tracker:   d.Tracker,
		hidden:    d.Hidden,
		locations: d.Locations,
		wsReg:     d.WS,
		logger:    d.Logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/alerts", s.handlePublish).Methods(http.MethodPost)
	api.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}", s.handleGetAlert).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/remaining", s.handleRemaining).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/complete", s.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/requests", s.handleRequest).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/requests", s.handleListRequests).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/{action:accept|reject|think}", s.handleRespond).Methods(http.MethodPost)
	api.HandleFunc("/locations", s.handleLocation).Methods(http.MethodPost)
	api.HandleFunc("/ledger/{user_id}", s.handleLedger).Methods(http.MethodGet)
	api.HandleFunc("/users/{user_id}/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/users/{user_id}/hidden", s.handleListHidden).Methods(http.MethodGet)
	api.HandleFunc("/users/{user_id}/hidden/{alert_id}", s.handleHide).Methods(http.MethodPut)
	api.HandleFunc("/users/{user_id}/notifications", s.handleNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{id}/read", s.handleMarkRead).Methods(http.MethodPost)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
