// Package server exposes a collection service over HTTP: REST for commands
// and fetches, a websocket per subscription for the change feed.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/model"
)

// Error is the error class for the server.
var Error = errs.Class("server")

const (
	writeWait     = 10 * time.Second
	pingPeriod    = 30 * time.Second
	pongWait      = pingPeriod + 10*time.Second
	feedBuffer    = 256
	shutdownGrace = 5 * time.Second
)

// Config configures the HTTP surface.
type Config struct {
	Listen string
	// Token, when set, must be presented as a bearer token.
	Token string
	// AnonKey, when set, must be presented in the apikey header.
	AnonKey string
}

// Server serves one backend.Service.
type Server struct {
	log      *zap.Logger
	svc      backend.Service
	cfg      Config
	router   *mux.Router
	upgrader websocket.Upgrader
}

// New builds the router.
func New(log *zap.Logger, svc backend.Service, cfg Config) *Server {
	s := &Server{log: log, svc: svc, cfg: cfg}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	api := r.PathPrefix("/v1/collections/{collection}").Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/items", s.fetchAll).Methods(http.MethodGet)
	api.HandleFunc("/items", s.insert).Methods(http.MethodPost)
	api.HandleFunc("/items/{id}", s.update).Methods(http.MethodPatch)
	api.HandleFunc("/items/{id}", s.delete).Methods(http.MethodDelete)
	api.HandleFunc("/changes", s.changes).Methods(http.MethodGet)

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return Error.Wrap(err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return Error.Wrap(err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return Error.Wrap(srv.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AnonKey != "" && !equal(r.Header.Get("apikey"), s.cfg.AnonKey) {
			s.writeError(w, http.StatusUnauthorized, errors.New("invalid api key"))
			return
		}
		if s.cfg.Token != "" {
			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || !equal(strings.TrimSpace(token), s.cfg.Token) {
				s.writeError(w, http.StatusUnauthorized, errors.New("invalid bearer token"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) fetchAll(w http.ResponseWriter, r *http.Request) {
	order, err := backend.ParseOrder(r.URL.Query().Get("order"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	items, err := s.svc.FetchAll(r.Context(), mux.Vars(r)["collection"], order)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) insert(w http.ResponseWriter, r *http.Request) {
	var fields model.Patch
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	it, err := s.svc.Insert(r.Context(), mux.Vars(r)["collection"], fields)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, it)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	var patch model.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if patch.Empty() {
		s.writeError(w, http.StatusBadRequest, errors.New("empty patch"))
		return
	}
	vars := mux.Vars(r)
	it, err := s.svc.Update(r.Context(), vars["collection"], model.ID(vars["id"]), patch)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, it)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.svc.Delete(r.Context(), vars["collection"], model.ID(vars["id"])); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// changes streams the collection's feed as JSON text frames until either
// side goes away. A client that cannot keep up is disconnected.
func (s *Server) changes(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	if err := backend.ValidateCollection(collection); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	// subscribe before answering the upgrade so that every commit made after
	// the client's dial returns is delivered
	out := make(chan backend.Change, feedBuffer)
	overflow := make(chan struct{})
	var overflowed bool
	sub, err := s.svc.Subscribe(context.Background(), collection, func(c backend.Change) {
		if overflowed {
			return
		}
		select {
		case out <- c:
		default:
			overflowed = true
			close(overflow)
		}
	})
	if err != nil {
		s.log.Warn("subscribe failed", zap.Error(err))
		s.writeServiceError(w, err)
		return
	}
	defer func() { _ = s.svc.Unsubscribe(sub) }()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	log := s.log.With(zap.String("subscription", sub.ID()), zap.String("collection", collection))
	log.Debug("feed client connected")

	// the reader only watches for the client going away
	gone := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case c := <-out:
			b, err := json.Marshal(c)
			if err != nil {
				log.Error("encode change", zap.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-overflow:
			log.Warn("feed client too slow, disconnecting")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"), time.Now().Add(writeWait))
			return
		case <-sub.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"), time.Now().Add(writeWait))
			return
		case <-gone:
			log.Debug("feed client disconnected")
			return
		}
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backend.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, backend.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, err)
	case backend.Error.Has(err):
		s.writeError(w, http.StatusBadRequest, err)
	default:
		s.log.Error("service error", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response", zap.Error(err))
	}
}
