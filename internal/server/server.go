package server

import (
	"context"
	"net/http"
	"time"

	"github.com/craftops/craftops/internal/mcstatus"
	"github.com/craftops/craftops/internal/vm"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrMissingZone     = errors.New("missing zone parameter")
	ErrMissingInstance = errors.New("missing instance parameter")
)

// Server maps the HTTP surface onto the lifecycle manager and the game-server
// status aggregator. It validates zone/instance before either is invoked and
// renders failures as "Error: <message>" with the original message intact.
type Server struct {
	vm     vm.Manager
	mc     mcstatus.Aggregator
	logger *logrus.Entry
}

func New(manager vm.Manager, aggregator mcstatus.Aggregator, logger *logrus.Entry) *Server {
	return &Server{
		vm:     manager,
		mc:     aggregator,
		logger: logger,
	}
}

// operation is the shared shape of every route: a core call on one
// (zone, instance) pair returning a text body.
type operation func(ctx context.Context, zone, instance string) (string, error)

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/vm-start", s.handle(s.vm.Start))
	mux.HandleFunc("/vm-stop", s.handle(s.vm.Stop))
	mux.HandleFunc("/vm-restart", s.handle(s.vm.Restart))
	mux.HandleFunc("/vm-status", s.handle(s.vm.Status))
	mux.HandleFunc("/mcs-status", s.handle(s.mc.Status))
	mux.HandleFunc("/mcs-player-count", s.handle(s.mc.PlayerCount))
	mux.HandleFunc("/mcs-player-list", s.handle(s.mc.PlayerList))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return s.withAccessLog(mux)
}

func (s *Server) handle(op operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		zone, instance, err := instanceParams(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		body, err := op(r.Context(), zone, instance)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

func instanceParams(r *http.Request) (zone, instance string, err error) {
	if err = r.ParseForm(); err != nil {
		return "", "", errors.Wrap(err, "failed to parse request parameters")
	}
	// FormValue merges query values ahead of body values, so query wins
	zone = r.FormValue("zone")
	instance = r.FormValue("instance")
	if zone == "" {
		return "", "", ErrMissingZone
	}
	if instance == "" {
		return "", "", ErrMissingInstance
	}
	return zone, instance, nil
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte("Error: " + err.Error()))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.WithFields(logrus.Fields{
			"request-id": uuid.NewString(),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     recorder.status,
			"duration":   time.Since(start).String(),
		}).Info("request handled")
	})
}
