// Package diagnostics exposes a read-only HTTP surface over a running
// set of ShardSets: topology, per-shard breaker state, and a metrics
// handler. It never issues a Query/Run/RunBatch call itself
// (SPEC_FULL.md §4.10) — every handler reads state the dispatchers
// already hold.
package diagnostics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/shardkit/shardkit/pkg/sharding"
)

// @title Shardkit Diagnostics API
// @version 1.0
// @description Read-only topology and circuit-breaker inspection for a running shardkit deployment.
// @license.name MIT
// @BasePath /

// MetricsHandler serves a Prometheus registry's /metrics endpoint;
// *observability.PrometheusRecorder satisfies this via its Handler
// method.
type MetricsHandler interface {
	Handler() http.Handler
}

// Server wires a mux.Router over one or more named ShardSets.
type Server struct {
	shardSets map[string]*sharding.ShardSet
	metrics   MetricsHandler
	logger    *zap.Logger
	router    *mux.Router
}

// NewServer builds a Server. metrics may be nil, in which case
// GET /metrics responds 404.
func NewServer(shardSets map[string]*sharding.ShardSet, metrics MetricsHandler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{shardSets: shardSets, metrics: metrics, logger: logger, router: mux.NewRouter()}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/shards", s.listShards).Methods(http.MethodGet)
	s.router.HandleFunc("/shards/{shardSet}/{shardID}/breaker", s.shardBreaker).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	s.router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)
}

// Handler returns the server's mux.Router, ready to be passed to
// http.Server or used directly in tests.
func (s *Server) Handler() http.Handler { return s.router }

type shardSetView struct {
	Name    string   `json:"name"`
	Shards  []string `json:"shards"`
	Default string   `json:"default_shard,omitempty"`
}

// listShards godoc
// @Summary List shard set topology
// @Description Returns every configured shard set's member shards and default shard.
// @Tags topology
// @Produce json
// @Success 200 {array} shardSetView
// @Router /shards [get]
func (s *Server) listShards(w http.ResponseWriter, r *http.Request) {
	views := make([]shardSetView, 0, len(s.shardSets))
	for name, ss := range s.shardSets {
		ids := ss.Shards()
		names := make([]string, len(ids))
		for i, id := range ids {
			names[i] = string(id)
		}
		view := shardSetView{Name: name, Shards: names}
		if def, ok := ss.DefaultShard(); ok {
			view.Default = string(def)
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

type breakerView struct {
	ShardID             string    `json:"shard_id"`
	Phase               string    `json:"phase"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenSince           time.Time `json:"open_since,omitempty"`
}

// shardBreaker godoc
// @Summary Get a shard's read-manager breaker state
// @Description Returns the circuit breaker phase, consecutive failure count, and open-since timestamp for one shard's read Connection Manager.
// @Tags topology
// @Produce json
// @Param shardSet path string true "Shard set name"
// @Param shardID path string true "Shard id"
// @Success 200 {object} breakerView
// @Failure 404 {string} string "shard set or shard not found"
// @Router /shards/{shardSet}/{shardID}/breaker [get]
func (s *Server) shardBreaker(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ss, ok := s.shardSets[vars["shardSet"]]
	if !ok {
		http.Error(w, "shard set not found", http.StatusNotFound)
		return
	}
	db, ok := ss.Database(sharding.ShardId(vars["shardID"]))
	if !ok {
		http.Error(w, "shard not found", http.StatusNotFound)
		return
	}

	phase, failures, openSince := db.Read.BreakerPhase()
	view := breakerView{
		ShardID:             vars["shardID"],
		Phase:               phase.String(),
		ConsecutiveFailures: failures,
	}
	if !openSince.IsZero() {
		view.OpenSince = openSince
	}
	writeJSON(w, http.StatusOK, view)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
