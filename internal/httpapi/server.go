// Package httpapi implements the administrative HTTP surface for TinyDb:
// health, statistics, checkpoint/compact control, and collection CRUD/find/
// index operations over JSON, in place of the remote-procedure surface a
// multi-process deployment would otherwise need.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinydb-go/tinydb/internal/logger"
	"github.com/tinydb-go/tinydb/internal/metrics"
	"github.com/tinydb-go/tinydb/pkg/bson"
	"github.com/tinydb-go/tinydb/pkg/engine"
)

// Config configures NewServer.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORS         bool
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	return c
}

// Server is the admin HTTP API in front of one Engine.
type Server struct {
	engine *engine.Engine
	router *mux.Router
	http   *http.Server
	cfg    Config
	log    *logger.Logger
	met    *metrics.Metrics
}

// NewServer wires an Engine behind a mux.Router and a net/http.Server.
func NewServer(e *engine.Engine, cfg Config, log *logger.Logger, met *metrics.Metrics) *Server {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	s := &Server{
		engine: e,
		router: mux.NewRouter(),
		cfg:    cfg,
		log:    log,
		met:    met,
	}
	s.setupRoutes()
	s.setupMiddleware()
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/checkpoint", s.handleCheckpoint).Methods(http.MethodPost)
	s.router.HandleFunc("/compact", s.handleCompact).Methods(http.MethodPost)
	s.router.HandleFunc("/flush", s.handleFlush).Methods(http.MethodPost)

	s.router.HandleFunc("/collections", s.handleListCollections).Methods(http.MethodGet)
	s.router.HandleFunc("/collections/{name}/documents", s.handleInsert).Methods(http.MethodPost)
	s.router.HandleFunc("/collections/{name}/documents/{id}", s.handleFindByID).Methods(http.MethodGet)
	s.router.HandleFunc("/collections/{name}/documents/{id}", s.handleUpdate).Methods(http.MethodPut)
	s.router.HandleFunc("/collections/{name}/documents/{id}", s.handleDelete).Methods(http.MethodDelete)
	s.router.HandleFunc("/collections/{name}/indexes", s.handleCreateIndex).Methods(http.MethodPost)
	s.router.HandleFunc("/collections/{name}/indexes/{index}", s.handleDropIndex).Methods(http.MethodDelete)
	s.router.HandleFunc("/collections/{name}/find", s.handleIndexLookup).Methods(http.MethodPost)

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func (s *Server) setupMiddleware() {
	if s.cfg.CORS {
		s.router.Use(corsMiddleware)
	}
	s.router.Use(s.loggingMiddleware)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		op := r.Method + " " + r.URL.Path
		elapsed := time.Since(start)
		s.log.LogDbOperation(op, elapsed, 0, nil)
		if s.met != nil {
			s.met.RecordDbOperation(op, "ok", elapsed)
		}
	})
}

// Start begins serving and blocks until the server stops.
func (s *Server) Start() error {
	s.log.LogServerStart(s.cfg.Port, "")
	s.log.LogServerReady(s.cfg.Port)
	return s.http.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.log.LogServerShutdown()
	return s.http.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]interface{}{"error": message, "status": status}
	if err != nil {
		body["details"] = err.Error()
	}
	s.writeJSON(w, status, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Statistics()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read statistics", err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Checkpoint(); err != nil {
		s.writeError(w, http.StatusInternalServerError, "checkpoint failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "checkpointed"})
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Compact(); err != nil {
		s.writeError(w, http.StatusInternalServerError, "compact failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "compacted"})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Flush(); err != nil {
		s.writeError(w, http.StatusInternalServerError, "flush failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"collections": s.engine.Collections()})
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	c, err := s.engine.Collection(name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to resolve collection", err)
		return
	}
	doc := fromJSON(body)
	if _, ok := doc.Get("_id"); !ok {
		// Assign the id here rather than relying on Collection.Insert's
		// internal auto-assignment, which clones the document and would
		// leave this handler's copy without the id it needs to echo back.
		doc.Set("_id", bson.ObjectIDV(bson.NewObjectID()))
	}
	if err := c.Insert(doc); err != nil {
		s.writeError(w, http.StatusBadRequest, "insert failed", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toJSON(doc))
}

func (s *Server) handleFindByID(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	c, err := s.engine.Collection(vars["name"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to resolve collection", err)
		return
	}
	doc, found, err := c.FindByID(idFromJSON(vars["id"]))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed", err)
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "document not found", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, toJSON(doc))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	c, err := s.engine.Collection(vars["name"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to resolve collection", err)
		return
	}
	doc := fromJSON(body)
	doc.Set("_id", idFromJSON(vars["id"]))
	if err := c.Update(doc); err != nil {
		s.writeError(w, http.StatusBadRequest, "update failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, toJSON(doc))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	c, err := s.engine.Collection(vars["name"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to resolve collection", err)
		return
	}
	removed, err := c.Delete(idFromJSON(vars["id"]))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "delete failed", err)
		return
	}
	if !removed {
		s.writeError(w, http.StatusNotFound, "document not found", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req struct {
		Name   string   `json:"name"`
		Fields []string `json:"fields"`
		Unique bool     `json:"unique"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	c, err := s.engine.Collection(name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to resolve collection", err)
		return
	}
	if err := c.EnsureIndex(req.Name, req.Fields, req.Unique); err != nil {
		s.writeError(w, http.StatusBadRequest, "create index failed", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "created", "index": req.Name})
}

func (s *Server) handleDropIndex(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	c, err := s.engine.Collection(vars["name"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to resolve collection", err)
		return
	}
	if err := c.DropIndex(vars["index"]); err != nil {
		s.writeError(w, http.StatusBadRequest, "drop index failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "dropped"})
}

func (s *Server) handleIndexLookup(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req struct {
		Index  string        `json:"index"`
		Values []interface{} `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	c, err := s.engine.Collection(name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to resolve collection", err)
		return
	}
	values := make([]bson.Value, len(req.Values))
	for i, v := range req.Values {
		values[i] = jsonToValue(v)
	}
	docs, err := c.IndexLookup(req.Index, values)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "lookup failed", err)
		return
	}
	out := make([]map[string]interface{}, len(docs))
	for i, d := range docs {
		out[i] = toJSON(d)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"documents": out, "count": len(out)})
}

