package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/botops/internal/history"
	"github.com/loykin/botops/internal/metrics"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Router provides read-only HTTP handlers over the wrapper run history.
// Endpoints:
//
//	GET {basePath}/runs      query: limit=N (default 50, max 1000), name=... (optional)
//	GET {basePath}/healthz
//	GET {basePath}/metrics   Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	reader   history.Reader
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(reader history.Reader, basePath string) *Router {
	return &Router{reader: reader, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/runs", r.handleRuns)
	group.GET("/healthz", r.handleHealth)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer builds an HTTP server for addr using this router. The caller
// runs ListenAndServe and Shutdown.
func NewServer(addr, basePath string, reader history.Reader) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(reader, basePath).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type healthResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleRuns(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	name := c.Query("name")
	if name != "" && !validName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: at most 256 printable characters"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	runs, err := r.reader.List(ctx, name, limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(c, http.StatusOK, runs)
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, healthResp{OK: true})
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}
