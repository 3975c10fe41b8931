// Package httpapi exposes the workflow engine over HTTP.
//
// Endpoints:
//
//	GET  /                      welcome banner
//	GET  /healthz               liveness probe
//	GET  /metrics               Prometheus metrics
//	GET  /tools                 registered node function names
//	POST /graph/create          validate and store a graph definition
//	POST /graph/run             start a run and drive it to a stopping point
//	POST /graph/resume/:run_id  resume a suspended run
//	GET  /graph/state/:run_id   read a run snapshot
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dshills/duraflow/flow"
)

// Server wires engine operations to HTTP routes.
type Server struct {
	engine   *flow.Engine
	log      zerolog.Logger
	gatherer prometheus.Gatherer
}

// New creates a Server. A nil gatherer falls back to the default Prometheus
// gatherer.
func New(engine *flow.Engine, logger zerolog.Logger, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{engine: engine, log: logger, gatherer: gatherer}
}

// Router builds the gin router with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Welcome to the Agent Workflow Engine"})
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	r.GET("/tools", s.listTools)
	r.POST("/graph/create", s.createGraph)
	r.POST("/graph/run", s.runGraph)
	r.POST("/graph/resume/:run_id", s.resumeRun)
	r.GET("/graph/state/:run_id", s.getRunState)

	return r
}

func (s *Server) listTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": s.engine.Functions()})
}

func (s *Server) createGraph(c *gin.Context) {
	var def flow.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	graphID, err := s.engine.CreateGraph(c.Request.Context(), def)
	if err != nil {
		s.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"graph_id": graphID})
}

type runGraphRequest struct {
	GraphID      string     `json:"graph_id" binding:"required"`
	InitialState flow.State `json:"initial_state"`
}

func (s *Server) runGraph(c *gin.Context) {
	var req runGraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	snap, err := s.engine.Run(c.Request.Context(), req.GraphID, req.InitialState)
	if err != nil {
		s.respondError(c, err, snap)
		return
	}
	c.JSON(http.StatusOK, runResponse(snap))
}

func (s *Server) resumeRun(c *gin.Context) {
	snap, err := s.engine.Resume(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		s.respondError(c, err, snap)
		return
	}
	c.JSON(http.StatusOK, runResponse(snap))
}

func (s *Server) getRunState(c *gin.Context) {
	snap, err := s.engine.GetState(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		s.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id": snap.RunID,
		"status": snap.Status,
		"state":  snap.State,
		"logs":   snap.Logs,
	})
}

// runResponse is the shape shared by run and resume. The state key is
// "final_state" here but "state" on the read endpoint; both are kept for
// wire compatibility with existing clients.
func runResponse(snap *flow.Snapshot) gin.H {
	return gin.H{
		"run_id":      snap.RunID,
		"status":      snap.Status,
		"final_state": snap.State,
		"logs":        snap.Logs,
	}
}

// respondError maps engine error codes onto HTTP statuses. When the failed
// operation produced a snapshot, its run id, status and logs ride along so
// clients can see the run's own account of the failure.
func (s *Server) respondError(c *gin.Context, err error, snap *flow.Snapshot) {
	status := http.StatusInternalServerError
	switch {
	case flow.HasCode(err, flow.CodeInvalidGraph):
		status = http.StatusBadRequest
	case flow.HasCode(err, flow.CodeGraphNotFound),
		flow.HasCode(err, flow.CodeRunNotFound),
		flow.HasCode(err, flow.CodeNodeNotFound),
		flow.HasCode(err, flow.CodeFunctionNotRegistered):
		status = http.StatusNotFound
	case flow.HasCode(err, flow.CodeRunTerminated),
		flow.HasCode(err, flow.CodeVersionConflict):
		status = http.StatusConflict
	}

	body := gin.H{"error": err.Error()}
	if snap != nil {
		body["run_id"] = snap.RunID
		body["status"] = snap.Status
		body["logs"] = snap.Logs
	}
	c.JSON(status, body)
}

// requestLogger logs each request with method, path, status and latency.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := s.log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = s.log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
