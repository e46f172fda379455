// Package api exposes backtest runs over a JSON HTTP interface
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"portsim/internal/core"
	"portsim/internal/market"
	"portsim/internal/policy"
	"portsim/internal/result"
	"portsim/internal/simulator"
	"portsim/internal/store"
	simerrors "portsim/pkg/errors"
)

const dateLayout = "2006-01-02"

// Server wires the orchestrator, the loaded dataset and the run store behind
// the HTTP surface. The dataset is read through deep copies only; the server
// never mutates it.
type Server struct {
	engine    *gin.Engine
	orch      *simulator.Orchestrator
	dataset   *market.Store
	runs      store.RunStore
	logger    core.ILogger
	authToken string
}

// NewServer assembles the routes. authToken empty disables authentication.
func NewServer(orch *simulator.Orchestrator, dataset *market.Store, runs store.RunStore, logger core.ILogger, authToken string) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:    gin.New(),
		orch:      orch,
		dataset:   dataset,
		runs:      runs,
		logger:    logger.WithField("component", "api"),
		authToken: authToken,
	}

	s.engine.Use(gin.Recovery())
	s.engine.GET("/healthz", s.handleHealth)

	v1 := s.engine.Group("/api/v1")
	if authToken != "" {
		v1.Use(s.requireAuth)
	}
	v1.POST("/backtests", s.handleBacktests)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)

	return s
}

// Handler returns the http.Handler for serving or testing.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) requireAuth(c *gin.Context) {
	if c.GetHeader("Authorization") != "Bearer "+s.authToken {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing bearer token"})
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "dataset_rows": s.dataset.Len()})
}

// PolicySpec selects and parameterizes one reference policy.
type PolicySpec struct {
	Name    string    `json:"name"`
	Weights []float64 `json:"weights,omitempty"`
	Every   int       `json:"every,omitempty"`
}

// BacktestRequest triggers one or more backtests over the loaded dataset.
type BacktestRequest struct {
	Policies []PolicySpec `json:"policies"`
	Start    string       `json:"start"`
	End      string       `json:"end"`
	Parallel bool         `json:"parallel"`
}

// RunResponse is one persisted run returned to the caller.
type RunResponse struct {
	ID      string         `json:"id"`
	Summary result.Summary `json:"summary"`
}

func (s *Server) handleBacktests(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if len(req.Policies) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one policy is required"})
		return
	}
	start, err := time.Parse(dateLayout, req.Start)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid start date: %v", err)})
		return
	}
	end, err := time.Parse(dateLayout, req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid end date: %v", err)})
		return
	}

	policies := make([]policy.Policy, len(req.Policies))
	for i, spec := range req.Policies {
		pol, err := buildPolicy(spec)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		policies[i] = pol
	}

	results, err := s.orch.RunAll(s.dataset, policies, simulator.RunOptions{
		Start:    start,
		End:      end.Add(24*time.Hour - time.Nanosecond),
		Parallel: req.Parallel,
	})
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, simerrors.ErrConfiguration) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	out := make([]RunResponse, len(results))
	for i, res := range results {
		run := store.NewRunFromSummary(uuid.NewString(), res.Summarize())
		if err := s.runs.SaveRun(c.Request.Context(), run); err != nil {
			s.logger.Error("failed to persist run", "policy", run.Policy, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist run"})
			return
		}
		out[i] = RunResponse{ID: run.ID, Summary: run.Summary}
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (s *Server) handleListRuns(c *gin.Context) {
	runs, err := s.runs.ListRuns(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, simerrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// buildPolicy maps a spec onto a reference policy.
func buildPolicy(spec PolicySpec) (policy.Policy, error) {
	switch spec.Name {
	case "hold":
		return policy.Hold{}, nil
	case "uniform":
		return policy.Uniform{}, nil
	case "fixed_weights":
		return policy.NewFixedWeights(spec.Weights)
	case "periodic_rebalance":
		return policy.NewPeriodicRebalance(spec.Weights, spec.Every)
	default:
		return nil, fmt.Errorf("unknown policy %q (want hold, uniform, fixed_weights or periodic_rebalance)", spec.Name)
	}
}
