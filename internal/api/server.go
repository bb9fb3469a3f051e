// Package api exposes a composed model over HTTP. Each forward request
// may name its own tuner selection; the selection rides the request
// context, so concurrent requests with different selections never
// interfere. The management endpoints operate on the process-wide
// default selection.
package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/graft/internal/logger"
	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/internal/tuner"
)

// Server serves tuner management and forward passes for one composed
// model.
type Server struct {
	model *tuner.Model
	log   logger.Logger
}

// NewServer wraps a composed model.
func NewServer(m *tuner.Model, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{model: m, log: log}
}

// Register mounts the routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/tuners", s.handleListTuners)
	e.POST("/v1/tuners/active", s.handleSetActive)
	e.POST("/v1/tuners/:name/merge", s.handleMerge)
	e.POST("/v1/tuners/:name/unmerge", s.handleUnmerge)
	e.DELETE("/v1/tuners/:name", s.handleDetach)
	e.POST("/v1/forward", s.handleForward)
}

// TunerInfo describes one attached set.
type TunerInfo struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Targets []string `json:"targets"`
}

// ListTunersResponse is the body of GET /v1/tuners.
type ListTunersResponse struct {
	Tuners []TunerInfo `json:"tuners"`
	Active []string    `json:"active"`
}

func (s *Server) handleListTuners(c *echo.Context) error {
	resp := ListTunersResponse{Active: s.model.Active()}
	for _, name := range s.model.Sets() {
		cfg, _ := s.model.SetConfig(name)
		resp.Tuners = append(resp.Tuners, TunerInfo{
			Name:    name,
			Type:    string(cfg.Type),
			Targets: s.model.SetTargets(name),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// SetActiveRequest replaces the process-wide default selection.
type SetActiveRequest struct {
	Active []string `json:"active"`
}

func (s *Server) handleSetActive(c *echo.Context) error {
	req, err := decodeJSON[SetActiveRequest](c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	for _, name := range req.Active {
		if _, ok := s.model.SetConfig(name); !ok {
			return writeNotFound(c, "no tuner set named "+name)
		}
	}
	s.model.SetActive(req.Active...)
	return c.JSON(http.StatusOK, map[string]any{"active": s.model.Active()})
}

func (s *Server) handleMerge(c *echo.Context) error {
	if err := s.model.Merge(c.Param("name")); err != nil {
		return writeTunerError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"merged": c.Param("name")})
}

func (s *Server) handleUnmerge(c *echo.Context) error {
	if err := s.model.Unmerge(c.Param("name")); err != nil {
		return writeTunerError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"unmerged": c.Param("name")})
}

func (s *Server) handleDetach(c *echo.Context) error {
	if err := s.model.Detach(c.Param("name")); err != nil {
		return writeTunerError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"detached": c.Param("name")})
}

// ForwardRequest runs one forward pass. Tuners, when present, selects
// the active sets for this request only; when absent the process-wide
// default applies.
type ForwardRequest struct {
	Tokens []int     `json:"tokens"`
	Tuners *[]string `json:"tuners,omitempty"`
}

// ForwardResponse carries the output activation matrix.
type ForwardResponse struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float32 `json:"data"`
}

func (s *Server) handleForward(c *echo.Context) error {
	req, err := decodeJSON[ForwardRequest](c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.Tokens) == 0 {
		return writeBadRequest(c, "tokens is required and must not be empty")
	}

	x := tensor.NewMat(len(req.Tokens), 1)
	for i, tok := range req.Tokens {
		x.Set(i, 0, float32(tok))
	}

	ctx := c.Request().Context()
	if req.Tuners != nil {
		ctx = tuner.WithActive(ctx, (*req.Tuners)...)
	}
	out, err := s.model.Forward(ctx, x)
	if err != nil {
		s.log.Error("forward pass failed", "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	return c.JSON(http.StatusOK, ForwardResponse{Rows: out.R, Cols: out.C, Data: out.Data})
}
