// Package api exposes a small HTTP surface over a set of loaded model
// instances: instance status, constant metadata and completion polling. It
// is what `anvil serve` mounts; the heavy lifting stays in internal/model.
package api

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/anvil/internal/model"
)

// Server serves runtime metadata for registered model instances.
type Server struct {
	mu        sync.RWMutex
	instances map[string]*model.Model
	manifest  *model.Manifest
}

// NewServer creates a server over an optional codegen manifest.
func NewServer(manifest *model.Manifest) *Server {
	return &Server{
		instances: make(map[string]*model.Model),
		manifest:  manifest,
	}
}

// AddInstance registers a loaded instance and returns its ID.
func (s *Server) AddInstance(m *model.Model) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[m.ID()] = m
	return m.ID()
}

// RemoveInstance drops an instance from the served set.
func (s *Server) RemoveInstance(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, id)
}

// Register mounts the routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/status", s.handleStatus)
	e.GET("/v1/manifest", s.handleManifest)
	e.GET("/v1/instances/:id", s.handleInstance)
	e.GET("/v1/instances/:id/finished", s.handleFinished)
	e.POST("/v1/instances/:id/wait", s.handleWait)
}

func (s *Server) handleStatus(c *echo.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := StatusResponse{RequestID: uuid.NewString()}
	for _, m := range s.instances {
		out.Instances = append(out.Instances, instanceSummary(m))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleManifest(c *echo.Context) error {
	if s.manifest == nil {
		return writeNotFound(c, "no manifest loaded")
	}
	return c.JSON(http.StatusOK, s.manifest)
}

func (s *Server) handleInstance(c *echo.Context) error {
	m, err := s.instance(c)
	if err != nil {
		return err
	}

	detail := InstanceDetail{InstanceSummary: instanceSummary(m)}
	for i := 0; i < m.NumConstants(); i++ {
		detail.Constants = append(detail.Constants, ConstantInfo{
			Ordinal:     i,
			Name:        m.ConstantName(i),
			Kind:        m.ConstantKind(i).String(),
			Shape:       m.ConstantShape(i),
			DataSize:    m.ConstantDataSize(i),
			FromFolded:  m.ConstantFromFolded(i),
			OriginalFQN: m.ConstantOriginalFQN(i),
		})
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) handleFinished(c *echo.Context) error {
	m, err := s.instance(c)
	if err != nil {
		return err
	}
	done, err := m.IsFinished()
	if err != nil {
		return writeConflict(c, err.Error())
	}
	return c.JSON(http.StatusOK, FinishedResponse{Finished: done})
}

func (s *Server) handleWait(c *echo.Context) error {
	m, err := s.instance(c)
	if err != nil {
		return err
	}
	if err := m.WaitForCompletion(); err != nil {
		return writeConflict(c, err.Error())
	}
	return c.JSON(http.StatusOK, FinishedResponse{Finished: true})
}

func (s *Server) instance(c *echo.Context) (*model.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.instances[c.Param("id")]
	if !ok {
		return nil, writeNotFound(c, "unknown instance")
	}
	return m, nil
}

func instanceSummary(m *model.Model) InstanceSummary {
	return InstanceSummary{
		ID:           m.ID(),
		Device:       m.Device().String(),
		NumInputs:    m.NumInputs(),
		NumOutputs:   m.NumOutputs(),
		NumConstants: m.NumConstants(),
	}
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeConflict(c *echo.Context, msg string) error {
	return writeError(c, http.StatusConflict, "state_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{Type: errType, Message: msg},
	})
}
