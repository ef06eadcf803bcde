// Package agent implements the node agent's HTTP API.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/bnema/zerowrap"
	"github.com/labstack/echo/v4"

	"github.com/bnema/flotilla/internal/adapters/dto"
	"github.com/bnema/flotilla/internal/boundaries/in"
	"github.com/bnema/flotilla/internal/domain"
)

// maxJSONBody bounds every JSON request body.
const maxJSONBody = 1 << 20

// Handler serves the node agent routes on top of an in.AgentService.
type Handler struct {
	svc     in.AgentService
	version string
	log     zerowrap.Logger
}

// NewHandler creates the agent HTTP handler.
func NewHandler(svc in.AgentService, version string, log zerowrap.Logger) *Handler {
	return &Handler{svc: svc, version: version, log: log}
}

// Register mounts the agent routes on g.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/health", h.health)
	g.GET("/containers", h.listContainers)
	g.POST("/containers/run", h.runContainer)
	g.POST("/containers/:name/stop", h.stopContainer)
	g.POST("/containers/:name/restart", h.restartContainer)
	g.POST("/containers/:name/remove", h.removeContainer)
	g.POST("/images/:image/pull", h.pullImage)
	g.POST("/images/build", h.buildImage)
	g.POST("/registry/login", h.login)
	g.POST("/uploads/:transfer_id/chunks", h.uploadChunk)
}

func (h *Handler) health(c echo.Context) error {
	health := h.svc.Health(c.Request().Context())
	return c.JSON(http.StatusOK, dto.HealthResponse{
		Status:           "ok",
		RuntimeReachable: health.RuntimeReachable,
		Containers:       health.Containers,
		Version:          h.version,
	})
}

func (h *Handler) listContainers(c echo.Context) error {
	list, err := h.svc.ListContainers(c.Request().Context())
	if err != nil {
		return h.sendError(c, err)
	}
	return c.JSON(http.StatusOK, dto.ContainersFrom(list))
}

func (h *Handler) runContainer(c echo.Context) error {
	var req dto.RunContainerRequest
	if err := decodeJSON(c, &req); err != nil {
		return h.sendError(c, err)
	}
	if err := h.svc.RunContainer(c.Request().Context(), req.ToRunSpec()); err != nil {
		return h.sendError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.StatusResponse{Status: "running"})
}

func (h *Handler) stopContainer(c echo.Context) error {
	return h.lifecycle(c, h.svc.StopContainer, "stopped")
}

func (h *Handler) restartContainer(c echo.Context) error {
	return h.lifecycle(c, h.svc.RestartContainer, "restarted")
}

func (h *Handler) removeContainer(c echo.Context) error {
	return h.lifecycle(c, h.svc.RemoveContainer, "removed")
}

func (h *Handler) lifecycle(c echo.Context, fn func(context.Context, string) error, status string) error {
	name, err := pathParam(c, "name")
	if err != nil {
		return h.sendError(c, err)
	}
	if err := fn(c.Request().Context(), name); err != nil {
		return h.sendError(c, err)
	}
	return c.JSON(http.StatusOK, dto.StatusResponse{Status: status})
}

// pullImage accepts a path-escaped reference so registry paths fit one segment.
func (h *Handler) pullImage(c echo.Context) error {
	ref, err := pathParam(c, "image")
	if err != nil {
		return h.sendError(c, err)
	}
	if err := h.svc.PullImage(c.Request().Context(), ref); err != nil {
		return h.sendError(c, err)
	}
	return c.JSON(http.StatusOK, dto.StatusResponse{Status: "pulled"})
}

func (h *Handler) buildImage(c echo.Context) error {
	var req dto.BuildRequest
	if err := decodeJSON(c, &req); err != nil {
		return h.sendError(c, err)
	}
	if err := h.svc.BuildImage(c.Request().Context(), req.TransferID, req.FileName, req.Tag, req.Dockerfile); err != nil {
		return h.sendError(c, err)
	}
	return c.JSON(http.StatusOK, dto.StatusResponse{Status: "built"})
}

func (h *Handler) login(c echo.Context) error {
	var req dto.LoginRequest
	if err := decodeJSON(c, &req); err != nil {
		return h.sendError(c, err)
	}
	auth := domain.RegistryAuth{Server: req.Server, Username: req.Username, Password: req.Password}
	if err := h.svc.Login(c.Request().Context(), auth); err != nil {
		return h.sendError(c, err)
	}
	return c.JSON(http.StatusOK, dto.StatusResponse{Status: "logged in"})
}

func (h *Handler) uploadChunk(c echo.Context) error {
	transferID, err := pathParam(c, "transfer_id")
	if err != nil {
		return h.sendError(c, err)
	}

	var meta dto.ChunkMetadata
	raw := c.Request().Header.Get("X-Chunk-Metadata")
	if raw == "" {
		return h.sendError(c, &requestError{msg: "missing X-Chunk-Metadata header", err: domain.ErrInvalidChunk})
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return h.sendError(c, &requestError{msg: "invalid X-Chunk-Metadata: " + err.Error(), err: domain.ErrInvalidChunk})
	}

	status, err := h.svc.ReceiveChunk(c.Request().Context(), meta.ToDomain(transferID), c.Request().Header.Get("X-Chunk-Hash"), c.Request().Body)
	if err != nil {
		return h.sendError(c, err)
	}
	return c.JSON(http.StatusOK, dto.UploadResponseFrom(status))
}

// sendError writes err as {"error", "code"}. Runtime failures carry the
// runtime's own output as the message.
func (h *Handler) sendError(c echo.Context, err error) error {
	status, code := dto.StatusFor(err)
	msg := err.Error()
	var opErr *domain.AgentOperationError
	if errors.As(err, &opErr) && opErr.Output != "" {
		msg = opErr.Output
	}

	event := h.log.Warn()
	if status >= http.StatusInternalServerError {
		event = h.log.Error()
	}
	event.
		Err(err).
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "http").
		Str(zerowrap.FieldPath, c.Request().URL.Path).
		Int(zerowrap.FieldStatus, status).
		Msg("agent request failed")

	return c.JSON(status, dto.ErrorResponse{Error: msg, Code: code})
}

// requestError is a malformed request; it unwraps to the sentinel that picks
// the status code.
type requestError struct {
	msg string
	err error
}

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return e.err }

func decodeJSON(c echo.Context, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(c.Response(), c.Request().Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return &requestError{msg: "invalid request body: " + err.Error(), err: domain.ErrInvalidConfig}
	}
	return nil
}

func pathParam(c echo.Context, name string) (string, error) {
	v, err := url.PathUnescape(c.Param(name))
	if err != nil || v == "" {
		return "", &requestError{msg: "invalid " + name, err: domain.ErrInvalidName}
	}
	return v, nil
}
