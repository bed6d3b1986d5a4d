package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/board"
	"taskboard/domain"
)

const (
	defaultMaxBodyBytes  = 64 * 1024
	idempotencyKeyHeader = "Idempotency-Key"
)

// Deps carries everything the routes need.
type Deps struct {
	Boards  Boards
	Auth    Authenticator
	Deduper Deduper
	Broker  *Broker
	// Health probes the storage backend. Nil reports healthy.
	Health       func(ctx context.Context) error
	Logger       *log.Logger
	MaxBodyBytes int64
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Boards == nil || d.Auth == nil {
		panic("api.Register: boards and auth are required")
	}
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.Broker == nil {
		d.Broker = NewBroker()
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = defaultMaxBodyBytes
	}

	e.GET("/api/board", d.withBoard("/api/board", getBoard))
	e.GET("/api/tasks", d.withBoard("/api/tasks", listTasks))
	e.GET("/api/counts", d.withBoard("/api/counts", getCounts))
	e.POST("/api/tasks", d.withBoard("/api/tasks", d.createTask))
	e.PATCH("/api/tasks/:id", d.withBoard("/api/tasks/:id", d.editTask))
	e.POST("/api/tasks/:id/move", d.withBoard("/api/tasks/:id/move", d.moveTask))

	e.GET("/api/drag", d.withBoard("/api/drag", getDrag))
	e.POST("/api/drag/start", d.withBoard("/api/drag/start", d.dragStart))
	e.POST("/api/drag/over", d.withBoard("/api/drag/over", d.dragOver))
	e.POST("/api/drag/drop", d.withBoard("/api/drag/drop", d.dragDrop))
	e.POST("/api/drag/cancel", d.withBoard("/api/drag/cancel", dragCancel))

	e.GET("/stream", streamBoard(d.Boards, d.Auth, d.Broker, d.Logger))
	e.GET("/healthz", healthz(d.Health, d.Logger))
}

type boardHandler func(c echo.Context, s *board.Session, m *requestMetrics) error

type boardResponse struct {
	Columns map[domain.Status][]domain.Task `json:"columns"`
	Counts  map[domain.Status]int           `json:"counts"`
	Total   int                             `json:"total"`
}

type createRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// editRequest fields left out of the body keep their current value.
type editRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type moveRequest struct {
	Status string `json:"status"`
}

type dragStartRequest struct {
	ID int64 `json:"id"`
}

type dragColumnRequest struct {
	Column string `json:"column"`
}

type dragOverResponse struct {
	Accepted bool               `json:"accepted"`
	Drag     board.DragSnapshot `json:"drag"`
}

type dropResponse struct {
	Moved bool         `json:"moved"`
	Task  *domain.Task `json:"task,omitempty"`
}

// withBoard authenticates the caller, opens their board and records request
// metrics around fn.
func (d Deps) withBoard(route string, fn boardHandler) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), d.Logger, route)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		owner, authErr := d.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}

		session, openErr := d.Boards.Session(ctx, owner)
		if openErr != nil {
			metrics.SetErrorStage("load")
			d.Logger.WithError(openErr).WithField("owner", owner).Error("failed to open board")
			return c.String(http.StatusInternalServerError, "failed to load board")
		}
		return fn(c, session, metrics)
	}
}

func boardView(s *board.Store) boardResponse {
	resp := boardResponse{
		Columns: make(map[domain.Status][]domain.Task, 3),
		Counts:  s.CountsByStatus(),
	}
	for _, st := range domain.Statuses() {
		resp.Columns[st] = s.ListByStatus(st)
		resp.Total += len(resp.Columns[st])
	}
	return resp
}

func getBoard(c echo.Context, s *board.Session, m *requestMetrics) error {
	resp := boardView(s.Store)
	m.SetTasks(resp.Total)
	return c.JSON(http.StatusOK, resp)
}

func listTasks(c echo.Context, s *board.Session, m *requestMetrics) error {
	raw := strings.TrimSpace(c.QueryParam("status"))
	if raw == "" {
		tasks := s.Store.Tasks()
		m.SetTasks(len(tasks))
		return c.JSON(http.StatusOK, tasks)
	}
	status, ok := domain.ParseStatus(raw)
	if !ok {
		m.SetErrorStage("invalid_status")
		return c.String(http.StatusBadRequest, "invalid status")
	}
	tasks := s.Store.ListByStatus(status)
	m.SetTasks(len(tasks))
	return c.JSON(http.StatusOK, tasks)
}

func getCounts(c echo.Context, s *board.Session, _ *requestMetrics) error {
	return c.JSON(http.StatusOK, s.Store.CountsByStatus())
}

func (d Deps) createTask(c echo.Context, s *board.Session, m *requestMetrics) error {
	var req createRequest
	if err := d.decode(c, &req); err != nil {
		m.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	ctx := c.Request().Context()
	owner := s.Store.Key()

	key := strings.TrimSpace(c.Request().Header.Get(idempotencyKeyHeader))
	if key != "" && d.Deduper != nil {
		added, err := d.Deduper.Add(ctx, owner, key)
		if err != nil {
			m.SetErrorStage("dedupe")
			d.Logger.WithError(err).Error("idempotency check failed")
			return c.String(http.StatusInternalServerError, "idempotency check failed")
		}
		if !added {
			m.SetErrorStage("duplicate")
			return c.String(http.StatusConflict, "duplicate request")
		}
	}

	start := time.Now()
	task, err := s.Store.Create(ctx, req.Title, req.Description, req.Priority)
	m.ObserveStore(time.Since(start))
	if err != nil {
		if key != "" && d.Deduper != nil {
			if rmErr := d.Deduper.Remove(ctx, owner, key); rmErr != nil {
				d.Logger.WithError(rmErr).Warn("failed to release idempotency key")
			}
		}
		return d.writeError(c, m, err)
	}
	if key != "" {
		c.Response().Header().Set(idempotencyKeyHeader, key)
	}
	return c.JSON(http.StatusCreated, task)
}

func (d Deps) editTask(c echo.Context, s *board.Session, m *requestMetrics) error {
	id, ok := taskID(c)
	if !ok {
		m.SetErrorStage("invalid_id")
		return c.String(http.StatusBadRequest, "invalid task id")
	}
	var req editRequest
	if err := d.decode(c, &req); err != nil {
		m.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	current, found := s.Store.Get(id)
	if !found {
		return d.writeError(c, m, board.ErrTaskNotFound)
	}
	title, description := current.Title, current.Description
	if req.Title != nil {
		title = *req.Title
	}
	if req.Description != nil {
		description = *req.Description
	}

	start := time.Now()
	task, err := s.Store.Edit(c.Request().Context(), id, title, description)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return d.writeError(c, m, err)
	}
	return c.JSON(http.StatusOK, task)
}

func (d Deps) moveTask(c echo.Context, s *board.Session, m *requestMetrics) error {
	id, ok := taskID(c)
	if !ok {
		m.SetErrorStage("invalid_id")
		return c.String(http.StatusBadRequest, "invalid task id")
	}
	var req moveRequest
	if err := d.decode(c, &req); err != nil {
		m.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	status, valid := domain.ParseStatus(req.Status)
	if !valid {
		return d.writeError(c, m, board.ErrInvalidStatus)
	}

	start := time.Now()
	task, err := s.Store.Move(c.Request().Context(), id, status)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return d.writeError(c, m, err)
	}
	return c.JSON(http.StatusOK, task)
}

func getDrag(c echo.Context, s *board.Session, _ *requestMetrics) error {
	return c.JSON(http.StatusOK, s.Drag.Snapshot())
}

func (d Deps) dragStart(c echo.Context, s *board.Session, m *requestMetrics) error {
	var req dragStartRequest
	if err := d.decode(c, &req); err != nil || req.ID <= 0 {
		m.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	s.Drag.Start(req.ID)
	return c.JSON(http.StatusOK, s.Drag.Snapshot())
}

func (d Deps) dragOver(c echo.Context, s *board.Session, m *requestMetrics) error {
	var req dragColumnRequest
	if err := d.decode(c, &req); err != nil {
		m.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	accepted := s.Drag.Over(req.Column)
	return c.JSON(http.StatusOK, dragOverResponse{Accepted: accepted, Drag: s.Drag.Snapshot()})
}

func (d Deps) dragDrop(c echo.Context, s *board.Session, m *requestMetrics) error {
	var req dragColumnRequest
	if err := d.decode(c, &req); err != nil {
		m.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	start := time.Now()
	task, moved := s.Drag.Drop(c.Request().Context(), req.Column)
	m.ObserveStore(time.Since(start))
	resp := dropResponse{Moved: moved}
	if moved {
		resp.Task = &task
	}
	return c.JSON(http.StatusOK, resp)
}

func dragCancel(c echo.Context, s *board.Session, _ *requestMetrics) error {
	s.Drag.Cancel()
	return c.JSON(http.StatusOK, s.Drag.Snapshot())
}

func healthz(probe func(ctx context.Context) error, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if probe == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := probe(ctx); err != nil {
			logger.WithError(err).Warn("health probe failed")
			return c.String(http.StatusServiceUnavailable, "storage unavailable")
		}
		return c.NoContent(http.StatusOK)
	}
}

func (d Deps) decode(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, d.MaxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (d Deps) writeError(c echo.Context, m *requestMetrics, err error) error {
	switch {
	case errors.Is(err, board.ErrEmptyTitle):
		m.SetErrorStage("validation")
		return c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, board.ErrInvalidStatus):
		m.SetErrorStage("validation")
		return c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, board.ErrTaskNotFound):
		m.SetErrorStage("lookup")
		return c.String(http.StatusNotFound, err.Error())
	default:
		m.SetErrorStage("storage")
		d.Logger.WithError(err).Error("board mutation failed")
		return c.String(http.StatusInternalServerError, "failed to save board")
	}
}

func taskID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}
