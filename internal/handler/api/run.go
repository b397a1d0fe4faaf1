package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"SessionScan/internal/domain/models"
	xhttp "SessionScan/pkg/http"
	xlogger "SessionScan/pkg/logger"
)

// DefaultPushInterval is the websocket status push period.
const DefaultPushInterval = 3 * time.Second

// RunController is the control surface of the orchestrator.
type RunController interface {
	Start(ctx context.Context, selection string) error
	FreshStart(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Trigger(ctx context.Context) error
	Status(ctx context.Context, logLimit int) (models.Status, error)
}

// RunHandler exposes run control and monitoring over Echo.
type RunHandler struct {
	logger   *xlogger.Logger
	ctl      RunController
	interval time.Duration
	upgrader websocket.Upgrader
}

func NewRunHandler(logger *xlogger.Logger, ctl RunController, pushInterval time.Duration) *RunHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	if pushInterval <= 0 {
		pushInterval = DefaultPushInterval
	}
	return &RunHandler{
		logger:   logger.With("component", "api"),
		ctl:      ctl,
		interval: pushInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *RunHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	e.GET("/ws/status", h.StatusStream)

	g := e.Group("/api/run")
	g.POST("/start", h.Start)
	g.POST("/fresh-start", h.FreshStart)
	g.POST("/resume", h.Resume)
	g.POST("/stop", h.Stop)
	g.POST("/trigger", h.Trigger)
	g.GET("/status", h.Status)
}

func (h *RunHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *RunHandler) Start(c echo.Context) error {
	req := &models.StartRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.ctl.Start(c.Request().Context(), req.Mode); err != nil {
		return h.fail(c, "start", err)
	}
	return h.accepted(c)
}

func (h *RunHandler) FreshStart(c echo.Context) error {
	if err := h.ctl.FreshStart(c.Request().Context()); err != nil {
		return h.fail(c, "fresh start", err)
	}
	return h.accepted(c)
}

func (h *RunHandler) Resume(c echo.Context) error {
	if err := h.ctl.Resume(c.Request().Context()); err != nil {
		return h.fail(c, "resume", err)
	}
	return h.accepted(c)
}

func (h *RunHandler) Stop(c echo.Context) error {
	if err := h.ctl.Stop(c.Request().Context()); err != nil {
		return h.fail(c, "stop", err)
	}
	return h.snapshot(c)
}

func (h *RunHandler) Trigger(c echo.Context) error {
	if err := h.ctl.Trigger(c.Request().Context()); err != nil {
		return h.fail(c, "trigger", err)
	}
	return h.snapshot(c)
}

func (h *RunHandler) Status(c echo.Context) error {
	req := &models.StatusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.ctl.Status(c.Request().Context(), req.LogLimit)
	if err != nil {
		return h.fail(c, "status", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, st)
}

// StatusStream pushes a status snapshot on connect and every push interval
// until the client goes away.
func (h *RunHandler) StatusStream(c echo.Context) error {
	limit := xhttp.ParseIntDefault(c.QueryParam("log_limit"), 0)
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("status stream upgrade failed", xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	// The read loop only notices the peer closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		st, err := h.ctl.Status(ctx, limit)
		if err != nil {
			h.logger.Warn("status stream snapshot failed", xlogger.Error(err))
		} else {
			_ = conn.SetWriteDeadline(time.Now().Add(h.interval))
			if err := conn.WriteJSON(st); err != nil {
				h.logger.Debug("status stream closed", xlogger.Error(err))
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (h *RunHandler) accepted(c echo.Context) error {
	st, err := h.ctl.Status(c.Request().Context(), 0)
	if err != nil {
		return h.fail(c, "status", err)
	}
	return xhttp.AcceptedResponse(c, st)
}

func (h *RunHandler) snapshot(c echo.Context) error {
	st, err := h.ctl.Status(c.Request().Context(), 0)
	if err != nil {
		return h.fail(c, "status", err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *RunHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", xlogger.Error(err))
	} else {
		h.logger.Warn(op+" rejected", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func toAppError(err error) *xhttp.AppError {
	if errors.Is(err, models.ErrUnknownMode) {
		return xhttp.BadRequestError(err.Error()).WithError(err)
	}
	switch models.KindOf(err) {
	case models.KindConfiguration:
		return xhttp.UnprocessableError("ERR_CONFIGURATION", err.Error()).WithError(err)
	case models.KindSourceRead:
		return xhttp.UnprocessableError("ERR_SOURCE_READ", err.Error()).WithError(err)
	case models.KindStaleRun:
		return xhttp.ConflictError(err.Error()).WithError(err)
	}
	return xhttp.InternalError("run operation failed").WithError(err)
}
