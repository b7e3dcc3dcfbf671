package api

import (
	"context"
	"errors"
	"net/http"

	"OptionPilot/internal/domain/models"
	drepo "OptionPilot/internal/domain/repository"
	"OptionPilot/internal/repository"
	"OptionPilot/internal/service/ratelimit"
	"OptionPilot/internal/usecase"
	xhttp "OptionPilot/pkg/http"
	xlogger "OptionPilot/pkg/logger"

	"github.com/labstack/echo/v4"
)

// PositionControl is the operator surface of the position manager.
type PositionControl interface {
	Position() (models.Position, bool)
	State() models.PositionState
	Daily() models.DailyStats
	ForceExit(ctx context.Context, reason string) error
	Resume(ctx context.Context) error
	SetTradingEnabled(v bool)
	TradingEnabled() bool
}

type StatusSource interface {
	Snapshot() models.StatusSnapshot
}

type positionView struct {
	State    models.PositionState `json:"state"`
	Position *models.Position     `json:"position,omitempty"`
	Daily    models.DailyStats    `json:"daily"`
}

// EngineHandler serves the operator API over Echo.
type EngineHandler struct {
	logger *xlogger.Logger
	pm     PositionControl
	status StatusSource
	trades drepo.TradeQuery
	alerts drepo.AlertStore
	ws     http.Handler
	rl     *ratelimit.Limiter
}

func NewEngineHandler(logger *xlogger.Logger, pm PositionControl, status StatusSource, trades drepo.TradeQuery, alerts drepo.AlertStore, ws http.Handler) *EngineHandler {
	return &EngineHandler{
		logger: logger,
		pm:     pm,
		status: status,
		trades: trades,
		alerts: alerts,
		ws:     ws,
		rl:     ratelimit.New(),
	}
}

func (h *EngineHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/position", h.Position)
	g.GET("/trades", h.Trades)
	g.GET("/alerts", h.Alerts)
	g.POST("/alerts/:id/ack", h.AckAlert)
	g.POST("/position/exit", h.Exit, h.limit("exit"))
	g.POST("/trading", h.Trading, h.limit("trading"))
	if h.ws != nil {
		e.GET("/ws", echo.WrapHandler(h.ws))
	}
}

// limit caps operator commands per client to a small burst.
func (h *EngineHandler) limit(op string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !h.rl.Allow(c.RealIP()+":"+op, 3, 0.5) {
				h.logger.Warn("operator command rate limited",
					xlogger.String("op", op),
					xlogger.String("remote", c.RealIP()))
				return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
			}
			return next(c)
		}
	}
}

func (h *EngineHandler) Status(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, h.status.Snapshot())
}

func (h *EngineHandler) Position(c echo.Context) error {
	out := positionView{State: h.pm.State(), Daily: h.pm.Daily()}
	if p, ok := h.pm.Position(); ok {
		out.Position = &p
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *EngineHandler) Trades(c echo.Context) error {
	req := &models.TradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.trades.Recent(c.Request().Context(), req.Limit)
	if err != nil {
		h.logger.Error("trades query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("trade history unavailable").WithError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineHandler) Alerts(c echo.Context) error {
	list, err := h.alerts.List(c.Request().Context())
	if err != nil {
		h.logger.Error("alerts query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("alerts unavailable").WithError(err))
	}
	return xhttp.ListResponse(c, list, int64(len(list)))
}

// AckAlert acknowledges an alert. Acknowledging a critical alert is the
// operator's confirmation that exposure was handled, so a halted engine
// resumes from the broker's view of the position.
func (h *EngineHandler) AckAlert(c echo.Context) error {
	req := &models.AckAlertRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	a, err := h.alerts.Ack(ctx, req.ID)
	if err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("alert %s not found", req.ID))
		}
		h.logger.Error("ack alert error", xlogger.String("id", req.ID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("ack failed").WithError(err))
	}
	if a.Level == models.AlertCritical && h.pm.State() == models.StateHalted {
		if err := h.pm.Resume(ctx); err != nil {
			h.logger.Warn("resume after ack failed", xlogger.String("id", a.ID), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RESUME", "", err.Error(), http.StatusConflict))
		}
		h.logger.Info("engine resumed by operator", xlogger.String("alert", a.ID))
	}
	return xhttp.SuccessResponse(c, a)
}

func (h *EngineHandler) Exit(c echo.Context) error {
	req := &models.ManualExitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.pm.ForceExit(c.Request().Context(), req.Reason); err != nil {
		if errors.Is(err, usecase.ErrNoPosition) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no open position"))
		}
		h.logger.Error("manual exit failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_EXIT", "", err.Error(), http.StatusConflict))
	}
	return h.Position(c)
}

func (h *EngineHandler) Trading(c echo.Context) error {
	req := &models.TradingToggleRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.pm.SetTradingEnabled(*req.Enabled)
	h.logger.Info("trading toggled", xlogger.Bool("enabled", *req.Enabled))
	return xhttp.SuccessResponse(c, map[string]bool{"trading_enabled": h.pm.TradingEnabled()})
}

var _ PositionControl = (*usecase.PositionManager)(nil)
