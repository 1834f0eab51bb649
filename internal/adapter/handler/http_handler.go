package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rl1809/apparatus-check/internal/adapter/notify"
	"github.com/rl1809/apparatus-check/internal/core/service"
)

// UserHeader carries the authenticated user id, set by the upstream gateway.
const UserHeader = "X-User-ID"

const userContextKey = "user_id"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type HTTPHandler struct {
	workflow *service.CheckWorkflowService
	hub      *notify.Hub
	logger   *zap.Logger
}

func NewHTTPHandler(workflow *service.CheckWorkflowService, hub *notify.Hub, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{workflow: workflow, hub: hub, logger: logger}
}

// Register mounts every route on e.
func (h *HTTPHandler) Register(e *echo.Echo) {
	e.GET("/health", h.HealthCheck)
	e.GET("/ws", h.ServeWS)

	api := e.Group("/api", requireUser)
	api.POST("/checks", h.StartCheck)
	api.GET("/checks/:id", h.GetCheck)
	api.GET("/checks/:id/progress", h.GetProgress)
	api.POST("/checks/:id/items", h.VerifyItem)
	api.POST("/checks/:id/complete", h.CompleteCheck)
	api.POST("/checks/:id/abandon", h.AbandonCheck)
	api.POST("/checks/:id/compartments/:cid/lock", h.AcquireCompartment)
	api.DELETE("/checks/:id/compartments/:cid/lock", h.ReleaseCompartment)
	api.POST("/checks/:id/compartments/:cid/takeover", h.TakeOverCompartment)
	api.DELETE("/sessions/me", h.EndSession)
}

func requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := c.Request().Header.Get(UserHeader)
		if userID == "" {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated", Message: "missing " + UserHeader + " header"})
		}
		c.Set(userContextKey, userID)
		return next(c)
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(userContextKey).(string)
	return id
}

func (h *HTTPHandler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) StartCheck(c echo.Context) error {
	var req service.StartCheckRequest
	if err := c.Bind(&req); err != nil {
		return h.badBody(c, err)
	}

	check, err := h.workflow.StartCheck(c.Request().Context(), userID(c), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, checkView(check))
}

func (h *HTTPHandler) GetCheck(c echo.Context) error {
	check, err := h.workflow.GetCheck(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, checkView(check))
}

func (h *HTTPHandler) GetProgress(c echo.Context) error {
	report, err := h.workflow.GetProgress(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *HTTPHandler) VerifyItem(c echo.Context) error {
	var req service.VerifyRequest
	if err := c.Bind(&req); err != nil {
		return h.badBody(c, err)
	}
	req.CheckID = c.Param("id")

	result, err := h.workflow.VerifyItem(c.Request().Context(), userID(c), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, verifyReply(result))
}

func (h *HTTPHandler) CompleteCheck(c echo.Context) error {
	check, err := h.workflow.CompleteCheck(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, checkView(check))
}

func (h *HTTPHandler) AbandonCheck(c echo.Context) error {
	var req AbandonRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return h.badBody(c, err)
		}
	}

	check, err := h.workflow.AbandonCheck(c.Request().Context(), userID(c), c.Param("id"), req.Reason)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, checkView(check))
}

func (h *HTTPHandler) AcquireCompartment(c echo.Context) error {
	if err := h.workflow.AcquireCompartment(c.Request().Context(), userID(c), c.Param("id"), c.Param("cid")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *HTTPHandler) ReleaseCompartment(c echo.Context) error {
	if err := h.workflow.ReleaseCompartment(c.Request().Context(), userID(c), c.Param("id"), c.Param("cid")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *HTTPHandler) TakeOverCompartment(c echo.Context) error {
	previous, err := h.workflow.TakeOverCompartment(c.Request().Context(), userID(c), c.Param("id"), c.Param("cid"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, TakeOverReply{PreviousHolder: previous})
}

func (h *HTTPHandler) EndSession(c echo.Context) error {
	released := h.workflow.EndSession(c.Request().Context(), userID(c))
	return c.JSON(http.StatusOK, EndSessionReply{Released: len(released)})
}

// ServeWS upgrades to a websocket that receives the user's lock events.
// Browsers cannot set headers on the upgrade request, so the user id may
// also come from the user_id query parameter.
func (h *HTTPHandler) ServeWS(c echo.Context) error {
	id := c.Request().Header.Get(UserHeader)
	if id == "" {
		id = c.QueryParam("user_id")
	}
	if id == "" {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated", Message: "missing user id"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return err
	}
	go notify.NewClient(h.hub, conn, id, h.logger).Serve()
	return nil
}

func (h *HTTPHandler) fail(c echo.Context, err error) error {
	code, resp := errorResponse(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return c.JSON(code, resp)
}

func (h *HTTPHandler) badBody(c echo.Context, err error) error {
	h.logger.Debug("invalid request body",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "invalid request body"})
}
