// Package server は会話ワークフローを JSON の HTTP API として公開します。
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sat8bit/tavern/agent"
	"github.com/sat8bit/tavern/apperr"
	"github.com/sat8bit/tavern/bot"
	"github.com/sat8bit/tavern/chain"
	"github.com/sat8bit/tavern/character"
)

// Deps はハンドラが使うコンポーネントです。
type Deps struct {
	Characters *character.Repository
	Bots       *bot.Repository
	Chain      *chain.Orchestrator
	Agents     *agent.Registry
	Reasoner   *agent.Reasoner
}

type Server struct {
	echo *echo.Echo
	deps Deps
}

func New(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover(), middleware.CORS(), requestLogger())
	e.HTTPErrorHandler = errorHandler

	if deps.Agents == nil {
		deps.Agents = agent.NewRegistry()
	}
	s := &Server{echo: e, deps: deps}
	s.setupRoutes()
	return s
}

// Handler は httptest などから使うための http.Handler です。
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(addr string) error {
	slog.Info("http server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.echo.POST("/prompt", s.prompt)
	s.echo.GET("/all", s.listAll)

	for _, kind := range character.Kinds {
		g := s.echo.Group("/" + string(kind))
		g.POST("", s.createCharacter(kind))
		g.GET("/:id", s.getCharacter(kind))
		g.PATCH("/:id", s.patchCharacter(kind))
		g.POST("/:id/lore", s.addLore(kind))
		g.DELETE("/:id/lore", s.wipeLore(kind))
	}

	s.echo.POST("/bot", s.createChatBot)
	s.echo.POST("/reasoning-bot", s.createReasoningBot)
	s.echo.GET("/bot/:id", s.getBot)

	s.echo.POST("/agent", s.createAgent)
	s.echo.POST("/agent/:id/turn", s.agentTurn)
	s.echo.POST("/agent/:id/reset", s.agentReset)
}

// errorBody は成功時の {message} と同じ形のエラー応答です。
type errorBody struct {
	Message string `json:"message"`
}

// statusOf は apperr の分類を HTTP ステータスに変換します。
func statusOf(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	case apperr.IsNotFound(err):
		return http.StatusNotFound
	case apperr.IsConfiguration(err):
		return http.StatusUnprocessableEntity
	case apperr.IsCapability(err):
		return http.StatusBadGateway
	case errors.Is(err, apperr.ErrSessionBusy):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := statusOf(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
	}
	if code >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request().Context(), "request failed",
			"method", c.Request().Method, "path", c.Path(), "status", code, "error", err)
		if code == http.StatusInternalServerError {
			msg = http.StatusText(code)
		}
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, errorBody{Message: msg})
	}
	if err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			status := c.Response().Status
			if err != nil {
				status = statusOf(err)
			}
			slog.DebugContext(c.Request().Context(), "http request",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", status,
			)
			return err
		}
	}
}
