// Package server exposes mailspend over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/categorizer"
	"github.com/ArionMiles/mailspend/pkg/extractor"
	"github.com/ArionMiles/mailspend/pkg/orchestrator"
	"github.com/ArionMiles/mailspend/pkg/template"
)

// Syncer runs one sync pass.
type Syncer interface {
	Sync(ctx context.Context) (*orchestrator.Result, error)
}

// Server serves the HTTP API.
type Server struct {
	app       *fiber.App
	store     api.Store
	engine    *categorizer.Engine
	syncer    Syncer
	extractor *extractor.Extractor
	logger    *slog.Logger
	now       func() time.Time
}

// New builds the fiber app and registers every route. syncer may be nil, in
// which case POST /api/sync responds 503.
func New(store api.Store, engine *categorizer.Engine, syncer Syncer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:     store,
		engine:    engine,
		syncer:    syncer,
		extractor: extractor.New(logger),
		logger:    logger.With("component", "http"),
		now:       time.Now,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "mailspend",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(s.logRequests)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	r := s.app.Group("/api")

	r.Post("/templates/generate", s.generateTemplate)
	r.Post("/templates/extract", s.extractTemplate)

	r.Get("/providers", s.listProviders)
	r.Post("/providers", s.saveProvider)
	r.Delete("/providers/:id", s.deleteProvider)

	r.Get("/categories", s.listCategories)
	r.Post("/categories", s.createCategory)
	r.Delete("/categories/:id", s.deleteCategory)

	r.Get("/rules", s.listRules)
	r.Post("/rules", s.addRule)
	r.Put("/rules/:id", s.editRule)
	r.Delete("/rules/:id", s.deleteRule)

	r.Post("/categorize", s.categorize)
	r.Post("/sync", s.sync)

	r.Get("/transactions", s.listTransactions)
	r.Post("/transactions", s.addTransaction)

	r.Get("/reports/cashflow", s.cashFlow)
	r.Get("/reports/categories", s.categorySpending)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		status = StatusFor(err)
	}
	s.logger.Debug("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", status,
		"duration", time.Since(start),
	)
	return err
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, template.ErrInvalidTemplate),
		errors.Is(err, categorizer.ErrInvalidRule),
		errors.Is(err, api.ErrUnknownCategory):
		return fiber.StatusBadRequest
	case errors.Is(err, api.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, categorizer.ErrGlobalRule):
		return fiber.StatusForbidden
	case errors.Is(err, api.ErrDuplicate):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := StatusFor(err)
	msg := err.Error()
	if code == fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		msg = "internal server error"
	}
	return c.Status(code).JSON(errorResponse{Error: msg})
}

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}
