// Package webhook accepts raw RFC 822 messages over HTTP and archives them.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/nhle/mailarchive/internal/model"
	"github.com/nhle/mailarchive/internal/parser"
)

// Source tags audit entries written for webhook deliveries.
const Source = "webhook"

// Archiver stores a raw message.
type Archiver interface {
	ParseRaw(ctx context.Context, raw []byte, meta model.RequestMeta) (*model.Email, error)
}

// Response is the JSON envelope of every webhook reply.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    *Data  `json:"data,omitempty"`
}

// Data identifies an archived email.
type Data struct {
	EmailID   int64  `json:"email_id"`
	MessageID string `json:"message_id"`
	Hash      string `json:"hash"`
}

func dataFor(e *model.Email) *Data {
	return &Data{EmailID: e.ID, MessageID: e.MessageID, Hash: e.Hash}
}

// Server is the inbound HTTP surface.
type Server struct {
	app      *fiber.App
	archiver Archiver
	limiter  *limiter
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used by the limiter and health check.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithRateLimit allows perMinute webhook requests per client IP. Zero or
// less disables limiting.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) {
		s.limiter = nil
		if perMinute > 0 {
			s.limiter = newLimiter(perMinute, func() time.Time { return s.now() })
		}
	}
}

// New builds the fiber app with its routes and middleware.
func New(archiver Archiver, opts ...Option) *Server {
	s := &Server{
		archiver: archiver,
		logger:   slog.New(slog.NewTextHandler(os.Stderr, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "mailarchive",
		DisableStartupMessage: true,
		BodyLimit:             64 * 1024 * 1024,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())

	s.app.Get("/health", s.health)
	api := s.app.Group("/api/webhook")
	if s.limiter != nil {
		api.Use(s.limiter.handler)
	}
	api.Post("/email", s.receive)
	return s
}

// App exposes the fiber app, mostly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listen(addr) }()

	sweep := time.NewTicker(5 * time.Minute)
	defer sweep.Stop()

	s.logger.Info("webhook listening", "addr", addr)
	for {
		select {
		case err := <-errCh:
			return err
		case <-sweep.C:
			if s.limiter != nil {
				s.limiter.sweep()
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return s.app.ShutdownWithContext(shutdownCtx)
		}
	}
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"time":   s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) receive(c *fiber.Ctx) error {
	// Body is only valid for the lifetime of the handler.
	raw := append([]byte(nil), c.Body()...)
	if len(raw) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(Response{
			Message: "No email content received",
		})
	}

	meta := model.RequestMeta{
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		Source:    Source,
	}
	e, err := s.archiver.ParseRaw(c.UserContext(), raw, meta)
	if err != nil {
		if errors.Is(err, parser.ErrDuplicate) {
			return s.duplicate(c, err)
		}
		s.logger.Error("failed to archive email", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(Response{
			Message: "Failed to archive email: " + err.Error(),
		})
	}

	s.logger.Info("email archived", "email_id", e.ID, "message_id", e.MessageID,
		"from", e.FromAddress, "subject", e.Subject)
	return c.Status(fiber.StatusCreated).JSON(Response{
		Success: true,
		Message: "Email archived successfully",
		Data:    dataFor(e),
	})
}

func (s *Server) duplicate(c *fiber.Ctx, err error) error {
	resp := Response{Success: true, Message: "Email already archived"}
	if existing, ok := parser.Existing(err); ok {
		resp.Data = dataFor(existing)
		s.logger.Info("email already archived", "email_id", existing.ID, "message_id", existing.MessageID)
	} else {
		var dup *parser.DuplicateError
		if errors.As(err, &dup) {
			resp.Data = &Data{MessageID: dup.MessageID}
		}
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// handleError renders errors that escape handlers, including recovered
// panics, in the webhook's JSON envelope.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(Response{Message: err.Error()})
}
