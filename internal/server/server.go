// Package server is the HTTP surface: the GitHub webhook endpoint plus
// status, health and metrics routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"releasebot/internal/metrics"
	"releasebot/internal/relay"
	"releasebot/internal/signature"
	logx "releasebot/pkg/logx"
)

const (
	DefaultAddr        = ":5000"
	DefaultWebhookPath = "/webhook"
	DefaultBodyLimit   = 4 << 20
)

// Handler processes one webhook body.
type Handler interface {
	Handle(ctx context.Context, eventType string, body []byte) (relay.Outcome, error)
}

// Status is what GET / and /healthz report.
type Status struct {
	TargetUser string
	Targets    int
	Messaging  bool
}

type Options struct {
	Handler     Handler
	Secret      func() string // current webhook secret, "" when unset
	Status      func() Status
	WebhookPath string
	BodyLimit   int
	Pprof       bool // mount /debug/pprof
	Metrics     *metrics.Metrics
	Log         logx.Logger
}

type Server struct {
	app     *fiber.App
	handler Handler
	secret  func() string
	status  func() Status
	metrics *metrics.Metrics
	log     logx.Logger
}

func New(opts Options) *Server {
	s := &Server{
		handler: opts.Handler,
		secret:  opts.Secret,
		status:  opts.Status,
		metrics: opts.Metrics,
		log:     opts.Log,
	}
	if s.secret == nil {
		s.secret = func() string { return "" }
	}
	if s.status == nil {
		s.status = func() Status { return Status{} }
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	path := strings.TrimSpace(opts.WebhookPath)
	if path == "" {
		path = DefaultWebhookPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	limit := opts.BodyLimit
	if limit <= 0 {
		limit = DefaultBodyLimit
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "releasebot",
		BodyLimit:             limit,
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(s.accessLog)
	if opts.Pprof {
		s.app.Use(pprof.New())
	}

	s.app.Post(path, s.webhook)
	s.app.Get("/", s.index)
	s.app.Get("/healthz", s.healthz)
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}
	return s
}

// App exposes the fiber app (tests use App().Test).
func (s *Server) App() *fiber.App { return s.app }

// Listen blocks serving addr until Shutdown.
func (s *Server) Listen(addr string) error {
	if strings.TrimSpace(addr) == "" {
		addr = DefaultAddr
	}
	s.log.Info("http listening", logx.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) webhook(c *fiber.Ctx) error {
	// fasthttp reuses the request buffer once the handler returns.
	body := append([]byte(nil), c.Body()...)
	delivery := c.Get("X-GitHub-Delivery")
	if delivery == "" {
		delivery = uuid.NewString()
	}
	event := c.Get("X-GitHub-Event")
	log := s.log.With(logx.String("delivery", delivery), logx.String("event", event))

	res, err := signature.Verify(body, c.Get("X-Hub-Signature-256"), s.secret())
	if err != nil {
		log.Warn("webhook rejected", logx.String("remote", c.IP()), logx.Err(err))
		s.metrics.WebhookEvent("forbidden")
		return c.Status(fiber.StatusForbidden).JSON(relay.Outcome{Status: relay.StatusError, Message: "Invalid signature"})
	}
	if res == signature.Skipped {
		log.Warn("webhook secret not configured; signature check skipped")
	}

	out, err := s.handler.Handle(c.UserContext(), event, body)
	if errors.Is(err, relay.ErrMalformedPayload) {
		return c.Status(fiber.StatusBadRequest).JSON(out)
	}
	if err != nil {
		log.Error("webhook handling failed", logx.Err(err))
		return c.Status(fiber.StatusInternalServerError).JSON(relay.Outcome{Status: relay.StatusError})
	}
	log.Debug("webhook handled", logx.String("status", string(out.Status)))
	return c.JSON(out)
}

func (s *Server) index(c *fiber.Ctx) error {
	user := s.status().TargetUser
	if user == "" {
		user = "any account"
	}
	return c.SendString(fmt.Sprintf("GitHub Release Bot for %s is running!", user))
}

type healthResponse struct {
	Status    string `json:"status"`
	Targets   int    `json:"targets"`
	Messaging bool   `json:"messaging"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) healthz(c *fiber.Ctx) error {
	st := s.status()
	return c.JSON(healthResponse{
		Status:    "ok",
		Targets:   st.Targets,
		Messaging: st.Messaging,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.log.Debug("http request",
		logx.String("method", c.Method()),
		logx.String("path", c.Path()),
		logx.Int("status", c.Response().StatusCode()),
		logx.Duration("took", time.Since(start)))
	return err
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= 500 {
		s.log.Error("http error", logx.String("path", c.Path()), logx.Err(err))
	}
	return c.Status(code).JSON(relay.Outcome{Status: relay.StatusError, Message: err.Error()})
}
