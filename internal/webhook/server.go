// Package webhook is the HTTP front door for GitHub pull request
// events: signature validation, event and action filtering, and field
// extraction. It holds no review logic of its own; accepted events are
// handed to an EventHandler.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/codeturtle/reviewd/internal/config"
	"github.com/codeturtle/reviewd/internal/logging"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// maxBodySize bounds webhook request bodies.
const maxBodySize = 1 << 20

// acceptedActions are the pull request actions that trigger a review.
var acceptedActions = map[string]bool{
	"opened":      true,
	"reopened":    true,
	"synchronize": true,
}

// Event is the extracted form of an accepted pull request event.
type Event struct {
	Repository     string
	PRNumber       int
	InstallationID int64
	Action         string
	BaseSHA        string
	HeadSHA        string
}

// EventHandler consumes accepted events. Handlers run in a background
// goroutine; the webhook response does not wait for them.
type EventHandler interface {
	HandlePullRequest(ctx context.Context, event Event)
}

// Config holds configuration for the webhook server.
type Config struct {
	// Host to bind. Empty means all interfaces.
	Host string

	// Port to listen on. Default 8000.
	Port int

	// Secret is the shared webhook secret. When unset, signature
	// validation is skipped. Weak mode, for local development only.
	Secret config.Secret
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8000
	}
}

// Server serves the webhook ingress plus health and metrics endpoints.
type Server struct {
	echo    *echo.Echo
	config  Config
	handler EventHandler
	logger  *logging.Logger
	metrics *metrics

	mu           sync.Mutex
	rateLimiters map[string]*rate.Limiter
	lastCleanup  time.Time
}

// NewServer creates a webhook server. handler may be nil, in which case
// accepted events are acknowledged but not acted on.
func NewServer(cfg Config, handler EventHandler, logger *logging.Logger, reg prometheus.Registerer) (*Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:         e,
		config:       cfg,
		handler:      handler,
		logger:       logger.Named("webhook"),
		metrics:      newMetrics(reg),
		rateLimiters: make(map[string]*rate.Limiter),
		lastCleanup:  time.Now(),
	}

	e.POST("/api/github/webhook", s.handleWebhook)
	e.GET("/health", s.handleHealth)
	if gatherer, ok := reg.(prometheus.Gatherer); ok {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return s, nil
}

// Start starts the server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "webhook server listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// statusResponse is the body for ignored and processed events.
type statusResponse struct {
	Status         string `json:"status"`
	Repository     string `json:"repository,omitempty"`
	PRNumber       *int   `json:"pr_number,omitempty"`
	InstallationID *int64 `json:"installation_id,omitempty"`
}

// errorResponse is the body for rejected requests.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleWebhook(c echo.Context) error {
	ctx := c.Request().Context()
	start := time.Now()
	defer func() { s.metrics.duration.Observe(time.Since(start).Seconds()) }()

	if !s.allow(clientIP(c.Request())) {
		s.metrics.requests.WithLabelValues("rate_limited").Inc()
		return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
	if err != nil {
		s.metrics.requests.WithLabelValues("bad_request").Inc()
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
	}

	if s.config.Secret.IsSet() {
		header := c.Request().Header.Get("X-Hub-Signature-256")
		if !verifySignature(body, header, s.config.Secret.Value()) {
			s.metrics.requests.WithLabelValues("invalid_signature").Inc()
			s.logger.Warn(ctx, "rejected webhook with invalid signature", zap.String("ip", clientIP(c.Request())))
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid signature"})
		}
	}

	eventType := c.Request().Header.Get("X-GitHub-Event")
	if eventType == "" {
		s.metrics.requests.WithLabelValues("unprocessable").Inc()
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Error: "missing required header: X-GitHub-Event",
		})
	}
	if eventType != "pull_request" {
		s.metrics.requests.WithLabelValues("event_ignored").Inc()
		s.logger.Debug(ctx, "ignoring event type", zap.String("event", eventType))
		return c.JSON(http.StatusOK, statusResponse{Status: "event_ignored"})
	}

	var payload github.PullRequestEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		s.metrics.requests.WithLabelValues("bad_request").Inc()
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed JSON payload"})
	}

	action := payload.GetAction()
	if !acceptedActions[action] {
		s.metrics.requests.WithLabelValues("action_ignored").Inc()
		s.logger.Debug(ctx, "ignoring pull request action", zap.String("action", action))
		return c.JSON(http.StatusOK, statusResponse{Status: "action_ignored"})
	}

	event, missing := extractEvent(&payload)
	if missing != "" {
		s.metrics.requests.WithLabelValues("unprocessable").Inc()
		s.logger.Warn(ctx, "payload missing required field", zap.String("field", missing))
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Error: fmt.Sprintf("missing required field: %s", missing),
		})
	}

	s.metrics.requests.WithLabelValues("event_processed").Inc()
	s.logger.Info(ctx, "accepted pull request event",
		zap.String("repository", event.Repository),
		zap.Int("pr_number", event.PRNumber),
		zap.String("action", event.Action),
	)

	if s.handler != nil {
		go s.handler.HandlePullRequest(context.WithoutCancel(ctx), event)
	}

	return c.JSON(http.StatusOK, statusResponse{
		Status:         "event_processed",
		Repository:     event.Repository,
		PRNumber:       &event.PRNumber,
		InstallationID: &event.InstallationID,
	})
}

// extractEvent pulls the required fields from an accepted payload.
// Returns the dotted name of the first missing field.
func extractEvent(payload *github.PullRequestEvent) (Event, string) {
	if payload.Repo == nil || payload.Repo.FullName == nil {
		return Event{}, "repository.full_name"
	}
	if payload.PullRequest == nil || payload.PullRequest.Number == nil {
		return Event{}, "pull_request.number"
	}
	if payload.Installation == nil || payload.Installation.ID == nil {
		return Event{}, "installation.id"
	}

	return Event{
		Repository:     payload.Repo.GetFullName(),
		PRNumber:       payload.PullRequest.GetNumber(),
		InstallationID: payload.Installation.GetID(),
		Action:         payload.GetAction(),
		BaseSHA:        payload.PullRequest.GetBase().GetSHA(),
		HeadSHA:        payload.PullRequest.GetHead().GetSHA(),
	}, ""
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// allow rate limits by client IP, 60 requests per minute with burst 10.
func (s *Server) allow(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Reset the limiter map hourly so dead IPs do not accumulate.
	if time.Since(s.lastCleanup) > time.Hour {
		s.rateLimiters = make(map[string]*rate.Limiter)
		s.lastCleanup = time.Now()
	}

	limiter, ok := s.rateLimiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(1), 10)
		s.rateLimiters[ip] = limiter
	}
	return limiter.Allow()
}

// clientIP extracts the client address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
