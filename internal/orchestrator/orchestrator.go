// Package orchestrator runs the review pipeline: parse the triggering
// event, compute the diff between base and head, retrieve context for
// it, synthesize review text, and publish it as a pull request comment.
//
// The pipeline is strictly sequential. Each stage blocks until it
// completes, and a failure at any stage aborts the remaining stages
// with no partial retry and no rollback.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/codeturtle/reviewd/internal/logging"
	"github.com/codeturtle/reviewd/internal/retrieval"
	"github.com/codeturtle/reviewd/internal/webhook"
)

var tracer = otel.Tracer("reviewd.orchestrator")

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrStageFailed indicates a pipeline stage failed. The wrapping
	// message names the stage.
	ErrStageFailed = errors.New("pipeline stage failed")
)

// Retriever assembles review context from a diff.
type Retriever interface {
	Retrieve(ctx context.Context, diffText string) (*retrieval.ContextPayload, error)
}

// Config holds configuration for the pipeline.
type Config struct {
	// RepoPath is the checkout the diff is computed in.
	RepoPath string

	// Synthesizer is the external command that turns a context payload
	// on stdin into review text on stdout, e.g. "review-synth --tone dry".
	Synthesizer string
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.RepoPath == "" {
		return fmt.Errorf("%w: repo path required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Synthesizer) == "" {
		return fmt.Errorf("%w: synthesizer command required", ErrInvalidConfig)
	}
	return nil
}

// Pipeline drives one review run per pull request event.
type Pipeline struct {
	config    Config
	runner    CommandRunner
	retriever Retriever
	logger    *logging.Logger
}

// NewPipeline creates a pipeline. runner may be nil to use the default
// process-based runner.
func NewPipeline(cfg Config, retriever Retriever, runner CommandRunner, logger *logging.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if retriever == nil {
		return nil, fmt.Errorf("%w: retriever required", ErrInvalidConfig)
	}
	if runner == nil {
		runner = &execRunner{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Pipeline{
		config:    cfg,
		runner:    runner,
		retriever: retriever,
		logger:    logger.Named("orchestrator"),
	}, nil
}

// RunFromEventFile reads a pull request event payload from path and
// runs the pipeline for it. The path usually comes from the CI
// environment (GITHUB_EVENT_PATH).
func (p *Pipeline) RunFromEventFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: parse-event: reading %s: %v", ErrStageFailed, path, err)
	}

	event, err := parseEvent(data)
	if err != nil {
		return fmt.Errorf("%w: parse-event: %v", ErrStageFailed, err)
	}
	return p.Run(ctx, event)
}

// parseEvent extracts the fields the pipeline needs from a raw pull
// request event payload.
func parseEvent(data []byte) (webhook.Event, error) {
	var payload github.PullRequestEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return webhook.Event{}, fmt.Errorf("malformed event payload: %w", err)
	}

	event := webhook.Event{
		Repository: payload.GetRepo().GetFullName(),
		PRNumber:   payload.GetPullRequest().GetNumber(),
		Action:     payload.GetAction(),
		BaseSHA:    payload.GetPullRequest().GetBase().GetSHA(),
		HeadSHA:    payload.GetPullRequest().GetHead().GetSHA(),
	}
	if event.Repository == "" {
		return webhook.Event{}, errors.New("event has no repository.full_name")
	}
	if event.PRNumber == 0 {
		return webhook.Event{}, errors.New("event has no pull_request.number")
	}
	if event.BaseSHA == "" || event.HeadSHA == "" {
		return webhook.Event{}, errors.New("event has no base or head SHA")
	}
	return event, nil
}

// Run executes the pipeline stages for one event.
func (p *Pipeline) Run(ctx context.Context, event webhook.Event) error {
	ctx, span := tracer.Start(ctx, "Pipeline.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("repository", event.Repository),
		attribute.Int("pr_number", event.PRNumber),
	)

	p.logger.Info(ctx, "starting review pipeline",
		zap.String("repository", event.Repository),
		zap.Int("pr_number", event.PRNumber),
		zap.String("base", event.BaseSHA),
		zap.String("head", event.HeadSHA),
	)

	diffText, err := p.computeDiff(ctx, event)
	if err != nil {
		return err
	}
	if strings.TrimSpace(diffText) == "" {
		p.logger.Info(ctx, "empty diff, nothing to review")
		return nil
	}

	payload, err := p.retriever.Retrieve(ctx, diffText)
	if err != nil {
		return fmt.Errorf("%w: retrieve: %v", ErrStageFailed, err)
	}

	review, err := p.synthesize(ctx, payload)
	if err != nil {
		return err
	}
	if strings.TrimSpace(review) == "" {
		return fmt.Errorf("%w: synthesize: produced empty review", ErrStageFailed)
	}

	if err := p.publish(ctx, event, review); err != nil {
		return err
	}

	p.logger.Info(ctx, "review published",
		zap.String("repository", event.Repository),
		zap.Int("pr_number", event.PRNumber),
	)
	return nil
}

// computeDiff runs git to produce the base...head diff.
func (p *Pipeline) computeDiff(ctx context.Context, event webhook.Event) (string, error) {
	out, err := p.runner.Run(ctx, "git",
		[]string{"-C", p.config.RepoPath, "diff", event.BaseSHA + "..." + event.HeadSHA}, nil)
	if err != nil {
		return "", fmt.Errorf("%w: diff: %v", ErrStageFailed, err)
	}
	return string(out), nil
}

// synthesize pipes the context payload to the external synthesizer.
func (p *Pipeline) synthesize(ctx context.Context, payload *retrieval.ContextPayload) (string, error) {
	stdin, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: synthesize: marshaling payload: %v", ErrStageFailed, err)
	}

	parts := strings.Fields(p.config.Synthesizer)
	out, err := p.runner.Run(ctx, parts[0], parts[1:], stdin)
	if err != nil {
		return "", fmt.Errorf("%w: synthesize: %v", ErrStageFailed, err)
	}
	return string(out), nil
}

// publish posts the review as a pull request comment via gh.
func (p *Pipeline) publish(ctx context.Context, event webhook.Event, review string) error {
	args := []string{
		"pr", "comment", strconv.Itoa(event.PRNumber),
		"--repo", event.Repository,
		"--body-file", "-",
	}
	if _, err := p.runner.Run(ctx, "gh", args, []byte(review)); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrStageFailed, err)
	}
	return nil
}

// HandlePullRequest lets the pipeline serve as the webhook event
// handler. Failures are logged; there is no caller to return them to.
func (p *Pipeline) HandlePullRequest(ctx context.Context, event webhook.Event) {
	if err := p.Run(ctx, event); err != nil {
		p.logger.Error(ctx, "review pipeline failed",
			zap.String("repository", event.Repository),
			zap.Int("pr_number", event.PRNumber),
			zap.Error(err),
		)
	}
}
