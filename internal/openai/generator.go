package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"kno-canvas/internal/canvas"
	"kno-canvas/internal/models"
)

/*
LEARNING: CIRCUIT BREAKER AROUND THE MODEL

A synthesis waits on a remote model for up to a minute. If the model is
down, every Collider and Spark would wait out its full timeout before
failing. The breaker counts failures and, past a ratio, fails new calls
immediately for a cool-down period:

  closed ──(failure ratio reached)──▶ open ──(timeout)──▶ half-open
    ▲                                                         │
    └──────────────(probe succeeds)───────────────────────────┘

A call the caller cancelled is not the model's fault and does not count.
*/

// ErrCircuitOpen is returned while the breaker is refusing calls.
var ErrCircuitOpen = errors.New("generator circuit open")

var tracer = otel.Tracer("kno-canvas/openai")

// chatter is the one method of Client the generator calls.
type chatter interface {
	ChatCompletion(ctx context.Context, messages []ChatMessage, jsonMode bool) (string, error)
}

type BreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	// MinRequests is the number of calls in an interval before the ratio
	// is considered.
	MinRequests uint32
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  3,
	}
}

// Generator implements canvas.Generator and canvas.Critic on top of chat
// completions.
type Generator struct {
	client  chatter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	now     func() time.Time
}

func NewGenerator(client chatter, settings BreakerSettings, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Generator{client: client, logger: logger, now: time.Now}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openai",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return g
}

const systemPrompt = "You are the synthesis engine of a spatial thinking canvas. Reply with a single JSON object and nothing else."

// Generate implements canvas.Generator.
func (g *Generator) Generate(ctx context.Context, prompt string) (canvas.Generation, error) {
	ctx, span := tracer.Start(ctx, "openai.Generate")
	defer span.End()

	reply, err := g.chat(ctx, []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return canvas.Generation{}, err
	}
	gen, err := ParseGeneration(reply)
	if err != nil {
		g.logger.Warn("unparseable generation", zap.Error(err), zap.Int("reply_len", len(reply)))
		span.RecordError(err)
		return canvas.Generation{}, err
	}
	span.SetAttributes(attribute.Int("generation.content_len", len(gen.Content)))
	return gen, nil
}

func (g *Generator) chat(ctx context.Context, messages []ChatMessage) (string, error) {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.client.ChatCompletion(ctx, messages, true)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// State reports the breaker state for health checks.
func (g *Generator) State() string {
	return g.breaker.State().String()
}

// Critique implements canvas.Critic. A failed call is an error; a reply
// that is not the expected JSON is read with a section parser.
func (g *Generator) Critique(ctx context.Context, text string) (*models.Critique, error) {
	ctx, span := tracer.Start(ctx, "openai.Critique")
	defer span.End()

	reply, err := g.chat(ctx, []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: critiquePrompt(text, g.now())},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return ParseCritique(reply), nil
}
