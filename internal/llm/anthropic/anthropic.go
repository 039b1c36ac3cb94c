// Package anthropic implements internal/llm.Port over anthropic-sdk-go, per
// spec §4.7's Anthropic-family adapter contract: 401/429/5xx/context-length
// error mapping, a consecutive-failure circuit breaker, and serialized
// ephemeral API-key mutation.
package anthropic

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/shopping-copilot/core/internal/errs"
	"github.com/shopping-copilot/core/internal/llm"
	"github.com/shopping-copilot/core/internal/observability"
	"github.com/shopping-copilot/core/internal/retry"
)

// DefaultModel is used when CompleteOptions.Model is empty.
const DefaultModel = "claude-3-5-sonnet-latest"

const (
	breakerThreshold     = 3
	breakerCooldown      = 30 * time.Second
	defaultRateLimitWait = 60 * time.Second
	serverErrorWait      = 5 * time.Second
)

// Adapter is the concrete llm.Port backed by the Anthropic API. At most one
// outstanding API-key mutation is allowed at a time, per spec §4.7; keyMu
// serializes SetAPIKey/ClearAPIKey against concurrent Complete calls reading
// the client pointer.
type Adapter struct {
	keyMu  sync.RWMutex
	client *anthropic.Client
	hasKey bool

	breaker *retry.Breaker

	errMu   sync.Mutex
	lastErr error
}

// New constructs an Adapter with no API key configured; IsAvailable reports
// false until SetAPIKey succeeds.
func New() *Adapter {
	return &Adapter{breaker: retry.NewBreaker(breakerThreshold, breakerCooldown)}
}

// SetAPIKey installs a new API key, replacing any previously configured
// client, and resets the circuit breaker so a fresh key gets a clean trial.
func (a *Adapter) SetAPIKey(ctx context.Context, key string) error {
	a.keyMu.Lock()
	defer a.keyMu.Unlock()
	if key == "" {
		return errs.New(errs.CategoryAuth, errs.TypeAPIKeyMissing, errs.WithMessage("empty API key"))
	}
	client := anthropic.NewClient(option.WithAPIKey(key))
	a.client = &client
	a.hasKey = true
	a.breaker.Reset()
	a.setLastErr(nil)
	return nil
}

// ClearAPIKey removes the configured key; subsequent IsAvailable/Complete
// calls behave as if no key was ever set.
func (a *Adapter) ClearAPIKey(ctx context.Context) {
	a.keyMu.Lock()
	defer a.keyMu.Unlock()
	a.client = nil
	a.hasKey = false
	a.breaker.Reset()
	a.setLastErr(nil)
}

// IsAvailable reports whether a key is configured and the circuit breaker is
// closed. It never errors: any unavailability reason collapses to false.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	a.keyMu.RLock()
	defer a.keyMu.RUnlock()
	return a.hasKey && a.breaker.Allow()
}

// GetLastError returns the most recent Complete failure, or nil.
func (a *Adapter) GetLastError() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.lastErr
}

func (a *Adapter) setLastErr(err error) {
	a.errMu.Lock()
	a.lastErr = err
	a.errMu.Unlock()
}

// Complete issues a single completion request. Callers (internal/runner)
// must always have a heuristic fallback ready: any non-nil
// error here means "fall back, and WARN-log," never "retry until it works."
func (a *Adapter) Complete(ctx context.Context, messages []llm.Message, opts llm.CompleteOptions) (llm.CompleteResult, error) {
	a.keyMu.RLock()
	client, hasKey := a.client, a.hasKey
	a.keyMu.RUnlock()

	if !hasKey {
		err := errs.New(errs.CategoryAuth, errs.TypeAPIKeyMissing, errs.WithMessage("no API key configured"))
		a.setLastErr(err)
		return llm.CompleteResult{}, err
	}
	if !a.breaker.Allow() {
		err := errs.New(errs.CategoryLLM, errs.TypeRateLimited,
			errs.WithMessage("circuit breaker open after repeated failures"),
			errs.WithRecoverable(true),
			errs.WithRetryStrategy(errs.RetryNone))
		a.setLastErr(err)
		return llm.CompleteResult{}, err
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  toAnthropicMessages(messages),
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt}}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if len(opts.StopSequences) > 0 {
		params.StopSequences = opts.StopSequences
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		mapped := mapError(err)
		a.setLastErr(mapped)
		a.breaker.RecordFailure()
		observability.Log().Warn("anthropic completion failed", observability.F("error", mapped.Error()), observability.F("model", model))
		if isAPIKeyInvalid(mapped) {
			a.ClearAPIKey(ctx)
			a.setLastErr(mapped)
		}
		if wait, ok := retryAfter(mapped); ok {
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
		}
		return llm.CompleteResult{}, mapped
	}

	a.breaker.RecordSuccess()
	a.setLastErr(nil)
	return toResult(resp, model), nil
}

func toAnthropicMessages(messages []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case llm.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(block))
		default:
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func toResult(resp *anthropic.Message, model string) llm.CompleteResult {
	var text string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}
	return llm.CompleteResult{
		Content: text,
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
		Model:      model,
		StopReason: string(resp.StopReason),
	}
}

// mapError translates an anthropic-sdk-go error into the structured
// taxonomy, per spec §4.7's error-mapping table: 401 -> auth/api key
// invalid, 429 -> LLM/rate limited (retryable, honoring Retry-After), 5xx ->
// LLM/server error (retryable), and a context-length message match ->
// LLM/context too long (not retryable).
func mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401:
			return errs.New(errs.CategoryAuth, errs.TypeAPIKeyInvalid,
				errs.WithMessage(apiErr.Error()), errs.WithCause(err), errs.WithRetryStrategy(errs.RetryNone))
		case 429:
			return errs.New(errs.CategoryLLM, errs.TypeRateLimited,
				errs.WithMessage(apiErr.Error()), errs.WithCause(err),
				errs.WithRecoverable(true), errs.WithRetryStrategy(errs.RetryExponentialLLM))
		default:
			if apiErr.StatusCode >= 500 {
				return errs.New(errs.CategoryLLM, errs.TypeServerError,
					errs.WithMessage(apiErr.Error()), errs.WithCause(err),
					errs.WithRecoverable(true), errs.WithRetryStrategy(errs.RetryExponentialLLM))
			}
			if isContextLengthError(apiErr.Error()) {
				return errs.New(errs.CategoryLLM, errs.TypeContextTooLong,
					errs.WithMessage(apiErr.Error()), errs.WithCause(err), errs.WithRetryStrategy(errs.RetryNone))
			}
			return errs.New(errs.CategoryLLM, errs.TypeServerError,
				errs.WithMessage(apiErr.Error()), errs.WithCause(err), errs.WithRetryStrategy(errs.RetryNone))
		}
	}
	return errs.New(errs.CategoryNetwork, errs.TypeNetworkError,
		errs.WithMessage(err.Error()), errs.WithCause(err),
		errs.WithRecoverable(true), errs.WithRetryStrategy(errs.RetryExponentialNetwork))
}

// isAPIKeyInvalid reports whether err is the mapped 401 result, the signal
// that the configured key is permanently bad and must be cleared rather
// than retried.
func isAPIKeyInvalid(err error) bool {
	e, ok := err.(*errs.E)
	return ok && e.Type == errs.TypeAPIKeyInvalid
}

func isContextLengthError(msg string) bool {
	const needle = "too long"
	for i := 0; i+len(needle) <= len(msg); i++ {
		if msg[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// retryAfter reports the fixed wait spec §4.7 prescribes before the caller's
// own retry loop (internal/retry.Do, policy RateLimitedLLMPolicy) re-enters:
// 60s default for rate limiting, 5s for server errors. The SDK's own
// Retry-After header parsing is not surfaced through anthropic.Error, so
// these are the spec's documented defaults rather than header-derived values.
func retryAfter(err error) (time.Duration, bool) {
	e, ok := err.(*errs.E)
	if !ok {
		return 0, false
	}
	switch e.Type {
	case errs.TypeRateLimited:
		return defaultRateLimitWait, true
	case errs.TypeServerError:
		return serverErrorWait, true
	default:
		return 0, false
	}
}

var _ llm.Port = (*Adapter)(nil)
