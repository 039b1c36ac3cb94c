// Package errs provides the closed structured error taxonomy shared across
// the shopping copilot orchestration core.
package errs

import (
	"sort"
	"strconv"
	"strings"
)

// Category groups error Types into the closed taxonomy of spec §7.
type Category string

const (
	CategoryNetwork   Category = "network"
	CategoryDOM       Category = "dom"
	CategoryState     Category = "state"
	CategoryChrome    Category = "chrome"
	CategoryLifecycle Category = "lifecycle"
	CategoryAuth      Category = "auth"
	CategoryLLM       Category = "llm"
	CategoryUser      Category = "user"
)

// Type identifies a specific error within its Category.
type Type string

const (
	// network
	TypeOffline     Type = "offline"
	TypeTimeout     Type = "timeout"
	TypeServerError Type = "server_error"

	// dom
	TypeElementNotFound  Type = "element_not_found"
	TypeSelectorFailed   Type = "selector_failed"
	TypePageChanged      Type = "page_changed"
	TypeExtractionFailed Type = "extraction_failed"

	// state
	TypeInvalidTransition Type = "invalid_transition"
	TypeCorruption        Type = "corruption"
	TypeSyncFailed        Type = "sync_failed"

	// chrome
	TypeStorageQuota     Type = "storage_quota"
	TypePermissionDenied Type = "permission_denied"
	TypeTabNotFound      Type = "tab_not_found"
	TypeMessagingFailed  Type = "messaging_failed"

	// lifecycle
	TypeWorkerTerminated Type = "worker_terminated"
	TypeRecoveryFailed   Type = "recovery_failed"
	TypeAlarmFailed      Type = "alarm_failed"

	// auth
	TypeNotLoggedIn    Type = "not_logged_in"
	TypeSessionExpired Type = "session_expired"
	TypeLoginRequired  Type = "login_required"

	// llm
	TypeAPIKeyMissing  Type = "api_key_missing"
	TypeAPIKeyInvalid  Type = "api_key_invalid"
	TypeRateLimited    Type = "rate_limited"
	TypeContextTooLong Type = "context_too_long"

	// user
	TypeCancelled   Type = "cancelled"
	TypeUserTimeout Type = "timeout"

	// generic / network-agnostic retryable types referenced by spec §4.6's
	// error classification.
	TypeNetworkError Type = "network_error"
	TypeInvalidState Type = "invalid_state"
	TypeValidation   Type = "validation"
)

// RetryStrategy names the retry policy to apply for a retryable error.
type RetryStrategy string

const (
	RetryNone               RetryStrategy = "none"
	RetryExponentialNetwork RetryStrategy = "exponential_1_2_4"
	RetryImmediateDOM       RetryStrategy = "immediate_500ms"
	RetryExponentialLLM     RetryStrategy = "exponential_30_60_120"
)

// E is a structured error envelope carried through the orchestrator, the
// Interactor adapters and the LLM port.
type E struct {
	Category      Category
	Type          Type
	Message       string
	Recoverable   bool
	RetryStrategy RetryStrategy
	UserMessage   string
	Details       map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs a structured error for the given category and type.
func New(category Category, typ Type, opts ...Option) *E {
	e := &E{
		Category:      category,
		Type:          typ,
		Message:       "",
		Recoverable:   false,
		RetryStrategy: RetryNone,
		UserMessage:   "",
		Details:       nil,
		cause:         nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches an internal, non-user-facing message.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) { e.Message = trimmed }
}

// WithUserMessage attaches the fixed, user-visible message (spec §7:
// "mapped to a fixed message table, no raw internal text").
func WithUserMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) { e.UserMessage = trimmed }
}

// WithRecoverable marks whether the orchestrator may locally recover.
func WithRecoverable(recoverable bool) Option {
	return func(e *E) { e.Recoverable = recoverable }
}

// WithRetryStrategy attaches the retry policy selected from the matrix in
// spec §4.6.
func WithRetryStrategy(strategy RetryStrategy) Option {
	return func(e *E) { e.RetryStrategy = strategy }
}

// WithCause sets the underlying cause.
func WithCause(err error) Option {
	return func(e *E) { e.cause = err }
}

// WithDetail appends a single contextual key/value pair.
func WithDetail(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Details == nil {
			e.Details = make(map[string]string, 1)
		}
		e.Details[trimmedKey] = value
	}
}

// WithDetails merges the provided map into the error's contextual details.
func WithDetails(details map[string]string) Option {
	return func(e *E) {
		if len(details) == 0 {
			return
		}
		if e.Details == nil {
			e.Details = make(map[string]string, len(details))
		}
		for k, v := range details {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			e.Details[key] = v
		}
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, 0, 6)

	category := strings.TrimSpace(string(e.Category))
	if category == "" {
		category = "unknown"
	}
	parts = append(parts, "category="+category)

	typ := strings.TrimSpace(string(e.Type))
	if typ == "" {
		typ = "unknown"
	}
	parts = append(parts, "type="+typ)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Recoverable {
		parts = append(parts, "recoverable=true")
	}
	if e.RetryStrategy != "" && e.RetryStrategy != RetryNone {
		parts = append(parts, "retry="+string(e.RetryStrategy))
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Details[k]))
		}
		parts = append(parts, "details="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}
	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether err is an *E with the same Category and Type. This lets
// callers use errors.Is(err, errs.New(CategoryDOM, TypeElementNotFound)) as a
// sentinel-style comparison without exposing package-level vars per type.
func (e *E) Is(target error) bool {
	other, ok := target.(*E)
	if !ok || other == nil || e == nil {
		return false
	}
	return e.Category == other.Category && e.Type == other.Type
}

// IsCode reports whether err is a structured *E carrying the given category
// and type, unwrapping through wrapped causes.
func IsCode(err error, category Category, typ Type) bool {
	for err != nil {
		if e, ok := err.(*E); ok {
			if e.Category == category && e.Type == typ {
				return true
			}
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Retryable reports whether the error's Type is in the retryable set defined
// by spec §4.6's error classification.
func Retryable(err error) bool {
	e, ok := err.(*E)
	if !ok || e == nil {
		return false
	}
	switch e.Type {
	case TypeTimeout, TypeNetworkError, TypeElementNotFound, TypeRateLimited, TypeServerError:
		return true
	default:
		return false
	}
}
