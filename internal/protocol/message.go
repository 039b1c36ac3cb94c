// Package protocol defines the internal message envelope exchanged between
// the orchestrator and page-side components (the content-script Interactor
// adapter), per spec §6.
package protocol

// Action classifies a message; the closed set covers state, cart, order,
// search, slots, page, login, LLM, run control, and system events per
// spec §6.
type Action string

const (
	// state
	ActionStateGet    Action = "state.get"
	ActionStateUpdate Action = "state.update"

	// cart
	ActionCartGet    Action = "cart.get"
	ActionCartMerge  Action = "cart.merge"
	ActionCartDiff   Action = "cart.diff"

	// order
	ActionOrderList   Action = "order.list"
	ActionOrderDetail Action = "order.detail"
	ActionOrderReorder Action = "order.reorder"

	// search / substitution
	ActionSearchQuery   Action = "search.query"
	ActionSearchResults Action = "search.results"

	// slots
	ActionSlotsList Action = "slots.list"
	ActionSlotsRank Action = "slots.rank"

	// page
	ActionPageNavigate     Action = "page.navigate"
	ActionPageFindElement  Action = "page.findElement"
	ActionPageClick        Action = "page.click"
	ActionPageScreenshot   Action = "page.screenshot"
	ActionPagePopupSweep   Action = "page.popupSweep"

	// login
	ActionLoginStatus Action = "login.status"

	// LLM
	ActionLLMComplete     Action = "llm.complete"
	ActionLLMAvailability Action = "llm.availability"

	// run control
	ActionRunStart   Action = "run.start"
	ActionRunApprove Action = "run.approve"
	ActionRunCancel  Action = "run.cancel"
	ActionRunPause   Action = "run.pause"
	ActionRunResume  Action = "run.resume"

	// system
	ActionSystemPing     Action = "system.ping"
	ActionSystemShutdown Action = "system.shutdown"
)

// ErrorCode is the closed error-code set carried in a Response's error
// field, per spec §6.
type ErrorCode string

const (
	ErrUnknown          ErrorCode = "UNKNOWN"
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrInvalidState     ErrorCode = "INVALID_STATE"
	ErrStateMismatch    ErrorCode = "STATE_MISMATCH"
	ErrElementNotFound  ErrorCode = "ELEMENT_NOT_FOUND"
	ErrPageNotReady     ErrorCode = "PAGE_NOT_READY"
	ErrWrongPage        ErrorCode = "WRONG_PAGE"
	ErrNetworkError     ErrorCode = "NETWORK_ERROR"
	ErrAPIError         ErrorCode = "API_ERROR"
	ErrNotLoggedIn      ErrorCode = "NOT_LOGGED_IN"
	ErrAPIKeyMissing    ErrorCode = "API_KEY_MISSING"
	ErrAPIKeyInvalid    ErrorCode = "API_KEY_INVALID"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
)

// Message is the envelope sent from the orchestrator to a page-side
// component, per spec §6.
type Message struct {
	ID            string
	Action        Action
	Payload       any
	TimestampNano int64
}

// ResponseError carries the structured error payload of a failed Response.
type ResponseError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
}

// Timing captures round-trip latency metadata attached to a Response.
type Timing struct {
	SentAtNano     int64
	ReceivedAtNano int64
}

// Response is the envelope returned for a Message, per spec §6.
type Response struct {
	ID      string
	Success bool
	Data    any
	Error   *ResponseError
	Timing  *Timing
}

// NewSuccess constructs a successful Response echoing the request id.
func NewSuccess(id string, data any, timing *Timing) Response {
	return Response{ID: id, Success: true, Data: data, Error: nil, Timing: timing}
}

// NewError constructs a failed Response echoing the request id.
func NewError(id string, code ErrorCode, message string, details map[string]any) Response {
	return Response{
		ID:      id,
		Success: false,
		Data:    nil,
		Error:   &ResponseError{Code: code, Message: message, Details: details},
		Timing:  nil,
	}
}
