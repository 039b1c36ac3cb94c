// Package scriptadapter implements the Page Interactor port (spec §4.2,
// adapter B) by exchanging the internal/protocol message envelope with a
// page-side agent, rather than driving a browser engine directly. A
// connTransport carries that envelope over a coder/websocket
// connection to a real injected content script; an offlineTransport (see
// offline.go) hosts an in-process goja/goquery DOM simulation for tests and
// local/offline runs with no real browser available.
package scriptadapter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/shopping-copilot/core/internal/errs"
	"github.com/shopping-copilot/core/internal/protocol"
)

// Transport exchanges a single request/response pair of the message
// protocol with the page-side agent. Implementations are not required to be
// safe for concurrent Send calls from multiple goroutines with overlapping
// deadlines unless documented otherwise.
type Transport interface {
	Send(ctx context.Context, msg protocol.Message) (protocol.Response, error)
	Close() error
}

const (
	readLimit          = 2 * 1024 * 1024
	defaultWriteWindow = 5 * time.Second
)

// connTransport carries the message protocol over a single coder/websocket
// connection, correlating requests to responses by Message.ID. Mirrors the
// read-loop/pending-map correlation idiom used by the streaming adapters
// this project's orchestration core was modelled on.
type connTransport struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan protocol.Response

	idGen atomic.Uint64

	readCtx    context.Context
	readCancel context.CancelFunc
	readDone   chan struct{}
}

// DialTransport opens a websocket connection to the page-side agent at url
// and starts its read loop.
func DialTransport(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errs.New(errs.CategoryNetwork, errs.TypeNetworkError,
			errs.WithMessage(fmt.Sprintf("dial %q: %v", url, err)),
			errs.WithRecoverable(true),
			errs.WithRetryStrategy(errs.RetryExponentialNetwork),
			errs.WithCause(err))
	}
	conn.SetReadLimit(readLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	t := &connTransport{
		conn:       conn,
		pending:    make(map[string]chan protocol.Response),
		readCtx:    readCtx,
		readCancel: cancel,
		readDone:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *connTransport) readLoop() {
	defer close(t.readDone)
	for {
		_, data, err := t.conn.Read(t.readCtx)
		if err != nil {
			t.failAllPending(err)
			return
		}
		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (t *connTransport) failAllPending(cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.pending {
		ch <- protocol.NewError(id, protocol.ErrNetworkError, fmt.Sprintf("connection closed: %v", cause), nil)
		delete(t.pending, id)
	}
}

func (t *connTransport) Send(ctx context.Context, msg protocol.Message) (protocol.Response, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	waiter := make(chan protocol.Response, 1)
	t.mu.Lock()
	t.pending[msg.ID] = waiter
	t.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		t.mu.Lock()
		delete(t.pending, msg.ID)
		t.mu.Unlock()
		return protocol.Response{}, errs.New(errs.CategoryChrome, errs.TypeMessagingFailed, errs.WithCause(err))
	}

	writeCtx, cancel := context.WithTimeout(ctx, defaultWriteWindow)
	defer cancel()
	if err := t.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		t.mu.Lock()
		delete(t.pending, msg.ID)
		t.mu.Unlock()
		return protocol.Response{}, errs.New(errs.CategoryChrome, errs.TypeMessagingFailed,
			errs.WithRecoverable(true), errs.WithCause(err))
	}

	select {
	case resp := <-waiter:
		return resp, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, msg.ID)
		t.mu.Unlock()
		return protocol.Response{}, errs.New(errs.CategoryDOM, errs.TypeTimeout,
			errs.WithMessage("page agent did not respond in time"),
			errs.WithRetryStrategy(errs.RetryImmediateDOM))
	}
}

func (t *connTransport) Close() error {
	t.readCancel()
	err := t.conn.Close(websocket.StatusNormalClosure, "adapter closed")
	<-t.readDone
	return err
}
