package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const DefaultDialTimeout = 8 * time.Second

// Message is one frame on the debugger stream. Requests and responses carry
// an id; unsolicited events carry only method and params.
type Message struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *MessageError   `json:"error,omitempty"`
}

type MessageError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (m Message) IsEvent() bool {
	return m.ID == 0 && m.Method != ""
}

// Conn is a correlated command/event layer over one debugger websocket.
// Request ids come from a connection-owned monotonic counter; every sent
// request registers exactly one waiter. Await paths read the shared stream:
// responses for other pending ids are handed to their waiters, everything
// else that does not match is discarded. A caller that needs both a
// response and an event must interleave the two waits itself.
type Conn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	nextID  atomic.Int64
	writeMu sync.Mutex
	readMu  sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan Message
}

// Dial connects to a debugger websocket endpoint. A zero timeout uses
// DefaultDialTimeout.
func Dial(ctx context.Context, wsURL string, timeout time.Duration, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrConnect, wsURL, err)
	}

	return &Conn{
		ws:      ws,
		logger:  logger,
		pending: make(map[int64]chan Message),
	}, nil
}

// Send serializes {id, method, params} and registers a waiter for the
// response with the same id.
func (c *Conn) Send(method string, params any) (int64, error) {
	id := c.nextID.Add(1)

	msg := struct {
		ID     int64  `json:"id"`
		Method string `json:"method"`
		Params any    `json:"params,omitempty"`
	}{ID: id, Method: method, Params: params}

	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode %s request: %w", method, err)
	}

	c.pendingMu.Lock()
	c.pending[id] = make(chan Message, 1)
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.dropWaiter(id)
		return 0, fmt.Errorf("send %s request: %w", method, err)
	}

	return id, nil
}

// AwaitResponse blocks until the response whose id matches requestID
// arrives or the timeout elapses. Events and responses for other requests
// seen on the way are routed or discarded, never returned.
func (c *Conn) AwaitResponse(requestID int64, timeout time.Duration) (Message, error) {
	defer c.dropWaiter(requestID)

	deadline := time.Now().Add(timeout)
	for {
		if msg, ok := c.takeDelivered(requestID); ok {
			return msg, nil
		}
		if time.Now().After(deadline) {
			return Message{}, fmt.Errorf("%w: response %d after %s", domain.ErrProtocolTimeout, requestID, timeout)
		}

		msg, err := c.readNext(deadline)
		if err != nil {
			return Message{}, err
		}
		if msg.ID == requestID {
			return msg, nil
		}
		c.route(msg)
	}
}

// AwaitEvent reads messages until one satisfies pred or the timeout
// elapses. Responses for pending requests are routed to their waiters.
func (c *Conn) AwaitEvent(pred func(Message) bool, timeout time.Duration) (Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return Message{}, fmt.Errorf("%w: event after %s", domain.ErrProtocolTimeout, timeout)
		}

		msg, err := c.readNext(deadline)
		if err != nil {
			return Message{}, err
		}
		if msg.IsEvent() && pred(msg) {
			return msg, nil
		}
		c.route(msg)
	}
}

// Call is Send followed by AwaitResponse, surfacing protocol-level errors.
func (c *Conn) Call(method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id, err := c.Send(method, params)
	if err != nil {
		return nil, err
	}

	msg, err := c.AwaitResponse(id, timeout)
	if err != nil {
		return nil, err
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("%s failed: %s (code %d)", method, msg.Error.Message, msg.Error.Code)
	}

	return msg.Result, nil
}

// Close is best-effort: failures are logged, never propagated.
func (c *Conn) Close() {
	c.writeMu.Lock()
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Debug("debugger close frame failed", zap.Error(err))
	}
	if err := c.ws.Close(); err != nil {
		c.logger.Debug("debugger socket close failed", zap.Error(err))
	}
}

// EventNamed matches an event by its protocol method.
func EventNamed(method string) func(Message) bool {
	return func(m Message) bool { return m.Method == method }
}

func (c *Conn) readNext(deadline time.Time) (Message, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return Message{}, fmt.Errorf("set read deadline: %w", err)
	}

	_, payload, err := c.ws.ReadMessage()
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return Message{}, fmt.Errorf("%w: read after deadline", domain.ErrProtocolTimeout)
		}
		return Message{}, fmt.Errorf("%w: read: %v", domain.ErrConnect, err)
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		// Malformed frames are dropped the same way unmatched ids are.
		c.logger.Debug("discarding malformed debugger frame", zap.Error(err))
		return Message{}, nil
	}

	return msg, nil
}

func (c *Conn) route(msg Message) {
	if msg.ID == 0 {
		return
	}

	c.pendingMu.Lock()
	waiter, ok := c.pending[msg.ID]
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	select {
	case waiter <- msg:
	default:
	}
}

func (c *Conn) takeDelivered(requestID int64) (Message, bool) {
	c.pendingMu.Lock()
	waiter, ok := c.pending[requestID]
	c.pendingMu.Unlock()
	if !ok {
		return Message{}, false
	}

	select {
	case msg := <-waiter:
		return msg, true
	default:
		return Message{}, false
	}
}

func (c *Conn) dropWaiter(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}
