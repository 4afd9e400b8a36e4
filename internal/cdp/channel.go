package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned by Send when the page has no open connection
	ErrNotConnected = errors.New("no connection established for page")
	// ErrCommandTimeout settles a command whose reply did not arrive in time
	ErrCommandTimeout = errors.New("command timed out")
)

// ProtocolError is the error object of a failed response frame
type ProtocolError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// EvalError is an exception thrown by an evaluated expression
type EvalError struct {
	Details *runtime.ExceptionDetails
}

func (e *EvalError) Error() string {
	if e.Details == nil {
		return "evaluation threw"
	}
	return "evaluation threw: " + e.Details.Error()
}

type commandResult struct {
	result json.RawMessage
	err    error
}

// pendingCommand is settled exactly once by whoever removes it from the map
type pendingCommand struct {
	method string
	ch     chan commandResult
	timer  *time.Timer
}

func (c *pendingCommand) settle(result json.RawMessage, err error) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.ch <- commandResult{result: result, err: err}
}

type outboundFrame struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// takePending removes and returns the command, or nil if it was already settled
func (m *Manager) takePending(id int64) *pendingCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, ok := m.pending[id]
	if !ok {
		return nil
	}
	delete(m.pending, id)
	return cmd
}

// PendingCount returns the number of commands awaiting settlement
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Send issues a command on the page's connection and waits for its reply.
// Timeouts and errors settle only this command.
func (m *Manager) Send(ctx context.Context, pageID, method string, params any) (json.RawMessage, error) {
	m.mu.Lock()
	conn, ok := m.conns[pageID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s on %s: %w", method, pageID, ErrNotConnected)
	}

	id := m.nextID.Add(1)
	cmd := &pendingCommand{
		method: method,
		ch:     make(chan commandResult, 1),
	}
	m.pending[id] = cmd
	cmd.timer = time.AfterFunc(m.timeout, func() {
		if c := m.takePending(id); c != nil {
			c.settle(nil, fmt.Errorf("%s on %s after %s: %w", method, pageID, m.timeout, ErrCommandTimeout))
		}
	})
	m.mu.Unlock()

	data, err := json.Marshal(outboundFrame{ID: id, Method: method, Params: params})
	if err != nil {
		if c := m.takePending(id); c != nil {
			c.settle(nil, fmt.Errorf("failed to marshal %s: %w", method, err))
		}
	} else {
		conn.writeMu.Lock()
		err = conn.ws.WriteMessage(websocket.TextMessage, data)
		conn.writeMu.Unlock()
		if err != nil {
			if c := m.takePending(id); c != nil {
				c.settle(nil, fmt.Errorf("failed to send %s: %w", method, err))
			}
		}
	}

	select {
	case res := <-cmd.ch:
		return res.result, res.err
	case <-ctx.Done():
		if c := m.takePending(id); c != nil {
			c.settle(nil, ctx.Err())
		}
		res := <-cmd.ch
		if res.err == nil {
			// The reply won the race against cancellation
			return res.result, nil
		}
		return nil, res.err
	}
}

// Evaluate runs expression in the page and returns its JSON value. A thrown
// exception is reported as *EvalError.
func (m *Manager) Evaluate(ctx context.Context, pageID, expression string, awaitPromise bool) (json.RawMessage, error) {
	params := runtime.Evaluate(expression).
		WithReturnByValue(true).
		WithAwaitPromise(awaitPromise)

	raw, err := m.Send(ctx, pageID, runtime.CommandEvaluate, params)
	if err != nil {
		return nil, err
	}

	var ret runtime.EvaluateReturns
	if err := json.Unmarshal(raw, &ret); err != nil {
		return nil, fmt.Errorf("failed to decode evaluate result: %w", err)
	}
	if ret.ExceptionDetails != nil {
		m.logger.Debug("evaluation threw",
			zap.String("page", pageID),
			zap.String("error", ret.ExceptionDetails.Error()))
		return nil, &EvalError{Details: ret.ExceptionDetails}
	}
	if ret.Result == nil || len(ret.Result.Value) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(ret.Result.Value), nil
}
