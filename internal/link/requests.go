package link

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/nixfleet-labs/homebase-gateway/internal/protocol"
)

// ErrQueueFull is returned synchronously when Eval is called while the
// waiting queue is already at its cap (spec §4.C, §7 "Queue overflow").
var ErrQueueFull = errors.New("link: request queue full")

// ErrLinkClosed is returned to callers whose request was discarded because
// the Link tore down before it could be sent or answered.
var ErrLinkClosed = errors.New("link: closed")

// errNoEvalResult marks a poll cycle whose eval response carried no usable
// value, so the corresponding synthetic status is simply skipped.
var errNoEvalResult = errors.New("link: eval result empty")

type evalResult struct {
	result json.RawMessage
	err    error
}

// pendingRequest is an in-flight eval awaiting a response (spec §3 Pending
// Request). Owned exclusively by the inbox loop.
type pendingRequest struct {
	requestID string
	resultCh  chan evalResult
	timer     *time.Timer
}

// queuedEval is a call waiting for an in-flight slot to free up.
type queuedEval struct {
	requestID string
	script    string
	timeout   time.Duration
	resultCh  chan evalResult
}

// Eval sends an eval request and blocks until a response, timeout, queue
// rejection, or ctx cancellation. timeout <= 0 uses the configured default.
func (l *Link) Eval(ctx context.Context, script string, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = l.cfg.RequestDefaultTimeout
	}

	requestID := uuid.NewString()
	resultCh := make(chan evalResult, 1)

	l.submit(func() { l.handleEvalRequest(requestID, script, timeout, resultCh) })

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleEvalRequest runs inside the inbox loop: admits the request
// immediately if an in-flight slot is free, otherwise queues it (or rejects
// synchronously once the queue is also full).
func (l *Link) handleEvalRequest(requestID, script string, timeout time.Duration, resultCh chan evalResult) {
	if len(l.inFlight) >= l.cfg.MaxInFlight {
		if l.waitQueue.Length() >= l.cfg.MaxQueue {
			resultCh <- evalResult{err: ErrQueueFull}
			return
		}
		l.waitQueue.Add(&queuedEval{requestID: requestID, script: script, timeout: timeout, resultCh: resultCh})
		return
	}
	l.dispatchEval(requestID, script, timeout, resultCh)
}

// dispatchEval actually writes the eval command to the wire and starts the
// request's deadline timer. Must run inside the inbox loop.
func (l *Link) dispatchEval(requestID, script string, timeout time.Duration, resultCh chan evalResult) {
	pr := &pendingRequest{requestID: requestID, resultCh: resultCh}
	pr.timer = time.AfterFunc(timeout, func() {
		l.submit(func() { l.handleRequestTimeout(requestID) })
	})
	l.inFlight[requestID] = pr

	if err := l.writeJSON(protocol.EvalCommand{Cmd: "eval", Script: script, RequestID: requestID}); err != nil {
		// The request is not resent on reconnect: it stays pending until its
		// deadline fires or the Link tears down.
		l.log.Debug().Err(err).Str("requestId", requestID).Msg("failed to send eval, waiting for its deadline")
	}
}

// handleRequestTimeout runs inside the inbox loop when a pending request's
// deadline fires before a matching response arrived.
func (l *Link) handleRequestTimeout(requestID string) {
	pr, ok := l.inFlight[requestID]
	if !ok {
		return // already resolved by a response racing the timer
	}
	delete(l.inFlight, requestID)
	pr.resultCh <- evalResult{err: errors.New("request timed out")}
	l.drainQueue()
}

// handleResponse matches an inbound response frame to its pending request
// purely by requestId (spec: out-of-order responses are legal).
func (l *Link) handleResponse(f *protocol.InboundFrame) {
	pr, ok := l.inFlight[f.RequestID]
	if !ok {
		l.log.Debug().Str("requestId", f.RequestID).Msg("response for unrecognized or expired request, dropping")
		return
	}
	delete(l.inFlight, f.RequestID)
	pr.timer.Stop()

	if f.Status == "ok" {
		pr.resultCh <- evalResult{result: f.Result}
	} else {
		pr.resultCh <- evalResult{err: errors.New(f.Error)}
		l.broadcaster.PublishEvent(protocol.EventTCLError, f.Error)
	}

	l.drainQueue()
}

// drainQueue promotes queued evals into in-flight slots as they free up.
// Must run inside the inbox loop.
func (l *Link) drainQueue() {
	for len(l.inFlight) < l.cfg.MaxInFlight && l.waitQueue.Length() > 0 {
		item := l.waitQueue.Remove().(*queuedEval)
		l.dispatchEval(item.requestID, item.script, item.timeout, item.resultCh)
	}
}

// rejectAllPending fails every in-flight and queued request with a
// link-lost error. Spec §9 leaves it open whether this must happen
// immediately on close; this Link does it eagerly rather than let callers
// wait out their deadlines, since the result is observably identical and
// frees resources sooner.
func (l *Link) rejectAllPending() {
	for id, pr := range l.inFlight {
		pr.timer.Stop()
		pr.resultCh <- evalResult{err: ErrLinkClosed}
		delete(l.inFlight, id)
	}
	for l.waitQueue.Length() > 0 {
		item := l.waitQueue.Remove().(*queuedEval)
		item.resultCh <- evalResult{err: ErrLinkClosed}
	}
}

func newWaitQueue() *queue.Queue {
	return queue.New()
}
