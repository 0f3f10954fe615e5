package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strconv"
)

// readLoop is the peer's single reader goroutine. It must never block on
// target execution: requests and notifications are handed to their own
// goroutines and the loop moves on to the next frame.
func (p *Peer) readLoop() {
	for {
		body, err := p.codec.readMessage()
		if err != nil {
			if err == io.EOF {
				p.disconnect("the receiving stream ended")
			} else {
				p.disconnect("frame decode error: " + err.Error())
			}
			return
		}

		var msg jsonrpcMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			p.disconnect("message parse error: " + err.Error())
			return
		}

		switch {
		case msg.isCall():
			if !p.handleCall(&msg) {
				return
			}
		case msg.isNotification():
			p.handleNotification(&msg)
		case msg.isResponse():
			p.handleResponse(&msg)
		default:
			err := &invalidRequestError{"message is neither request, notification nor response"}
			p.disconnect(err.Error())
			return
		}
	}
}

// handleCall dispatches an inbound request. It reports whether the read
// loop may continue; a request on a peer that cannot respond is fatal.
func (p *Peer) handleCall(msg *jsonrpcMessage) bool {
	if !p.codec.canWrite() {
		p.disconnect(fmt.Sprintf("received request %q but the peer has no sending stream to respond on", msg.Method))
		return false
	}

	if msg.Method == methodsMethod {
		go p.runMethodsRequest(msg.ID)
		return true
	}

	if p.registry == nil {
		p.writeErrorResponse(msg.ID, newWireError(codeMethodNotFound, ErrTargetNotSet.Error(), nil))
		return true
	}

	bound, bindErr := p.registry.bind(p.serializer, msg.Method, msg.Params)
	if bindErr != nil {
		p.writeErrorResponse(msg.ID, newWireError(bindErr.ErrorCode(), bindErr.Error(), nil))
		return true
	}

	ctx := p.rootCtx
	var release func()
	if bound.cb.hasCtx {
		// Bind a fresh cancellation context to the request id so that an
		// incoming $/cancelRequest for this id can trigger it.
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(p.rootCtx)
		key := string(msg.ID)
		p.mu.Lock()
		p.inboundCancel[key] = cancel
		p.mu.Unlock()
		release = func() {
			p.mu.Lock()
			delete(p.inboundCancel, key)
			p.mu.Unlock()
			cancel()
		}
	}

	go p.runRequest(ctx, msg, bound, release)
	return true
}

// runRequest invokes the target and turns the outcome into exactly one
// response frame.
func (p *Peer) runRequest(ctx context.Context, msg *jsonrpcMessage, bound *boundCall, release func()) {
	if release != nil {
		defer release()
	}

	result, err := p.invokeCallback(ctx, bound)
	if err != nil {
		p.writeErrorResponse(msg.ID, p.errorForFailure(ctx, err))
		return
	}

	raw, merr := p.serializer.Marshal(result)
	if merr != nil {
		p.writeErrorResponse(msg.ID, newWireError(codeInternalError, "cannot serialize the result: "+merr.Error(), nil))
		return
	}
	p.writeResponse(successResponse(msg.ID, raw))
}

// invokeCallback calls into the target, converting a panic into an
// ordinary failure so a misbehaving handler cannot take the reader side
// down.
func (p *Peer) invokeCallback(ctx context.Context, bound *boundCall) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			buf = buf[:runtime.Stack(buf, false)]
			err = &panicError{value: r, stack: string(buf)}
		}
	}()
	return bound.cb.call(ctx, bound.args)
}

type panicError struct {
	value interface{}
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("method handler crashed: %v", e.value)
}

// errorForFailure maps a target failure to its wire form. A canceled
// invocation becomes a request-canceled error with null code and stack;
// anything else carries the failure's code (when it has one) stringified
// in data.code and a stack in data.stack.
func (p *Peer) errorForFailure(ctx context.Context, err error) *jsonError {
	if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
		return newWireError(codeRequestCanceled, err.Error(), &errorDetail{})
	}
	detail := &errorDetail{}
	if pe, ok := err.(*panicError); ok {
		detail.Stack = &pe.stack
	} else {
		buf := make([]byte, 32<<10)
		buf = buf[:runtime.Stack(buf, false)]
		stack := string(buf)
		detail.Stack = &stack
	}
	if coded, ok := err.(Error); ok {
		code := strconv.Itoa(coded.ErrorCode())
		detail.Code = &code
	}
	return newWireError(codeInternalError, err.Error(), detail)
}

// handleNotification dispatches an inbound notification. Failures are
// logged and never answered; only the cancellation notification is
// interpreted by the peer itself.
func (p *Peer) handleNotification(msg *jsonrpcMessage) {
	if msg.Method == cancelMethod {
		p.handleCancelNotification(msg.Params)
		return
	}
	if p.registry == nil {
		p.logger.Debug("notification dropped, no target", "method", msg.Method)
		return
	}
	bound, bindErr := p.registry.bind(p.serializer, msg.Method, msg.Params)
	if bindErr != nil {
		p.logger.Error("notification did not bind", "method", msg.Method, "err", bindErr)
		return
	}
	go func() {
		if _, err := p.invokeCallback(p.rootCtx, bound); err != nil {
			p.logger.Error("notification handler failed", "method", msg.Method, "err", err)
		}
	}()
}

// handleCancelNotification triggers the inbound-cancellation entry named
// by the payload. Entries that are missing, already released or never
// created are ignored.
func (p *Peer) handleCancelNotification(params json.RawMessage) {
	var cp cancelParams
	if err := json.Unmarshal(params, &cp); err != nil || len(cp.ID) == 0 {
		p.logger.Debug("malformed cancel notification", "params", string(params))
		return
	}
	p.mu.Lock()
	cancel := p.inboundCancel[string(trimJSONSpace(cp.ID))]
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// runMethodsRequest answers the built-in introspection request with the
// external names the target exposes.
func (p *Peer) runMethodsRequest(id json.RawMessage) {
	names := []string{methodsMethod}
	if p.registry != nil {
		names = append(p.registry.methodNames(), methodsMethod)
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return
	}
	p.writeResponse(successResponse(id, raw))
}

func (p *Peer) writeErrorResponse(id json.RawMessage, wireErr *jsonError) {
	p.writeResponse(errorResponse(id, wireErr))
}

func (p *Peer) writeResponse(msg *jsonrpcMessage) {
	if err := p.writeMessage(msg); err != nil {
		p.logger.Debug("response not written", "id", string(msg.ID), "err", err)
	}
}
