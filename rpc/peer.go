package rpc

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"sync"

	"github.com/czh0526/streamrpc/log"
)

// Peer states. Transitions are monotone and stateDisconnected is
// terminal.
const (
	stateActive = iota
	stateDisconnecting
	stateDisconnected
)

// requestOp is an in-flight outbound call. It is created when the local
// peer issues a request and destroyed when the matching response arrives
// or the peer disconnects.
type requestOp struct {
	id      json.RawMessage
	err     error
	resp    chan *jsonrpcMessage // receives the matching response, buffered
	settled chan struct{}        // closed once the op has been completed either way
}

func (op *requestOp) wait() (*jsonrpcMessage, error) {
	resp, ok := <-op.resp
	if !ok {
		return nil, op.err
	}
	return resp, nil
}

// DisconnectedEvent describes why a peer's connection ended.
type DisconnectedEvent struct {
	Description string
}

// Peer is a bidirectional JSON-RPC 2.0 endpoint over a pair of byte
// streams. It dispatches inbound requests and notifications to the
// target object it was attached with, and correlates responses to the
// requests issued through Invoke. A Peer is safe for concurrent use.
type Peer struct {
	codec      *messageCodec
	serializer *Serializer
	registry   *serviceRegistry // nil when no target is attached

	logger log.Logger

	// sendMu serializes every frame written to the sending stream so
	// frames never interleave. Request ids are allocated under it, which
	// keeps wire order equal to acceptance order.
	sendMu sync.Mutex

	// mu guards the tables and lifecycle state below. Critical sections
	// are short; no I/O happens under it.
	mu            sync.Mutex
	state         int
	idCounter     uint64
	respWait      map[string]*requestOp
	inboundCancel map[string]context.CancelFunc
	handlers      map[int]func(DisconnectedEvent)
	nextHandlerID int
	closeReason   *DisconnectedError
	encoding      string

	// rootCtx is the parent of every inbound handler context; canceled
	// at disconnect.
	rootCtx    context.Context
	cancelRoot context.CancelFunc

	dead chan struct{} // closed when the peer reaches stateDisconnected
}

// Attach binds a peer to a sending and a receiving stream, either of
// which may be nil (not both), and to an optional target object whose
// exported methods become remotely callable. Reading from the receiving
// stream starts immediately.
//
// With no receiving stream only outbound notifications are possible;
// with no sending stream only inbound notifications can be processed and
// receiving a request is fatal, because the peer cannot fulfill its duty
// to respond.
func Attach(sending io.Writer, receiving io.Reader, target interface{}) (*Peer, error) {
	if sending == nil && receiving == nil {
		return nil, ErrInvalidArgument
	}

	p := &Peer{
		codec:         newMessageCodec(sending, receiving),
		serializer:    newSerializer(),
		logger:        log.New("module", "rpc"),
		respWait:      make(map[string]*requestOp),
		inboundCancel: make(map[string]context.CancelFunc),
		handlers:      make(map[int]func(DisconnectedEvent)),
		encoding:      DefaultEncoding,
		dead:          make(chan struct{}),
	}
	p.rootCtx, p.cancelRoot = context.WithCancel(context.Background())

	if target != nil {
		registry, err := newServiceRegistry(target)
		if err != nil {
			return nil, err
		}
		p.registry = registry
	}

	if p.codec.canRead() {
		go p.readLoop()
	}
	return p, nil
}

// AttachConn binds a peer to both sides of a connection.
func AttachConn(conn io.ReadWriter, target interface{}) (*Peer, error) {
	return Attach(conn, conn, target)
}

// Serializer returns the converter registry shared for the peer's
// lifetime.
func (p *Peer) Serializer() *Serializer {
	return p.serializer
}

// Encoding returns the charset outbound frame bodies are written in.
func (p *Peer) Encoding() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoding
}

// SetEncoding changes the charset of subsequent outbound frames. Setting
// it to the empty string is an error.
func (p *Peer) SetEncoding(name string) error {
	if name == "" {
		return ErrInvalidArgument
	}
	if !isUTF8(name) {
		if _, err := lookupEncoding(name); err != nil {
			return ErrInvalidArgument
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.encoding = name
	return nil
}

// Invoke issues a request and decodes the matching response into result,
// which may be nil to discard it.
func (p *Peer) Invoke(result interface{}, method string, args ...interface{}) error {
	return p.InvokeContext(context.Background(), result, method, args...)
}

// InvokeContext issues a request and awaits its response. Canceling ctx
// after the request frame is written emits a $/cancelRequest
// notification but does not complete the call locally: the remote
// side's response, success or error, still does. A ctx that is already
// canceled fails with ErrCanceled before any byte is written.
func (p *Peer) InvokeContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if !p.codec.canWrite() || !p.codec.canRead() {
		return ErrInvalidOperation
	}
	if ctx.Err() != nil {
		return ErrCanceled
	}

	params, err := p.serializer.marshalParams(args)
	if err != nil {
		return err
	}
	msg := &jsonrpcMessage{Version: jsonrpcVersion, Method: method, Params: params}

	op := &requestOp{
		resp:    make(chan *jsonrpcMessage, 1),
		settled: make(chan struct{}),
	}
	if err := p.sendRequest(op, msg); err != nil {
		return err
	}

	// The cancellation hook: emit the cancel notification once, strictly
	// after the request frame. The op stays pending regardless.
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				p.sendCancelNotification(op.id)
			case <-op.settled:
			}
		}()
	}

	resp, err := op.wait()
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return asCallError(method, resp.Error)
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	return p.serializer.Unmarshal(resp.Result, result)
}

// Notify sends a notification; no response will ever arrive for it.
func (p *Peer) Notify(method string, args ...interface{}) error {
	if !p.codec.canWrite() {
		return ErrInvalidOperation
	}
	params, err := p.serializer.marshalParams(args)
	if err != nil {
		return err
	}
	msg := &jsonrpcMessage{Version: jsonrpcVersion, Method: method, Params: params}
	return p.writeMessage(msg)
}

// sendRequest allocates the request id, installs the completion slot and
// writes the frame, all under the single-writer lock so that frames hit
// the wire in allocation order.
func (p *Peer) sendRequest(op *requestOp, msg *jsonrpcMessage) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	p.mu.Lock()
	if p.state != stateActive {
		reason := p.closeReason
		p.mu.Unlock()
		return reason
	}
	p.idCounter++
	op.id = json.RawMessage(strconv.FormatUint(p.idCounter, 10))
	msg.ID = op.id
	p.respWait[string(op.id)] = op
	enc := p.encoding
	p.mu.Unlock()

	if err := p.write(msg, enc); err != nil {
		p.mu.Lock()
		delete(p.respWait, string(op.id))
		p.mu.Unlock()
		p.disconnect("write error: " + err.Error())
		return err
	}
	return nil
}

// writeMessage frames and writes a single message.
func (p *Peer) writeMessage(msg *jsonrpcMessage) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	p.mu.Lock()
	if p.state != stateActive {
		reason := p.closeReason
		p.mu.Unlock()
		return reason
	}
	enc := p.encoding
	p.mu.Unlock()

	if err := p.write(msg, enc); err != nil {
		p.disconnect("write error: " + err.Error())
		return err
	}
	return nil
}

func (p *Peer) write(msg *jsonrpcMessage, enc string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.codec.writeMessage(body, enc)
}

func (p *Peer) sendCancelNotification(id json.RawMessage) {
	params, err := json.Marshal(&cancelParams{ID: id})
	if err != nil {
		return
	}
	msg := &jsonrpcMessage{Version: jsonrpcVersion, Method: cancelMethod, Params: params}
	if err := p.writeMessage(msg); err != nil {
		p.logger.Debug("cancel notification not sent", "id", string(id), "err", err)
	}
}

// handleResponse completes the in-flight call the response belongs to.
// Unknown and duplicate ids are dropped, which gives every id an
// at-most-once completion.
func (p *Peer) handleResponse(msg *jsonrpcMessage) {
	p.mu.Lock()
	op := p.respWait[string(msg.ID)]
	if op != nil {
		delete(p.respWait, string(msg.ID))
	}
	p.mu.Unlock()

	if op == nil {
		p.logger.Debug("unsolicited response dropped", "id", string(msg.ID))
		return
	}
	op.resp <- msg
	close(op.settled)
}

// SubscribeDisconnected registers a handler for the Disconnected event
// and returns its unsubscribe function. The event fires exactly once; a
// handler attached after it has fired is invoked synchronously right
// here.
func (p *Peer) SubscribeDisconnected(handler func(DisconnectedEvent)) func() {
	p.mu.Lock()
	if p.state == stateDisconnected {
		reason := p.closeReason
		p.mu.Unlock()
		handler(DisconnectedEvent{Description: reason.Description})
		return func() {}
	}
	id := p.nextHandlerID
	p.nextHandlerID++
	p.handlers[id] = handler
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

// Dead returns a channel that is closed once the peer has disconnected.
func (p *Peer) Dead() <-chan struct{} {
	return p.dead
}

// Close tears the peer down. It is idempotent: the first call wins and
// later ones are no-ops.
func (p *Peer) Close() error {
	p.disconnect("the peer was disposed locally")
	return nil
}

// disconnect moves the peer to its terminal state: every in-flight
// outbound call completes with a disconnection failure, inbound handler
// contexts are canceled, the streams are closed and the Disconnected
// event fires exactly once.
func (p *Peer) disconnect(description string) {
	p.mu.Lock()
	if p.state != stateActive {
		p.mu.Unlock()
		return
	}
	p.state = stateDisconnecting
	reason := &DisconnectedError{Description: description}
	p.closeReason = reason

	ops := p.respWait
	p.respWait = make(map[string]*requestOp)
	cancels := p.inboundCancel
	p.inboundCancel = make(map[string]context.CancelFunc)
	handlers := make([]func(DisconnectedEvent), 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.handlers = make(map[int]func(DisconnectedEvent))

	p.state = stateDisconnected
	close(p.dead)
	p.mu.Unlock()

	for _, op := range ops {
		op.err = reason
		close(op.settled)
		close(op.resp)
	}
	for _, cancel := range cancels {
		cancel()
	}
	p.cancelRoot()
	p.codec.close()

	p.logger.Debug("peer disconnected", "reason", description)
	event := DisconnectedEvent{Description: description}
	for _, h := range handlers {
		h(event)
	}
}
