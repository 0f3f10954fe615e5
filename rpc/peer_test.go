package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type EchoService struct {
	gotNil   int32
	notified chan string
}

func newEchoService() *EchoService {
	return &EchoService{notified: make(chan string, 8)}
}

func (s *EchoService) ServerMethod(arg string) string {
	return arg + "!"
}

func (s *EchoService) MethodThatAcceptsAndReturnsNull(v interface{}) interface{} {
	if v == nil {
		atomic.StoreInt32(&s.gotNil, 1)
	}
	return v
}

func (s *EchoService) MethodThatAcceptsNothingAndReturnsNull() interface{} {
	return nil
}

func (s *EchoService) AsyncMethodWithCancellation(ctx context.Context, arg string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (s *EchoService) Ping(note string) {
	s.notified <- note
}

func (s *EchoService) Broken() (int, error) {
	return 0, &invalidParamsError{"it broke"}
}

// peerPair connects two peers over an in-memory pipe.
func peerPair(t *testing.T, clientTarget, serverTarget interface{}) (client, server *Peer) {
	t.Helper()
	c1, c2 := net.Pipe()
	server, err := AttachConn(c1, serverTarget)
	if err != nil {
		t.Fatalf("attach server: %v", err)
	}
	client, err = AttachConn(c2, clientTarget)
	if err != nil {
		t.Fatalf("attach client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// rawPeer attaches a serving peer to one end of a pipe and hands the
// other end back for frame-level scripting.
func rawPeer(t *testing.T, target interface{}) (raw net.Conn, br *bufio.Reader) {
	t.Helper()
	srvConn, rawConn := net.Pipe()
	if _, err := AttachConn(srvConn, target); err != nil {
		t.Fatalf("attach: %v", err)
	}
	t.Cleanup(func() { rawConn.Close() })
	return rawConn, bufio.NewReader(rawConn)
}

func writeRawFrame(t *testing.T, w io.Writer, body string) {
	t.Helper()
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n%s", len(body), body); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readRawFrame(t *testing.T, br *bufio.Reader) []byte {
	t.Helper()
	length := -1
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read frame header: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if n, ok := strings.CutPrefix(strings.ToLower(line), "content-length:"); ok {
			fmt.Sscanf(strings.TrimSpace(n), "%d", &length)
		}
	}
	if length < 0 {
		t.Fatal("frame without Content-Length")
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(br, body); err != nil {
		t.Fatalf("read frame body: %v", err)
	}
	return body
}

func TestEchoLargeString(t *testing.T) {
	client, _ := peerPair(t, nil, newEchoService())

	arg := "TestLine1" + strings.Repeat("a", 1<<20)
	var got string
	if err := client.Invoke(&got, "ServerMethod", arg); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got != arg+"!" {
		t.Fatalf("result mismatch: len=%d, want len=%d", len(got), len(arg)+1)
	}
}

func TestBidirectionalInvoke(t *testing.T) {
	clientSvc := newEchoService()
	serverSvc := newEchoService()
	client, server := peerPair(t, clientSvc, serverSvc)

	var res string
	if err := client.Invoke(&res, "ServerMethod", "ping"); err != nil {
		t.Fatalf("client->server invoke: %v", err)
	}
	if res != "ping!" {
		t.Fatalf("unexpected result %q", res)
	}

	if err := server.Invoke(&res, "ServerMethod", "pong"); err != nil {
		t.Fatalf("server->client invoke: %v", err)
	}
	if res != "pong!" {
		t.Fatalf("unexpected result %q", res)
	}
}

func TestNullArgumentRoundTrip(t *testing.T) {
	svc := newEchoService()
	raw, br := rawPeer(t, svc)

	// Positional [null].
	writeRawFrame(t, raw, `{"jsonrpc":"2.0","id":1,"method":"MethodThatAcceptsAndReturnsNull","params":[null]}`)
	var resp jsonrpcMessage
	if err := json.Unmarshal(readRawFrame(t, br), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if string(resp.Result) != "null" {
		t.Fatalf("expected null result, got %s", resp.Result)
	}
	if atomic.LoadInt32(&svc.gotNil) != 1 {
		t.Fatal("server did not observe the null argument")
	}

	// params literal null behaves as [null].
	writeRawFrame(t, raw, `{"jsonrpc":"2.0","id":2,"method":"MethodThatAcceptsAndReturnsNull","params":null}`)
	resp = jsonrpcMessage{}
	if err := json.Unmarshal(readRawFrame(t, br), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Error != nil || string(resp.Result) != "null" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// A zero-arity method offers no slot for the synthesized null.
	writeRawFrame(t, raw, `{"jsonrpc":"2.0","id":3,"method":"MethodThatAcceptsNothingAndReturnsNull","params":null}`)
	resp = jsonrpcMessage{}
	if err := json.Unmarshal(readRawFrame(t, br), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp)
	}
}

func TestAsyncSuffixInvocation(t *testing.T) {
	client, _ := peerPair(t, nil, new(SuffixService))

	var got int
	if err := client.Invoke(&got, "MethodThatEndsIn"); err != nil {
		t.Fatalf("invoke alias: %v", err)
	}
	if got != 3 {
		t.Fatalf("MethodThatEndsIn: expected 3, got %d", got)
	}
	if err := client.Invoke(&got, "MethodThatMayEndInAsync"); err != nil {
		t.Fatalf("invoke exact async: %v", err)
	}
	if got != 4 {
		t.Fatalf("MethodThatMayEndInAsync: expected 4, got %d", got)
	}
	if err := client.Invoke(&got, "MethodThatMayEndIn"); err != nil {
		t.Fatalf("invoke exact: %v", err)
	}
	if got != 5 {
		t.Fatalf("MethodThatMayEndIn: expected 5, got %d", got)
	}
}

func TestCancellationWireOrder(t *testing.T) {
	cliConn, rawConn := net.Pipe()
	client, err := AttachConn(cliConn, nil)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer client.Close()
	br := bufio.NewReader(rawConn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- client.InvokeContext(ctx, nil, "AsyncMethodWithCancellation", "x")
	}()

	var req jsonrpcMessage
	if err := json.Unmarshal(readRawFrame(t, br), &req); err != nil {
		t.Fatalf("parse request: %v", err)
	}
	if req.Method != "AsyncMethodWithCancellation" || !req.hasValidID() {
		t.Fatalf("unexpected first frame: %+v", req)
	}

	// Cancel after the request frame is on the wire: the next frame must
	// be the cancel notification, and the call must stay pending.
	cancel()
	var note jsonrpcMessage
	if err := json.Unmarshal(readRawFrame(t, br), &note); err != nil {
		t.Fatalf("parse notification: %v", err)
	}
	if note.Method != cancelMethod || note.hasValidID() {
		t.Fatalf("expected %s notification, got %+v", cancelMethod, note)
	}
	var cp cancelParams
	if err := json.Unmarshal(note.Params, &cp); err != nil || string(cp.ID) != string(req.ID) {
		t.Fatalf("cancel names id %s, want %s", cp.ID, req.ID)
	}

	select {
	case err := <-done:
		t.Fatalf("call completed locally on cancellation: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// The server's response still completes the slot.
	writeRawFrame(t, rawConn, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":%s,"error":{"code":-32800,"message":"canceled","data":{"stack":null,"code":null}}}`, req.ID))

	callErr := <-done
	remote, ok := callErr.(*RemoteCallError)
	if !ok {
		t.Fatalf("expected RemoteCallError, got %T: %v", callErr, callErr)
	}
	if !remote.Canceled() || remote.RemoteCode != "" || remote.RemoteStack != "" {
		t.Fatalf("unexpected remote failure: %+v", remote)
	}
}

func TestInboundCancellation(t *testing.T) {
	client, _ := peerPair(t, nil, newEchoService())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- client.InvokeContext(ctx, nil, "AsyncMethodWithCancellation", "x")
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		remote, ok := err.(*RemoteCallError)
		if !ok || !remote.Canceled() {
			t.Fatalf("expected a canceled remote failure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not propagate")
	}
}

func TestReceiveOnlyPeerRejectsRequests(t *testing.T) {
	svc := newEchoService()
	srvConn, rawConn := net.Pipe()
	defer rawConn.Close()

	peer, err := Attach(nil, srvConn, svc)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	events := make(chan DisconnectedEvent, 1)
	peer.SubscribeDisconnected(func(ev DisconnectedEvent) { events <- ev })

	// A notification on the same stream is still delivered...
	writeRawFrame(t, rawConn, `{"jsonrpc":"2.0","method":"Ping","params":["before"]}`)
	select {
	case note := <-svc.notified:
		if note != "before" {
			t.Fatalf("unexpected notification payload %q", note)
		}
	case <-time.After(time.Second):
		t.Fatal("notification was not delivered")
	}

	// ...but a request is fatal: the handler must not run.
	writeRawFrame(t, rawConn, `{"jsonrpc":"2.0","id":1,"method":"ServerMethod","params":["x"]}`)
	select {
	case ev := <-events:
		if ev.Description == "" {
			t.Fatal("disconnect description must not be empty")
		}
	case <-time.After(time.Second):
		t.Fatal("peer did not disconnect")
	}
}

func TestIdempotentClose(t *testing.T) {
	client, _ := peerPair(t, nil, newEchoService())

	var fired int32
	client.SubscribeDisconnected(func(DisconnectedEvent) { atomic.AddInt32(&fired, 1) })

	client.Close()
	client.Close()
	if n := atomic.LoadInt32(&fired); n != 1 {
		t.Fatalf("Disconnected fired %d times, want 1", n)
	}

	// A handler attached after the fact runs synchronously.
	var late int32
	client.SubscribeDisconnected(func(DisconnectedEvent) { atomic.AddInt32(&late, 1) })
	if atomic.LoadInt32(&late) != 1 {
		t.Fatal("late subscriber was not invoked at subscription")
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	atomic.AddInt64(&cw.n, int64(len(p)))
	return cw.w.Write(p)
}

func TestPrecanceledInvokeWritesNothing(t *testing.T) {
	cliConn, rawConn := net.Pipe()
	defer rawConn.Close()
	cw := &countingWriter{w: cliConn}
	client, err := Attach(cw, cliConn, nil)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.InvokeContext(ctx, nil, "Anything"); err != ErrCanceled {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if n := atomic.LoadInt64(&cw.n); n != 0 {
		t.Fatalf("%d bytes were written for a precanceled call", n)
	}
}

func TestDuplicateResponseDropped(t *testing.T) {
	cliConn, rawConn := net.Pipe()
	client, err := AttachConn(cliConn, nil)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer client.Close()
	br := bufio.NewReader(rawConn)

	done := make(chan error, 1)
	var got int
	go func() { done <- client.Invoke(&got, "N") }()

	var req jsonrpcMessage
	if err := json.Unmarshal(readRawFrame(t, br), &req); err != nil {
		t.Fatalf("parse request: %v", err)
	}
	writeRawFrame(t, rawConn, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":1}`, req.ID))
	writeRawFrame(t, rawConn, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":2}`, req.ID))

	if err := <-done; err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected the first response to win, got %d", got)
	}

	// The peer is still healthy after dropping the duplicate.
	go func() { done <- client.Invoke(&got, "N") }()
	if err := json.Unmarshal(readRawFrame(t, br), &req); err != nil {
		t.Fatalf("parse request: %v", err)
	}
	writeRawFrame(t, rawConn, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":3}`, req.ID))
	if err := <-done; err != nil {
		t.Fatalf("second invoke: %v", err)
	}
	if got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestEnvelopeImmunity(t *testing.T) {
	cliConn, rawConn := net.Pipe()
	client, err := AttachConn(cliConn, nil)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer client.Close()
	client.Serializer().Register(reflect.TypeOf(""), upperStringConverter{})
	br := bufio.NewReader(rawConn)

	done := make(chan error, 1)
	var got string
	go func() { done <- client.Invoke(&got, "Echo", "abc") }()

	body := readRawFrame(t, br)
	var req jsonrpcMessage
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("parse request: %v", err)
	}
	// The converter reached the params but not the envelope.
	if req.Method != "Echo" {
		t.Fatalf("method was rewritten: %q", req.Method)
	}
	if req.Version != jsonrpcVersion {
		t.Fatalf("jsonrpc field was rewritten: %q", req.Version)
	}
	if string(req.ID) != "1" {
		t.Fatalf("id was rewritten: %s", req.ID)
	}
	if string(req.Params) != `["ABC"]` {
		t.Fatalf("params not converted: %s", req.Params)
	}

	writeRawFrame(t, rawConn, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":"XYZ"}`, req.ID))
	if err := <-done; err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got != "xyz" {
		t.Fatalf("result converter not applied: %q", got)
	}
}

func TestFailFastAfterDisconnect(t *testing.T) {
	client, _ := peerPair(t, nil, newEchoService())
	client.Close()

	err := client.Invoke(nil, "ServerMethod", "x")
	if _, ok := err.(*DisconnectedError); !ok {
		t.Fatalf("expected DisconnectedError, got %v", err)
	}
	if err := client.Notify("Ping", "x"); err == nil {
		t.Fatal("expected notify to fail after disconnect")
	}
}

func TestInFlightCallsFailOnDisconnect(t *testing.T) {
	cliConn, rawConn := net.Pipe()
	client, err := AttachConn(cliConn, nil)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	br := bufio.NewReader(rawConn)

	done := make(chan error, 1)
	go func() { done <- client.Invoke(nil, "Stuck") }()
	readRawFrame(t, br)

	rawConn.Close() // the stream dies under the in-flight call

	select {
	case err := <-done:
		if _, ok := err.(*DisconnectedError); !ok {
			t.Fatalf("expected DisconnectedError, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("in-flight call did not observe the disconnect")
	}
}

func TestStreamPresenceMatrix(t *testing.T) {
	if _, err := Attach(nil, nil, nil); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument for two absent streams, got %v", err)
	}

	// Send-only peer: outbound notifications only.
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	go io.Copy(io.Discard, c2)
	sendOnly, err := Attach(c1, nil, nil)
	if err != nil {
		t.Fatalf("attach send-only: %v", err)
	}
	defer sendOnly.Close()
	if err := sendOnly.Invoke(nil, "M"); err != ErrInvalidOperation {
		t.Fatalf("send-only invoke: expected ErrInvalidOperation, got %v", err)
	}
	if err := sendOnly.Notify("M"); err != nil {
		t.Fatalf("send-only notify: %v", err)
	}

	// Receive-only peer: no outbound operations at all.
	c3, c4 := net.Pipe()
	defer c3.Close()
	defer c4.Close()
	recvOnly, err := Attach(nil, c3, newEchoService())
	if err != nil {
		t.Fatalf("attach receive-only: %v", err)
	}
	defer recvOnly.Close()
	if err := recvOnly.Invoke(nil, "M"); err != ErrInvalidOperation {
		t.Fatalf("receive-only invoke: expected ErrInvalidOperation, got %v", err)
	}
	if err := recvOnly.Notify("M"); err != ErrInvalidOperation {
		t.Fatalf("receive-only notify: expected ErrInvalidOperation, got %v", err)
	}
}

func TestRemoteErrorDetail(t *testing.T) {
	client, _ := peerPair(t, nil, newEchoService())

	err := client.Invoke(nil, "Broken")
	remote, ok := err.(*RemoteCallError)
	if !ok {
		t.Fatalf("expected RemoteCallError, got %v", err)
	}
	if remote.Message != "it broke" {
		t.Fatalf("unexpected message %q", remote.Message)
	}
	if remote.RemoteCode != "-32602" {
		t.Fatalf("expected the failure's code stringified, got %q", remote.RemoteCode)
	}
	if remote.RemoteStack == "" {
		t.Fatal("expected a remote stack trace")
	}
}

func TestMethodNotFound(t *testing.T) {
	client, _ := peerPair(t, nil, newEchoService())

	err := client.Invoke(nil, "NoSuchMethod")
	if _, ok := err.(*MethodNotFoundError); !ok {
		t.Fatalf("expected MethodNotFoundError, got %v", err)
	}
}

func TestSetEncoding(t *testing.T) {
	client, _ := peerPair(t, nil, newEchoService())

	if err := client.SetEncoding(""); err != ErrInvalidArgument {
		t.Fatalf("empty encoding: expected ErrInvalidArgument, got %v", err)
	}
	if err := client.SetEncoding("no-such-charset"); err != ErrInvalidArgument {
		t.Fatalf("unknown encoding: expected ErrInvalidArgument, got %v", err)
	}
	if client.Encoding() != DefaultEncoding {
		t.Fatalf("encoding changed by failed sets: %s", client.Encoding())
	}

	if err := client.SetEncoding("utf-16"); err != nil {
		t.Fatalf("utf-16: %v", err)
	}
	var got string
	if err := client.Invoke(&got, "ServerMethod", "héllo"); err != nil {
		t.Fatalf("invoke under utf-16: %v", err)
	}
	if got != "héllo!" {
		t.Fatalf("unexpected result %q", got)
	}
}

func TestMethodsIntrospection(t *testing.T) {
	client, _ := peerPair(t, nil, newEchoService())

	var names []string
	if err := client.Invoke(&names, methodsMethod); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	found := false
	for _, n := range names {
		if n == "ServerMethod" {
			found = true
		}
	}
	if !found {
		t.Fatalf("ServerMethod missing from %v", names)
	}
}

func TestNotificationDelivery(t *testing.T) {
	svc := newEchoService()
	client, _ := peerPair(t, nil, svc)

	if err := client.Notify("Ping", "hello"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	select {
	case note := <-svc.notified:
		if note != "hello" {
			t.Fatalf("unexpected payload %q", note)
		}
	case <-time.After(time.Second):
		t.Fatal("notification was not delivered")
	}
}
