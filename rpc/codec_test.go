package rpc

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	out := newMessageCodec(&buf, nil)
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"Foo","params":["x"]}`)
	if err := out.writeMessage(body, DefaultEncoding); err != nil {
		t.Fatalf("write: %v", err)
	}

	wire := buf.String()
	if !strings.HasPrefix(wire, fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))) {
		t.Fatalf("unexpected framing: %q", wire)
	}

	in := newMessageCodec(nil, bytes.NewReader(buf.Bytes()))
	got, err := in.readMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("body mismatch: %q != %q", got, body)
	}
}

func TestCodecHeaderCaseAndUnknownHeaders(t *testing.T) {
	body := `{"jsonrpc":"2.0","method":"N"}`
	wire := fmt.Sprintf("X-Custom: whatever\r\ncontent-LENGTH: %d\r\nAnother: 1\r\n\r\n%s", len(body), body)

	in := newMessageCodec(nil, strings.NewReader(wire))
	got, err := in.readMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != body {
		t.Fatalf("body mismatch: %q", got)
	}
}

func TestCodecMissingContentLength(t *testing.T) {
	in := newMessageCodec(nil, strings.NewReader("Content-Type: application/vscode-jsonrpc\r\n\r\n{}"))
	if _, err := in.readMessage(); err != errMissingContentLength {
		t.Fatalf("expected missing content-length error, got %v", err)
	}
}

func TestCodecBadContentLength(t *testing.T) {
	in := newMessageCodec(nil, strings.NewReader("Content-Length: many\r\n\r\n{}"))
	if _, err := in.readMessage(); err != errBadContentLength {
		t.Fatalf("expected bad content-length error, got %v", err)
	}
}

func TestCodecTruncatedBody(t *testing.T) {
	in := newMessageCodec(nil, strings.NewReader("Content-Length: 100\r\n\r\n{}"))
	if _, err := in.readMessage(); err == nil {
		t.Fatal("expected an error for a body shorter than advertised")
	}
}

func TestCodecCharsetRoundTrip(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","id":7,"method":"Grüße","params":[]}`)

	var buf bytes.Buffer
	out := newMessageCodec(&buf, nil)
	if err := out.writeMessage(body, "utf-16"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), "charset=utf-16") {
		t.Fatalf("expected a charset parameter in %q", buf.String())
	}

	in := newMessageCodec(nil, bytes.NewReader(buf.Bytes()))
	got, err := in.readMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("body mismatch after charset round trip: %q != %q", got, body)
	}
}

func TestCodecUnknownCharsetWrite(t *testing.T) {
	out := newMessageCodec(&bytes.Buffer{}, nil)
	if err := out.writeMessage([]byte("{}"), "no-such-charset"); err == nil {
		t.Fatal("expected an error for an unknown charset")
	}
}
