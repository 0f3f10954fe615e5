package rpc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultEncoding is the charset frame bodies are written in unless the
// peer is reconfigured.
const DefaultEncoding = "utf-8"

const (
	headerContentLength = "content-length"
	headerContentType   = "content-type"

	contentTypeValue = "application/vscode-jsonrpc"
)

// Frame decode errors. Every one of them is fatal to the connection.
var (
	errMissingContentLength = &invalidMessageError{"missing Content-Length header"}
	errBadContentLength     = &invalidMessageError{"Content-Length is not an integer"}
)

// messageCodec frames JSON payloads as header-delimited blocks:
//
//	Content-Length: <n>\r\n
//	\r\n
//	<n bytes of JSON>
//
// Header names are matched case-insensitively and unknown headers are
// skipped. A Content-Type header with a charset parameter overrides the
// body encoding of the message it precedes.
type messageCodec struct {
	in  *bufio.Reader
	out io.Writer

	closers []io.Closer
}

func newMessageCodec(out io.Writer, in io.Reader) *messageCodec {
	c := &messageCodec{out: out}
	if in != nil {
		c.in = bufio.NewReader(in)
	}
	for _, s := range []interface{}{out, in} {
		if closer, ok := s.(io.Closer); ok && closer != nil {
			c.closers = append(c.closers, closer)
		}
	}
	return c
}

func (c *messageCodec) canRead() bool { return c.in != nil }
func (c *messageCodec) canWrite() bool { return c.out != nil }

// readMessage returns the next frame body as UTF-8 JSON.
func (c *messageCodec) readMessage() ([]byte, error) {
	length := -1
	charset := ""

	for {
		line, err := c.readHeaderLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, &invalidMessageError{fmt.Sprintf("malformed header line %q", line)}
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case headerContentLength:
			length, err = strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, errBadContentLength
			}
		case headerContentType:
			if cs, err := charsetOf(strings.TrimSpace(value)); err == nil && cs != "" {
				charset = cs
			}
		default:
			// Unknown headers are skipped.
		}
	}

	if length < 0 {
		return nil, errMissingContentLength
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(c.in, body); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, &invalidMessageError{"the stream ended before the advertised body length"}
		}
		return nil, err
	}
	if charset != "" && !isUTF8(charset) {
		enc, err := lookupEncoding(charset)
		if err != nil {
			return nil, &invalidMessageError{err.Error()}
		}
		decoded, err := enc.NewDecoder().Bytes(body)
		if err != nil {
			return nil, &invalidMessageError{fmt.Sprintf("cannot decode body as %s: %v", charset, err)}
		}
		body = decoded
	}
	return body, nil
}

// readHeaderLine reads one \r\n-terminated header line, without the
// terminator.
func (c *messageCodec) readHeaderLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// writeMessage frames body under the given charset and writes header and
// body in one call on the underlying stream.
func (c *messageCodec) writeMessage(body []byte, charset string) error {
	var buf bytes.Buffer
	if !isUTF8(charset) {
		enc, err := lookupEncoding(charset)
		if err != nil {
			return err
		}
		encoded, err := enc.NewEncoder().Bytes(body)
		if err != nil {
			return err
		}
		body = encoded
		fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(body))
		fmt.Fprintf(&buf, "Content-Type: %s; charset=%s\r\n", contentTypeValue, charset)
	} else {
		fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(body))
	}
	buf.WriteString("\r\n")
	buf.Write(body)

	_, err := c.out.Write(buf.Bytes())
	return err
}

func (c *messageCodec) close() {
	for _, closer := range c.closers {
		closer.Close()
	}
}

func charsetOf(contentType string) (string, error) {
	_, p, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", err
	}
	return p["charset"], nil
}

func isUTF8(charset string) bool {
	switch strings.ToLower(charset) {
	case "", "utf-8", "utf8":
		return true
	}
	return false
}

// lookupEncoding resolves an IANA charset name. UTF-16 is special-cased
// because the index maps it to a nil encoding.
func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "utf-16", "utf16":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", name)
	}
	return enc, nil
}
