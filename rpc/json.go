package rpc

import (
	"encoding/json"
	"strconv"
)

const (
	jsonrpcVersion = "2.0"

	// cancelMethod is the notification that asks the receiving peer to
	// cancel a previously issued request.
	cancelMethod = "$/cancelRequest"

	// methodsMethod is the built-in introspection request listing the
	// external names a peer's target exposes.
	methodsMethod = "rpc.methods"
)

// JSON-RPC error codes. The negative five-digit range follows the base
// protocol; -32800 is the request-canceled code used by the cancellation
// extension this package implements.
const (
	codeParseError      = -32700
	codeInvalidRequest  = -32600
	codeMethodNotFound  = -32601
	codeInvalidParams   = -32602
	codeInternalError   = -32603
	codeRequestCanceled = -32800
)

var nullRaw = json.RawMessage("null")

// jsonrpcMessage is the envelope of every wire message. Params and Result
// hold already-serialized payloads so that the envelope itself is always
// marshaled by the baseline encoder, independent of any user converters.
type jsonrpcMessage struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *jsonError      `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

func (msg *jsonrpcMessage) hasValidID() bool {
	return len(msg.ID) > 0 && msg.ID[0] != '{' && msg.ID[0] != '[' && string(msg.ID) != "null"
}

// isCall reports a request that expects a response.
func (msg *jsonrpcMessage) isCall() bool {
	return msg.Method != "" && msg.hasValidID()
}

func (msg *jsonrpcMessage) isNotification() bool {
	return msg.Method != "" && !msg.hasValidID()
}

func (msg *jsonrpcMessage) isResponse() bool {
	return msg.Method == "" && msg.hasValidID() && (msg.Result != nil || msg.Error != nil)
}

// errorResponse builds a response carrying err, echoing the request id
// byte for byte.
func errorResponse(id json.RawMessage, err *jsonError) *jsonrpcMessage {
	return &jsonrpcMessage{Version: jsonrpcVersion, ID: id, Error: err}
}

func successResponse(id json.RawMessage, result json.RawMessage) *jsonrpcMessage {
	if result == nil {
		result = nullRaw
	}
	return &jsonrpcMessage{Version: jsonrpcVersion, ID: id, Result: result}
}

// jsonError is the wire form of a failed call. Data preserves fields this
// package does not know about.
type jsonError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (err *jsonError) Error() string {
	if err.Message == "" {
		return "json-rpc error " + strconv.Itoa(err.Code)
	}
	return err.Message
}

func (err *jsonError) ErrorCode() int { return err.Code }

// errorDetail is the structured part of jsonError.Data describing the
// remote failure.
type errorDetail struct {
	Stack *string `json:"stack"`
	Code  *string `json:"code"`
}

func newWireError(code int, message string, detail *errorDetail) *jsonError {
	je := &jsonError{Code: code, Message: message}
	if detail != nil {
		if data, err := json.Marshal(detail); err == nil {
			je.Data = data
		}
	}
	return je
}

// asCallError converts a wire error into the failure surfaced to the
// caller of the matching invoke.
func asCallError(method string, err *jsonError) error {
	if err.Code == codeMethodNotFound {
		return &MethodNotFoundError{Method: method, Message: err.Message}
	}
	remote := &RemoteCallError{Message: err.Error(), Code: err.Code}
	if len(err.Data) > 0 {
		var detail errorDetail
		if uerr := json.Unmarshal(err.Data, &detail); uerr == nil {
			if detail.Code != nil {
				remote.RemoteCode = *detail.Code
			}
			if detail.Stack != nil {
				remote.RemoteStack = *detail.Stack
			}
		}
	}
	return remote
}

// cancelParams is the params payload of a cancelMethod notification.
type cancelParams struct {
	ID json.RawMessage `json:"id"`
}

func isJSONNull(raw json.RawMessage) bool {
	return string(trimJSONSpace(raw)) == "null"
}

func trimJSONSpace(raw json.RawMessage) json.RawMessage {
	start, end := 0, len(raw)
	for start < end && isSpace(raw[start]) {
		start++
	}
	for end > start && isSpace(raw[end-1]) {
		end--
	}
	return raw[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
