package console

import (
	"encoding/json"
	"io"

	"github.com/czh0526/streamrpc/rpc"
	"github.com/robertkrimen/otto"
)

// bridge forwards rpc.invoke / rpc.notify calls made from JavaScript to
// the attached peer.
type bridge struct {
	client  *rpc.Peer
	printer io.Writer
}

func newBridge(client *rpc.Peer, printer io.Writer) *bridge {
	return &bridge{client: client, printer: printer}
}

// Invoke implements rpc.invoke(method, args...) for the console.
func (b *bridge) Invoke(call otto.FunctionCall) otto.Value {
	method, args, err := b.callArgs(call)
	if err != nil {
		return throwJSException(err.Error())
	}

	var result json.RawMessage
	if err := b.client.Invoke(&result, method, args...); err != nil {
		return throwJSException(err.Error())
	}
	return rawToValue(call.Otto, result)
}

// Notify implements rpc.notify(method, args...) for the console.
func (b *bridge) Notify(call otto.FunctionCall) otto.Value {
	method, args, err := b.callArgs(call)
	if err != nil {
		return throwJSException(err.Error())
	}
	if err := b.client.Notify(method, args...); err != nil {
		return throwJSException(err.Error())
	}
	return otto.TrueValue()
}

// Methods implements rpc.methods(), the introspection helper.
func (b *bridge) Methods(call otto.FunctionCall) otto.Value {
	var names json.RawMessage
	if err := b.client.Invoke(&names, "rpc.methods"); err != nil {
		return throwJSException(err.Error())
	}
	return rawToValue(call.Otto, names)
}

func (b *bridge) callArgs(call otto.FunctionCall) (string, []interface{}, error) {
	method, err := call.Argument(0).ToString()
	if err != nil {
		return "", nil, err
	}
	args := make([]interface{}, 0, len(call.ArgumentList)-1)
	for _, arg := range call.ArgumentList[1:] {
		exported, err := arg.Export()
		if err != nil {
			return "", nil, err
		}
		args = append(args, exported)
	}
	return method, args, nil
}

// rawToValue revives a JSON payload inside the VM so the console prints
// structured results, not byte soup.
func rawToValue(vm *otto.Otto, raw json.RawMessage) otto.Value {
	if len(raw) == 0 {
		return otto.NullValue()
	}
	value, err := vm.Call("JSON.parse", nil, string(raw))
	if err != nil {
		return otto.NullValue()
	}
	return value
}

func throwJSException(msg string) otto.Value {
	val, err := otto.ToValue(msg)
	if err != nil {
		return otto.UndefinedValue()
	}
	panic(val)
}
