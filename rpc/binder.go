package rpc

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// boundCall is a callback whose arguments have been deserialized and are
// ready to invoke.
type boundCall struct {
	cb   *callback
	args []reflect.Value
}

// bind matches a params payload against the candidates registered for an
// external name and returns the first candidate that deserializes
// cleanly. Candidates are tried in registry order, so the choice is
// deterministic within one peer.
//
// Array params bind positionally; trailing pointer-typed parameters may
// be omitted. Object params bind through a candidate's single struct (or
// map) parameter. An absent or null params payload is retried as the
// single-element list [null] against candidates of arity one or more.
func (r *serviceRegistry) bind(s *Serializer, method string, params json.RawMessage) (*boundCall, Error) {
	candidates := r.lookup(method)
	if len(candidates) == 0 {
		return nil, &methodNotFoundError{method}
	}

	params = trimJSONSpace(params)
	for _, cb := range candidates {
		var (
			args []reflect.Value
			err  error
		)
		switch {
		case len(params) == 0 || isJSONNull(params):
			args, err = bindPositional(s, cb, []json.RawMessage{nullRaw}, true)
		case params[0] == '[':
			var elems []json.RawMessage
			if uerr := json.Unmarshal(params, &elems); uerr != nil {
				return nil, &invalidParamsError{uerr.Error()}
			}
			args, err = bindPositional(s, cb, elems, false)
		case params[0] == '{':
			args, err = bindObject(s, cb, params)
		default:
			return nil, &invalidParamsError{"params is neither an array nor an object"}
		}
		if err == nil {
			return &boundCall{cb: cb, args: args}, nil
		}
	}
	return nil, &methodNotFoundError{method}
}

// bindPositional deserializes elems against cb's parameter list. When
// fromNull is set the element list was synthesized from an absent or
// null params payload; a zero-arity candidate must not accept it.
func bindPositional(s *Serializer, cb *callback, elems []json.RawMessage, fromNull bool) ([]reflect.Value, error) {
	if fromNull && len(cb.argTypes) == 0 {
		return nil, fmt.Errorf("null params need at least one parameter")
	}
	if len(elems) > len(cb.argTypes) {
		return nil, fmt.Errorf("too many arguments, want at most %d", len(cb.argTypes))
	}

	args := make([]reflect.Value, 0, len(cb.argTypes))
	for i, raw := range elems {
		val, err := decodeArg(s, cb.argTypes[i], raw)
		if err != nil {
			return nil, err
		}
		args = append(args, val)
	}
	// Trailing parameters may only be omitted when they are optional,
	// which a pointer type signals.
	for i := len(elems); i < len(cb.argTypes); i++ {
		if cb.argTypes[i].Kind() != reflect.Ptr {
			return nil, fmt.Errorf("missing value for required argument %d", i)
		}
		args = append(args, reflect.Zero(cb.argTypes[i]))
	}
	return args, nil
}

// bindObject deserializes a named-params object. Go methods carry no
// runtime parameter names, so the object binds through a candidate's
// single struct, pointer-to-struct or map parameter, whose JSON field
// tags are the named surface.
func bindObject(s *Serializer, cb *callback, params json.RawMessage) ([]reflect.Value, error) {
	if len(cb.argTypes) != 1 {
		return nil, fmt.Errorf("object params need exactly one parameter, have %d", len(cb.argTypes))
	}
	t := cb.argTypes[0]
	base := t
	for base.Kind() == reflect.Ptr {
		base = base.Elem()
	}
	if base.Kind() != reflect.Struct && base.Kind() != reflect.Map && base.Kind() != reflect.Interface {
		return nil, fmt.Errorf("parameter type %s cannot take object params", t)
	}
	return decodeArgs(s, []reflect.Type{t}, []json.RawMessage{params})
}

func decodeArgs(s *Serializer, types []reflect.Type, elems []json.RawMessage) ([]reflect.Value, error) {
	args := make([]reflect.Value, len(elems))
	for i, raw := range elems {
		val, err := decodeArg(s, types[i], raw)
		if err != nil {
			return nil, err
		}
		args[i] = val
	}
	return args, nil
}

// decodeArg deserializes one positional value to its declared parameter
// type through the serializer facade. A JSON null is accepted only by
// nilable parameter kinds.
func decodeArg(s *Serializer, t reflect.Type, raw json.RawMessage) (reflect.Value, error) {
	if isJSONNull(raw) {
		if !isNilableKind(t.Kind()) {
			return reflect.Value{}, fmt.Errorf("null is not assignable to %s", t)
		}
		return reflect.Zero(t), nil
	}
	val := reflect.New(t)
	if err := s.Unmarshal(raw, val.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return val.Elem(), nil
}

func isNilableKind(k reflect.Kind) bool {
	switch k {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return true
	}
	return false
}
