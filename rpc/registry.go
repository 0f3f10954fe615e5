package rpc

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const asyncSuffix = "Async"

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// callback is one dispatchable method on the target.
type callback struct {
	name     string
	rcvr     reflect.Value
	method   reflect.Method
	argTypes []reflect.Type
	hasCtx   bool
	errPos   int // position of the error return, -1 when absent
	retPos   int // position of the value return, -1 when absent
}

// serviceRegistry holds the dispatchable surface of a target object.
// Lookup prefers methods registered under their exact name over names
// reached by stripping the Async suffix.
type serviceRegistry struct {
	callbacks map[string][]*callback
	aliases   map[string][]*callback
}

// newServiceRegistry enumerates the target's method set. It fails when
// the target exposes nothing dispatchable.
func newServiceRegistry(target interface{}) (*serviceRegistry, error) {
	rcvr := reflect.ValueOf(target)
	if !isExported(reflect.Indirect(rcvr).Type().Name()) {
		return nil, fmt.Errorf("%s is not exported", reflect.Indirect(rcvr).Type().Name())
	}

	r := &serviceRegistry{
		callbacks: make(map[string][]*callback),
		aliases:   make(map[string][]*callback),
	}
	for _, cb := range suitableCallbacks(rcvr, rcvr.Type()) {
		r.callbacks[cb.name] = append(r.callbacks[cb.name], cb)
		if alias, ok := strippedAsyncName(cb.name); ok {
			r.aliases[alias] = append(r.aliases[alias], cb)
		}
	}
	if len(r.callbacks) == 0 {
		return nil, fmt.Errorf("target %T has no suitable methods to expose", target)
	}
	return r, nil
}

// lookup returns the candidates for an external name, exact matches
// first. The order is deterministic: reflection enumerates methods in
// sorted order and exact entries always precede Async aliases.
func (r *serviceRegistry) lookup(name string) []*callback {
	cbs := r.callbacks[name]
	if aliased := r.aliases[name]; len(aliased) > 0 {
		cbs = append(append([]*callback{}, cbs...), aliased...)
	}
	return cbs
}

// methodNames lists every external name the registry answers to,
// aliases included, sorted.
func (r *serviceRegistry) methodNames() []string {
	seen := make(map[string]bool)
	for name := range r.callbacks {
		seen[name] = true
	}
	for name := range r.aliases {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// strippedAsyncName returns the alias a method ending in Async is also
// reachable under.
func strippedAsyncName(name string) (string, bool) {
	if strings.HasSuffix(name, asyncSuffix) && len(name) > len(asyncSuffix) {
		return strings.TrimSuffix(name, asyncSuffix), true
	}
	return "", false
}

// suitableCallbacks walks the method set of typ and collects every
// method satisfying the dispatchable predicate: exported, all parameter
// and return types exported or builtin, an optional leading
// context.Context (the cancellation token, not part of the external
// arity), and a return shape of (), (R), (error) or (R, error) with the
// error last. Methods promoted from embedded types are included;
// redeclaring a method on the outer type shadows the embedded one, so
// dispatch always reaches the most-derived implementation.
func suitableCallbacks(rcvr reflect.Value, typ reflect.Type) []*callback {
	var callbacks []*callback

METHODS:
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		mtype := method.Type
		if method.PkgPath != "" { // not exported
			continue
		}

		h := &callback{
			name:   method.Name,
			rcvr:   rcvr,
			method: method,
			errPos: -1,
			retPos: -1,
		}

		firstArg := 1 // skip receiver
		numIn := mtype.NumIn()
		if numIn > firstArg && mtype.In(firstArg) == contextType {
			h.hasCtx = true
			firstArg++
		}

		h.argTypes = make([]reflect.Type, 0, numIn-firstArg)
		for i := firstArg; i < numIn; i++ {
			argType := mtype.In(i)
			if !isExportedOrBuiltinType(argType) {
				continue METHODS
			}
			h.argTypes = append(h.argTypes, argType)
		}
		if mtype.IsVariadic() {
			continue METHODS
		}

		for i := 0; i < mtype.NumOut(); i++ {
			if !isExportedOrBuiltinType(mtype.Out(i)) {
				continue METHODS
			}
		}
		switch mtype.NumOut() {
		case 0:
		case 1:
			if isErrorType(mtype.Out(0)) {
				h.errPos = 0
			} else {
				h.retPos = 0
			}
		case 2:
			if isErrorType(mtype.Out(0)) || !isErrorType(mtype.Out(1)) {
				continue METHODS
			}
			h.retPos, h.errPos = 0, 1
		default:
			continue METHODS
		}

		callbacks = append(callbacks, h)
	}

	return callbacks
}

// call invokes the callback with already-bound arguments.
func (cb *callback) call(ctx context.Context, args []reflect.Value) (res interface{}, err error) {
	fullArgs := make([]reflect.Value, 0, 2+len(args))
	fullArgs = append(fullArgs, cb.rcvr)
	if cb.hasCtx {
		fullArgs = append(fullArgs, reflect.ValueOf(ctx))
	}
	fullArgs = append(fullArgs, args...)

	returns := cb.method.Func.Call(fullArgs)
	if cb.errPos >= 0 && !returns[cb.errPos].IsNil() {
		err = returns[cb.errPos].Interface().(error)
	}
	if cb.retPos >= 0 {
		res = returns[cb.retPos].Interface()
	}
	return res, err
}

func isErrorType(t reflect.Type) bool {
	return t.Implements(errorType)
}

func isExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

func isExportedOrBuiltinType(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return isExported(t.Name()) || t.PkgPath() == ""
}
