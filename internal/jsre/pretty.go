package jsre

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/robertkrimen/otto"
)

const (
	maxPrettyPrintLevel = 3
	indentString        = "  "
)

// prettyPrint writes a readable rendering of value to w.
func prettyPrint(vm *otto.Otto, value otto.Value, w io.Writer) {
	ppctx{vm: vm, w: w}.printValue(value, 0, false)
	fmt.Fprintln(w)
}

// prettyError writes a readable rendering of a JavaScript failure to w.
func prettyError(vm *otto.Otto, err error, w io.Writer) {
	failure := err.Error()
	if ottoErr, ok := err.(*otto.Error); ok {
		failure = ottoErr.String()
	}
	fmt.Fprintln(w, failure)
}

type ppctx struct {
	vm *otto.Otto
	w  io.Writer
}

func (ctx ppctx) indent(level int) string {
	return strings.Repeat(indentString, level)
}

func (ctx ppctx) printValue(v otto.Value, level int, inArray bool) {
	switch {
	case v.IsObject():
		ctx.printObject(v.Object(), level, inArray)
	case v.IsString():
		s, _ := v.ToString()
		fmt.Fprintf(ctx.w, "%q", s)
	default:
		fmt.Fprintf(ctx.w, "%v", v)
	}
}

func (ctx ppctx) printObject(obj *otto.Object, level int, inArray bool) {
	switch obj.Class() {
	case "Array", "GoArray":
		lv, _ := obj.Get("length")
		len64, _ := lv.ToInteger()
		if len64 == 0 {
			fmt.Fprintf(ctx.w, "[]")
			return
		}
		if level > maxPrettyPrintLevel {
			fmt.Fprint(ctx.w, "[...]")
			return
		}
		fmt.Fprint(ctx.w, "[")
		for i := int64(0); i < len64; i++ {
			el, err := obj.Get(fmt.Sprintf("%d", i))
			if err == nil {
				ctx.printValue(el, level+1, true)
			}
			if i < len64-1 {
				fmt.Fprintf(ctx.w, ", ")
			}
		}
		fmt.Fprint(ctx.w, "]")

	case "Object":
		if level > maxPrettyPrintLevel {
			fmt.Fprint(ctx.w, "{...}")
			return
		}
		keys := obj.Keys()
		if len(keys) == 0 {
			fmt.Fprint(ctx.w, "{}")
			return
		}
		sort.Strings(keys)
		fmt.Fprintln(ctx.w, "{")
		for i, k := range keys {
			v, _ := obj.Get(k)
			fmt.Fprintf(ctx.w, "%s%s: ", ctx.indent(level+1), k)
			ctx.printValue(v, level+1, false)
			if i < len(keys)-1 {
				fmt.Fprintf(ctx.w, ",")
			}
			fmt.Fprintln(ctx.w)
		}
		fmt.Fprintf(ctx.w, "%s}", ctx.indent(level))

	case "Function":
		fmt.Fprint(ctx.w, "function()")

	case "Error":
		ev, _ := obj.Get("message")
		fmt.Fprintf(ctx.w, "Error: %v", ev)

	default:
		fmt.Fprintf(ctx.w, "%v", obj.Value())
	}
}
