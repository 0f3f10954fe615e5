// Package demo carries the sample service the streamrpc command serves,
// useful for poking at a node from the console.
package demo

import (
	"context"
	"strings"
	"time"

	"github.com/czh0526/streamrpc/node"
)

const version = "streamrpc-demo/1.0"

// Demo is the node.Service wrapper.
type Demo struct {
	api *PublicDemoAPI
}

func New() (*Demo, error) {
	d := &Demo{}
	d.api = &PublicDemoAPI{d}
	return d, nil
}

func (d *Demo) Name() string { return "demo" }
func (d *Demo) Target() interface{} { return d.api }
func (d *Demo) Start() error { return nil }
func (d *Demo) Stop() error { return nil }
func (d *Demo) version() string { return version }
func (d *Demo) now() time.Time { return time.Now() }
func (d *Demo) greet(s string) string { return "hello, " + s }

var _ node.Service = (*Demo)(nil)

// PublicDemoAPI is the object remote peers call into.
type PublicDemoAPI struct {
	d *Demo
}

func (api *PublicDemoAPI) Version() string {
	return api.d.version()
}

func (api *PublicDemoAPI) Time() string {
	return api.d.now().Format(time.RFC3339)
}

func (api *PublicDemoAPI) Greet(name string) string {
	return api.d.greet(name)
}

func (api *PublicDemoAPI) Upper(parts []string) string {
	return strings.ToUpper(strings.Join(parts, " "))
}

// Sleep holds the request open until the duration elapses or the caller
// cancels it.
func (api *PublicDemoAPI) Sleep(ctx context.Context, ms int) (int, error) {
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return ms, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
