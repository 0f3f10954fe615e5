//go:build windows

package rpc

import (
	"context"
	"net"
	"time"

	npipe "gopkg.in/natefinch/npipe.v2"
)

// ipcListen creates a named pipe listener on windows.
func ipcListen(endpoint string) (net.Listener, error) {
	return npipe.Listen(endpoint)
}

func newIPCConnection(ctx context.Context, endpoint string) (net.Conn, error) {
	timeout := defaultPipeDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout < 0 {
			timeout = 0
		}
	}
	return npipe.DialTimeout(endpoint, timeout)
}
