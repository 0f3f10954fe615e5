// Package node assembles a registered service into a running JSON-RPC
// host serving the service's target object over the configured
// endpoints.
package node

import (
	"net"
	"sync"

	"github.com/czh0526/streamrpc/log"
	"github.com/czh0526/streamrpc/rpc"
	"github.com/juju/errors"
)

// Node hosts one service's target over the IPC and websocket endpoints.
// A peer serves exactly one target object, so a node carries exactly one
// service; registering a second one is an error.
type Node struct {
	ipcEndpoint string
	wsEndpoint  string
	wsOrigins   []string

	mu          sync.Mutex
	running     bool
	constructor ServiceConstructor
	service     Service

	listeners []net.Listener
	servers   []*rpc.PeerServer
	stop      chan struct{}
}

type Config struct {
	IPCEndpoint string
	WSEndpoint  string
	WSOrigins   []string
}

func New(cfg Config) *Node {
	ipc := cfg.IPCEndpoint
	if ipc == "" {
		ipc = rpc.EndpointIPC()
	}
	ws := cfg.WSEndpoint
	if ws == "" {
		ws = rpc.EndpointWS()
	}
	return &Node{
		ipcEndpoint: ipc,
		wsEndpoint:  ws,
		wsOrigins:   cfg.WSOrigins,
		stop:        make(chan struct{}),
	}
}

// Register installs the service constructor; it runs when the node
// starts.
func (n *Node) Register(constructor ServiceConstructor) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return ErrNodeRunning
	}
	if n.constructor != nil {
		return &DuplicateServiceError{}
	}
	n.constructor = constructor
	return nil
}

// Start builds the registered service and opens the endpoints.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return ErrNodeRunning
	}
	if n.constructor == nil {
		return ErrNoService
	}

	svc, err := n.constructor()
	if err != nil {
		return errors.Annotate(err, "service construction failed")
	}
	n.service = svc
	target := svc.Target()

	ipcListener, ipcServer, err := rpc.StartIPCEndpoint(n.ipcEndpoint, target)
	if err != nil {
		return err
	}
	n.listeners = append(n.listeners, ipcListener)
	n.servers = append(n.servers, ipcServer)

	wsListener, wsServer, err := rpc.StartWSEndpoint(n.wsEndpoint, target, n.wsOrigins)
	if err != nil {
		n.closeEndpointsLocked()
		return err
	}
	n.listeners = append(n.listeners, wsListener)
	n.servers = append(n.servers, wsServer)

	if err := svc.Start(); err != nil {
		n.closeEndpointsLocked()
		return errors.Annotatef(err, "service %s failed to start", svc.Name())
	}

	n.running = true
	log.Info("node started", "service", svc.Name(), "ipc", n.ipcEndpoint, "ws", n.wsEndpoint)
	return nil
}

// Stop closes the endpoints and stops the service. It is idempotent.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return nil
	}
	n.running = false

	n.closeEndpointsLocked()
	var err error
	if n.service != nil {
		err = n.service.Stop()
		n.service = nil
	}
	close(n.stop)
	log.Info("node stopped")
	return err
}

func (n *Node) closeEndpointsLocked() {
	for _, srv := range n.servers {
		srv.Stop()
	}
	for _, l := range n.listeners {
		l.Close()
	}
	n.servers = nil
	n.listeners = nil
}

// Wait blocks until the node is stopped.
func (n *Node) Wait() {
	<-n.stop
}

// IPCEndpoint returns the path the node serves IPC on.
func (n *Node) IPCEndpoint() string {
	return n.ipcEndpoint
}
