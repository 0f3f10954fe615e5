package rpc

import (
	"net"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/czh0526/streamrpc/log"
	"github.com/czh0526/streamrpc/params"
	"github.com/juju/errors"
	set "gopkg.in/fatih/set.v0"
)

// EndpointWS returns the default websocket listen address.
func EndpointWS() string {
	return "127.0.0.1:8545"
}

// EndpointIPC returns the default IPC pipe path.
func EndpointIPC() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\streamrpc.ipc`
	}
	return filepath.Join(params.HomeDir, "pipe/streamrpc.ipc")
}

// PeerServer accepts stream connections and attaches a peer bound to its
// target to each one, keeping the live peers in a set so they can all be
// torn down on Stop.
type PeerServer struct {
	target interface{}
	peers  *set.Set
	run    int32
}

func NewPeerServer(target interface{}) *PeerServer {
	return &PeerServer{
		target: target,
		peers:  set.New(),
		run:    1,
	}
}

// ServeListener runs the accept loop until the listener is closed.
func (s *PeerServer) ServeListener(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.run) == 0 {
				return nil
			}
			return errors.Annotate(err, "accept failed")
		}
		s.serveConn(conn)
	}
}

func (s *PeerServer) serveConn(conn net.Conn) *Peer {
	peer, err := AttachConn(conn, s.target)
	if err != nil {
		log.Error("cannot attach peer", "remote", conn.RemoteAddr(), "err", err)
		conn.Close()
		return nil
	}
	s.peers.Add(peer)
	go func() {
		<-peer.Dead()
		s.peers.Remove(peer)
	}()
	return peer
}

// Stop closes every live peer. The server is not reusable afterwards.
func (s *PeerServer) Stop() {
	if !atomic.CompareAndSwapInt32(&s.run, 1, 0) {
		return
	}
	s.peers.Each(func(item interface{}) bool {
		item.(*Peer).Close()
		return true
	})
	s.peers.Clear()
}

// StartIPCEndpoint serves target over an IPC listener at endpoint.
func StartIPCEndpoint(endpoint string, target interface{}) (net.Listener, *PeerServer, error) {
	listener, err := ipcListen(endpoint)
	if err != nil {
		return nil, nil, errors.Annotatef(err, "cannot listen on %s", endpoint)
	}
	srv := NewPeerServer(target)
	go srv.ServeListener(listener)
	log.Debug("IPC endpoint opened", "endpoint", endpoint)
	return listener, srv, nil
}

// StartWSEndpoint serves target over a websocket listener at endpoint.
func StartWSEndpoint(endpoint string, target interface{}, wsOrigins []string) (net.Listener, *PeerServer, error) {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, nil, errors.Annotatef(err, "cannot listen on %s", endpoint)
	}
	srv := NewPeerServer(target)
	go NewWSServer(wsOrigins, srv).Serve(listener)
	log.Debug("WebSocket endpoint opened", "endpoint", endpoint)
	return listener, srv, nil
}
