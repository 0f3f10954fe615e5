package rpc

import (
	"net"
)

// DialInProc attaches a client peer to an in-process peer serving
// target, connected through a synchronous pipe. It is mainly useful in
// tests and for the local console.
func DialInProc(target interface{}) (*Peer, error) {
	p1, p2 := net.Pipe()
	if _, err := AttachConn(p1, target); err != nil {
		p1.Close()
		p2.Close()
		return nil, err
	}
	client, err := AttachConn(p2, nil)
	if err != nil {
		p1.Close()
		p2.Close()
		return nil, err
	}
	return client, nil
}
