package ipc

import (
	"bytes"
	"net"
	"time"
)

// bufferConn is a net.Conn whose peer is a pair of buffers: the request is
// preloaded into in and the handler's reply lands in out.
type bufferConn struct {
	net.Conn
	in, out   bytes.Buffer
	closed    bool
	deadlines []time.Time
}

func newBufferConn(request string) *bufferConn {
	c := &bufferConn{}
	c.in.WriteString(request)
	return c
}

func (c *bufferConn) Read(b []byte) (int, error)  { return c.in.Read(b) }
func (c *bufferConn) Write(b []byte) (int, error) { return c.out.Write(b) }

func (c *bufferConn) Close() error {
	c.closed = true
	return nil
}

func (c *bufferConn) SetDeadline(t time.Time) error {
	c.deadlines = append(c.deadlines, t)
	return nil
}
