package protocol

import (
	"bufio"
	"net"
	"strings"
	"time"
)

const writeTimeout = 10 * time.Second

// Conn frames a byte-stream transport into newline-delimited UTF-8 messages.
// A stream read can return partial or merged messages; the explicit delimiter
// keeps frame boundaries unambiguous.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
}

// NewConn wraps an accepted transport.
func NewConn(c net.Conn) *Conn {
	return &Conn{
		conn:   c,
		reader: bufio.NewReader(c),
	}
}

// ReadLine blocks until one complete frame arrives and returns it without
// the trailing delimiter.
func (c *Conn) ReadLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// WriteLine sends one frame. Embedded line breaks in the payload are folded
// so the frame boundary stays unambiguous.
func (c *Conn) WriteLine(s string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(EscapePayload(s) + "\n"))
	return err
}

// Close closes the underlying transport, unblocking any pending ReadLine.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the peer address for logging.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
