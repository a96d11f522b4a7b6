// Package line serves the newline-delimited JSON chat protocol over raw TCP
// connections handed out by the dispatcher.
package line

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// MaxLineLength bounds a single inbound command line in bytes.
const MaxLineLength = 16 * 1024

// ErrLineTooLong is returned by ReadLine when a line exceeds MaxLineLength.
var ErrLineTooLong = errors.New("line too long")

// Conn wraps a TCP connection with line-based reads and serialized writes.
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader
	mu     sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewConn wraps raw. A zero timeout disables the corresponding deadline.
//
// Precondition: raw must be a valid, open network connection.
// Postcondition: Returns a Conn ready for reading and writing.
func NewConn(raw net.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// ReadLine reads one line of input without its terminator. "\n", "\r\n",
// a lone "\r", and end of input all end a line. Control characters other
// than tab are dropped.
//
// Postcondition: Returns the next line, or an error (including io.EOF).
func (c *Conn) ReadLine() (string, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}

	var line bytes.Buffer
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			// An unterminated final line still counts; the next call reports EOF.
			if errors.Is(err, io.EOF) && line.Len() > 0 {
				return line.String(), nil
			}
			return line.String(), err
		}

		if b == '\n' {
			break
		}
		if b == '\r' {
			next, err := c.reader.Peek(1)
			if err == nil && len(next) > 0 && next[0] == '\n' {
				_, _ = c.reader.ReadByte()
			}
			break
		}

		if b < 32 && b != '\t' {
			continue
		}
		if line.Len() >= MaxLineLength {
			return "", ErrLineTooLong
		}
		line.WriteByte(b)
	}

	return line.String(), nil
}

// WriteLine sends text followed by "\n".
//
// Precondition: text should not contain newline characters.
func (c *Conn) WriteLine(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	buf := make([]byte, 0, len(text)+1)
	buf = append(buf, text...)
	buf = append(buf, '\n')
	_, err := c.raw.Write(buf)
	return err
}

// Close closes the underlying TCP connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}
