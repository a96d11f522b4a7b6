// Package testutil provides helpers shared by integration tests.
package testutil

import (
	"bufio"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"
)

// LineClient is a line-protocol test client that speaks one JSON object per line.
type LineClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

// Reply is a decoded server reply. Only the fields present in the line are set.
type Reply struct {
	Message *string  `json:"message"`
	Rooms   []string `json:"rooms"`
	History []string `json:"history"`
	Error   *string  `json:"error"`
	Raw     string   `json:"-"`
}

// MessageText returns the message field, or "" if absent.
func (r Reply) MessageText() string {
	if r.Message == nil {
		return ""
	}
	return *r.Message
}

// NewLineClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected LineClient or fails the test.
func NewLineClient(t *testing.T, addr string) *LineClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("line client connected to %s [%s]", addr, time.Since(start))
	return &LineClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
		t:      t,
	}
}

// Send encodes fields as a JSON object and writes it as one line.
//
// Postcondition: The encoded request and "\n" are written to the connection.
func (c *LineClient) Send(fields map[string]string) {
	c.t.Helper()
	data, err := json.Marshal(fields)
	if err != nil {
		c.t.Fatalf("encoding %v: %v", fields, err)
	}
	c.SendRaw(string(data))
}

// SendRaw writes text followed by "\n".
func (c *LineClient) SendRaw(text string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write([]byte(text + "\n")); err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// Read returns the next reply line, failing the test on timeout or bad JSON.
func (c *LineClient) Read(timeout time.Duration) Reply {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("reading reply: got %q, error: %v", line, err)
	}
	line = strings.TrimSpace(line)
	var r Reply
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		c.t.Fatalf("decoding reply %q: %v", line, err)
	}
	r.Raw = line
	return r
}

// ReadUntil reads replies until one's raw line contains substr and returns
// every line read, the match included.
//
// Precondition: substr must be non-empty.
func (c *LineClient) ReadUntil(substr string, timeout time.Duration) []Reply {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	var seen []Reply
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("no reply containing %q within %s; saw %v", substr, timeout, seen)
		}
		r := c.Read(remaining)
		seen = append(seen, r)
		if strings.Contains(r.Raw, substr) {
			return seen
		}
	}
}

// ExpectClosed asserts the server closes the connection within timeout.
func (c *LineClient) ExpectClosed(timeout time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, err := c.reader.ReadString('\n')
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			c.t.Fatalf("connection still open after %s", timeout)
		}
		return
	}
}

// Close closes the client connection.
func (c *LineClient) Close() error {
	return c.conn.Close()
}
