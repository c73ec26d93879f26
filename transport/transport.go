// Package transport frames messages on a byte stream: every frame is a 4-byte
// big-endian length followed by that many payload bytes. A zero-length frame
// is a keepalive and is reported as e.ErrEmptyMessage.
package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/fansqz/debug-session/constants"
	e "github.com/fansqz/debug-session/error"
)

const headerSize = 4

// Transport owns one connection. Send is safe for concurrent use, Receive
// must only be called from one goroutine.
type Transport struct {
	conn    io.ReadWriteCloser
	reader  *bufio.Reader
	maxSize uint32

	writeMu sync.Mutex
	dead    atomic.Bool
	closed  atomic.Bool
}

// New wraps conn. maxSize <= 0 selects constants.MaxMessageSize.
func New(conn io.ReadWriteCloser, maxSize int) *Transport {
	if maxSize <= 0 || maxSize > constants.MaxMessageSize {
		maxSize = constants.MaxMessageSize
	}
	return &Transport{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		maxSize: uint32(maxSize),
	}
}

// Dial connects to a TCP address.
func Dial(address string, maxSize int) (*Transport, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return New(conn, maxSize), nil
}

// Send writes the length prefix and payload with a single Write call. Any
// short write marks the connection dead.
func (t *Transport) Send(payload []byte) error {
	if len(payload) > int(t.maxSize) {
		return fmt.Errorf("%w: %d bytes (max %d)", e.ErrMessageTooLarge, len(payload), t.maxSize)
	}
	if t.dead.Load() {
		return e.ErrConnectionLost
	}
	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame[:headerSize], uint32(len(payload)))
	copy(frame[headerSize:], payload)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	n, err := t.conn.Write(frame)
	if err == nil && n != len(frame) {
		err = io.ErrShortWrite
	}
	if err != nil {
		t.dead.Store(true)
		return fmt.Errorf("%w: write frame: %v", e.ErrConnectionLost, err)
	}
	return nil
}

// Receive blocks until a whole frame arrives. It returns e.ErrEmptyMessage for
// keepalive frames and an error wrapping e.ErrConnectionLost when the peer
// goes away, including in the middle of a frame.
func (t *Transport) Receive() ([]byte, error) {
	if t.dead.Load() {
		return nil, e.ErrConnectionLost
	}
	var header [headerSize]byte
	if _, err := io.ReadFull(t.reader, header[:]); err != nil {
		t.dead.Store(true)
		return nil, t.readError("read length prefix", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, e.ErrEmptyMessage
	}
	if length > t.maxSize {
		t.dead.Store(true)
		return nil, fmt.Errorf("%w: frame of %d bytes (max %d)", e.ErrMessageTooLarge, length, t.maxSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(t.reader, payload); err != nil {
		t.dead.Store(true)
		return nil, t.readError("read payload", err)
	}
	return payload, nil
}

func (t *Transport) readError(op string, err error) error {
	if errors.Is(err, io.EOF) && op == "read length prefix" {
		return fmt.Errorf("%w: %w", e.ErrConnectionLost, io.EOF)
	}
	return fmt.Errorf("%w: %s: %v", e.ErrConnectionLost, op, err)
}

// Alive reports whether no I/O failure has been observed yet.
func (t *Transport) Alive() bool {
	return !t.dead.Load() && !t.closed.Load()
}

// IsFatal reports whether err means the connection must not be used again.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, e.ErrEmptyMessage)
}

// Close closes the connection. It is safe to call more than once.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.dead.Store(true)
	return t.conn.Close()
}
