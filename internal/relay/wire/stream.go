package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/zeusync/arsync/pkg/generic"
)

const lengthPrefixSize = 4

var writeBuffers = generic.NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }, (*bytes.Buffer).Reset)

// StreamConn frames a byte stream with a 4-byte big-endian length prefix.
type StreamConn struct {
	rwc     io.ReadWriteCloser
	addr    net.Addr
	maxSize int

	writeMu sync.Mutex
	header  [lengthPrefixSize]byte
}

func NewStreamConn(rwc io.ReadWriteCloser, addr net.Addr, maxSize int) *StreamConn {
	return &StreamConn{rwc: rwc, addr: addr, maxSize: maxSize}
}

func (c *StreamConn) ReadFrame() (Frame, error) {
	if _, err := io.ReadFull(c.rwc, c.header[:]); err != nil {
		return Frame{}, err
	}
	size := binary.BigEndian.Uint32(c.header[:])
	if size == 0 {
		return Frame{}, ErrInvalidFrame
	}
	if c.maxSize > 0 && int(size) > c.maxSize {
		return Frame{}, ErrFrameTooLarge
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(c.rwc, data); err != nil {
		return Frame{}, err
	}
	return Unmarshal(data)
}

func (c *StreamConn) WriteFrame(f Frame) error {
	data, err := Marshal(f, c.maxSize)
	if err != nil {
		return err
	}
	buf := writeBuffers.Get()
	defer writeBuffers.Put(buf)
	buf.Grow(lengthPrefixSize + len(data))
	_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.rwc.Write(buf.Bytes())
	return err
}

func (c *StreamConn) RemoteAddr() net.Addr { return c.addr }

func (c *StreamConn) Close() error { return c.rwc.Close() }
