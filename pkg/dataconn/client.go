package dataconn

import (
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrRWTimeout    = errors.New("r/w timeout")
	ErrClientClosed = errors.New("client closed")
	ErrFailed       = errors.New("replica reported failure")

	opTimeout = 8 * time.Second
)

type request struct {
	frame    *Frame
	resp     *Frame
	err      error
	complete chan struct{}
}

type transportResponse struct {
	frame *Frame
	err   error
}

// Client is the controller side of one replica connection. Requests may be
// issued concurrently; the replica answers them in order, so responses are
// matched to the oldest outstanding request.
type Client struct {
	conn      net.Conn
	peerAddr  string
	end       chan struct{}
	done      chan struct{}
	requests  chan *request
	send      chan *request
	responses chan transportResponse
	seq       atomic.Uint64
	inflight  []*request
	err       error
}

func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn:      conn,
		peerAddr:  conn.RemoteAddr().String(),
		end:       make(chan struct{}, 1),
		done:      make(chan struct{}),
		requests:  make(chan *request, 1024),
		send:      make(chan *request, 1024),
		responses: make(chan transportResponse, 1024),
	}
	go c.loop()
	go c.write()
	go c.read()
	return c
}

func (c *Client) TargetID() string {
	return c.peerAddr
}

// Do sends one frame and waits for its response. The header length is set
// from the payload when there is one.
func (c *Client) Do(frame *Frame) (*Frame, error) {
	req := &request{
		frame:    frame,
		complete: make(chan struct{}, 1),
	}
	if len(frame.Payload) > 0 {
		frame.Header.Len = uint64(len(frame.Payload))
	}

	timeout := time.NewTimer(opTimeout)
	defer timeout.Stop()

	select {
	case c.requests <- req:
	case <-c.done:
		return nil, ErrClientClosed
	case <-timeout.C:
		return nil, errors.Wrapf(ErrRWTimeout, "%v on %v", OpcodeName(frame.Header.Opcode), c.TargetID())
	}

	select {
	case <-req.complete:
		return req.resp, req.err
	case <-c.done:
		return nil, ErrClientClosed
	case <-timeout.C:
		logrus.Errorf("%v timeout on replica %v io %d", OpcodeName(frame.Header.Opcode), c.TargetID(), frame.Header.IONum)
		c.SetError(ErrRWTimeout)
		return nil, errors.Wrapf(ErrRWTimeout, "%v on %v", OpcodeName(frame.Header.Opcode), c.TargetID())
	}
}

// WriteAt writes buf at offset tagged with a fresh io number.
func (c *Client) WriteAt(buf []byte, offset int64) (int, error) {
	payload := make([]byte, IOHeaderSize+len(buf))
	ioNum := c.seq.Add(1)
	IOHeader{IONum: ioNum, Len: uint64(len(buf))}.EncodeTo(payload)
	copy(payload[IOHeaderSize:], buf)

	resp, err := c.Do(&Frame{
		Header: FrameHeader{
			Opcode:  OpcodeWrite,
			Version: ReplicaVersion,
			IONum:   ioNum,
			Offset:  uint64(offset),
		},
		Payload: payload,
	})
	if err != nil {
		return 0, err
	}
	if resp.Header.Status != StatusOK {
		return 0, errors.Wrapf(ErrFailed, "write at %d", offset)
	}
	return len(buf), nil
}

// ReadAt asks for length bytes at offset and returns the raw segmented
// payload of the response.
func (c *Client) ReadAt(offset int64, length int, flags uint32) ([]byte, error) {
	resp, err := c.Do(&Frame{
		Header: FrameHeader{
			Opcode:  OpcodeRead,
			Version: ReplicaVersion,
			Flags:   flags,
			IONum:   c.seq.Add(1),
			Offset:  uint64(offset),
			Len:     uint64(length),
		},
	})
	if err != nil {
		return nil, err
	}
	if resp.Header.Status != StatusOK {
		return nil, errors.Wrapf(ErrFailed, "read at %d", offset)
	}
	return resp.Payload, nil
}

// ReadSegments reads length bytes at offset tagged with the io numbers of
// the writes that produced them.
func (c *Client) ReadSegments(offset int64, length int) ([]Segment, error) {
	payload, err := c.ReadAt(offset, length, FlagReadMetadata)
	if err != nil {
		return nil, err
	}
	return DecodeSegments(payload)
}

// SetError fails every outstanding and future request with err.
func (c *Client) SetError(err error) {
	c.responses <- transportResponse{err: err}
}

func (c *Client) Close() {
	c.conn.Close()
	c.end <- struct{}{}
}

func (c *Client) loop() {
	defer close(c.done)
	defer close(c.send)

	for {
		select {
		case <-c.end:
			c.fail(ErrClientClosed)
			return
		case req := <-c.requests:
			c.handleRequest(req)
		case resp := <-c.responses:
			c.handleResponse(resp)
		}
	}
}

func (c *Client) replyError(req *request) {
	req.err = c.err
	req.complete <- struct{}{}
}

func (c *Client) fail(err error) {
	if c.err == nil {
		c.err = err
	}
	for _, req := range c.inflight {
		c.replyError(req)
	}
	c.inflight = nil
}

func (c *Client) handleRequest(req *request) {
	if c.err != nil {
		c.replyError(req)
		return
	}
	c.inflight = append(c.inflight, req)
	c.send <- req
}

func (c *Client) handleResponse(resp transportResponse) {
	if resp.err != nil {
		c.fail(resp.err)
		return
	}
	if len(c.inflight) == 0 {
		logrus.Warnf("Unexpected %v response from %v", OpcodeName(resp.frame.Header.Opcode), c.TargetID())
		return
	}
	req := c.inflight[0]
	c.inflight = c.inflight[1:]
	if c.err != nil {
		c.replyError(req)
		return
	}
	req.resp = resp.frame
	req.complete <- struct{}{}
}

func (c *Client) write() {
	for req := range c.send {
		buf := append(req.frame.Header.Encode(), req.frame.Payload...)
		if _, err := c.conn.Write(buf); err != nil {
			c.responses <- transportResponse{err: errors.Wrapf(err, "failed to write to %v", c.TargetID())}
		}
	}
}

func (c *Client) read() {
	for {
		frame, err := ReadResponse(c.conn)
		if err != nil {
			c.responses <- transportResponse{err: errors.Wrapf(err, "failed to read from %v", c.TargetID())}
			return
		}
		c.responses <- transportResponse{frame: frame}
	}
}

// ReadResponse reads one response frame from a blocking stream. WRITE
// acknowledgements echo the request length without carrying a payload.
func ReadResponse(r io.Reader) (*Frame, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	h, err := DecodeFrameHeader(buf)
	if err != nil {
		return nil, err
	}
	frame := &Frame{Header: h}
	if h.Opcode == OpcodeWrite || h.Len == 0 {
		return frame, nil
	}
	if h.Len > MaxPayloadSize {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%v response declares %d bytes", OpcodeName(h.Opcode), h.Len)
	}
	frame.Payload = make([]byte, h.Len)
	if _, err := io.ReadFull(r, frame.Payload); err != nil {
		return nil, err
	}
	return frame, nil
}
