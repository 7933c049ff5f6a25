package dataconn

import (
	"bytes"
	"io"
	"net"

	"github.com/cockroachdb/errors"
	. "gopkg.in/check.v1"
)

// fakeReplica answers requests on conn with respond until the peer goes
// away. Requests are handed to respond in arrival order.
func fakeReplica(conn net.Conn, respond func(h FrameHeader, payload []byte) []byte) {
	defer conn.Close()
	for {
		buf := make([]byte, HeaderSize)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		h, err := DecodeFrameHeader(buf)
		if err != nil {
			return
		}
		var payload []byte
		if h.Opcode != OpcodeRead && h.Len > 0 {
			payload = make([]byte, h.Len)
			if _, err := io.ReadFull(conn, payload); err != nil {
				return
			}
		}
		out := respond(h, payload)
		if out == nil {
			return
		}
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func (s *TestSuite) TestClientWriteAndRead(c *C) {
	local, remote := net.Pipe()
	stored := map[uint64][]byte{}
	var reads []FrameHeader

	go fakeReplica(remote, func(h FrameHeader, payload []byte) []byte {
		h.Status = StatusOK
		switch h.Opcode {
		case OpcodeWrite:
			ioh, err := DecodeIOHeader(payload)
			if err != nil || ioh.IONum != h.IONum || ioh.Len != uint64(len(payload)-IOHeaderSize) {
				h.Status = StatusFailed
				return h.Encode()
			}
			stored[h.Offset] = payload[IOHeaderSize:]
			return h.Encode()
		case OpcodeRead:
			reads = append(reads, h)
			data := stored[h.Offset]
			h.Len = uint64(len(data))
			return writeFrame(h, data)
		}
		h.Status = StatusFailed
		return h.Encode()
	})

	client := NewClient(local)
	defer client.Close()

	n, err := client.WriteAt([]byte("hello"), 4096)
	c.Assert(err, IsNil)
	c.Assert(n, Equals, 5)

	data, err := client.ReadAt(4096, 5, FlagReadMetadata)
	c.Assert(err, IsNil)
	c.Assert(data, DeepEquals, []byte("hello"))

	c.Assert(reads, HasLen, 1)
	c.Assert(reads[0].Len, Equals, uint64(5))
	c.Assert(reads[0].Flags, Equals, FlagReadMetadata)

	_, err = client.Do(&Frame{Header: FrameHeader{Opcode: OpcodeStats}})
	c.Assert(err, IsNil)
}

func (s *TestSuite) TestClientFailedStatus(c *C) {
	local, remote := net.Pipe()
	go fakeReplica(remote, func(h FrameHeader, payload []byte) []byte {
		h.Status = StatusFailed
		h.Len = 0
		return h.Encode()
	})

	client := NewClient(local)
	defer client.Close()

	_, err := client.ReadAt(0, 512, 0)
	c.Assert(errors.Is(err, ErrFailed), Equals, true)

	_, err = client.WriteAt([]byte{1}, 0)
	c.Assert(errors.Is(err, ErrFailed), Equals, true)
}

func (s *TestSuite) TestClientMatchesResponsesInOrder(c *C) {
	local, remote := net.Pipe()
	go fakeReplica(remote, func(h FrameHeader, payload []byte) []byte {
		h.Status = StatusOK
		data := bytes.Repeat([]byte{byte(h.Offset)}, int(h.Len))
		return writeFrame(h, data)
	})

	client := NewClient(local)
	defer client.Close()

	type result struct {
		offset int64
		data   []byte
		err    error
	}
	results := make(chan result, 8)
	for i := 1; i <= 8; i++ {
		go func(offset int64) {
			data, err := client.ReadAt(offset, 16, 0)
			results <- result{offset, data, err}
		}(int64(i))
	}
	for i := 0; i < 8; i++ {
		r := <-results
		c.Assert(r.err, IsNil)
		c.Assert(r.data, DeepEquals, bytes.Repeat([]byte{byte(r.offset)}, 16))
	}
}

func (s *TestSuite) TestClientTransportError(c *C) {
	local, remote := net.Pipe()
	go fakeReplica(remote, func(h FrameHeader, payload []byte) []byte {
		return nil
	})

	client := NewClient(local)
	defer client.Close()

	_, err := client.ReadAt(0, 512, 0)
	c.Assert(err, NotNil)
	c.Assert(errors.Is(err, io.EOF), Equals, true)

	_, err = client.ReadAt(0, 512, 0)
	c.Assert(err, NotNil)
}

func (s *TestSuite) TestClientClose(c *C) {
	local, remote := net.Pipe()
	defer remote.Close()

	client := NewClient(local)
	client.Close()

	_, err := client.Do(&Frame{Header: FrameHeader{Opcode: OpcodeStats}})
	c.Assert(err, NotNil)
}

func (s *TestSuite) TestReadResponseRejectsOversizedPayload(c *C) {
	h := FrameHeader{Opcode: OpcodeRead, Status: StatusOK, Len: MaxPayloadSize + 1}
	_, err := ReadResponse(bytes.NewReader(h.Encode()))
	c.Assert(errors.Is(err, ErrPayloadTooLarge), Equals, true)

	h = FrameHeader{Opcode: OpcodeWrite, Status: StatusOK, Len: 4096}
	frame, err := ReadResponse(bytes.NewReader(h.Encode()))
	c.Assert(err, IsNil)
	c.Assert(frame.Payload, IsNil)
}
