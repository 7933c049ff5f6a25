package dataconn

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

var (
	ErrIncomplete      = errors.New("incomplete frame, waiting for more data")
	ErrPeerClosed      = errors.New("connection closed by peer")
	ErrPayloadTooLarge = errors.New("frame payload too large")
)

// RawReader is a non-blocking handle. Read reports unix.EAGAIN when no data
// is available and (0, nil) when the peer closed the connection.
type RawReader interface {
	Read(p []byte) (int, error)
}

type ReadPhase int

const (
	AwaitingHeader = ReadPhase(iota)
	AwaitingPayload
)

// PendingFrame is the resumable read state of one connection.
type PendingFrame struct {
	Phase    ReadPhase
	Buf      []byte
	Received int
}

func (p *PendingFrame) Expected() int {
	return len(p.Buf)
}

// PayloadPolicy decides whether a decoded header is followed by a payload.
type PayloadPolicy func(h *FrameHeader) bool

// DataPayload is the data channel policy: only WRITE, HANDSHAKE and OPEN
// carry a payload.
func DataPayload(h *FrameHeader) bool {
	switch h.Opcode {
	case OpcodeWrite, OpcodeHandshake, OpcodeOpen:
		return h.Len > 0
	}
	return false
}

// ManagementPayload is the management channel policy: any declared length
// is read.
func ManagementPayload(h *FrameHeader) bool {
	return h.Len > 0
}

type FrameReader struct {
	r              RawReader
	carriesPayload PayloadPolicy
	header         FrameHeader
	pending        PendingFrame
}

func NewFrameReader(r RawReader, policy PayloadPolicy) *FrameReader {
	fr := &FrameReader{
		r:              r,
		carriesPayload: policy,
	}
	fr.reset()
	return fr
}

func (fr *FrameReader) reset() {
	fr.header = FrameHeader{}
	fr.pending = PendingFrame{
		Phase: AwaitingHeader,
		Buf:   make([]byte, HeaderSize),
	}
}

// Pending exposes the partial read state, mostly for diagnostics.
func (fr *FrameReader) Pending() PendingFrame {
	return fr.pending
}

// ReadFrame reads until one complete frame is assembled. It returns
// ErrIncomplete when the handle would block; the call must then be repeated
// on the next readiness event. Any other error is fatal for the connection
// and drops the partial state.
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	for {
		n, err := fr.fill(fr.pending.Buf[fr.pending.Received:])
		fr.pending.Received += n
		if err != nil {
			fr.reset()
			return nil, err
		}
		if fr.pending.Received < fr.pending.Expected() {
			return nil, ErrIncomplete
		}

		switch fr.pending.Phase {
		case AwaitingHeader:
			h, err := DecodeFrameHeader(fr.pending.Buf)
			if err != nil {
				fr.reset()
				return nil, err
			}
			if !fr.carriesPayload(&h) {
				fr.reset()
				return &Frame{Header: h}, nil
			}
			if h.Len > MaxPayloadSize {
				fr.reset()
				return nil, errors.Wrapf(ErrPayloadTooLarge, "opcode %v declares %d bytes", OpcodeName(h.Opcode), h.Len)
			}
			fr.header = h
			fr.pending = PendingFrame{
				Phase: AwaitingPayload,
				Buf:   make([]byte, h.Len),
			}
		case AwaitingPayload:
			frame := &Frame{
				Header:  fr.header,
				Payload: fr.pending.Buf,
			}
			fr.reset()
			return frame, nil
		}
	}
}

// fill reads into buf until it is full or the handle would block.
func (fr *FrameReader) fill(buf []byte) (int, error) {
	nbytes := 0
	for nbytes < len(buf) {
		n, err := fr.r.Read(buf[nbytes:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			return nbytes, errors.Wrap(err, "failed to read")
		}
		if n == 0 {
			return nbytes, ErrPeerClosed
		}
		nbytes += n
	}
	return nbytes, nil
}
