package dataconn

import (
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"
)

var ErrShortBuffer = errors.New("buffer too short to decode")

type FrameHeader struct {
	Opcode  uint32
	Version uint32
	Flags   uint32
	Status  uint32
	IONum   uint64
	Offset  uint64
	Len     uint64
}

var HeaderSize = getFrameHeaderSize()

func getFrameHeaderSize() int {
	var h FrameHeader

	return int(unsafe.Sizeof(h.Opcode)) +
		int(unsafe.Sizeof(h.Version)) +
		int(unsafe.Sizeof(h.Flags)) +
		int(unsafe.Sizeof(h.Status)) +
		int(unsafe.Sizeof(h.IONum)) +
		int(unsafe.Sizeof(h.Offset)) +
		int(unsafe.Sizeof(h.Len))
}

func (h *FrameHeader) Encode() []byte {
	buf := make([]byte, HeaderSize)
	h.EncodeTo(buf)
	return buf
}

func (h *FrameHeader) EncodeTo(buf []byte) {
	offset := 0

	binary.LittleEndian.PutUint32(buf[offset:], h.Opcode)
	offset += int(unsafe.Sizeof(h.Opcode))

	binary.LittleEndian.PutUint32(buf[offset:], h.Version)
	offset += int(unsafe.Sizeof(h.Version))

	binary.LittleEndian.PutUint32(buf[offset:], h.Flags)
	offset += int(unsafe.Sizeof(h.Flags))

	binary.LittleEndian.PutUint32(buf[offset:], h.Status)
	offset += int(unsafe.Sizeof(h.Status))

	binary.LittleEndian.PutUint64(buf[offset:], h.IONum)
	offset += int(unsafe.Sizeof(h.IONum))

	binary.LittleEndian.PutUint64(buf[offset:], h.Offset)
	offset += int(unsafe.Sizeof(h.Offset))

	binary.LittleEndian.PutUint64(buf[offset:], h.Len)
}

func DecodeFrameHeader(buf []byte) (FrameHeader, error) {
	var h FrameHeader

	if len(buf) < HeaderSize {
		return h, errors.Wrapf(ErrShortBuffer, "frame header needs %d bytes, got %d", HeaderSize, len(buf))
	}

	offset := 0

	h.Opcode = binary.LittleEndian.Uint32(buf[offset:])
	offset += int(unsafe.Sizeof(h.Opcode))

	h.Version = binary.LittleEndian.Uint32(buf[offset:])
	offset += int(unsafe.Sizeof(h.Version))

	h.Flags = binary.LittleEndian.Uint32(buf[offset:])
	offset += int(unsafe.Sizeof(h.Flags))

	h.Status = binary.LittleEndian.Uint32(buf[offset:])
	offset += int(unsafe.Sizeof(h.Status))

	h.IONum = binary.LittleEndian.Uint64(buf[offset:])
	offset += int(unsafe.Sizeof(h.IONum))

	h.Offset = binary.LittleEndian.Uint64(buf[offset:])
	offset += int(unsafe.Sizeof(h.Offset))

	h.Len = binary.LittleEndian.Uint64(buf[offset:])

	return h, nil
}

// IOHeader prefixes the data of a WRITE payload and every segment of a READ
// response.
type IOHeader struct {
	IONum uint64
	Len   uint64
}

const IOHeaderSize = 16

func (h IOHeader) EncodeTo(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:], h.IONum)
	binary.LittleEndian.PutUint64(buf[8:], h.Len)
}

func DecodeIOHeader(buf []byte) (IOHeader, error) {
	if len(buf) < IOHeaderSize {
		return IOHeader{}, errors.Wrapf(ErrShortBuffer, "io header needs %d bytes, got %d", IOHeaderSize, len(buf))
	}
	return IOHeader{
		IONum: binary.LittleEndian.Uint64(buf[0:]),
		Len:   binary.LittleEndian.Uint64(buf[8:]),
	}, nil
}
