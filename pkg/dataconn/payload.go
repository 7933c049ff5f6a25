package dataconn

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

const (
	MaxNameLen      = 256
	MaxIPLen        = 64
	ReplicaIDLen    = 42
	MaxStatLabelLen = 128

	OpenDataSize  = 4 + MaxNameLen + 4 + 4 + 4
	StatusAckSize = 2 + 2
	MgmtAckSize   = 8 + 8 + 2 + MaxIPLen + MaxNameLen + ReplicaIDLen + 8 + 1
	StatSize      = MaxStatLabelLen + 8
)

// OpenData is the payload of an OPEN request.
type OpenData struct {
	Version           uint32
	VolumeName        string
	TargetBlockSize   uint32
	Timeout           uint32
	ReplicationFactor uint32
}

func (d *OpenData) Encode() []byte {
	buf := make([]byte, OpenDataSize)
	offset := 0
	binary.LittleEndian.PutUint32(buf[offset:], d.Version)
	offset += 4
	putString(buf[offset:offset+MaxNameLen], d.VolumeName)
	offset += MaxNameLen
	binary.LittleEndian.PutUint32(buf[offset:], d.TargetBlockSize)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], d.Timeout)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], d.ReplicationFactor)
	return buf
}

func DecodeOpenData(buf []byte) (*OpenData, error) {
	if len(buf) < OpenDataSize {
		return nil, errors.Wrapf(ErrShortBuffer, "open payload needs %d bytes, got %d", OpenDataSize, len(buf))
	}
	d := &OpenData{}
	offset := 0
	d.Version = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	d.VolumeName = CString(buf[offset : offset+MaxNameLen])
	offset += MaxNameLen
	d.TargetBlockSize = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	d.Timeout = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	d.ReplicationFactor = binary.LittleEndian.Uint32(buf[offset:])
	return d, nil
}

// StatusAck is the payload of a REPLICA_STATUS reply.
type StatusAck struct {
	State         HealthState
	RebuildStatus RebuildStatus
}

func (a StatusAck) Encode() []byte {
	buf := make([]byte, StatusAckSize)
	binary.LittleEndian.PutUint16(buf[0:], uint16(a.State))
	binary.LittleEndian.PutUint16(buf[2:], uint16(a.RebuildStatus))
	return buf
}

func DecodeStatusAck(buf []byte) (StatusAck, error) {
	if len(buf) < StatusAckSize {
		return StatusAck{}, errors.Wrapf(ErrShortBuffer, "status payload needs %d bytes, got %d", StatusAckSize, len(buf))
	}
	return StatusAck{
		State:         HealthState(binary.LittleEndian.Uint16(buf[0:])),
		RebuildStatus: RebuildStatus(binary.LittleEndian.Uint16(buf[2:])),
	}, nil
}

// MgmtAck identifies the replica to the controller.
type MgmtAck struct {
	PoolGUID          uint64
	VolumeGUID        uint64
	Port              uint16
	IP                string
	VolumeName        string
	ReplicaID         string
	CheckpointedIOSeq uint64
	Quorum            bool
}

func (a *MgmtAck) Encode() []byte {
	buf := make([]byte, MgmtAckSize)
	offset := 0
	binary.LittleEndian.PutUint64(buf[offset:], a.PoolGUID)
	offset += 8
	binary.LittleEndian.PutUint64(buf[offset:], a.VolumeGUID)
	offset += 8
	binary.LittleEndian.PutUint16(buf[offset:], a.Port)
	offset += 2
	putString(buf[offset:offset+MaxIPLen], a.IP)
	offset += MaxIPLen
	putString(buf[offset:offset+MaxNameLen], a.VolumeName)
	offset += MaxNameLen
	putString(buf[offset:offset+ReplicaIDLen], a.ReplicaID)
	offset += ReplicaIDLen
	binary.LittleEndian.PutUint64(buf[offset:], a.CheckpointedIOSeq)
	offset += 8
	if a.Quorum {
		buf[offset] = 1
	}
	return buf
}

func DecodeMgmtAck(buf []byte) (*MgmtAck, error) {
	if len(buf) < MgmtAckSize {
		return nil, errors.Wrapf(ErrShortBuffer, "identity payload needs %d bytes, got %d", MgmtAckSize, len(buf))
	}
	a := &MgmtAck{}
	offset := 0
	a.PoolGUID = binary.LittleEndian.Uint64(buf[offset:])
	offset += 8
	a.VolumeGUID = binary.LittleEndian.Uint64(buf[offset:])
	offset += 8
	a.Port = binary.LittleEndian.Uint16(buf[offset:])
	offset += 2
	a.IP = CString(buf[offset : offset+MaxIPLen])
	offset += MaxIPLen
	a.VolumeName = CString(buf[offset : offset+MaxNameLen])
	offset += MaxNameLen
	a.ReplicaID = CString(buf[offset : offset+ReplicaIDLen])
	offset += ReplicaIDLen
	a.CheckpointedIOSeq = binary.LittleEndian.Uint64(buf[offset:])
	offset += 8
	a.Quorum = buf[offset] != 0
	return a, nil
}

// Stat is a single label/value usage statistic.
type Stat struct {
	Label string
	Value uint64
}

func (s Stat) Encode() []byte {
	buf := make([]byte, StatSize)
	putString(buf[:MaxStatLabelLen], s.Label)
	binary.LittleEndian.PutUint64(buf[MaxStatLabelLen:], s.Value)
	return buf
}

func DecodeStat(buf []byte) (Stat, error) {
	if len(buf) < StatSize {
		return Stat{}, errors.Wrapf(ErrShortBuffer, "stat payload needs %d bytes, got %d", StatSize, len(buf))
	}
	return Stat{
		Label: CString(buf[:MaxStatLabelLen]),
		Value: binary.LittleEndian.Uint64(buf[MaxStatLabelLen:]),
	}, nil
}

// CString returns the bytes of buf up to the first NUL.
func CString(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}

// putString copies s into a fixed size field, always leaving room for the
// terminating NUL.
func putString(field []byte, s string) {
	n := copy(field[:len(field)-1], s)
	for i := n; i < len(field); i++ {
		field[i] = 0
	}
}

// Segment is one piece of a READ response payload, tagged with the io number
// of the write that last covered it.
type Segment struct {
	IONum uint64
	Data  []byte
}

// DecodeSegments splits a READ response payload into its segments.
func DecodeSegments(payload []byte) ([]Segment, error) {
	var segments []Segment
	for len(payload) > 0 {
		h, err := DecodeIOHeader(payload)
		if err != nil {
			return nil, err
		}
		payload = payload[IOHeaderSize:]
		if h.Len > uint64(len(payload)) {
			return nil, errors.Wrapf(ErrShortBuffer, "segment declares %d bytes, %d left", h.Len, len(payload))
		}
		segments = append(segments, Segment{IONum: h.IONum, Data: payload[:h.Len]})
		payload = payload[h.Len:]
	}
	return segments, nil
}
