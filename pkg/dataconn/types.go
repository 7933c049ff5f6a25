package dataconn

// Opcodes shared by the data and the management channel.
const (
	OpcodeHandshake = uint32(iota + 1)
	OpcodeOpen
	OpcodeRead
	OpcodeWrite
	OpcodeSnapCreate
	OpcodeSnapDestroy
	OpcodeSnapPrepare
	OpcodeReplicaStatus
	OpcodeStartRebuild
	OpcodeStats
	OpcodeResize
)

const (
	StatusOK = uint32(iota + 1)
	StatusFailed
)

const (
	FlagRebuild      = uint32(0x1)
	FlagReadMetadata = uint32(0x2)
)

const (
	ReplicaVersion = uint32(1)

	// MaxPayloadSize bounds the payload a single frame may declare.
	MaxPayloadSize = 256 << 20
)

type HealthState uint16

const (
	HealthHealthy = HealthState(iota)
	HealthDegraded
)

func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	}
	return "unknown"
}

type RebuildStatus uint16

const (
	RebuildInit = RebuildStatus(iota)
	RebuildSnapInProgress
	RebuildDone
)

func (s RebuildStatus) String() string {
	switch s {
	case RebuildInit:
		return "init"
	case RebuildSnapInProgress:
		return "snap_in_progress"
	case RebuildDone:
		return "done"
	}
	return "unknown"
}

var opcodeNames = map[uint32]string{
	OpcodeHandshake:     "HANDSHAKE",
	OpcodeOpen:          "OPEN",
	OpcodeRead:          "READ",
	OpcodeWrite:         "WRITE",
	OpcodeSnapCreate:    "SNAP_CREATE",
	OpcodeSnapDestroy:   "SNAP_DESTROY",
	OpcodeSnapPrepare:   "SNAP_PREPARE",
	OpcodeReplicaStatus: "REPLICA_STATUS",
	OpcodeStartRebuild:  "START_REBUILD",
	OpcodeStats:         "STATS",
	OpcodeResize:        "RESIZE",
}

// OpcodeName returns a printable name for logs and metric labels.
func OpcodeName(opcode uint32) string {
	if name, ok := opcodeNames[opcode]; ok {
		return name
	}
	return "UNKNOWN"
}

// Frame is one header plus its opcode dependent payload.
type Frame struct {
	Header  FrameHeader
	Payload []byte
}

// Response is an owned reply: the header followed by zero or more payload
// buffers which are flushed with a single scatter write.
type Response struct {
	Header  FrameHeader
	Payload [][]byte
}

// Buffers returns the encoded header and payload ready for a scatter write.
func (r *Response) Buffers() [][]byte {
	bufs := make([][]byte, 0, len(r.Payload)+1)
	bufs = append(bufs, r.Header.Encode())
	for _, p := range r.Payload {
		if len(p) > 0 {
			bufs = append(bufs, p)
		}
	}
	return bufs
}

// PayloadLen is the total number of payload bytes in the response.
func (r *Response) PayloadLen() uint64 {
	var n uint64
	for _, p := range r.Payload {
		n += uint64(len(p))
	}
	return n
}
