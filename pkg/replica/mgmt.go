package replica

import (
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/longhorn/replica-tester/pkg/dataconn"
	"github.com/longhorn/replica-tester/pkg/metrics"
)

// ProcessManagement executes one management frame and returns its
// acknowledgement. The only error it returns is a *ProtocolError.
func (r *Replica) ProcessManagement(frame *dataconn.Frame) (*dataconn.Response, error) {
	var (
		resp *dataconn.Response
		err  error
	)

	opcode := frame.Header.Opcode
	switch opcode {
	case dataconn.OpcodeSnapDestroy:
		resp = r.snapDestroyAck()
	case dataconn.OpcodeSnapCreate:
		resp = r.snapCreateAck()
	case dataconn.OpcodeSnapPrepare:
		resp = r.snapPrepareAck()
	case dataconn.OpcodeReplicaStatus:
		resp = r.replicaStatusAck()
	case dataconn.OpcodeStartRebuild:
		resp, err = r.startRebuildAck()
	case dataconn.OpcodeStats:
		resp = statsAck()
	case dataconn.OpcodeResize:
		resp = newMgmtAck(opcode)
	default:
		resp = r.identityAck(opcode, dataconn.CString(frame.Payload))
	}
	if err != nil {
		metrics.ManagementRequestsTotal.WithLabelValues(dataconn.OpcodeName(opcode), "error").Inc()
		return nil, err
	}
	r.recordHealth()

	resp.Header.Len = resp.PayloadLen()
	metrics.ManagementRequestsTotal.WithLabelValues(dataconn.OpcodeName(opcode), statusLabel(resp.Header.Status)).Inc()
	return resp, nil
}

func newMgmtAck(opcode uint32, payload ...[]byte) *dataconn.Response {
	return &dataconn.Response{
		Header: dataconn.FrameHeader{
			Opcode:  opcode,
			Version: dataconn.ReplicaVersion,
			Status:  dataconn.StatusOK,
		},
		Payload: payload,
	}
}

func (r *Replica) snapDestroyAck() *dataconn.Response {
	resp := newMgmtAck(dataconn.OpcodeSnapDestroy)
	if r.injector.OneIn(2) {
		resp.Header.Status = dataconn.StatusFailed
		metrics.InjectedFailuresTotal.WithLabelValues(dataconn.OpcodeName(dataconn.OpcodeSnapDestroy)).Inc()
	}
	return resp
}

func (r *Replica) snapCreateAck() *dataconn.Response {
	r.Sleep(r.injector.RandomSeconds(1))
	return newMgmtAck(dataconn.OpcodeSnapCreate)
}

func (r *Replica) snapPrepareAck() *dataconn.Response {
	resp := newMgmtAck(dataconn.OpcodeSnapPrepare)
	if r.injector.OneIn(5) {
		resp.Header.Status = dataconn.StatusFailed
		metrics.InjectedFailuresTotal.WithLabelValues(dataconn.OpcodeName(dataconn.OpcodeSnapPrepare)).Inc()
	}
	return resp
}

func (r *Replica) replicaStatusAck() *dataconn.Response {
	status := r.health.PollStatus()
	r.Sleep(r.cfg.ConnectionDelay)
	return newMgmtAck(dataconn.OpcodeReplicaStatus, status.Encode())
}

func (r *Replica) startRebuildAck() (*dataconn.Response, error) {
	if err := r.health.StartRebuild(); err != nil {
		logrus.WithError(err).Errorf("START_REBUILD is on invalid replica(%v) status", r.Label())
		return nil, &ProtocolError{Opcode: dataconn.OpcodeStartRebuild, Err: err}
	}
	return newMgmtAck(dataconn.OpcodeStartRebuild), nil
}

func statsAck() *dataconn.Response {
	stat := dataconn.Stat{
		Label: usedStatLabel,
		Value: usedStatValue,
	}
	return newMgmtAck(dataconn.OpcodeStats, stat.Encode())
}

// identityAck answers the handshake and any opcode without a dedicated
// handler with the identity of this replica.
func (r *Replica) identityAck(opcode uint32, volumeName string) *dataconn.Response {
	port := uint64(r.cfg.ReplicaPort)
	ack := &dataconn.MgmtAck{
		PoolGUID:          port,
		VolumeGUID:        port,
		Port:              uint16(r.cfg.ReplicaPort),
		IP:                r.cfg.ReplicaIP,
		VolumeName:        volumeName,
		ReplicaID:         strconv.Itoa(r.cfg.ReplicaPort),
		CheckpointedIOSeq: checkpointedIOSeq,
		Quorum:            r.health.Quorum(),
	}
	return newMgmtAck(opcode, ack.Encode())
}
