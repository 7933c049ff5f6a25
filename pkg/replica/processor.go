package replica

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/longhorn/replica-tester/pkg/dataconn"
	"github.com/longhorn/replica-tester/pkg/metrics"
)

// ProcessData executes one data channel frame and returns the response to
// send back. A returned error means the data connection, and with it the
// process, cannot continue.
func (r *Replica) ProcessData(frame *dataconn.Frame) (*dataconn.Response, error) {
	h := &frame.Header

	if h.Opcode == dataconn.OpcodeRead || h.Opcode == dataconn.OpcodeWrite {
		r.countDownIOBudget()
	}

	var (
		resp *dataconn.Response
		err  error
	)
	switch h.Opcode {
	case dataconn.OpcodeOpen:
		resp, err = r.handleOpen(frame)
	case dataconn.OpcodeWrite:
		resp, err = r.handleWrite(frame)
	case dataconn.OpcodeRead:
		resp, err = r.handleRead(frame)
	default:
		resp = headerOnlyResponse(h, dataconn.StatusOK)
	}
	if err != nil {
		metrics.DataRequestsTotal.WithLabelValues(dataconn.OpcodeName(h.Opcode), "error").Inc()
		return nil, err
	}
	metrics.DataRequestsTotal.WithLabelValues(dataconn.OpcodeName(h.Opcode), statusLabel(resp.Header.Status)).Inc()
	return resp, nil
}

func (r *Replica) countDownIOBudget() {
	if r.ioBudget <= 0 {
		return
	}
	r.ioBudget--
	if r.ioBudget == 0 {
		logrus.Warnf("Sleeping for %v.. replica(%v)", r.cfg.LongPause, r.Label())
		r.Sleep(r.cfg.LongPause)
	}
}

// headerOnlyResponse echoes the request header with no payload.
func headerOnlyResponse(h *dataconn.FrameHeader, status uint32) *dataconn.Response {
	resp := &dataconn.Response{Header: *h}
	resp.Header.Status = status
	resp.Header.Len = 0
	return resp
}

func (r *Replica) handleOpen(frame *dataconn.Frame) (*dataconn.Response, error) {
	open, err := dataconn.DecodeOpenData(frame.Payload)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedFrame, "invalid open request: %v", err)
	}
	if open.ReplicationFactor == 1 {
		r.health.MarkHealthy()
		r.recordHealth()
	}
	logrus.Infof("Volume name:%v blocksize:%d timeout:%d.. replica(%v) state: %v",
		open.VolumeName, open.TargetBlockSize, open.Timeout, r.Label(), r.health.Snapshot().State)
	return headerOnlyResponse(&frame.Header, dataconn.StatusOK), nil
}

func (r *Replica) handleWrite(frame *dataconn.Frame) (*dataconn.Response, error) {
	h := &frame.Header

	r.Sleep(r.cfg.ResponseDelay)

	sub, err := dataconn.DecodeIOHeader(frame.Payload)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedFrame, "invalid write request: %v", err)
	}
	data := frame.Payload[dataconn.IOHeaderSize:]
	if sub.Len > uint64(len(data)) {
		return nil, errors.Wrapf(ErrMalformedFrame, "write declares %d bytes but carries %d", sub.Len, len(data))
	}
	data = data[:sub.Len]
	if !r.volume.Contains(h.Offset, sub.Len) {
		return nil, errors.Wrapf(ErrOutOfRange, "write offset %d length %d on volume of %d bytes", h.Offset, sub.Len, r.volume.Size())
	}

	if err := r.metadata.Write(h.Offset, sub.Len, sub.IONum); err != nil {
		return nil, err
	}
	if _, err := r.volume.WriteAt(data, int64(h.Offset)); err != nil {
		return nil, errors.Wrapf(err, "failed to write data to %v replica(%v)", r.volume.Path(), r.Label())
	}

	r.writeIOs.Add(1)
	metrics.IOBytesTotal.WithLabelValues("write").Add(float64(len(data)))

	resp := &dataconn.Response{Header: *h}
	resp.Header.Status = dataconn.StatusOK
	return resp, nil
}

func (r *Replica) handleRead(frame *dataconn.Frame) (*dataconn.Response, error) {
	h := &frame.Header

	if !r.health.Quorum() {
		return nil, ErrNoQuorum
	}

	r.Sleep(r.cfg.ResponseDelay)

	if r.injector.FailRead() {
		metrics.InjectedFailuresTotal.WithLabelValues(dataconn.OpcodeName(h.Opcode)).Inc()
		return headerOnlyResponse(h, dataconn.StatusFailed), nil
	}

	if !r.volume.Contains(h.Offset, h.Len) {
		return nil, errors.Wrapf(ErrOutOfRange, "read offset %d length %d on volume of %d bytes", h.Offset, h.Len, r.volume.Size())
	}
	if h.Len > dataconn.MaxPayloadSize {
		return nil, errors.Wrapf(dataconn.ErrPayloadTooLarge, "read of %d bytes", h.Len)
	}

	data := make([]byte, h.Len)
	if _, err := r.volume.ReadAt(data, int64(h.Offset)); err != nil {
		return nil, errors.Wrapf(err, "failed to read completed data from %v off:%d req:%d replica(%v)",
			r.volume.Path(), h.Offset, h.Len, r.Label())
	}

	tagged := h.Flags&dataconn.FlagReadMetadata != 0
	payload, segments := Coalesce(r.metadata, h.Offset, data, tagged)
	metrics.ReadSegments.Observe(float64(segments))

	r.readIOs.Add(1)
	metrics.IOBytesTotal.WithLabelValues("read").Add(float64(len(data)))

	resp := &dataconn.Response{
		Header:  *h,
		Payload: [][]byte{payload},
	}
	resp.Header.Status = dataconn.StatusOK
	resp.Header.Len = uint64(len(payload))
	return resp, nil
}

func statusLabel(status uint32) string {
	switch status {
	case dataconn.StatusOK:
		return "ok"
	case dataconn.StatusFailed:
		return "failed"
	}
	return "unknown"
}
