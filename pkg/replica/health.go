package replica

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/longhorn/replica-tester/pkg/dataconn"
)

// statusPollsBeforeHealthy is the number of status polls observed while a
// rebuild is in progress before the replica reports itself healthy.
const statusPollsBeforeHealthy = 2

var ErrInvalidTransition = errors.New("invalid replica state transition")

// Health is the rebuild/quorum state machine. Transitions only go forward:
// Degraded to Healthy, and Init to SnapInProgress to Done. It is mutated by
// the event loop only; the lock lets observers take snapshots.
type Health struct {
	sync.RWMutex

	state         dataconn.HealthState
	rebuildStatus dataconn.RebuildStatus
	quorum        bool
	statusPolls   int
	degradedOnly  bool
}

type HealthSnapshot struct {
	State         dataconn.HealthState
	RebuildStatus dataconn.RebuildStatus
	Quorum        bool
	StatusPolls   int
}

func NewHealth(quorum, degradedOnly bool) *Health {
	return &Health{
		state:         dataconn.HealthDegraded,
		rebuildStatus: dataconn.RebuildInit,
		quorum:        quorum,
		degradedOnly:  degradedOnly,
	}
}

func (h *Health) Snapshot() HealthSnapshot {
	h.RLock()
	defer h.RUnlock()
	return HealthSnapshot{
		State:         h.state,
		RebuildStatus: h.rebuildStatus,
		Quorum:        h.quorum,
		StatusPolls:   h.statusPolls,
	}
}

func (h *Health) Quorum() bool {
	h.RLock()
	defer h.RUnlock()
	return h.quorum
}

// MarkHealthy is used when the volume is opened with a single replica, in
// which case there is nothing to rebuild from.
func (h *Health) MarkHealthy() {
	h.Lock()
	defer h.Unlock()
	h.state = dataconn.HealthHealthy
	h.rebuildStatus = dataconn.RebuildDone
}

// StartRebuild is only legal on a degraded replica.
func (h *Health) StartRebuild() error {
	h.Lock()
	defer h.Unlock()
	if h.state != dataconn.HealthDegraded {
		return errors.Wrapf(ErrInvalidTransition, "cannot start rebuild on a %v replica", h.state)
	}
	h.rebuildStatus = dataconn.RebuildSnapInProgress
	return nil
}

// PollStatus records a status query and returns the state to report. Polls
// seen while a rebuild is in progress are counted; once enough of them were
// seen the rebuild completes, unless the replica is pinned degraded. Any
// status query grants quorum.
func (h *Health) PollStatus() dataconn.StatusAck {
	h.Lock()
	defer h.Unlock()

	if h.statusPolls >= statusPollsBeforeHealthy &&
		h.rebuildStatus == dataconn.RebuildSnapInProgress &&
		!h.degradedOnly {
		h.state = dataconn.HealthHealthy
		h.rebuildStatus = dataconn.RebuildDone
		h.statusPolls = 0
	}
	if h.rebuildStatus == dataconn.RebuildSnapInProgress {
		h.statusPolls++
	}
	h.quorum = true

	return dataconn.StatusAck{
		State:         h.state,
		RebuildStatus: h.rebuildStatus,
	}
}
