package replica

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/longhorn/replica-tester/pkg/dataconn"
	"github.com/longhorn/replica-tester/pkg/metrics"
)

const (
	checkpointedIOSeq = 1000
	usedStatLabel     = "used"
	usedStatValue     = 10000
)

var (
	ErrNoQuorum       = errors.New("read request on a replica without quorum")
	ErrMalformedFrame = errors.New("malformed frame")
)

// ProtocolError is raised when the controller issues an opcode the replica
// state does not allow. It is fatal for the whole process.
type ProtocolError struct {
	Opcode uint32
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation on %v: %v", dataconn.OpcodeName(e.Opcode), e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// Replica is the state shared by every opcode handler: the volume, its
// block write log, the health state machine and the fault injector. It is
// driven by a single event loop and is not safe for concurrent mutation;
// only the counters and the health snapshot may be read from elsewhere.
type Replica struct {
	cfg      Config
	volume   *Volume
	metadata *MetadataStore
	health   *Health
	injector *Injector

	// ioBudget counts down the READ/WRITE requests left before the long
	// pause; it is inert once it reaches zero.
	ioBudget int

	readIOs  atomic.Uint64
	writeIOs atomic.Uint64
}

type Option func(*Replica)

// WithSleeper replaces time.Sleep for every delay the replica injects.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(r *Replica) {
		r.injector.sleep = sleep
		r.volume.sleep = sleep
	}
}

// WithSeed makes the random outcomes of management acknowledgements
// reproducible.
func WithSeed(seed int64) Option {
	return func(r *Replica) {
		r.injector.rand = rand.New(rand.NewSource(seed))
	}
}

// New opens the volume and its metadata sidecar.
func New(cfg Config, opts ...Option) (*Replica, error) {
	volume, err := OpenVolume(cfg.VolumePath)
	if err != nil {
		return nil, err
	}

	metadata, err := OpenMetadataStore(cfg.VolumePath, volume.Size())
	if err != nil {
		return nil, multierr.Append(errors.Wrapf(err, "failed to initialize metadata for replica %v", cfg.ReplicaPort), volume.Close())
	}

	return NewWithStore(cfg, volume, metadata, opts...), nil
}

// NewWithStore builds a replica over an already opened volume and store.
func NewWithStore(cfg Config, volume *Volume, metadata *MetadataStore, opts ...Option) *Replica {
	if cfg.LongPause == 0 {
		cfg.LongPause = DefaultLongPause
	}
	r := &Replica{
		cfg:      cfg,
		volume:   volume,
		metadata: metadata,
		health:   NewHealth(cfg.Quorum, cfg.DegradedOnly),
		injector: NewInjector(cfg.ErrorFrequency, time.Now().Unix()),
		ioBudget: cfg.IOCount,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.recordHealth()
	return r
}

func (r *Replica) Config() Config {
	return r.cfg
}

func (r *Replica) Health() *Health {
	return r.health
}

func (r *Replica) Metadata() *MetadataStore {
	return r.metadata
}

func (r *Replica) Volume() *Volume {
	return r.volume
}

func (r *Replica) ReadIOs() uint64 {
	return r.readIOs.Load()
}

func (r *Replica) WriteIOs() uint64 {
	return r.writeIOs.Load()
}

func (r *Replica) Sleep(d time.Duration) {
	r.injector.Sleep(d)
}

// Label names the replica in log lines.
func (r *Replica) Label() string {
	return fmt.Sprintf("%v:%v", r.cfg.ReplicaIP, r.cfg.ReplicaPort)
}

func (r *Replica) recordHealth() {
	s := r.health.Snapshot()
	metrics.RecordHealth(uint16(s.State), uint16(s.RebuildStatus), s.Quorum)
}

// Close releases the volume and unmaps the metadata file.
func (r *Replica) Close() error {
	logrus.Infof("Shutting down replica(%v) IOs(read:%d write:%d)", r.Label(), r.ReadIOs(), r.WriteIOs())
	return multierr.Combine(r.metadata.Close(), r.volume.Close())
}
