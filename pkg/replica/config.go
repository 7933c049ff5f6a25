package replica

import (
	"net"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	MaxErrorFrequency = 10

	DefaultLongPause = 60 * time.Second
)

// Config carries every knob of a replica process. Delays are applied by
// blocking the event loop.
type Config struct {
	ControllerIP   string
	ControllerPort int
	ReplicaIP      string
	ReplicaPort    int
	VolumePath     string

	// Quorum is the initial quorum flag.
	Quorum bool
	// DegradedOnly keeps the replica degraded no matter how often it is polled.
	DegradedOnly bool
	// Retry reconnects the management connection on failure until the first
	// management frame has been received.
	Retry bool

	// IOCount is the number of READ/WRITE requests served before a single
	// LongPause. Zero disables the pause.
	IOCount   int
	LongPause time.Duration
	// ErrorFrequency is the number of injected READ failures per ten reads.
	ErrorFrequency  int
	ResponseDelay   time.Duration
	ConnectionDelay time.Duration
}

func (c *Config) Validate() error {
	if c.VolumePath == "" {
		return errors.New("volume path is required")
	}
	if c.ErrorFrequency < 0 || c.ErrorFrequency > MaxErrorFrequency {
		return errors.Errorf("error frequency %d should be between 0 and %d", c.ErrorFrequency, MaxErrorFrequency)
	}
	if c.IOCount < 0 {
		return errors.Errorf("invalid io count %d", c.IOCount)
	}
	if c.ResponseDelay < 0 || c.ConnectionDelay < 0 || c.LongPause < 0 {
		return errors.New("delays cannot be negative")
	}
	if err := validPort(c.ControllerPort); err != nil {
		return errors.Wrap(err, "invalid controller port")
	}
	if err := validPort(c.ReplicaPort); err != nil {
		return errors.Wrap(err, "invalid replica port")
	}
	if net.ParseIP(c.ReplicaIP) == nil {
		return errors.Errorf("invalid replica ip %q", c.ReplicaIP)
	}
	if c.ControllerIP == "" {
		return errors.New("controller ip is required")
	}
	return nil
}

func validPort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.Errorf("port %d out of range", port)
	}
	return nil
}

// ControllerAddress is the management endpoint the replica dials.
func (c *Config) ControllerAddress() string {
	return net.JoinHostPort(c.ControllerIP, strconv.Itoa(c.ControllerPort))
}

// ListenAddress is where the replica accepts data connections.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.ReplicaIP, strconv.Itoa(c.ReplicaPort))
}
