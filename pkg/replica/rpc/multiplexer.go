package rpc

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/longhorn/replica-tester/pkg/dataconn"
	"github.com/longhorn/replica-tester/pkg/metrics"
	"github.com/longhorn/replica-tester/pkg/replica"
	"github.com/longhorn/replica-tester/pkg/util"
)

const (
	logComponent = "multiplexer"

	defaultReconnectInterval = time.Second
)

type Role int

const (
	RoleListener = Role(iota)
	RoleManagement
	RoleData
)

func (r Role) String() string {
	switch r {
	case RoleListener:
		return "listener"
	case RoleManagement:
		return "management"
	case RoleData:
		return "data"
	}
	return "unknown"
}

type ManagementState int32

const (
	ManagementDisconnected = ManagementState(iota)
	ManagementConnected
	ManagementReconnecting
)

func (s ManagementState) String() string {
	switch s {
	case ManagementDisconnected:
		return "disconnected"
	case ManagementConnected:
		return "connected"
	case ManagementReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

type handle struct {
	role    Role
	conn    *util.FdConn
	reader  *dataconn.FrameReader
	session string
}

func newHandle(role Role, conn *util.FdConn, policy dataconn.PayloadPolicy) *handle {
	h := &handle{
		role: role,
		conn: conn,
	}
	if policy != nil {
		h.reader = dataconn.NewFrameReader(conn, policy)
	}
	return h
}

func (h *handle) String() string {
	if h.session != "" {
		return fmt.Sprintf("%v(fd:%d session:%v)", h.role, h.conn.Fd(), h.session)
	}
	return fmt.Sprintf("%v(fd:%d)", h.role, h.conn.Fd())
}

func (h *handle) log() *logrus.Entry {
	fields := logrus.Fields{
		util.LogComponentField: logComponent,
		"conn":                 h.role.String(),
		"fd":                   h.conn.Fd(),
	}
	if h.session != "" {
		fields["session"] = h.session
	}
	return logrus.WithFields(fields)
}

type Option func(*Multiplexer)

// WithReconnectInterval sets the pause between management reconnect attempts.
func WithReconnectInterval(d time.Duration) Option {
	return func(m *Multiplexer) {
		m.reconnectInterval = d
	}
}

// Multiplexer is the single event loop of a replica. It owns the listening
// socket, the management connection to the controller and at most one data
// connection, and drives every frame through the replica in arrival order.
type Multiplexer struct {
	r      *replica.Replica
	cfg    replica.Config
	poller *Poller

	listener *handle
	mgmt     *handle
	data     *handle
	handles  map[int]*handle

	// retry is cleared once a complete management frame has been read.
	retry             bool
	reconnectInterval time.Duration
	sleep             func(time.Duration)
	accept            func(*util.FdConn) (*util.FdConn, string, error)

	mgmtState atomic.Int32
	stopping  atomic.Bool
}

// NewMultiplexer starts listening for data connections on the replica
// address. The controller is not contacted until Run.
func NewMultiplexer(r *replica.Replica, opts ...Option) (_ *Multiplexer, err error) {
	cfg := r.Config()
	m := &Multiplexer{
		r:                 r,
		cfg:               cfg,
		handles:           map[int]*handle{},
		retry:             cfg.Retry,
		reconnectInterval: defaultReconnectInterval,
		sleep:             time.Sleep,
		accept:            util.Accept,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.poller, err = NewPoller()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			m.Close()
		}
	}()

	conn, err := util.Listen(cfg.ReplicaIP, cfg.ReplicaPort)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %v", cfg.ListenAddress())
	}
	m.listener = newHandle(RoleListener, conn, nil)
	if err := m.register(m.listener); err != nil {
		return nil, err
	}
	logrus.WithField(util.LogComponentField, logComponent).Infof("Listening for data connections on %v", cfg.ListenAddress())
	return m, nil
}

// ListenPort is the port data connections are accepted on.
func (m *Multiplexer) ListenPort() (int, error) {
	return util.LocalPort(m.listener.conn)
}

func (m *Multiplexer) ManagementState() ManagementState {
	return ManagementState(m.mgmtState.Load())
}

func (m *Multiplexer) setManagementState(s ManagementState) {
	m.mgmtState.Store(int32(s))
}

func (m *Multiplexer) register(h *handle) error {
	if err := m.poller.Add(h.conn.Fd()); err != nil {
		return errors.Wrapf(err, "failed to register %v", h)
	}
	m.handles[h.conn.Fd()] = h
	return nil
}

func (m *Multiplexer) release(h *handle) {
	if h == nil || h.conn.Fd() < 0 {
		return
	}
	fd := h.conn.Fd()
	if err := m.poller.Remove(fd); err != nil {
		h.log().WithError(err).Warn("Failed to deregister connection")
	}
	delete(m.handles, fd)
	if err := h.conn.Close(); err != nil {
		h.log().WithError(err).Warn("Failed to close connection")
	}
	switch h {
	case m.mgmt:
		m.mgmt = nil
		m.setManagementState(ManagementDisconnected)
	case m.data:
		m.data = nil
	}
}

// Run connects to the controller and serves events until Shutdown is called
// or a fatal error occurs. A nil return means a requested shutdown.
func (m *Multiplexer) Run() error {
	if err := m.connectManagement(); err != nil {
		return err
	}

	for {
		events, err := m.poller.Wait()
		if err != nil {
			return err
		}
		for _, event := range events {
			fd := int(event.Fd)
			if m.poller.IsWakeup(fd) {
				m.poller.drainWakeup()
				logrus.WithField(util.LogComponentField, logComponent).Info("Event loop stopped")
				return nil
			}

			h, ok := m.handles[fd]
			if !ok {
				continue
			}
			if event.Events&unix.EPOLLIN == 0 {
				h.log().Warnf("Skipping error event 0x%x", event.Events)
				continue
			}

			switch h.role {
			case RoleListener:
				err = m.acceptData()
			case RoleManagement:
				err = m.serveManagement(h)
			case RoleData:
				err = m.serveData(h)
			}
			if err != nil {
				return err
			}
		}
	}
}

// Shutdown asks a running loop to return. It is safe to call from any
// goroutine.
func (m *Multiplexer) Shutdown() error {
	m.stopping.Store(true)
	return m.poller.Wake()
}

// Close releases every socket and the poller. It must not be called while
// Run is active.
func (m *Multiplexer) Close() error {
	m.release(m.data)
	m.release(m.mgmt)
	m.release(m.listener)
	var err error
	if m.poller != nil {
		err = multierr.Append(err, m.poller.Close())
	}
	return err
}

func (m *Multiplexer) connectManagement() error {
	address := m.cfg.ControllerAddress()
	log := logrus.WithFields(logrus.Fields{
		util.LogComponentField: logComponent,
		"conn":                 RoleManagement.String(),
	})

	for {
		conn, err := util.Connect(m.cfg.ControllerIP, m.cfg.ControllerPort)
		if err == nil {
			h := newHandle(RoleManagement, conn, dataconn.ManagementPayload)
			if err := m.register(h); err != nil {
				conn.Close()
				return err
			}
			m.mgmt = h
			m.setManagementState(ManagementConnected)
			h.log().Infof("Connected to controller %v", address)
			return nil
		}
		if !m.retry || m.stopping.Load() {
			return errors.Wrapf(err, "failed to connect to controller %v", address)
		}
		log.WithError(err).Warnf("Failed to connect to controller %v, retrying in %v", address, m.reconnectInterval)
		m.setManagementState(ManagementReconnecting)
		m.sleep(m.reconnectInterval)
	}
}

func (m *Multiplexer) managementFailed(h *handle, cause error) error {
	label, log := h.String(), h.log()
	m.release(h)
	if !m.retry {
		return errors.Wrapf(cause, "management connection %v failed", label)
	}
	log.WithError(cause).Warn("Management connection failed, reconnecting")
	metrics.ManagementReconnectsTotal.Inc()
	m.setManagementState(ManagementReconnecting)
	m.sleep(m.reconnectInterval)
	return m.connectManagement()
}

func (m *Multiplexer) serveManagement(h *handle) error {
	for {
		frame, err := h.reader.ReadFrame()
		if errors.Is(err, dataconn.ErrIncomplete) {
			return nil
		}
		if err != nil {
			return m.managementFailed(h, err)
		}
		if m.retry {
			h.log().Debug("Management connection established, reconnecting is now disabled")
			m.retry = false
		}

		h.log().Debugf("Received %v", dataconn.OpcodeName(frame.Header.Opcode))
		resp, err := m.r.ProcessManagement(frame)
		if err != nil {
			return err
		}
		if err := dataconn.WriteResponse(h.conn, resp); err != nil {
			return m.managementFailed(h, err)
		}
	}
}

func (m *Multiplexer) acceptData() error {
	m.r.Sleep(m.cfg.ConnectionDelay)

	for {
		conn, peer, err := m.accept(m.listener.conn)
		if errors.Is(err, unix.EAGAIN) {
			return nil
		}
		if err != nil {
			if exhausted(err) {
				// the connection stays queued; it is picked up with the next one
				m.listener.log().WithError(err).Error("Failed to accept data connection, out of resources")
				return nil
			}
			m.listener.log().WithError(err).Warn("Failed to accept data connection, skipping it")
			continue
		}

		if m.data != nil {
			m.data.log().Warn("Replacing data connection")
			m.release(m.data)
		}

		h := newHandle(RoleData, conn, dataconn.DataPayload)
		h.session = util.SessionID()
		if err := m.register(h); err != nil {
			conn.Close()
			return err
		}
		m.data = h
		metrics.DataConnectionsTotal.Inc()
		h.log().Infof("Accepted data connection from %v", peer)
	}
}

// exhausted reports accept errors that leave the pending connection in the
// backlog. Retrying them right away would spin.
func exhausted(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE) ||
		errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.ENOMEM)
}

func (m *Multiplexer) serveData(h *handle) error {
	for {
		frame, err := h.reader.ReadFrame()
		if errors.Is(err, dataconn.ErrIncomplete) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "data connection %v failed", h)
		}

		resp, err := m.r.ProcessData(frame)
		if err != nil {
			return errors.Wrapf(err, "data connection %v failed on %v io %d", h,
				dataconn.OpcodeName(frame.Header.Opcode), frame.Header.IONum)
		}
		if err := dataconn.WriteResponse(h.conn, resp); err != nil {
			return errors.Wrapf(err, "data connection %v failed to respond", h)
		}
	}
}
