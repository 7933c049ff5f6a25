package replica

import (
	"time"

	"github.com/cockroachdb/errors"
	. "gopkg.in/check.v1"

	"github.com/longhorn/replica-tester/pkg/dataconn"
)

type HealthSuite struct{}

var _ = Suite(&HealthSuite{})

func (s *HealthSuite) TestInitialState(c *C) {
	h := NewHealth(false, false)
	snap := h.Snapshot()
	c.Assert(snap.State, Equals, dataconn.HealthDegraded)
	c.Assert(snap.RebuildStatus, Equals, dataconn.RebuildInit)
	c.Assert(snap.Quorum, Equals, false)
	c.Assert(snap.StatusPolls, Equals, 0)

	c.Assert(NewHealth(true, false).Quorum(), Equals, true)
}

func (s *HealthSuite) TestRebuildCompletesOnThirdPoll(c *C) {
	h := NewHealth(false, false)
	c.Assert(h.StartRebuild(), IsNil)

	ack := h.PollStatus()
	c.Assert(ack, DeepEquals, dataconn.StatusAck{State: dataconn.HealthDegraded, RebuildStatus: dataconn.RebuildSnapInProgress})
	c.Assert(h.Quorum(), Equals, true)

	ack = h.PollStatus()
	c.Assert(ack, DeepEquals, dataconn.StatusAck{State: dataconn.HealthDegraded, RebuildStatus: dataconn.RebuildSnapInProgress})
	c.Assert(h.Snapshot().StatusPolls, Equals, 2)

	ack = h.PollStatus()
	c.Assert(ack, DeepEquals, dataconn.StatusAck{State: dataconn.HealthHealthy, RebuildStatus: dataconn.RebuildDone})
	c.Assert(h.Snapshot().StatusPolls, Equals, 0)

	ack = h.PollStatus()
	c.Assert(ack.State, Equals, dataconn.HealthHealthy)

	err := h.StartRebuild()
	c.Assert(errors.Is(err, ErrInvalidTransition), Equals, true)
}

func (s *HealthSuite) TestPollsWithoutRebuildAreNotCounted(c *C) {
	h := NewHealth(false, false)
	for i := 0; i < 5; i++ {
		ack := h.PollStatus()
		c.Assert(ack.State, Equals, dataconn.HealthDegraded)
		c.Assert(ack.RebuildStatus, Equals, dataconn.RebuildInit)
	}
	c.Assert(h.Snapshot().StatusPolls, Equals, 0)
}

func (s *HealthSuite) TestDegradedOnly(c *C) {
	h := NewHealth(false, true)
	c.Assert(h.StartRebuild(), IsNil)
	for i := 0; i < 10; i++ {
		ack := h.PollStatus()
		c.Assert(ack.State, Equals, dataconn.HealthDegraded)
		c.Assert(ack.RebuildStatus, Equals, dataconn.RebuildSnapInProgress)
	}
}

func (s *HealthSuite) TestMarkHealthy(c *C) {
	h := NewHealth(true, false)
	h.MarkHealthy()
	snap := h.Snapshot()
	c.Assert(snap.State, Equals, dataconn.HealthHealthy)
	c.Assert(snap.RebuildStatus, Equals, dataconn.RebuildDone)
	c.Assert(errors.Is(h.StartRebuild(), ErrInvalidTransition), Equals, true)
}

type InjectorSuite struct{}

var _ = Suite(&InjectorSuite{})

func (s *InjectorSuite) TestReadFailureCycle(c *C) {
	for freq := 0; freq <= MaxErrorFrequency; freq++ {
		i := NewInjector(freq, 1)
		failures := 0
		for n := 0; n < 100; n++ {
			if i.FailRead() {
				failures++
			}
		}
		c.Assert(failures, Equals, freq*10, Commentf("frequency %d", freq))
	}
}

func (s *InjectorSuite) TestFailuresPerWindow(c *C) {
	i := NewInjector(3, 1)
	for window := 0; window < 5; window++ {
		failures := 0
		for n := 0; n < 10; n++ {
			if i.FailRead() {
				failures++
			}
		}
		c.Assert(failures, Equals, 3)
	}
}

func (s *InjectorSuite) TestRandomRanges(c *C) {
	i := NewInjector(0, 42)
	for n := 0; n < 50; n++ {
		c.Assert(i.OneIn(1), Equals, true)
		d := i.RandomSeconds(1)
		c.Assert(d == 0 || d == time.Second, Equals, true)
	}
}

func (s *InjectorSuite) TestSleepSkipsZero(c *C) {
	var slept []time.Duration
	i := NewInjector(0, 1)
	i.sleep = func(d time.Duration) { slept = append(slept, d) }

	i.Sleep(0)
	i.Sleep(-time.Second)
	i.Sleep(2 * time.Second)
	c.Assert(slept, DeepEquals, []time.Duration{2 * time.Second})
}
