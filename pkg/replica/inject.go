package replica

import (
	"math/rand"
	"time"
)

const readFailureWindow = 10

// Injector owns every source of injected misbehaviour: the READ failure
// cycle, the random outcomes of snapshot acknowledgements and the sleeps.
type Injector struct {
	errorFrequency int
	readCount      int
	rand           *rand.Rand
	sleep          func(time.Duration)
}

func NewInjector(errorFrequency int, seed int64) *Injector {
	return &Injector{
		errorFrequency: errorFrequency,
		rand:           rand.New(rand.NewSource(seed)),
		sleep:          time.Sleep,
	}
}

// FailRead advances the READ counter, which cycles modulo ten, and reports
// whether this read must fail. Exactly errorFrequency reads out of every ten
// fail.
func (i *Injector) FailRead() bool {
	i.readCount++
	if i.readCount == readFailureWindow {
		i.readCount = 0
	}
	return i.readCount < i.errorFrequency
}

// OneIn returns true with probability 1/n.
func (i *Injector) OneIn(n int) bool {
	return i.rand.Intn(n) == 0
}

// RandomSeconds returns a whole number of seconds in [0, limit].
func (i *Injector) RandomSeconds(limit int) time.Duration {
	return time.Duration(i.rand.Intn(limit+1)) * time.Second
}

func (i *Injector) Sleep(d time.Duration) {
	if d > 0 {
		i.sleep(d)
	}
}
