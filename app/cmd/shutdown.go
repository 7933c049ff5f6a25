package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/longhorn/replica-tester/pkg/util"
)

var (
	hooks = []func(){}
)

// addShutdown registers f to run on SIGINT or SIGTERM. Hooks only ask the
// main loop to stop; the command itself releases resources and exits.
func addShutdown(f func()) {
	if len(hooks) == 0 {
		registerShutdown()
	}

	hooks = append(hooks, f)
	logrus.Debugf("Added shutdown func %v", util.GetFunctionName(f))
}

func registerShutdown() {
	c := make(chan os.Signal, 1024)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for s := range c {
			logrus.Warnf("Received signal %v to shutdown", s)
			for _, hook := range hooks {
				logrus.Warnf("Starting to execute registered shutdown func %v", util.GetFunctionName(hook))
				hook()
			}
		}
	}()
}

// onHangup runs f on every SIGHUP.
func onHangup(f func()) {
	c := make(chan os.Signal, 16)
	signal.Notify(c, syscall.SIGHUP)
	go func() {
		for range c {
			f()
		}
	}()
}
