package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"go.uber.org/multierr"

	"github.com/longhorn/replica-tester/pkg/replica"
	"github.com/longhorn/replica-tester/pkg/replica/rest"
	replicarpc "github.com/longhorn/replica-tester/pkg/replica/rpc"
)

func ReplicaCmd() cli.Command {
	return cli.Command{
		Name:  "replica",
		Usage: "serve a volume to a controller, injecting delays and failures",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "controller-ip",
				Usage: "IP address of the controller management endpoint",
			},
			cli.IntFlag{
				Name:  "controller-port",
				Usage: "Port of the controller management endpoint",
			},
			cli.StringFlag{
				Name:  "replica-ip",
				Usage: "IP address to accept data connections on",
			},
			cli.IntFlag{
				Name:  "replica-port",
				Usage: "Port to accept data connections on, also used as the replica identity",
			},
			cli.StringFlag{
				Name:  "volume",
				Usage: "Path of the pre-existing backing file or device",
			},
			cli.BoolFlag{
				Name:  "quorum",
				Usage: "Start as a member of the quorum",
			},
			cli.IntFlag{
				Name:  "io-count",
				Usage: "Number of READ/WRITE requests to serve before sleeping for a minute, 0 to disable",
			},
			cli.BoolFlag{
				Name:  "degraded",
				Usage: "Never complete a rebuild",
			},
			cli.IntFlag{
				Name:  "error-freq",
				Usage: "Number of READ requests out of every ten to fail, between 0 and 10",
			},
			cli.IntFlag{
				Name:  "delay",
				Usage: "Seconds to sleep before answering each READ/WRITE",
			},
			cli.IntFlag{
				Name:  "delay-connection",
				Usage: "Seconds to sleep while accepting data connections and answering status requests",
			},
			cli.BoolFlag{
				Name:  "retry",
				Usage: "Reconnect to the controller on failure until the first management request is received",
			},
			cli.StringFlag{
				Name:  "status-listen",
				Usage: "Address of the HTTP status and metrics server, leave it empty to disable",
			},
		},
		Action: func(c *cli.Context) {
			if err := startReplica(c); err != nil {
				logrus.WithError(err).Fatalf("Error running replica command")
			}
		},
	}
}

func replicaConfig(c *cli.Context) (replica.Config, error) {
	cfg := replica.Config{
		ControllerIP:    c.String("controller-ip"),
		ControllerPort:  c.Int("controller-port"),
		ReplicaIP:       c.String("replica-ip"),
		ReplicaPort:     c.Int("replica-port"),
		VolumePath:      c.String("volume"),
		Quorum:          c.Bool("quorum"),
		DegradedOnly:    c.Bool("degraded"),
		Retry:           c.Bool("retry"),
		IOCount:         c.Int("io-count"),
		LongPause:       replica.DefaultLongPause,
		ErrorFrequency:  c.Int("error-freq"),
		ResponseDelay:   time.Duration(c.Int("delay")) * time.Second,
		ConnectionDelay: time.Duration(c.Int("delay-connection")) * time.Second,
	}
	if err := cfg.Validate(); err != nil {
		return replica.Config{}, err
	}
	return cfg, nil
}

func startReplica(c *cli.Context) error {
	cfg, err := replicaConfig(c)
	if err != nil {
		return err
	}

	r, err := replica.New(cfg)
	if err != nil {
		return err
	}

	m, err := replicarpc.NewMultiplexer(r)
	if err != nil {
		return multierr.Append(err, r.Close())
	}

	var status *http.Server
	if address := c.String("status-listen"); address != "" {
		status = rest.ListenAndServe(address, rest.NewServer(r, func() string {
			return m.ManagementState().String()
		}))
	}

	addShutdown(func() {
		if err := m.Shutdown(); err != nil {
			logrus.WithError(err).Warn("Failed to stop the event loop")
		}
	})
	onHangup(func() {
		fmt.Printf("read IOs:%d write IOs:%d\n", r.ReadIOs(), r.WriteIOs())
	})

	logrus.Infof("Starting replica %v for controller %v", cfg.ListenAddress(), cfg.ControllerAddress())
	err = m.Run()
	if status != nil {
		err = multierr.Append(err, status.Close())
	}
	return multierr.Combine(err, m.Close(), r.Close())
}
