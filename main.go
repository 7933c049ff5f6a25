package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/longhorn/replica-tester/app/cmd"
	"github.com/longhorn/replica-tester/pkg/meta"
	"github.com/longhorn/replica-tester/pkg/util"
)

// following variables will be filled by `-ldflags "-X ..."`
var (
	Version   = "v0.0.0-dev"
	GitCommit = ""
	BuildDate = ""
)

func main() {
	meta.Version = Version
	meta.GitCommit = GitCommit
	meta.BuildDate = BuildDate

	a := cli.NewApp()
	a.Version = Version
	a.Usage = "fault-injecting block replica for exercising storage controllers"
	a.Before = func(c *cli.Context) error {
		return util.SetUpLogger(c.GlobalString("log-format"), c.GlobalBool("debug"))
	}
	a.Flags = []cli.Flag{
		cli.BoolFlag{
			Name: "debug",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: util.LogFormatText,
			Usage: "Log format, text or json",
		},
	}
	a.Commands = []cli.Command{
		cmd.ReplicaCmd(),
		cmd.VersionCmd(),
	}
	if err := a.Run(os.Args); err != nil {
		logrus.Fatal("Error when executing command: ", err)
	}
}
