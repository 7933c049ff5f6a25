package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/longhorn/replica-tester/pkg/meta"
)

func VersionCmd() cli.Command {
	return cli.Command{
		Name: "version",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "status-url",
				Usage: "URL of a running replica status server to query as well",
			},
		},
		Action: func(c *cli.Context) {
			if err := version(c); err != nil {
				logrus.Fatalln("Error running version command:", err)
			}
		},
	}
}

type VersionOutput struct {
	ClientVersion *meta.VersionOutput `json:"clientVersion"`
	ServerVersion *meta.VersionOutput `json:"serverVersion,omitempty"`
}

func version(c *cli.Context) error {
	clientVersion := meta.GetVersion()
	v := VersionOutput{ClientVersion: &clientVersion}

	if url := c.String("status-url"); url != "" {
		serverVersion, err := getServerVersion(url)
		if err != nil {
			return err
		}
		v.ServerVersion = serverVersion
	}

	output, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}

func getServerVersion(url string) (*meta.VersionOutput, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url + "/v1/version")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get version from %v", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %v getting version from %v", resp.Status, url)
	}

	version := &meta.VersionOutput{}
	if err := json.NewDecoder(resp.Body).Decode(version); err != nil {
		return nil, errors.Wrapf(err, "failed to decode version from %v", url)
	}
	return version, nil
}
