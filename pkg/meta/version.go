package meta

import (
	"github.com/longhorn/replica-tester/pkg/dataconn"
)

const (
	// ProtocolVersion is the frame version spoken on both channels
	ProtocolVersion = dataconn.ReplicaVersion
)

// Following variables are filled in by main.go
var (
	Version   string
	GitCommit string
	BuildDate string
)

type VersionOutput struct {
	Version         string `json:"version"`
	GitCommit       string `json:"gitCommit"`
	BuildDate       string `json:"buildDate"`
	ProtocolVersion uint32 `json:"protocolVersion"`
}

func GetVersion() VersionOutput {
	return VersionOutput{
		Version:         Version,
		GitCommit:       GitCommit,
		BuildDate:       BuildDate,
		ProtocolVersion: ProtocolVersion,
	}
}
