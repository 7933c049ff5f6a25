package rest

import (
	"github.com/longhorn/replica-tester/pkg/replica"
)

type Replica struct {
	Address              string `json:"address"`
	Controller           string `json:"controller"`
	Volume               string `json:"volume"`
	VolumeSize           int64  `json:"volumeSize,string"`
	State                string `json:"state"`
	RebuildStatus        string `json:"rebuildStatus"`
	Quorum               bool   `json:"quorum"`
	StatusPolls          int    `json:"statusPolls"`
	DegradedOnly         bool   `json:"degradedOnly"`
	ErrorFrequency       int    `json:"errorFrequency"`
	ManagementConnection string `json:"managementConnection"`
	ReadIOs              uint64 `json:"readIOs,string"`
	WriteIOs             uint64 `json:"writeIOs,string"`
}

func NewReplica(r *replica.Replica, managementConnection string) *Replica {
	cfg := r.Config()
	health := r.Health().Snapshot()
	return &Replica{
		Address:              cfg.ListenAddress(),
		Controller:           cfg.ControllerAddress(),
		Volume:               r.Volume().Path(),
		VolumeSize:           r.Volume().Size(),
		State:                health.State.String(),
		RebuildStatus:        health.RebuildStatus.String(),
		Quorum:               health.Quorum,
		StatusPolls:          health.StatusPolls,
		DegradedOnly:         cfg.DegradedOnly,
		ErrorFrequency:       cfg.ErrorFrequency,
		ManagementConnection: managementConnection,
		ReadIOs:              r.ReadIOs(),
		WriteIOs:             r.WriteIOs(),
	}
}
