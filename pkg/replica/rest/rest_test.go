package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/longhorn/replica-tester/pkg/meta"
	"github.com/longhorn/replica-tester/pkg/replica"
)

func Test(t *testing.T) { TestingT(t) }

type TestSuite struct {
	r      *replica.Replica
	server *httptest.Server
}

var _ = Suite(&TestSuite{})

func (s *TestSuite) SetUpTest(c *C) {
	volume := filepath.Join(c.MkDir(), "volume.img")
	c.Assert(os.WriteFile(volume, make([]byte, 4096), 0666), IsNil)

	var err error
	s.r, err = replica.New(replica.Config{
		ControllerIP:   "127.0.0.1",
		ControllerPort: 6060,
		ReplicaIP:      "127.0.0.1",
		ReplicaPort:    9502,
		VolumePath:     volume,
		ErrorFrequency: 3,
	})
	c.Assert(err, IsNil)

	s.server = httptest.NewServer(NewRouter(NewServer(s.r, func() string { return "connected" })))
}

func (s *TestSuite) TearDownTest(c *C) {
	s.server.Close()
	c.Assert(s.r.Close(), IsNil)
}

func (s *TestSuite) get(c *C, path string) (int, []byte) {
	resp, err := http.Get(s.server.URL + path)
	c.Assert(err, IsNil)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	c.Assert(err, IsNil)
	return resp.StatusCode, body
}

func (s *TestSuite) TestPing(c *C) {
	code, body := s.get(c, "/ping")
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(string(body), Equals, "pong")
}

func (s *TestSuite) TestGetReplica(c *C) {
	code, body := s.get(c, "/v1/replica")
	c.Assert(code, Equals, http.StatusOK)

	var rep Replica
	c.Assert(json.Unmarshal(body, &rep), IsNil)
	c.Assert(rep.Address, Equals, "127.0.0.1:9502")
	c.Assert(rep.Controller, Equals, "127.0.0.1:6060")
	c.Assert(rep.VolumeSize, Equals, int64(4096))
	c.Assert(rep.State, Equals, "degraded")
	c.Assert(rep.RebuildStatus, Equals, "init")
	c.Assert(rep.Quorum, Equals, false)
	c.Assert(rep.ErrorFrequency, Equals, 3)
	c.Assert(rep.ManagementConnection, Equals, "connected")
	c.Assert(rep.ReadIOs, Equals, uint64(0))

	s.r.Health().PollStatus()
	_, body = s.get(c, "/v1/replica")
	c.Assert(json.Unmarshal(body, &rep), IsNil)
	c.Assert(rep.Quorum, Equals, true)
}

func (s *TestSuite) TestGetVersion(c *C) {
	meta.Version = "v1.2.3"
	defer func() { meta.Version = "" }()

	code, body := s.get(c, "/v1/version")
	c.Assert(code, Equals, http.StatusOK)

	var v meta.VersionOutput
	c.Assert(json.Unmarshal(body, &v), IsNil)
	c.Assert(v.Version, Equals, "v1.2.3")
	c.Assert(v.ProtocolVersion, Equals, meta.ProtocolVersion)
}

func (s *TestSuite) TestMetrics(c *C) {
	code, body := s.get(c, "/metrics")
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(string(body), Matches, "(?s).*replica_tester_health_state.*")
}

func (s *TestSuite) TestUnknownRoute(c *C) {
	code, _ := s.get(c, "/v1/replicas/1")
	c.Assert(code, Equals, http.StatusNotFound)
}
