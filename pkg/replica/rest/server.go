package rest

import (
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/longhorn/replica-tester/pkg/meta"
	"github.com/longhorn/replica-tester/pkg/replica"
	"github.com/longhorn/replica-tester/pkg/util"
)

// Server exposes a read-only view of a running replica.
type Server struct {
	r *replica.Replica
	// managementConnection reports the state of the controller connection.
	managementConnection func() string
}

func NewServer(r *replica.Replica, managementConnection func() string) *Server {
	return &Server{
		r:                    r,
		managementConnection: managementConnection,
	}
}

func (s *Server) GetReplica(rw http.ResponseWriter, req *http.Request) error {
	state := "unknown"
	if s.managementConnection != nil {
		state = s.managementConnection()
	}
	return writeJSON(rw, http.StatusOK, NewReplica(s.r, state))
}

func (s *Server) GetVersion(rw http.ResponseWriter, req *http.Request) error {
	return writeJSON(rw, http.StatusOK, meta.GetVersion())
}

// ListenAndServe starts the status server in the background.
func ListenAndServe(address string, s *Server) *http.Server {
	filtered := map[string]struct{}{
		"/ping":    {},
		"/metrics": {},
	}
	server := &http.Server{
		Addr:              address,
		Handler:           util.FilteredLoggingHandler(filtered, os.Stdout, NewRouter(s)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logrus.Infof("Listening on status server %v", address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("Status server stopped")
		}
	}()
	return server
}
