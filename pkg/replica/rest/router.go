package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func HandleError(t func(http.ResponseWriter, *http.Request) error) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if err := t(rw, req); err != nil {
			logrus.WithError(err).Warnf("Failed to serve %v", req.URL.Path)
			writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	})
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) error {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	return json.NewEncoder(rw).Encode(v)
}

func NewRouter(s *Server) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)

	router.Methods("GET").Path("/ping").Handler(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Write([]byte("pong"))
	}))

	router.Methods("GET").Path("/v1/replica").Handler(HandleError(s.GetReplica))
	router.Methods("GET").Path("/v1/version").Handler(HandleError(s.GetVersion))
	router.Methods("GET").Path("/metrics").Handler(promhttp.Handler())

	return router
}
