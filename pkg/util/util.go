package util

import (
	"io"
	"net/http"
	"reflect"
	"runtime"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
)

type filteredLoggingHandler struct {
	filteredPaths  map[string]struct{}
	handler        http.Handler
	loggingHandler http.Handler
}

// FilteredLoggingHandler logs every request except GETs on filteredPaths,
// which are polled too often to be worth a line.
func FilteredLoggingHandler(filteredPaths map[string]struct{}, writer io.Writer, router http.Handler) http.Handler {
	return filteredLoggingHandler{
		filteredPaths:  filteredPaths,
		handler:        router,
		loggingHandler: handlers.CombinedLoggingHandler(writer, router),
	}
}

func (h filteredLoggingHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodGet {
		if _, exists := h.filteredPaths[req.URL.Path]; exists {
			h.handler.ServeHTTP(w, req)
			return
		}
	}
	h.loggingHandler.ServeHTTP(w, req)
}

func GetFunctionName(i interface{}) string {
	return runtime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

func UUID() string {
	return uuid.New().String()
}

// SessionID is a short random label for a connection.
func SessionID() string {
	return UUID()[:8]
}
