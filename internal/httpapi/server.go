// internal/httpapi/server.go
//
// HTTP server helper with fixed timeouts.
//
// The ops listener only serves small JSON documents, but a provisioning
// call runs migrations inline, so WriteTimeout must outlast the
// provisioning step timeout.  NewServer takes that bound from the caller.

package httpapi

import (
	"net/http"
	"time"
)

const (
	readTimeout  = 10 * time.Second
	idleTimeout  = 60 * time.Second
	writeTimeout = 15 * time.Second
)

// NewServer constructs an *http.Server for the ops router.  slowest is the
// longest handler runtime expected (the provisioning timeout); the write
// timeout is raised to cover it.
func NewServer(addr string, h http.Handler, slowest time.Duration) *http.Server {
	wt := writeTimeout
	if slowest > 0 {
		// create, migrate and seed each get the full step budget
		if need := 3*slowest + 5*time.Second; need > wt {
			wt = need
		}
	}
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      wt,
		IdleTimeout:       idleTimeout,
	}
}
