package debug

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/sirupsen/logrus"
)

// PprofServer is the default pprof HTTP server, which can be accessed via
// localhost to get runtime information about the media server. See
// https://golang.org/pkg/net/http/pprof/
type PprofServer struct {
	server *http.Server
	logger *logrus.Logger
}

// StartPprofServer starts serving pprof on localhost:port in the background.
func StartPprofServer(logger *logrus.Logger, port int) *PprofServer {
	listenerAddr := fmt.Sprintf("localhost:%d", port)
	logger.Infof("starting pprof server on %s", listenerAddr)

	p := &PprofServer{
		server: &http.Server{Addr: listenerAddr, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
	go func() {
		if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warnf("error starting pprof server: %s", err)
		}
	}()
	return p
}

func (p *PprofServer) Shutdown(ctx context.Context) {
	if err := p.server.Shutdown(ctx); err != nil {
		p.logger.Warnf("error shutting down pprof server: %v", err)
	}
}
