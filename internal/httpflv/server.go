package httpflv

import (
	"net/http"
	"strings"

	"github.com/dcrodman/mediaserver/internal/core/reactor"
	"github.com/dcrodman/mediaserver/internal/httpserver"
)

// StreamKey identifies a live stream as requested by a player.
type StreamKey struct {
	App    string
	Stream string
}

// ParseStreamPath extracts the stream from a request path of the form
// /<app>/<stream>.flv.
func ParseStreamPath(path string) (StreamKey, bool) {
	path = strings.TrimPrefix(path, "/")
	if !strings.HasSuffix(path, ".flv") {
		return StreamKey{}, false
	}
	app, stream, found := strings.Cut(strings.TrimSuffix(path, ".flv"), "/")
	if !found || app == "" || stream == "" || strings.Contains(stream, "/") {
		return StreamKey{}, false
	}
	return StreamKey{App: app, Stream: stream}, true
}

// New returns an HTTP server whose catch-all route answers every
// /<app>/<stream>.flv request with an FLV stream.
func New(r *reactor.Reactor, opts httpserver.Options) (*httpserver.Server, error) {
	if opts.Name == "" {
		opts.Name = "HTTP-FLV"
	}
	srv := httpserver.New(r, opts)
	logger := opts.Logger.WithField("server", opts.Name)

	err := srv.AddGetHandle("/", func(w http.ResponseWriter, req *http.Request) {
		key, ok := ParseStreamPath(req.URL.Path)
		if !ok {
			http.NotFound(w, req)
			return
		}

		logger.Infof("player %s subscribed to %s/%s", req.RemoteAddr, key.App, key.Stream)

		w.Header().Set("Content-Type", "video/x-flv")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(Header)
		w.(http.Flusher).Flush()
	})
	if err != nil {
		return nil, err
	}
	return srv, nil
}
