package httpserver

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/dcrodman/mediaserver/internal/core/router"
	"github.com/dcrodman/mediaserver/internal/core/session"
)

// StatusSource is a server whose sessions show up in the status report.
type StatusSource interface {
	Name() string
	Registry() *session.Registry
}

type sessionStatus struct {
	Endpoint string `json:"endpoint"`
	Alive    bool   `json:"alive"`
}

type serverStatus struct {
	Name     string          `json:"name"`
	Sessions int             `json:"sessions"`
	Clients  []sessionStatus `json:"clients,omitempty"`
}

type statusReport struct {
	Time    time.Time      `json:"time"`
	Servers []serverStatus `json:"servers"`
}

// StatusHandler reports the sessions registered on each source. Handlers run on the
// reactor, which is what makes reading the registries here safe.
func StatusHandler(sources ...StatusSource) router.Handler {
	return func(w http.ResponseWriter, r *http.Request) {
		verbose := r.URL.Query().Get("verbose") != ""

		report := statusReport{Time: time.Now().UTC()}
		for _, src := range sources {
			status := serverStatus{Name: src.Name(), Sessions: src.Registry().Len()}
			if verbose {
				src.Registry().Range(func(s session.Session) bool {
					status.Clients = append(status.Clients, sessionStatus{
						Endpoint: s.RemoteEndpoint(),
						Alive:    s.IsAlive(),
					})
					return true
				})
				sort.Slice(status.Clients, func(i, j int) bool {
					return status.Clients[i].Endpoint < status.Clients[j].Endpoint
				})
			}
			report.Servers = append(report.Servers, status)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	}
}
