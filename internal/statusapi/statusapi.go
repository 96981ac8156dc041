// Package statusapi exposes a small read-only HTTP surface over the
// running server's registry and federation link table — user/channel
// counts, the current link table, and the Prometheus metrics endpoint.
// It is grounded on the teacher's internal/api/api.go and status.go,
// which serve the analogous role for the teacher's protocol, rebuilt on
// gorilla/mux instead of the teacher's hand-rolled path switch since mux
// is already part of the retrieved dependency pack.
package statusapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robustirc/ircfed/internal/federation"
	"github.com/robustirc/ircfed/internal/registry"
)

// Server bundles the dependencies the status handlers read from.
type Server struct {
	Registry  *registry.Registry
	Hub       *federation.Hub
	ServerName string
	Started   time.Time
}

// Handler builds the mux.Router serving /status/*, /metrics.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/status/links", s.handleLinks).Methods(http.MethodGet)
	r.HandleFunc("/status/channels", s.handleChannels).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type statusResponse struct {
	ServerName string    `json:"server_name"`
	Uptime     string    `json:"uptime"`
	Users      int       `json:"users"`
	Channels   int       `json:"channels"`
	Links      int       `json:"links"`
	Since      time.Time `json:"since"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		ServerName: s.ServerName,
		Uptime:     time.Since(s.Started).String(),
		Users:      s.Registry.NumUsers(),
		Channels:   s.Registry.NumChannels(),
		Since:      s.Started,
	}
	if s.Hub != nil {
		resp.Links = len(s.Hub.Links())
	}
	writeJSON(w, resp)
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		writeJSON(w, []federation.LinkInfo{})
		return
	}
	writeJSON(w, s.Hub.Links())
}

type channelSummary struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
	Topic   string `json:"topic"`
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	var out []channelSummary
	for _, c := range s.Registry.Channels() {
		if c.Modes['s'] {
			continue
		}
		out = append(out, channelSummary{Name: c.Name, Members: len(c.Members), Topic: c.Topic})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
