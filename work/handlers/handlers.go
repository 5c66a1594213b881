package handlers

import (
	"encoding/json"
	"net/http"

	"iptv-relay/work/relay"
	"iptv-relay/work/session"
)

func HandleProxy(h *relay.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.HandleProxy(w, r)
	}
}

func HandleChannels(h *relay.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.HandleChannels(w, r)
	}
}

func HandleSession(s *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			s.HandleLogout(w, r)
			return
		}
		s.HandleLogin(w, r)
	}
}

func HandleHealth(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": version,
		})
	}
}
