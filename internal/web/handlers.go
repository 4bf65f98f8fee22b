package web

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skyfeeder/skyfeeder/internal/alerts"
)

// respondJSON writes a JSON response. Encoding failures are logged;
// the status line has already been sent at that point.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"station": s.cfg.Station.Name,
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleAircraft(w http.ResponseWriter, r *http.Request) {
	observations := s.aircraft.Current()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(observations),
		"aircraft": observations,
	})
}

func (s *Server) handleAircraftByICAO(w http.ResponseWriter, r *http.Request) {
	icao := strings.ToUpper(chi.URLParam(r, "icao"))
	for _, obs := range s.aircraft.Current() {
		if obs.ICAO == icao {
			respondJSON(w, http.StatusOK, obs)
			return
		}
	}
	respondError(w, http.StatusNotFound, "aircraft not currently tracked")
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"aircraft_tracked":   len(s.aircraft.Current()),
		"fanout_subscribers": s.hub.ClientCount(),
		"safety_events_live": len(s.monitor.Events()),
	}

	if s.stats != nil {
		dbStats, err := s.stats.GetStats(r.Context())
		if err != nil {
			log.Printf("Failed to collect store stats: %v", err)
		} else {
			for k, v := range dbStats {
				stats[k] = v
			}
		}
	}

	if s.acars != nil {
		stats["acars"] = s.acars.StatsSnapshot()
	}

	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSafetyEvents(w http.ResponseWriter, r *http.Request) {
	events := s.monitor.Events()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}

func (s *Server) handleSafetyAck(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.Acknowledge(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleSafetyUnack(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.Unacknowledge(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "unacknowledged"})
}

func (s *Server) handleSafetyClear(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.Clear(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleSafetyClearAll(w http.ResponseWriter, r *http.Request) {
	cleared := s.monitor.ClearAll(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{"cleared": cleared})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.engine.ListRules(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list alert rules")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(rules),
		"rules": rules,
	})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule alerts.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule payload")
		return
	}

	id, err := s.engine.AddRule(r.Context(), &rule)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule.ID = id
	respondJSON(w, http.StatusCreated, &rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	var rule alerts.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule payload")
		return
	}
	rule.ID = id

	if err := s.engine.UpdateRule(r.Context(), &rule); err != nil {
		if strings.Contains(err.Error(), "not found") {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, &rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	if err := s.engine.DeleteRule(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"count":   0,
			"history": []*alerts.HistoryEntry{},
		})
		return
	}

	limit := queryLimit(r, 100, 1000)
	entries, err := s.history.ListAlertHistory(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list alert history")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"history": entries,
	})
}

func (s *Server) handleAcarsRecent(w http.ResponseWriter, r *http.Request) {
	if s.acars == nil {
		respondError(w, http.StatusNotFound, "acars ingest disabled")
		return
	}

	limit := queryLimit(r, 50, 500)
	messages := s.acars.Recent(limit)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(messages),
		"messages": messages,
	})
}

func (s *Server) handleAcarsStats(w http.ResponseWriter, r *http.Request) {
	if s.acars == nil {
		respondError(w, http.StatusNotFound, "acars ingest disabled")
		return
	}
	respondJSON(w, http.StatusOK, s.acars.StatsSnapshot())
}

// queryLimit parses the "limit" query parameter with a default and cap.
func queryLimit(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
