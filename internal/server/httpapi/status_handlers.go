package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/server/models"
	"github.com/go-chi/chi/v5"
)

type itemView struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Product        string       `json:"product"`
	Organization   string       `json:"organization"`
	State          models.State `json:"state"`
	LastChangedAt  time.Time    `json:"last_changed_at"`
	LastObservedAt time.Time    `json:"last_observed_at"`
	Stale          bool         `json:"stale"`
}

type incidentView struct {
	CIID         string     `json:"ci_id"`
	Name         string     `json:"name"`
	Organization string     `json:"organization"`
	StartedAt    time.Time  `json:"started_at"`
	RecoveredAt  *time.Time `json:"recovered_at,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.status.Ping(r.Context()); err != nil {
		s.logger.Warn(r.Context(), "health check failed", "error", err)
		writeMessage(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.status.Items(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]itemView, 0, len(items))
	for _, it := range items {
		out = append(out, itemView{
			ID:             it.ID,
			Name:           it.Name,
			Product:        it.Product,
			Organization:   it.Organization,
			State:          it.CurrentState,
			LastChangedAt:  it.LastChangedAt,
			LastObservedAt: it.LastObservedAt,
			Stale:          it.Stale,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) itemHistory(w http.ResponseWriter, r *http.Request) {
	hours, _ := strconv.Atoi(r.URL.Query().Get("hours"))

	rows, err := s.status.History(r.Context(), chi.URLParam(r, "id"), time.Duration(hours)*time.Hour)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []models.Measurement{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) listIncidents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	incidents, err := s.status.Incidents(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]incidentView, 0, len(incidents))
	for _, in := range incidents {
		out = append(out, incidentView{
			CIID:         in.CIID,
			Name:         in.Name,
			Organization: in.Organization,
			StartedAt:    in.StartedAt,
			RecoveredAt:  in.RecoveredAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	st, err := s.status.Statistics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
