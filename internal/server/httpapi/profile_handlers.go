package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/server/models"
	"github.com/dmitrijs2005/availwatch/internal/server/services"
	"github.com/go-chi/chi/v5"
)

type profileRequest struct {
	Name         string             `json:"name"`
	FilterMode   models.FilterMode  `json:"filter_mode"`
	ChannelKind  models.ChannelKind `json:"channel_kind"`
	Target       string             `json:"target"`
	WatchedCIIDs []string           `json:"watched_ci_ids"`
}

func (p profileRequest) input() services.ProfileInput {
	return services.ProfileInput{
		Name:         p.Name,
		FilterMode:   p.FilterMode,
		ChannelKind:  p.ChannelKind,
		Target:       p.Target,
		WatchedCIIDs: p.WatchedCIIDs,
	}
}

type deliveryView struct {
	CIID      string                `json:"ci_id"`
	Kind      models.DeliveryKind   `json:"kind"`
	Status    models.DeliveryStatus `json:"status"`
	Attempts  int                   `json:"attempts"`
	Error     string                `json:"error,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	views, err := s.subs.List(r.Context(), identityFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	view, err := s.subs.Create(r.Context(), identityFrom(r.Context()), req.input())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	view, err := s.subs.Get(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	view, err := s.subs.Update(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"), req.input())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.subs.Delete(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := s.subs.Deliveries(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]deliveryView, 0, len(logs))
	for _, l := range logs {
		out = append(out, deliveryView{
			CIID:      l.CIID,
			Kind:      l.Kind,
			Status:    l.Status,
			Attempts:  l.Attempts,
			Error:     l.ErrorMessage,
			CreatedAt: l.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := s.subs.Unsubscribe(r.Context(), chi.URLParam(r, "token")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<html lang="en"><body><p>You have been unsubscribed. The notification profile was deleted.</p></body></html>`))
}
