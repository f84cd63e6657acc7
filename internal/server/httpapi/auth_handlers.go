package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/dmitrijs2005/availwatch/internal/server/services"
)

type challengeRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// issueChallenge answers the same way whether or not the address owns any
// profile.
func (s *Server) issueChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	identity, err := services.NormalizeIdentity(req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.limiter != nil && !s.limiter.Allow(identity) {
		s.writeError(w, r, fmt.Errorf("%w: login codes", common.ErrRateLimited))
		return
	}

	if err := s.auth.IssueChallenge(r.Context(), identity); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "if the address is valid, a code has been sent"})
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, err := s.auth.Verify(r.Context(), req.Email, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: sess.Token, ExpiresAt: sess.ExpiresAt})
}
