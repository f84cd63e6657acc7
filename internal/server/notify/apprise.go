package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/go-resty/resty/v2"
)

// AppriseSender delivers through the stateless /notify/ endpoint of an
// apprise-api server, which fans a single request out to the channel named by
// the target URL.
type AppriseSender struct {
	client *resty.Client
}

type appriseRequest struct {
	URLs   string `json:"urls"`
	Title  string `json:"title,omitempty"`
	Body   string `json:"body"`
	Type   string `json:"type"`
	Format string `json:"format"`
}

// NewAppriseSender builds a sender for the apprise-api at baseURL. Retries
// are left to the dispatcher so every attempt is accounted for.
func NewAppriseSender(baseURL string, timeout time.Duration) *AppriseSender {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &AppriseSender{client: client}
}

func (s *AppriseSender) Send(ctx context.Context, target string, msg Message) error {
	req := appriseRequest{
		URLs:   target,
		Title:  msg.Title,
		Body:   msg.Body,
		Type:   "info",
		Format: string(msg.Format),
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/notify/")
	if err != nil {
		return fmt.Errorf("%w: apprise request failed: %v", common.ErrDeliveryTransient, err)
	}

	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case isPermanentStatus(code):
		return fmt.Errorf("%w: apprise returned %d", common.ErrDeliveryPermanent, code)
	default:
		return fmt.Errorf("%w: apprise returned %d", common.ErrDeliveryTransient, code)
	}
}

// isPermanentStatus lists the responses apprise-api gives for a target it
// cannot parse or a channel that rejected the credentials.
func isPermanentStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}
