// Package statusapi reads the current availability snapshot of every
// configuration item from the upstream status endpoint.
package statusapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/dmitrijs2005/availwatch/internal/logging"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
	"github.com/go-resty/resty/v2"
)

// Upstream timestamps look like 2025-03-01T10:00:00.123456Z. RFC 3339 with
// an offset is accepted as well.
var timeLayouts = []string{
	"2006-01-02T15:04:05.999999999Z",
	time.RFC3339Nano,
}

type record struct {
	CI           json.RawMessage `json:"ci"`
	Name         string          `json:"name"`
	Organization string          `json:"organization"`
	Product      string          `json:"product"`
	Availability json.Number     `json:"availability"`
	Time         string          `json:"time"`
}

// Client fetches the snapshot with a bounded number of retries.
type Client struct {
	client *resty.Client
	url    string
	log    logging.Logger
}

// NewClient builds a client for url. Transport errors, 429 and 5xx
// responses are retried up to retries times.
func NewClient(url string, timeout time.Duration, retries int, log logging.Logger) *Client {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	return &Client{client: client, url: url, log: log.With("module", "statusapi")}
}

// FetchAll returns one observation per well-formed record. Records without
// an id or with an unparseable timestamp are skipped. Every failure of the
// request itself wraps common.ErrFetch.
func (c *Client) FetchAll(ctx context.Context) ([]models.Observation, error) {
	resp, err := c.client.R().SetContext(ctx).Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrFetch, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: upstream returned %d", common.ErrFetch, resp.StatusCode())
	}

	var records []record
	if err := json.NewDecoder(bytes.NewReader(resp.Body())).Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: decode snapshot: %w", common.ErrFetch, err)
	}

	out := make([]models.Observation, 0, len(records))
	skipped := 0
	for _, r := range records {
		o, ok := r.observation()
		if !ok {
			skipped++
			continue
		}
		out = append(out, o)
	}
	if skipped > 0 {
		c.log.Warn(ctx, "malformed records skipped", "skipped", skipped, "total", len(records))
	}
	return out, nil
}

func (r record) observation() (models.Observation, bool) {
	id := ciID(r.CI)
	if id == "" {
		return models.Observation{}, false
	}
	ts, ok := parseTime(r.Time)
	if !ok {
		return models.Observation{}, false
	}

	state := models.StateUnknown
	if v, err := strconv.ParseFloat(r.Availability.String(), 64); err == nil && v == float64(int(v)) {
		state = models.StateFromAvailability(int(v))
	}

	return models.Observation{
		CIID: id,
		CIMetadata: models.CIMetadata{
			Name:         r.Name,
			Product:      r.Product,
			Organization: r.Organization,
		},
		State:     state,
		Timestamp: ts,
	}, true
}

// ciID accepts the id as a JSON string or a bare number.
func ciID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
