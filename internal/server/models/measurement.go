package models

import "time"

// Measurement is one append-only history row.
type Measurement struct {
	CIID      string    `json:"ci"`
	Timestamp time.Time `json:"ts"`
	State     State     `json:"state"`
}

// Incident is a past Available->Unavailable change recovered from history.
type Incident struct {
	CIID         string
	Name         string
	Organization string
	StartedAt    time.Time
	RecoveredAt  *time.Time
}

// ItemMetrics aggregates the stored history of one item. Every sample's state
// holds until the next sample; the newest one holds until the evaluation time.
// Unknown samples count as neither up nor down.
type ItemMetrics struct {
	CIID               string
	Name               string
	Organization       string
	UptimeMinutes      float64
	DowntimeMinutes    float64
	Incidents          int
	Downtime7dMinutes  float64
	Downtime30dMinutes float64
}

func (m ItemMetrics) AvailabilityPercent() float64 {
	total := m.UptimeMinutes + m.DowntimeMinutes
	if total <= 0 {
		return 0
	}
	return m.UptimeMinutes / total * 100
}

// MTTRMinutes is the mean downtime per incident.
func (m ItemMetrics) MTTRMinutes() float64 {
	if m.Incidents == 0 {
		return 0
	}
	return m.DowntimeMinutes / float64(m.Incidents)
}

// MTBFMinutes is the mean uptime per incident; it needs at least two incidents.
func (m ItemMetrics) MTBFMinutes() float64 {
	if m.Incidents < 2 {
		return 0
	}
	return m.UptimeMinutes / float64(m.Incidents)
}
