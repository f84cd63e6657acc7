package models

import "time"

// DeliveryKind classifies the transition a delivery reported.
type DeliveryKind string

const (
	DeliveryIncident DeliveryKind = "incident"
	DeliveryRecovery DeliveryKind = "recovery"
	DeliveryChange   DeliveryKind = "change"
)

// DeliveryStatus is the final outcome of a delivery.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryLog records the outcome of notifying one profile about one item.
type DeliveryLog struct {
	ID           int64
	ProfileID    string
	CIID         string
	Kind         DeliveryKind
	Status       DeliveryStatus
	Attempts     int
	ErrorMessage string
	CreatedAt    time.Time
}

// KindOf derives the delivery kind from a transition.
func KindOf(e TransitionEvent) DeliveryKind {
	switch {
	case e.IsIncident():
		return DeliveryIncident
	case e.IsRecovery():
		return DeliveryRecovery
	default:
		return DeliveryChange
	}
}
