// Package notify turns transition events into channel messages and hands them
// to a uniform send capability. Channel transports live outside the process;
// AppriseSender talks to an apprise-api instance that implements them.
package notify

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/availwatch/internal/common"
)

// Message is a ready-to-send notification.
type Message struct {
	Title  string
	Body   string
	Format Format
}

// Sender delivers msg to a channel target. Implementations return nil on
// success, an error wrapping common.ErrDeliveryPermanent when retrying cannot
// help, and any other error for transient failures. Targets are secrets and
// must never be logged or embedded in returned errors.
type Sender interface {
	Send(ctx context.Context, target string, msg Message) error
}

// Outcome is the classified result of a send.
type Outcome int

const (
	Success Outcome = iota
	TransientFailure
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case PermanentFailure:
		return "permanent"
	default:
		return "transient"
	}
}

// Classify maps a Send result to an Outcome. Unclassified errors, including
// context deadlines, count as transient.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, common.ErrDeliveryPermanent):
		return PermanentFailure
	default:
		return TransientFailure
	}
}
