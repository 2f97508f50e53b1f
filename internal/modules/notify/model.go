// README: Notification messages and the delivery sink contract.
package notify

import (
	"context"

	"tgtaxi/internal/types"
)

type Message struct {
	Recipient types.ID
	Text      string
	// OpenApp attaches a button that opens the mini app.
	OpenApp bool
}

// Sink delivers one message to the external channel.
type Sink interface {
	Send(ctx context.Context, m Message) error
}

const (
	outcomeSent    = "sent"
	outcomeRetried = "retried"
	outcomeFailed  = "failed"
	outcomeDropped = "dropped"
)
