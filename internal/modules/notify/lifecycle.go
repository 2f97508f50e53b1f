// README: Order observer that tells clients and drivers about lifecycle changes.
package notify

import (
	"context"
	"fmt"

	"tgtaxi/internal/modules/order"
	"tgtaxi/internal/types"
)

type Notifier interface {
	Notify(m Message) bool
}

// OrderNotifier turns committed transitions into chat messages for the people involved.
type OrderNotifier struct {
	out Notifier
}

func NewOrderNotifier(out Notifier) *OrderNotifier {
	return &OrderNotifier{out: out}
}

func (n *OrderNotifier) OrderChanged(_ context.Context, c order.Change) {
	for _, m := range Messages(c) {
		n.out.Notify(m)
	}
}

// Messages renders the notifications for one transition.
func Messages(c order.Change) []Message {
	o := c.Order
	ref := o.ID.Short()
	var out []Message
	to := func(id types.ID, format string, args ...any) {
		if id == "" || id == c.Actor.ID {
			return
		}
		out = append(out, Message{Recipient: id, Text: fmt.Sprintf(format, args...), OpenApp: true})
	}
	driver := types.ID("")
	if o.DriverID != nil {
		driver = *o.DriverID
	}

	switch {
	case c.From == order.StatusNew && o.Status == order.StatusAccepted:
		to(o.ClientID, "✅ Driver accepted order %s. Price: %s", ref, o.Price)
	case c.From == order.StatusNew && o.Status == order.StatusBidding:
		to(o.ClientID, "🚕 A driver is reviewing order %s and will send a price", ref)
	case c.From == order.StatusBidding && o.Status == order.StatusBidding && o.DriverBidPrice != nil:
		to(o.ClientID, "💰 Driver offers %s for order %s", *o.DriverBidPrice, ref)
	case c.From == order.StatusBidding && o.Status == order.StatusAccepted:
		to(driver, "✅ Client accepted your price for order %s", ref)
	case c.From == order.StatusBidding && o.Status == order.StatusNew && c.Reason == order.ReasonRejectedByClient:
		if n := len(o.ProposalAttempts); n > 0 {
			to(o.ProposalAttempts[n-1], "❌ Client declined your offer for order %s", ref)
		}
	case o.Status == order.StatusNew && (c.From == order.StatusAccepted || c.From == order.StatusBidding):
		to(o.ClientID, "🔄 Driver released order %s, looking for another one", ref)
	case o.Status == order.StatusInProgress:
		to(o.ClientID, "📍 Driver has arrived for order %s", ref)
	case o.Status == order.StatusCompleted:
		to(o.ClientID, "🏁 Order %s completed. Please rate your driver", ref)
		to(driver, "🏁 Order %s completed", ref)
	case o.Status == order.StatusCancelled:
		to(driver, "🚫 Order %s was cancelled", ref)
		to(o.ClientID, "🚫 Order %s was cancelled", ref)
	}
	return out
}
