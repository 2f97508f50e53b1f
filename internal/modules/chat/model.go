// README: Per-order chat messages between client and driver.
package chat

import (
	"errors"
	"time"

	"tgtaxi/internal/types"
)

const MaxMessageLen = 1000

var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("order not found")
	ErrForbidden  = errors.New("sender is not a participant of this order")
	ErrClosed     = errors.New("chat is closed for finished orders")
)

type Message struct {
	ID        types.ID  `json:"id"`
	OrderID   types.ID  `json:"orderId"`
	SenderID  types.ID  `json:"senderId"`
	Text      string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
