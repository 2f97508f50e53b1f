// README: Identifier type shared by users, orders, codes and messages.
package types

import "strconv"

// ID is an opaque identifier. User ids are Telegram user ids in decimal form.
type ID string

func (id ID) String() string {
	return string(id)
}

// ChatID returns the numeric Telegram chat id for a user id.
func (id ID) ChatID() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Short is the prefix shown to humans in chat messages.
func (id ID) Short() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}
