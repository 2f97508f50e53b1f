// README: Inbound bot commands (/start, /code, /driver, /stats, /me) mapped to module services.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tgtaxi/internal/modules/accesscode"
	"tgtaxi/internal/modules/rating"
	"tgtaxi/internal/modules/user"
	"tgtaxi/internal/types"
)

const helpText = `Available commands:
/start - open the taxi app
/driver CODE Name Phone - register as a driver with an access code
/me - your driver rating and badge
/code - (admin) issue a driver access code
/stats - (admin) service statistics`

type Users interface {
	Ensure(ctx context.Context, id types.ID, name string) (*user.User, error)
}

type Codes interface {
	Generate(ctx context.Context, issuedBy types.ID) (*accesscode.AccessCode, error)
	RegisterDriverWithCode(ctx context.Context, userID types.ID, code, name, phone string) (*user.User, error)
}

type Stats interface {
	AdminStats(ctx context.Context) (rating.AdminStats, error)
	DriverStats(ctx context.Context, driverID types.ID) (rating.DriverStats, error)
}

// Command is a parsed "/name arg arg" message.
type Command struct {
	Name string
	Args []string
}

// ParseCommand returns false for text that is not a command. A "@botname" suffix is dropped.
func ParseCommand(text string) (Command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(name), Args: fields[1:]}, true
}

type Reply struct {
	Text    string
	OpenApp bool
}

// Sender is who wrote to the bot.
type Sender struct {
	ID   types.ID
	Name string
}

type Handler struct {
	users Users
	codes Codes
	stats Stats
	log   *zap.Logger
}

func NewHandler(users Users, codes Codes, stats Stats, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{users: users, codes: codes, stats: stats, log: log}
}

func (h *Handler) Handle(ctx context.Context, from Sender, text string) Reply {
	cmd, ok := ParseCommand(text)
	if !ok {
		return Reply{Text: helpText}
	}
	u, err := h.users.Ensure(ctx, from.ID, from.Name)
	if err != nil {
		h.log.Error("ensure bot user", zap.String("user_id", from.ID.String()), zap.Error(err))
		return Reply{Text: "Something went wrong, please try again later."}
	}

	switch cmd.Name {
	case "start":
		return Reply{Text: fmt.Sprintf("Hi %s! Tap the button below to order a ride.", displayName(u)), OpenApp: true}
	case "code":
		return h.issueCode(ctx, u)
	case "driver":
		return h.registerDriver(ctx, u, cmd.Args)
	case "stats":
		return h.adminStats(ctx, u)
	case "me":
		return h.driverStats(ctx, u)
	default:
		return Reply{Text: helpText}
	}
}

func (h *Handler) issueCode(ctx context.Context, u *user.User) Reply {
	if u.Role != user.RoleAdmin {
		return Reply{Text: "This command is for administrators."}
	}
	c, err := h.codes.Generate(ctx, u.ID)
	if err != nil {
		h.log.Error("generate access code", zap.Error(err))
		return Reply{Text: "Could not generate a code, please try again."}
	}
	return Reply{Text: fmt.Sprintf("New driver access code: %s\nIt can be used once.", c.Code)}
}

// registerDriver expects CODE, a name of one or more words and a phone as the last word.
func (h *Handler) registerDriver(ctx context.Context, u *user.User, args []string) Reply {
	if len(args) < 3 {
		return Reply{Text: "Usage: /driver CODE Name Phone"}
	}
	code, phone := args[0], args[len(args)-1]
	name := strings.Join(args[1:len(args)-1], " ")
	d, err := h.codes.RegisterDriverWithCode(ctx, u.ID, code, name, phone)
	switch {
	case errors.Is(err, accesscode.ErrInvalidCode):
		return Reply{Text: "This access code is invalid or has already been used."}
	case errors.Is(err, user.ErrBadRequest):
		return Reply{Text: "Usage: /driver CODE Name Phone"}
	case err != nil:
		h.log.Error("register driver", zap.String("user_id", u.ID.String()), zap.Error(err))
		return Reply{Text: "Registration failed, please try again later."}
	}
	return Reply{Text: fmt.Sprintf("Welcome aboard, %s! You can now take orders in the app.", d.Name), OpenApp: true}
}

func (h *Handler) adminStats(ctx context.Context, u *user.User) Reply {
	if u.Role != user.RoleAdmin {
		return Reply{Text: "This command is for administrators."}
	}
	st, err := h.stats.AdminStats(ctx)
	if err != nil {
		h.log.Error("admin stats", zap.Error(err))
		return Reply{Text: "Statistics are unavailable right now."}
	}
	return Reply{Text: fmt.Sprintf("Orders: %d total, %d completed, %d waiting\nActive drivers: %d\nAverage rating: %.1f",
		st.TotalOrders, st.CompletedOrders, st.PendingOrders, st.ActiveDrivers, st.AverageRating)}
}

func (h *Handler) driverStats(ctx context.Context, u *user.User) Reply {
	if u.Role != user.RoleDriver {
		return Reply{Text: "You are not registered as a driver. Use /driver CODE Name Phone."}
	}
	st, err := h.stats.DriverStats(ctx, u.ID)
	if err != nil {
		h.log.Error("driver stats", zap.String("user_id", u.ID.String()), zap.Error(err))
		return Reply{Text: "Statistics are unavailable right now."}
	}
	text := fmt.Sprintf("Completed orders: %d\nRating: %.1f (%d ratings)", st.CompletedOrders, st.AverageRating, st.TotalRatings)
	if label := rating.BadgeFor(st).Label(); label != "" {
		text += "\nBadge: " + label
	}
	return Reply{Text: text}
}

func displayName(u *user.User) string {
	if u.Name != "" {
		return u.Name
	}
	return "there"
}
