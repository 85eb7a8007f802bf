package realtime

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/querystudio/querystudio/internal/pkg/entitlements"
)

// Channel name prefixes. Every channel is scoped to exactly one account;
// entitled channels additionally require an active entitlement.
const (
	AccountChannelPrefix  = "private-account-"
	EntitledChannelPrefix = "private-entitled-"
)

var errUnknownChannel = errors.New("realtime: unknown channel name")

// Channel is a parsed channel identifier.
type Channel struct {
	UserID   uint
	Entitled bool
}

// ParseChannel validates a channel name against the grammar above.
func ParseChannel(name string) (Channel, error) {
	var suffix string
	var entitled bool
	switch {
	case strings.HasPrefix(name, EntitledChannelPrefix):
		suffix = strings.TrimPrefix(name, EntitledChannelPrefix)
		entitled = true
	case strings.HasPrefix(name, AccountChannelPrefix):
		suffix = strings.TrimPrefix(name, AccountChannelPrefix)
	default:
		return Channel{}, errUnknownChannel
	}

	id, err := strconv.ParseUint(suffix, 10, 32)
	if err != nil || id == 0 {
		return Channel{}, errUnknownChannel
	}
	return Channel{UserID: uint(id), Entitled: entitled}, nil
}

// Authorizer decides channel subscription grants from caller identity plus,
// for entitled channels, current entitlement state.
type Authorizer struct {
	store entitlements.Store
}

// NewAuthorizer creates an authorizer over the entitlement store.
func NewAuthorizer(store entitlements.Store) *Authorizer {
	return &Authorizer{store: store}
}

// Authorize grants a subscription only when the caller's verified identity
// matches the account encoded in the channel. Entitled channels are re-read
// from the store on every attempt: entitlement can change mid-session, so a
// grant is never derived from a previous connection.
func (a *Authorizer) Authorize(ctx context.Context, userID uint, channelName string) bool {
	if userID == 0 {
		return false
	}
	ch, err := ParseChannel(channelName)
	if err != nil {
		return false
	}
	if ch.UserID != userID {
		return false
	}
	if !ch.Entitled {
		return true
	}

	ent, err := a.store.Get(ctx, userID)
	if err != nil {
		// Deny on store failure rather than grant on unknown state.
		log.Errorf("realtime: entitlement read failed for user %d: %v", userID, err)
		return false
	}
	return ent.Active
}
