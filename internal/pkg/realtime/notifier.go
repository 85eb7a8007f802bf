package realtime

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// ChangeFeedChannel is the pub/sub channel the realtime fan-out service
// subscribes to. Connected clients on an account's channels are told to
// refresh when that account's entitlement changes.
const ChangeFeedChannel = "entitlements.changed"

const publishTimeout = 2 * time.Second

// Notifier publishes entitlement change notifications. Delivery is
// best-effort: a failed publish is logged, never propagated.
type Notifier struct {
	client *redis.Client
}

// NewNotifier wraps a shared Redis client.
func NewNotifier(client *redis.Client) *Notifier {
	return &Notifier{client: client}
}

type changeMessage struct {
	UserID  uint   `json:"user_id"`
	Channel string `json:"channel"`
	At      int64  `json:"at"`
}

// EntitlementChanged tells connected realtime clients of the user's account
// channel to re-fetch entitlement state.
func (n *Notifier) EntitlementChanged(userID uint) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	payload, err := json.Marshal(changeMessage{
		UserID:  userID,
		Channel: AccountChannelPrefix + strconv.FormatUint(uint64(userID), 10),
		At:      time.Now().Unix(),
	})
	if err != nil {
		return
	}
	if err := n.client.Publish(ctx, ChangeFeedChannel, payload).Err(); err != nil {
		log.Warnf("realtime: entitlement change publish failed for user %d: %v", userID, err)
	}
}
