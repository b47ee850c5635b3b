package notifications

import (
	"context"

	"github.com/getourhome/agentservice/internal/broker/redisclient"
)

// RedisNotifier publishes agency name changes to the shared broker. The
// publish is fire-and-forget from the caller's point of view; delivery is
// whatever pub/sub gives us.
type RedisNotifier struct {
	client *redisclient.Client
}

func NewRedisNotifier(client *redisclient.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) SendAgencyNameChange(ctx context.Context, in AgencyNameChangeInput) error {
	return n.client.Raw().Publish(ctx, AgencyNameChangeChannel, in.Payload()).Err()
}
