package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// BrowserPublisher fans browser notifications out over Redis pub/sub. Any
// number of push gateways may subscribe to a project's channel.
type BrowserPublisher struct {
	client *redis.Client
}

func NewBrowserPublisher(client *redis.Client) *BrowserPublisher {
	return &BrowserPublisher{client: client}
}

func (p *BrowserPublisher) SendBrowserPush(ctx context.Context, projectID int64, payload []byte) error {
	if err := p.client.Publish(ctx, BrowserChannel(projectID), payload).Err(); err != nil {
		return fmt.Errorf("publish browser push: %w", err)
	}
	return nil
}
