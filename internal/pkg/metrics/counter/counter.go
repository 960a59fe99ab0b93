package counter

import (
	"context"
	"strconv"

	"github.com/HossamFares/Lernora/internal/pkg/cache"
)

const (
	webhookReceivedKey = "payment:counters:webhooks:received"
	webhookFailedKey   = "payment:counters:webhooks:failed"
	checkoutCreatedKey = "payment:counters:checkouts"
)

// AddWebhookReceived increments the per-provider delivery counter in Redis.
func AddWebhookReceived(provider string) error {
	client := cache.GetClient()
	if client == nil {
		return nil
	}
	return client.HIncrBy(context.Background(), webhookReceivedKey, provider, 1).Err()
}

// AddWebhookFailed increments the per-provider failure counter. Failures here
// are transient ones that end in a redelivery, so the count can exceed the
// number of distinct events.
func AddWebhookFailed(provider string) error {
	client := cache.GetClient()
	if client == nil {
		return nil
	}
	return client.HIncrBy(context.Background(), webhookFailedKey, provider, 1).Err()
}

// AddCheckoutCreated increments the per-provider checkout session counter.
func AddCheckoutCreated(provider string) error {
	client := cache.GetClient()
	if client == nil {
		return nil
	}
	return client.HIncrBy(context.Background(), checkoutCreatedKey, provider, 1).Err()
}

// Snapshot reads all payment counters. Values are grouped per provider.
func Snapshot(ctx context.Context) (map[string]map[string]int64, error) {
	client := cache.GetClient()
	out := map[string]map[string]int64{
		"webhooks_received": {},
		"webhooks_failed":   {},
		"checkouts_created": {},
	}
	if client == nil {
		return out, nil
	}

	for key, bucket := range map[string]string{
		webhookReceivedKey: "webhooks_received",
		webhookFailedKey:   "webhooks_failed",
		checkoutCreatedKey: "checkouts_created",
	} {
		fields, err := client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		for provider, raw := range fields {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			out[bucket][provider] = n
		}
	}
	return out, nil
}
