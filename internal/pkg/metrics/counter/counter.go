package counter

import (
	"context"
	"strconv"

	"github.com/payward/payward/internal/pkg/cache"
)

const (
	transactionOutcomesKey = "payment:counters:transactions"
	webhookDeliveriesKey   = "payment:counters:webhook_deliveries"
	gatewayEventsKey       = "payment:counters:gateway_events"
)

// AddTransactionOutcome increments the counter for a lifecycle status in Redis
func AddTransactionOutcome(status string) error {
	rdb := cache.Client()
	if rdb == nil {
		return nil
	}
	ctx := context.Background()
	return rdb.HIncrBy(ctx, transactionOutcomesKey, status, 1).Err()
}

// AddWebhookDelivery increments the delivered/failed webhook counter in Redis
func AddWebhookDelivery(success bool) error {
	rdb := cache.Client()
	if rdb == nil {
		return nil
	}
	ctx := context.Background()
	field := "failed"
	if success {
		field = "delivered"
	}
	return rdb.HIncrBy(ctx, webhookDeliveriesKey, field, 1).Err()
}

// AddGatewayEvent increments the counter for an inbound gateway event type in Redis
func AddGatewayEvent(eventType string) error {
	rdb := cache.Client()
	if rdb == nil {
		return nil
	}
	ctx := context.Background()
	return rdb.HIncrBy(ctx, gatewayEventsKey, eventType, 1).Err()
}

// Snapshot returns all counter hashes as numeric maps for reporting
func Snapshot() (map[string]map[string]int64, error) {
	rdb := cache.Client()
	if rdb == nil {
		return map[string]map[string]int64{}, nil
	}
	ctx := context.Background()

	out := make(map[string]map[string]int64, 3)
	for name, key := range map[string]string{
		"transactions":       transactionOutcomesKey,
		"webhook_deliveries": webhookDeliveriesKey,
		"gateway_events":     gatewayEventsKey,
	} {
		data, err := rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		fields := make(map[string]int64, len(data))
		for k, v := range data {
			n, perr := strconv.ParseInt(v, 10, 64)
			if perr != nil {
				continue
			}
			fields[k] = n
		}
		out[name] = fields
	}
	return out, nil
}
