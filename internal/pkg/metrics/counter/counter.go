package counter

import (
	"context"
	"strconv"

	"github.com/coursepay/coursepay/app/models"
	"github.com/coursepay/coursepay/internal/pkg/cache"
)

const (
	chargeAttemptsKey  = "payments:counters:charge_attempts"
	chargeSuccessKey   = "payments:counters:charge_success"
	chargeDeclinedKey  = "payments:counters:charge_declined"
	webhookReceivedKey = "payments:counters:webhooks_received"
	webhookInvalidKey  = "payments:counters:webhooks_invalid"
)

// AddChargeAttempt increments the attempt counter for a provider/product pair in Redis
func AddChargeAttempt(provider models.Provider, productKey string) error {
	return incr(chargeAttemptsKey, field(provider, productKey))
}

// AddChargeSuccess increments the success counter for a provider/product pair in Redis
func AddChargeSuccess(provider models.Provider, productKey string) error {
	return incr(chargeSuccessKey, field(provider, productKey))
}

// AddChargeDeclined increments the decline counter for a provider/product pair in Redis
func AddChargeDeclined(provider models.Provider, productKey string) error {
	return incr(chargeDeclinedKey, field(provider, productKey))
}

// AddWebhookReceived increments the received counter for a provider/event-type pair in Redis
func AddWebhookReceived(provider models.Provider, eventType string) error {
	return incr(webhookReceivedKey, field(provider, eventType))
}

// AddWebhookInvalid increments the invalid-signature counter for a provider in Redis
func AddWebhookInvalid(provider models.Provider) error {
	return incr(webhookInvalidKey, string(provider))
}

func field(provider models.Provider, suffix string) string {
	if suffix == "" {
		return string(provider)
	}
	return string(provider) + ":" + suffix
}

func incr(key, field string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, key, field, 1).Err()
}

// Totals holds the counter hashes for the stats endpoint.
type Totals struct {
	ChargeAttempts   map[string]int64 `json:"charge_attempts"`
	ChargeSuccess    map[string]int64 `json:"charge_success"`
	ChargeDeclined   map[string]int64 `json:"charge_declined"`
	WebhooksReceived map[string]int64 `json:"webhooks_received"`
	WebhooksInvalid  map[string]int64 `json:"webhooks_invalid"`
}

// ReadTotals fetches all counter hashes from Redis. A missing hash reads as
// an empty map, not an error.
func ReadTotals() (*Totals, error) {
	totals := &Totals{}
	reads := []struct {
		key  string
		dest *map[string]int64
	}{
		{chargeAttemptsKey, &totals.ChargeAttempts},
		{chargeSuccessKey, &totals.ChargeSuccess},
		{chargeDeclinedKey, &totals.ChargeDeclined},
		{webhookReceivedKey, &totals.WebhooksReceived},
		{webhookInvalidKey, &totals.WebhooksInvalid},
	}
	for _, read := range reads {
		values, err := readHash(read.key)
		if err != nil {
			return nil, err
		}
		*read.dest = values
	}
	return totals, nil
}

func readHash(key string) (map[string]int64, error) {
	ctx := context.Background()
	data, err := cache.GetClient().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}
