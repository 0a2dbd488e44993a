package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gabapcia/coinconn/internal/addrsub"
	"github.com/gabapcia/coinconn/internal/connregistry"

	"github.com/redis/go-redis/v9"
)

// activityKeyPrefix namespaces every key written for address activity.
const activityKeyPrefix = "activity"

// activityStreamKey is the stream receiving every notification of a currency.
func activityStreamKey(currency connregistry.CurrencyID) string {
	return fmt.Sprintf("%s:stream:%s", activityKeyPrefix, currency)
}

// activityStatusKey is the hash holding the last status seen per address.
func activityStatusKey(currency connregistry.CurrencyID) string {
	return fmt.Sprintf("%s:status:%s", activityKeyPrefix, currency)
}

// activityFields flattens an activity into stream entry fields. The status
// is the last notification param, as sent by address subscriptions.
func activityFields(activity addrsub.Activity) map[string]any {
	fields := map[string]any{
		"currency": string(activity.Currency),
		"chain":    activity.Chain.String(),
		"index":    strconv.FormatUint(uint64(activity.Index), 10),
		"address":  activity.Address,
		"status":   "",
	}

	if n := len(activity.Payload); n > 0 {
		fields["status"] = string(activity.Payload[n-1])
	}
	return fields
}

// Publish appends the activity to the currency stream and records the
// address status, in one transaction.
func (c *client) Publish(ctx context.Context, activity addrsub.Activity) error {
	fields := activityFields(activity)

	_, err := c.conn.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: activityStreamKey(activity.Currency),
			MaxLen: c.cfg.streamMaxLen,
			Approx: c.cfg.streamMaxLen > 0,
			Values: fields,
		})
		pipe.HSet(ctx, activityStatusKey(activity.Currency), activity.Address, fields["status"])
		return nil
	})
	return err
}

// Ensure the client satisfies the ActivitySink interface at compile time.
var _ addrsub.ActivitySink = new(client)
