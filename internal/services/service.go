// Package services implements the storefront operations on top of the
// tree store and the credential provider: user-facing profile/cart/order
// access, the credential flows, and the admin console aggregations.
// Every public operation returns a models.Result envelope; failures never
// escape as faults.
package services

import (
	"time"

	"bazaar/internal/models"
)

// EventPublisher pushes commerce events to the message broker. A nil
// publisher disables eventing; publish failures surface as envelope
// warnings, never as operation failures.
type EventPublisher interface {
	OrderCreated(order models.Order) error
	OrderStatusChanged(userID, orderID, status string) error
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// push delivers v without blocking, dropping the oldest queued value when
// the consumer lags. Watch channels always hold the freshest state.
func push[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
