package calsync

import (
	"context"

	"github.com/kimipdb306/scout-tdl/domain"
)

// Backend mirrors board items into one external calendar system. Each call
// may fail independently (not authenticated, invalid due date, remote API
// error); the dispatcher treats every failure as log-and-continue.
type Backend interface {
	// Name identifies the backend in logs and sync records.
	Name() string
	// AddEvent creates a calendar event for the item and returns the
	// backend-assigned external event id.
	AddEvent(ctx context.Context, item *domain.Item, userID string) (string, error)
	// UpdateEvent rewrites the event previously created for the item.
	UpdateEvent(ctx context.Context, item *domain.Item, userID, externalID string) error
	// RemoveEvent deletes the item's event. externalID may be empty when the
	// backend never reported one; implementations decide whether that is a
	// no-op or a full rebuild.
	RemoveEvent(ctx context.Context, itemID, externalID string) error
}
