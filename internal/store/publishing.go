package store

import (
	"context"
	"fmt"

	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/realtime"
)

// Publishing is a Store that announces every inserted notification on a
// live channel, playing the role of the remote change feed.
type Publishing struct {
	Store
	pub realtime.Publisher
}

// NewPublishing wraps s so inserts are published to pub.
func NewPublishing(s Store, pub realtime.Publisher) *Publishing {
	return &Publishing{Store: s, pub: pub}
}

// InsertNotification stores n and then publishes the stored record. A
// publish failure is reported after the insert has been committed.
func (p *Publishing) InsertNotification(
	ctx context.Context,
	n model.Notification,
) (model.Notification, error) {
	stored, err := p.Store.InsertNotification(ctx, n)
	if err != nil {
		return model.Notification{}, err
	}
	if err := p.pub.Publish(ctx, realtime.InsertEvent(stored)); err != nil {
		return stored, fmt.Errorf("publishing notification %s: %w", stored.ID, err)
	}
	return stored, nil
}
