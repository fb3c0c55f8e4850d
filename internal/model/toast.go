package model

import (
	"fmt"
	"time"
)

// ToastItem is a notification admitted to the toast queue together with its
// local expiry deadline. It is never persisted.
type ToastItem struct {
	Notification
	ExpiresAt time.Time
}

// Remaining returns how long the toast stays visible after now.
func (t ToastItem) Remaining(now time.Time) time.Duration {
	if d := t.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// TimeAgo renders t relative to now the way the bell lists notifications.
func TimeAgo(t, now time.Time) string {
	minutes := int(now.Sub(t).Minutes())
	switch {
	case minutes < 1:
		return "just now"
	case minutes < 60:
		return fmt.Sprintf("%dm ago", minutes)
	case minutes < 1440:
		return fmt.Sprintf("%dh ago", minutes/60)
	default:
		return fmt.Sprintf("%dd ago", minutes/1440)
	}
}
