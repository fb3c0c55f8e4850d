// Package permission mediates access to host-level alerts. The host asks the
// user at most once; the answer is remembered by the host.
package permission

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/notifier/internal/logging"
	"github.com/nhle/notifier/internal/model"
)

// State is the host's notification permission.
type State string

const (
	StateDefault State = "default"
	StateGranted State = "granted"
	StateDenied  State = "denied"
)

// ParseState maps a stored value to a State. Unknown values are StateDefault.
func ParseState(s string) State {
	switch State(s) {
	case StateGranted, StateDenied:
		return State(s)
	default:
		return StateDefault
	}
}

// ErrNotGranted is returned by Alert when the host has not granted permission.
var ErrNotGranted = errors.New("notification permission not granted")

// Host is the platform permission and alert API.
type Host interface {
	CurrentPermission() State

	// RequestPermission shows the prompt and returns the user's answer.
	// Dismissing the prompt leaves the state at StateDefault.
	RequestPermission(ctx context.Context) (State, error)

	// Show raises an alert. Alerts sharing a tag collapse into one.
	Show(title, body, icon, tag string) error
}

// Gate reports and requests permission, and raises alerts only when
// permission is granted. A nil host behaves as a host without alert support.
type Gate struct {
	host  Host
	log   *zap.Logger
	group singleflight.Group
}

// NewGate constructs a gate over host.
func NewGate(host Host, log *zap.Logger) *Gate {
	return &Gate{host: host, log: logging.OrNop(log)}
}

// CurrentState returns the host's permission without prompting.
func (g *Gate) CurrentState() State {
	if g.host == nil {
		return StateDenied
	}
	return g.host.CurrentPermission()
}

// Request returns true when permission is granted. Only the default state
// prompts; concurrent calls share the pending prompt.
func (g *Gate) Request(ctx context.Context) (bool, error) {
	switch g.CurrentState() {
	case StateGranted:
		return true, nil
	case StateDenied:
		return false, nil
	}

	v, err, shared := g.group.Do("request", func() (any, error) {
		// A prompt that finished just before this flight started already
		// has an answer.
		if s := g.host.CurrentPermission(); s != StateDefault {
			return s, nil
		}
		return g.host.RequestPermission(ctx)
	})
	if err != nil {
		g.log.Warn("permission request failed", zap.Error(err))
		return false, fmt.Errorf("requesting notification permission: %w", err)
	}

	state := v.(State)
	g.log.Info("permission requested",
		zap.String("state", string(state)), zap.Bool("shared", shared))
	return state == StateGranted, nil
}

// Alert raises a host alert for n, tagged with its id.
func (g *Gate) Alert(n model.Notification) error {
	if g.CurrentState() != StateGranted {
		return ErrNotGranted
	}
	style := n.Style()
	if err := g.host.Show(n.Title, n.Message, style.Icon, n.ID); err != nil {
		return fmt.Errorf("showing alert %s: %w", n.ID, err)
	}
	return nil
}
