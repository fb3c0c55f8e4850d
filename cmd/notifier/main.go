// Command notifier is a terminal notification client. Subcommands:
//
//	notifier [tui]      interactive inbox, toasts and settings (default)
//	notifier send       insert a notification and publish it live
//	notifier serve      websocket relay fed by redis
//	notifier permission show or ask for desktop alert permission
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nhle/notifier/internal/app"
	"github.com/nhle/notifier/internal/credential"
	"github.com/nhle/notifier/internal/logging"
	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/permission"
	"github.com/nhle/notifier/internal/session"
	"github.com/nhle/notifier/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "notifier:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	sub := "tui"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "tui":
		return runTUI(args)
	case "send":
		return runSend(args)
	case "serve":
		return runServe(args)
	case "permission":
		return runPermission(args)
	default:
		return fmt.Errorf("unknown command %q (want tui, send, serve or permission)", sub)
	}
}

// env is what every subcommand needs: configuration, a logger and the local
// database.
type env struct {
	cfg   *model.AppConfig
	log   *zap.Logger
	store *store.SQLiteStore
}

func (e *env) Close() {
	if e.store != nil {
		e.store.Close()
	}
	_ = e.log.Sync()
}

// newFlagSet returns a flag set with the options shared by every subcommand.
func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", model.DefaultConfigPath(), "path to the YAML config file")
	return fs, configPath
}

func openEnv(configPath string) (*env, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return &env{cfg: cfg, log: log, store: st}, nil
}

// newGate builds the permission gate over the terminal host. Without a
// keyring there is nowhere to remember the answer, so alerts stay off.
func newGate(out io.Writer, log *zap.Logger) *permission.Gate {
	ring, err := credential.Open()
	if err != nil {
		log.Warn("keyring unavailable; desktop alerts disabled", zap.Error(err))
		return permission.NewGate(nil, log.Named("permission"))
	}
	return permission.NewGate(permission.NewTerminalHost(ring, out), log.Named("permission"))
}

func runTUI(args []string) error {
	fs, configPath := newFlagSet("tui")
	userID := fs.StringP("user", "u", "", "user to sign in as (defaults to user_id from the config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := openEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, err := newTransport(ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer tr.Close()

	st := store.NewPublishing(e.store, tr.publisher)
	gate := newGate(bellOnly{os.Stdout}, e.log)
	sess := session.New(st, tr.channel, gate, e.cfg, e.log.Named("session"))
	defer sess.Close()

	user := *userID
	if user == "" {
		user = e.cfg.UserID
	}

	e.log.Info("starting tui", zap.String("user_id", user), zap.String("realtime", e.cfg.Realtime.Mode))
	p := tea.NewProgram(app.New(sess, user, e.log.Named("app")), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running tui: %w", err)
	}
	return nil
}

// bellOnly passes only BEL bytes through. Inside the TUI the toast stack
// shows the alert text, so the host alert just rings the terminal bell.
type bellOnly struct {
	w io.Writer
}

func (b bellOnly) Write(p []byte) (int, error) {
	if n := strings.Count(string(p), "\a"); n > 0 {
		if _, err := b.w.Write([]byte(strings.Repeat("\a", n))); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}
