package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/realtime"
	"github.com/nhle/notifier/internal/store"
)

// shutdownTimeout bounds the graceful stop of the relay.
const shutdownTimeout = 5 * time.Second

// runSend inserts one notification and publishes it on the live channel.
func runSend(args []string) error {
	fs, configPath := newFlagSet("send")
	userID := fs.StringP("user", "u", "", "recipient user id (required)")
	kind := fs.StringP("type", "t", string(model.KindSystem), "notification type")
	title := fs.String("title", "", "title (required)")
	message := fs.StringP("message", "m", "", "message body")
	eventID := fs.String("event", "", "related event id")
	offset := fs.Int("offset", -1, "reminder offset in minutes for event_reminder")
	project := fs.String("project", "", "project of the related event")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := openEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	n := model.Notification{
		UserID:  *userID,
		Type:    model.ParseKind(*kind),
		Title:   *title,
		Message: *message,
	}
	if *eventID != "" {
		n.EventID = eventID
	}
	meta := map[string]any{}
	if *offset >= 0 {
		meta[model.MetaOffsetMinutes] = *offset
	}
	if *project != "" {
		meta[model.MetaProject] = *project
	}
	if len(meta) > 0 {
		n.Metadata = meta
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tr, err := newTransport(ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer tr.Close()
	if e.cfg.Realtime.Mode == model.RealtimeLocal {
		fmt.Fprintln(os.Stderr, "realtime mode is local: open clients will see this after a refresh")
	}

	saved, err := store.NewPublishing(e.store, tr.publisher).InsertNotification(ctx, n)
	if saved.ID == "" {
		return err
	}
	if err != nil {
		e.log.Warn("notification stored but not published", zap.String("id", saved.ID), zap.Error(err))
		fmt.Fprintf(os.Stderr, "stored but not delivered live: %v\n", err)
	}
	fmt.Println(saved.ID)
	return nil
}

// runServe relays redis inserts, and events posted by websocket-mode
// producers, to websocket subscribers.
func runServe(args []string) error {
	fs, configPath := newFlagSet("serve")
	listen := fs.StringP("listen", "l", "", "listen address (defaults to realtime.listen_addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := openEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	addr := *listen
	if addr == "" {
		addr = e.cfg.Realtime.ListenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub()
	defer hub.Close()
	client := newRedisClient(e.cfg.Realtime, e.log)
	defer client.Close()
	bridge := realtime.NewRedisBridge(client, e.cfg.Realtime.RedisChannel, hub, e.log.Named("redis"))

	if e.cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := realtime.NewRouter(bridge, bridge, e.log.Named("relay"))
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		bridge.Serve(ctx, bridgeBackOff(e.cfg.Inbox))
	}()

	errCh := make(chan error, 1)
	go func() {
		e.log.Info("relay listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serving %s: %w", addr, err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	e.log.Info("relay shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		e.log.Warn("relay shutdown", zap.Error(err))
	}
	stop()
	<-bridgeDone
	return runErr
}

// runPermission prints the desktop alert permission and, with --request,
// asks for it.
func runPermission(args []string) error {
	fs, _ := newFlagSet("permission")
	request := fs.Bool("request", false, "ask for permission when it was never decided")
	if err := fs.Parse(args); err != nil {
		return err
	}

	gate := newGate(os.Stdout, zap.NewNop())
	if *request {
		if _, err := gate.Request(context.Background()); err != nil {
			return err
		}
	}
	fmt.Println(gate.CurrentState())
	return nil
}
