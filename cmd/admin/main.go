// Package main provides operator utilities for the moderation log.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"chatguard/internal/bootstrap"
	"chatguard/internal/cache"
	"chatguard/internal/config"
	"chatguard/internal/middleware"
	"chatguard/internal/models"
	"chatguard/internal/notifications"
	"chatguard/internal/repository"
)

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  go run ./cmd/admin/main.go status <user_id>   - Show mute/ban status for a user")
	fmt.Println("  go run ./cmd/admin/main.go stats              - Show moderation counters")
	fmt.Println("  go run ./cmd/admin/main.go replay             - Rebuild enforcement state and resync Redis")
	fmt.Println("  go run ./cmd/admin/main.go export <file>      - Write the moderation log to a JSON snapshot")
	fmt.Println("  go run ./cmd/admin/main.go import <file>      - Load a JSON snapshot into the configured store")
	fmt.Println("  go run ./cmd/admin/main.go watch              - Stream published moderation actions")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	middleware.Configure(cfg.Env)

	ctx := context.Background()
	command := os.Args[1]

	switch command {
	case "status":
		if len(os.Args) < 3 {
			fmt.Println("Usage: go run ./cmd/admin/main.go status <user_id>")
			os.Exit(1)
		}
		err = showStatus(ctx, cfg, os.Args[2])
	case "stats":
		err = showStats(ctx, cfg)
	case "replay":
		err = replay(ctx, cfg)
	case "export":
		if len(os.Args) < 3 {
			fmt.Println("Usage: go run ./cmd/admin/main.go export <file>")
			os.Exit(1)
		}
		err = exportSnapshot(ctx, cfg, os.Args[2])
	case "import":
		if len(os.Args) < 3 {
			fmt.Println("Usage: go run ./cmd/admin/main.go import <file>")
			os.Exit(1)
		}
		err = importSnapshot(ctx, cfg, os.Args[2])
	case "watch":
		err = watch(cfg)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readOnlyRuntime(ctx context.Context, cfg *config.Config) (*bootstrap.Runtime, error) {
	return bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{SkipRedis: true})
}

func showStatus(ctx context.Context, cfg *config.Config, userID string) error {
	rt, err := readOnlyRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(ctx) }()

	status, err := rt.Engine.Status(ctx, userID)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func showStats(ctx context.Context, cfg *config.Config) error {
	rt, err := readOnlyRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(ctx) }()

	return printJSON(rt.Engine.Stats())
}

// replay loads the log, which syncs the Redis mirror as part of runtime
// startup, then prints every user with an active mute or ban.
func replay(ctx context.Context, cfg *config.Config) error {
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(ctx) }()

	snapshot := rt.Engine.EnforcementSnapshot()
	users := make([]string, 0, len(snapshot))
	for userID := range snapshot {
		users = append(users, userID)
	}
	sort.Strings(users)

	for _, userID := range users {
		state := snapshot[userID]
		switch {
		case state.Banned:
			fmt.Printf("%s\tbanned\n", userID)
		case state.MuteUntil != nil:
			fmt.Printf("%s\tmuted until %s\n", userID, state.MuteUntil.Format("2006-01-02T15:04:05Z07:00"))
		}
	}
	fmt.Printf("%d users under enforcement (redis mirror synced: %t)\n", len(users), rt.Redis != nil)
	return nil
}

func exportSnapshot(ctx context.Context, cfg *config.Config, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	src, _, err := bootstrap.OpenStore(ctx, cfg, bootstrap.Options{SkipSchema: true})
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	snap, err := loadSnapshot(ctx, src)
	if err != nil {
		return err
	}

	dst, err := repository.NewFileStore(path)
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()
	res, err := dst.SaveAll(ctx, snap)
	if err != nil {
		return err
	}

	fmt.Printf("exported %d violations and %d actions to %s\n", res.Violations, res.Actions, path)
	return nil
}

func importSnapshot(ctx context.Context, cfg *config.Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("snapshot %s: %w", path, err)
	}
	src, err := repository.NewFileStore(path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	snap, err := loadSnapshot(ctx, src)
	if err != nil {
		return err
	}

	dst, _, err := bootstrap.OpenStore(ctx, cfg, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()
	res, err := dst.SaveAll(ctx, snap)
	if err != nil {
		return err
	}

	fmt.Printf("imported %d violations and %d actions from %s (%d violations and %d actions already present)\n",
		res.Violations, res.Actions, path, res.SkippedViolations, res.SkippedActions)
	return nil
}

func loadSnapshot(ctx context.Context, store repository.ModerationStore) (*models.Snapshot, error) {
	violations, err := store.LoadViolations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load violations: %w", err)
	}
	actions, err := store.LoadActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	return models.NewSnapshot(violations, actions), nil
}

func watch(cfg *config.Config) error {
	rdb, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n := notifications.NewNotifier(rdb)
	err = n.StartActionSubscriber(ctx, func(channel string, event notifications.ActionEvent) {
		fmt.Printf("# %s\n", channel)
		_ = printJSON(event)
	})
	if err != nil {
		return err
	}

	fmt.Println("watching moderation:user:* (Ctrl+C to stop)")
	<-ctx.Done()
	return nil
}
