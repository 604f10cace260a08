// Command main drives generated chat traffic through the moderation engine.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"chatguard/internal/bootstrap"
	"chatguard/internal/config"
	"chatguard/internal/middleware"
	"chatguard/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()
	numUsers := flag.Int("users", defaults.NumUsers, "Number of chat users to simulate")
	numMessages := flag.Int("messages", defaults.NumMessages, "Number of messages to send")
	toxic := flag.Int("toxic", defaults.ToxicPercent, "Percentage of users that break the rules")
	chats := flag.String("chats", strings.Join(defaults.Chats, ","), "Comma-separated chat IDs")
	seedValue := flag.Int64("seed", 0, "Random seed (0 = time based)")
	flag.Parse()

	log.Println("🌱 Moderation Traffic Seeder")
	log.Println("============================")
	log.Printf("Target: %d users, %d messages, %d%% toxic\n", *numUsers, *numMessages, *toxic)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	middleware.Configure(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	report, err := seed.Run(ctx, rt.Engine, seed.Options{
		NumUsers:     *numUsers,
		NumMessages:  *numMessages,
		ToxicPercent: *toxic,
		Chats:        strings.Split(*chats, ","),
		Seed:         *seedValue,
	})
	if err != nil {
		log.Printf("❌ Seeding stopped early: %v", err)
	}

	log.Printf("✅ %s", report)
	for action, n := range report.Actions {
		log.Printf("   %s: %d", action, n)
	}
	stats := rt.Engine.Stats()
	log.Printf("Engine: %d violations from %d users, %d actions, %d muted, %d banned",
		stats.TotalViolations, stats.UsersWithViolations, stats.TotalActions, stats.MutedUsers, stats.BannedUsers)
}
