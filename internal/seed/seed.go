// Package seed generates demo chat traffic and drives it through the
// moderation engine. It is intended for development and testing only.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chatguard/internal/middleware"
	"chatguard/internal/models"
	"chatguard/internal/moderation"

	"github.com/brianvoe/gofakeit/v6"
)

// Checker is the part of the engine the generator drives.
type Checker interface {
	Check(ctx context.Context, req moderation.CheckRequest) (models.Verdict, error)
}

// Options configuration for the seeder
type Options struct {
	NumUsers    int
	NumMessages int
	// ToxicPercent is the share of users (0-100) that send rule-breaking
	// messages most of the time.
	ToxicPercent int
	Chats        []string
	// Seed makes runs reproducible; 0 picks a time-based seed.
	Seed int64
}

// DefaultOptions returns a small mixed population.
func DefaultOptions() Options {
	return Options{
		NumUsers:     20,
		NumMessages:  200,
		ToxicPercent: 20,
		Chats:        []string{"general", "gaming", "music", "random"},
	}
}

// Report summarizes verdicts produced by one run.
type Report struct {
	Messages int            `json:"messages"`
	Allowed  int            `json:"allowed"`
	Warned   int            `json:"warned"`
	Blocked  int            `json:"blocked"`
	Errors   int            `json:"errors"`
	Actions  map[string]int `json:"actions"`
}

func (r Report) String() string {
	return fmt.Sprintf("messages=%d allowed=%d warned=%d blocked=%d errors=%d",
		r.Messages, r.Allowed, r.Warned, r.Blocked, r.Errors)
}

// Run sends opts.NumMessages generated messages through checker, picking a
// random user for each one. It stops early when ctx is done.
func Run(ctx context.Context, checker Checker, opts Options) (Report, error) {
	if opts.NumUsers <= 0 || opts.NumMessages < 0 {
		return Report{}, errors.New("seed: NumUsers must be positive")
	}
	if len(opts.Chats) == 0 {
		opts.Chats = DefaultOptions().Chats
	}

	f := NewFactory(opts.Seed)
	users := f.Users(opts.NumUsers, opts.ToxicPercent)
	report := Report{Actions: make(map[string]int)}

	for i := 0; i < opts.NumMessages; i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		u := users[f.faker.Number(0, len(users)-1)]
		req := moderation.CheckRequest{
			Message:  f.Message(u),
			UserID:   u.ID,
			UserName: u.Name,
			ChatID:   f.faker.RandomString(opts.Chats),
		}

		report.Messages++
		verdict, err := checker.Check(ctx, req)
		if err != nil {
			report.Errors++
			middleware.Logger.WarnContext(ctx, "seed check failed",
				slog.String("user_id", u.ID), slog.String("error", err.Error()))
			continue
		}

		switch verdict.Kind {
		case models.VerdictAllowed:
			report.Allowed++
		case models.VerdictAllowedWithWarning:
			report.Warned++
		case models.VerdictBlocked:
			report.Blocked++
		}
		if verdict.Action != "" {
			report.Actions[verdict.Action]++
		}
	}

	return report, nil
}

// User is a generated chat participant.
type User struct {
	ID    string
	Name  string
	Toxic bool
}

// Factory builds users and messages from a seeded faker.
type Factory struct {
	faker *gofakeit.Faker
}

// NewFactory creates a Factory. A zero seed is replaced by the current time.
func NewFactory(seed int64) *Factory {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{faker: gofakeit.New(seed)}
}

// Users creates n users, the first toxicPercent of which misbehave.
func (f *Factory) Users(n, toxicPercent int) []User {
	toxic := n * toxicPercent / 100
	users := make([]User, 0, n)
	for i := 0; i < n; i++ {
		users = append(users, User{
			ID:    fmt.Sprintf("user-%03d", i+1),
			Name:  f.faker.Username(),
			Toxic: i < toxic,
		})
	}
	return users
}

// Message generates one chat line. Toxic users send clean text one time in
// four.
func (f *Factory) Message(u User) string {
	if !u.Toxic || f.faker.Number(1, 4) == 1 {
		return f.faker.Sentence(f.faker.Number(3, 10))
	}

	switch f.faker.Number(1, 3) {
	case 1:
		return strings.ToUpper(f.faker.Sentence(f.faker.Number(4, 8)))
	case 2:
		letter := f.faker.Letter()
		return f.faker.Word() + " " + strings.Repeat(letter, f.faker.Number(5, 12))
	default:
		term := f.faker.RandomString(moderation.DefaultProfanityTerms)
		return f.faker.Sentence(f.faker.Number(2, 6)) + " " + term
	}
}
