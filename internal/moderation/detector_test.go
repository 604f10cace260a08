package moderation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatguard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpamDetector(t *testing.T) {
	tests := []struct {
		text     string
		expected bool
	}{
		{"hellooooo", true},
		{"!!!!!", true},
		{"🙂🙂🙂🙂🙂", true},
		{"aaaa", false},
		{"aaaa\naaaa", false},
		{"normal sentence", false},
	}
	for _, tt := range tests {
		d, ok := SpamDetector{}.Detect(Message{Text: tt.text})
		assert.Equal(t, tt.expected, ok, "text %q", tt.text)
		if ok {
			assert.Equal(t, models.ViolationSpam, d.Kind)
			assert.Equal(t, 2, d.Severity)
		}
	}
}

func TestCapsDetector(t *testing.T) {
	tests := []struct {
		text     string
		expected bool
	}{
		{"HELLO WORLD", true},
		{"HELLOWORLD", false},
		{"Hello World Friends", false},
		{"ПРИВЕТ ВСЕМ ДРУЗЬЯ", true},
		{"ABCDEFGH ij", true},
		{"ABCDEFG hij", false},
	}
	for _, tt := range tests {
		d, ok := CapsDetector{}.Detect(Message{Text: tt.text})
		assert.Equal(t, tt.expected, ok, "text %q", tt.text)
		if ok {
			assert.Equal(t, models.ViolationCapsLock, d.Kind)
			assert.Equal(t, 1, d.Severity)
		}
	}
}

func TestFloodDetector(t *testing.T) {
	_, ok := FloodDetector{}.Detect(Message{Text: "hi", RecentViolations: 4})
	assert.False(t, ok)

	d, ok := FloodDetector{}.Detect(Message{Text: "hi", RecentViolations: 5})
	require.True(t, ok)
	assert.Equal(t, models.ViolationFlood, d.Kind)
	assert.Equal(t, 3, d.Severity)
}

func TestDenylist(t *testing.T) {
	d, err := NewDenylist([]string{"darn", "heck off", ""}, []string{`fr[e3]{2}\s*money`})
	require.NoError(t, err)
	assert.Equal(t, 3, d.Size())

	assert.True(t, d.Match("well DARN it"))
	assert.True(t, d.Match("dárn!"))
	assert.True(t, d.Match("just heck, off"))
	assert.True(t, d.Match("get FR33 money now"))
	assert.True(t, d.Match("get frée money"), "patterns see folded text")
	assert.False(t, d.Match("darning socks"))
	assert.False(t, d.Match("heck no, off we go"))

	var nilList *Denylist
	assert.False(t, nilList.Match("darn"))
	assert.Equal(t, 0, nilList.Size())
}

func TestNewDenylist_BadPattern(t *testing.T) {
	_, err := NewDenylist(nil, []string{"("})
	assert.Error(t, err)
}

func TestLoadDenylist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denylist.yml")
	require.NoError(t, os.WriteFile(path, []byte("terms:\n  - gosh\npatterns:\n  - 'b+a+d+'\n"), 0o600))

	d, err := LoadDenylist(path, []string{"drat"})
	require.NoError(t, err)
	assert.True(t, d.Match("oh gosh"))
	assert.True(t, d.Match("drat"))
	assert.True(t, d.Match("BAAAD"))

	_, err = LoadDenylist(filepath.Join(t.TempDir(), "missing.yml"), nil)
	assert.Error(t, err)
}

func TestDefaultDenylist_Cyrillic(t *testing.T) {
	d := DefaultDenylist()
	assert.True(t, d.Match("это плохое слово"))
	assert.True(t, d.Match("Ругательство!"))
	assert.True(t, d.Match("тут мат"))
	assert.False(t, d.Match("без мата"), "whole words only")
}

func TestDefaultPipeline_Order(t *testing.T) {
	p := DefaultPipeline(DefaultDenylist())
	ctx := context.Background()

	d, ok := p.Detect(ctx, Message{Text: "SHIIIIIT THIS IS BAD"})
	require.True(t, ok)
	assert.Equal(t, models.ViolationSpam, d.Kind, "spam runs before caps and profanity")
	assert.Equal(t, "spam", d.Source)

	d, ok = p.Detect(ctx, Message{Text: "WHAT THE SHIT"})
	require.True(t, ok)
	assert.Equal(t, models.ViolationCapsLock, d.Kind)

	d, ok = p.Detect(ctx, Message{Text: "oh shit", RecentViolations: 5})
	require.True(t, ok)
	assert.Equal(t, models.ViolationFlood, d.Kind)

	d, ok = p.Detect(ctx, Message{Text: "oh shit"})
	require.True(t, ok)
	assert.Equal(t, models.ViolationProfanity, d.Kind)
	assert.Equal(t, 4, d.Severity)

	_, ok = p.Detect(ctx, Message{Text: "have a nice day"})
	assert.False(t, ok)
}

type stubClassifier struct {
	result models.Classification
	err    error
	delay  time.Duration
	calls  int
}

func (s *stubClassifier) Classify(ctx context.Context, text string) (models.Classification, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return models.Classification{}, ctx.Err()
		}
	}
	return s.result, s.err
}

func TestPipeline_Classifier(t *testing.T) {
	ctx := context.Background()
	harassment := models.Classification{HasViolation: true, Kind: models.ViolationHarassment, Severity: 5}

	t.Run("positive answer wins", func(t *testing.T) {
		c := &stubClassifier{result: harassment}
		p := DefaultPipeline(DefaultDenylist()).WithClassifier(c, time.Second, nil)

		d, ok := p.Detect(ctx, Message{Text: "hellooooo"})
		require.True(t, ok)
		assert.Equal(t, models.ViolationHarassment, d.Kind)
		assert.Equal(t, 5, d.Severity)
		assert.Equal(t, "classifier", d.Source)
	})

	t.Run("clean answer falls through", func(t *testing.T) {
		c := &stubClassifier{}
		p := DefaultPipeline(DefaultDenylist()).WithClassifier(c, time.Second, nil)

		d, ok := p.Detect(ctx, Message{Text: "hellooooo"})
		require.True(t, ok)
		assert.Equal(t, models.ViolationSpam, d.Kind)
	})

	t.Run("error falls back", func(t *testing.T) {
		c := &stubClassifier{err: errors.New("connection refused")}
		p := DefaultPipeline(DefaultDenylist()).WithClassifier(c, time.Second, nil)

		d, ok := p.Detect(ctx, Message{Text: "hellooooo"})
		require.True(t, ok)
		assert.Equal(t, models.ViolationSpam, d.Kind)
	})

	t.Run("timeout falls back", func(t *testing.T) {
		c := &stubClassifier{result: harassment, delay: time.Second}
		p := DefaultPipeline(DefaultDenylist()).WithClassifier(c, 20*time.Millisecond, nil)

		start := time.Now()
		_, ok := p.Detect(ctx, Message{Text: "have a nice day"})
		assert.False(t, ok)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("invalid answer is ignored", func(t *testing.T) {
		c := &stubClassifier{result: models.Classification{HasViolation: true, Kind: models.ViolationSpam, Severity: 9}}
		p := DefaultPipeline(DefaultDenylist()).WithClassifier(c, time.Second, nil)

		_, ok := p.Detect(ctx, Message{Text: "have a nice day"})
		assert.False(t, ok)
	})

	t.Run("gate skips classifier", func(t *testing.T) {
		c := &stubClassifier{result: harassment}
		p := DefaultPipeline(DefaultDenylist()).WithClassifier(c, time.Second, func(userID string) bool {
			return strings.HasPrefix(userID, "beta-")
		})

		_, ok := p.Detect(ctx, Message{Text: "hello", UserID: "u1"})
		assert.False(t, ok)
		assert.Equal(t, 0, c.calls)

		_, ok = p.Detect(ctx, Message{Text: "hello", UserID: "beta-u1"})
		assert.True(t, ok)
		assert.Equal(t, 1, c.calls)
	})
}
