package moderation

import (
	"context"
	"errors"
	"time"
	"unicode"
	"unicode/utf8"

	"chatguard/internal/models"
	"chatguard/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// Detector thresholds.
const (
	spamRunLength       = 5
	capsMinLength       = 10
	capsRatio           = 0.7
	floodViolationLimit = 5
	FloodWindow         = 60 * time.Second
)

// Message is what detectors inspect. RecentViolations is the user's count
// inside FloodWindow before this message.
type Message struct {
	Text             string
	UserID           string
	RecentViolations int
}

// Detection is a single detector's judgment.
type Detection struct {
	Kind     models.ViolationKind
	Severity int
	Source   string
}

// Detector inspects one message. Detectors are stateless.
type Detector interface {
	Name() string
	Detect(msg Message) (Detection, bool)
}

// Classifier is an external judgment service. Only positive answers are
// authoritative; errors and clean answers fall through to local detectors.
type Classifier interface {
	Classify(ctx context.Context, text string) (models.Classification, error)
}

// SpamDetector flags a character repeated five or more times in a row.
type SpamDetector struct{}

func (SpamDetector) Name() string { return "spam" }

func (SpamDetector) Detect(msg Message) (Detection, bool) {
	if hasRepeatedRun(msg.Text, spamRunLength) {
		return Detection{Kind: models.ViolationSpam, Severity: 2}, true
	}
	return Detection{}, false
}

func hasRepeatedRun(text string, n int) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == '\n' {
			run = 0
			continue
		}
		if run > 0 && r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= n {
			return true
		}
	}
	return false
}

// CapsDetector flags messages longer than ten characters where more than
// 70% of all characters are upper case.
type CapsDetector struct{}

func (CapsDetector) Name() string { return "caps_lock" }

func (CapsDetector) Detect(msg Message) (Detection, bool) {
	total := utf8.RuneCountInString(msg.Text)
	if total <= capsMinLength {
		return Detection{}, false
	}
	upper := 0
	for _, r := range msg.Text {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if float64(upper)/float64(total) > capsRatio {
		return Detection{Kind: models.ViolationCapsLock, Severity: 1}, true
	}
	return Detection{}, false
}

// FloodDetector flags a user who already has five violations in the last minute.
type FloodDetector struct{}

func (FloodDetector) Name() string { return "flood" }

func (FloodDetector) Detect(msg Message) (Detection, bool) {
	if msg.RecentViolations >= floodViolationLimit {
		return Detection{Kind: models.ViolationFlood, Severity: 3}, true
	}
	return Detection{}, false
}

// ProfanityDetector flags denylist matches.
type ProfanityDetector struct {
	Denylist *Denylist
}

func (ProfanityDetector) Name() string { return "profanity" }

func (d ProfanityDetector) Detect(msg Message) (Detection, bool) {
	if d.Denylist.Match(msg.Text) {
		return Detection{Kind: models.ViolationProfanity, Severity: 4}, true
	}
	return Detection{}, false
}

// Pipeline runs the optional classifier and then local detectors in order;
// the first match wins.
type Pipeline struct {
	detectors         []Detector
	classifier        Classifier
	classifierTimeout time.Duration
	classifierEnabled func(userID string) bool
	logger            *observability.ModerationLogger
}

// NewPipeline builds a pipeline from detectors in evaluation order.
func NewPipeline(detectors ...Detector) *Pipeline {
	return &Pipeline{detectors: detectors}
}

// DefaultPipeline is spam, caps, flood, profanity.
func DefaultPipeline(denylist *Denylist) *Pipeline {
	return NewPipeline(SpamDetector{}, CapsDetector{}, FloodDetector{}, ProfanityDetector{Denylist: denylist})
}

// WithClassifier puts c ahead of the local detectors. Calls are bounded by
// timeout. enabled gates the call per user; nil means always.
func (p *Pipeline) WithClassifier(c Classifier, timeout time.Duration, enabled func(userID string) bool) *Pipeline {
	p.classifier = c
	p.classifierTimeout = timeout
	p.classifierEnabled = enabled
	return p
}

// WithLogger sets the logger used for classifier fallbacks.
func (p *Pipeline) WithLogger(l *observability.ModerationLogger) *Pipeline {
	p.logger = l
	return p
}

// Detect returns the first violation found, if any.
func (p *Pipeline) Detect(ctx context.Context, msg Message) (Detection, bool) {
	if d, ok := p.classify(ctx, msg); ok {
		return d, true
	}
	for _, det := range p.detectors {
		if d, ok := det.Detect(msg); ok {
			d.Source = det.Name()
			return d, true
		}
	}
	return Detection{}, false
}

func (p *Pipeline) classify(ctx context.Context, msg Message) (Detection, bool) {
	if p.classifier == nil {
		return Detection{}, false
	}
	if p.classifierEnabled != nil && !p.classifierEnabled(msg.UserID) {
		return Detection{}, false
	}

	ctx, span := observability.Tracer.Start(ctx, "moderation.classify")
	defer span.End()

	if p.classifierTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.classifierTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := p.classifier.Classify(ctx, msg.Text)
	observability.ClassifierLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		span.RecordError(err)
		observability.ClassifierFallbacks.WithLabelValues(reason).Inc()
		p.logger.LogClassifierFallback(ctx, msg.UserID, reason, err)
		return Detection{}, false
	}
	if !result.HasViolation || !result.Kind.Valid() || result.Severity < 1 || result.Severity > 5 {
		return Detection{}, false
	}
	span.SetAttributes(attribute.String("violation_kind", result.Kind.String()))
	return Detection{Kind: result.Kind, Severity: result.Severity, Source: "classifier"}, true
}
