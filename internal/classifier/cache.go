package classifier

import (
	"context"
	"time"

	"chatguard/internal/models"
	"chatguard/internal/observability"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Classifier is the contract CachedClassifier wraps.
type Classifier interface {
	Classify(ctx context.Context, text string) (models.Classification, error)
}

// CachedClassifier memoizes answers by exact message text. Errors are not
// cached, so a transient failure is retried on the next message.
type CachedClassifier struct {
	inner Classifier
	data  *expirable.LRU[string, models.Classification]
}

func NewCachedClassifier(inner Classifier, capacity int, ttl time.Duration) *CachedClassifier {
	return &CachedClassifier{
		inner: inner,
		data:  expirable.NewLRU[string, models.Classification](capacity, nil, ttl),
	}
}

func (c *CachedClassifier) Classify(ctx context.Context, text string) (models.Classification, error) {
	if v, ok := c.data.Get(text); ok {
		observability.ClassifierCacheHits.Inc()
		return v, nil
	}
	v, err := c.inner.Classify(ctx, text)
	if err != nil {
		return models.Classification{}, err
	}
	c.data.Add(text, v)
	return v, nil
}

// Len reports how many answers are cached.
func (c *CachedClassifier) Len() int {
	return c.data.Len()
}
