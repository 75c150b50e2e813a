package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// QuoteCache mirrors the latest quote per venue and instrument into Redis
// hashes at "quote:{venue}:{instrument}" with fields bid, ask, last and ts
// (Unix nanoseconds). Keys expire after ttl so a dead process leaves no
// stale prices behind.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.QuoteCache = (*QuoteCache)(nil)

// NewQuoteCache creates a QuoteCache. A non-positive ttl disables expiry.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(venue, instrument string) string {
	return "quote:" + venue + ":" + instrument
}

func quoteFields(q domain.Quote) map[string]interface{} {
	return map[string]interface{}{
		"bid":  formatFloat(q.Bid),
		"ask":  formatFloat(q.Ask),
		"last": formatFloat(q.Last),
		"ts":   strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SetQuote stores q, replacing any previous quote for the same key.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.Venue, q.Instrument)
	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key, quoteFields(q))
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", key, err)
	}
	return nil
}

// GetQuote returns the cached quote or domain.ErrNotFound.
func (qc *QuoteCache) GetQuote(ctx context.Context, venue, instrument string) (domain.Quote, error) {
	key := quoteKey(venue, instrument)
	vals, err := qc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", key, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, fmt.Errorf("redis: quote %s: %w", key, domain.ErrNotFound)
	}

	q := domain.Quote{Venue: venue, Instrument: instrument}
	for field, dst := range map[string]*float64{"bid": &q.Bid, "ask": &q.Ask, "last": &q.Last} {
		s, ok := vals[field]
		if !ok {
			continue
		}
		if *dst, err = strconv.ParseFloat(s, 64); err != nil {
			return domain.Quote{}, fmt.Errorf("redis: parse %s %s: %w", field, key, err)
		}
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ts %s: %w", key, err)
	}
	q.ObservedAt = time.Unix(0, ts).UTC()
	return q, nil
}

// SetSnapshot writes every quote of s in one pipeline.
func (qc *QuoteCache) SetSnapshot(ctx context.Context, s domain.Snapshot) error {
	pipe := qc.rdb.Pipeline()
	for _, qs := range s.Quotes {
		for _, q := range qs {
			key := quoteKey(q.Venue, q.Instrument)
			pipe.HSet(ctx, key, quoteFields(q))
			if qc.ttl > 0 {
				pipe.Expire(ctx, key, qc.ttl)
			}
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set snapshot %d: %w", s.Seq, err)
	}
	return nil
}
