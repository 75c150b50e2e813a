package domain

import (
	"sort"
	"time"
)

// Price is what a QuoteSource reports for a single instrument.
type Price struct {
	Bid       float64
	Ask       float64
	Last      float64 // zero when the venue does not report a last trade
	Timestamp time.Time
}

// Quote is the best bid/ask for an instrument on a venue at a point in time.
// Quotes are immutable; a newer Quote for the same (venue, instrument) key
// supersedes the previous one.
type Quote struct {
	Venue      string    `json:"venue"`
	Instrument string    `json:"instrument"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Last       float64   `json:"last,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// QuoteFromPrice builds a Quote for venue/instrument. A zero price timestamp
// falls back to fetchedAt.
func QuoteFromPrice(venue, instrument string, p Price, fetchedAt time.Time) Quote {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = fetchedAt
	}
	return Quote{
		Venue:      venue,
		Instrument: instrument,
		Bid:        p.Bid,
		Ask:        p.Ask,
		Last:       p.Last,
		ObservedAt: ts,
	}
}

// Age returns how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}

// Fresh reports whether the quote is no older than maxAge.
func (q Quote) Fresh(now time.Time, maxAge time.Duration) bool {
	return q.Age(now) <= maxAge
}

// Usable reports whether both sides are positive and the book is not crossed.
func (q Quote) Usable() bool {
	return q.Bid > 0 && q.Ask > 0 && q.Bid <= q.Ask
}

// Snapshot maps instrument to the latest quote from each venue. Snapshots
// handed to consumers are copies and must be treated as read-only.
type Snapshot struct {
	Seq     uint64             `json:"seq"`
	TakenAt time.Time          `json:"taken_at"`
	Quotes  map[string][]Quote `json:"quotes"`
}

// Instruments returns the snapshot's instruments in lexical order.
func (s Snapshot) Instruments() []string {
	out := make([]string, 0, len(s.Quotes))
	for inst := range s.Quotes {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

// QuoteCount returns the total number of quotes across all instruments.
func (s Snapshot) QuoteCount() int {
	n := 0
	for _, qs := range s.Quotes {
		n += len(qs)
	}
	return n
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Seq:     s.Seq,
		TakenAt: s.TakenAt,
		Quotes:  make(map[string][]Quote, len(s.Quotes)),
	}
	for inst, qs := range s.Quotes {
		cp := make([]Quote, len(qs))
		copy(cp, qs)
		out.Quotes[inst] = cp
	}
	return out
}
