package kalshi

import (
	"encoding/json"
	"fmt"
	"time"
)

// Market is the subset of a Kalshi market used for quoting.
type Market struct {
	Ticker      string  `json:"ticker"`
	EventTicker string  `json:"event_ticker"`
	Title       string  `json:"title"`
	Status      string  `json:"status"` // "open", "closed", "settled"
	YesBid      float64 `json:"yes_bid"`
	YesAsk      float64 `json:"yes_ask"`
	LastPrice   float64 `json:"last_price"`
	Volume24H   int64   `json:"volume_24h"`
	CloseTime   string  `json:"close_time"`
}

// Orderbook holds the resting bids on both sides of a binary market. Kalshi
// only publishes bids: a NO bid at p is a YES ask at 100-p.
type Orderbook struct {
	Ticker    string       `json:"ticker"`
	Yes       []PriceLevel `json:"yes"`
	No        []PriceLevel `json:"no"`
	Timestamp time.Time    `json:"-"`
}

// PriceLevel is a price in cents (1-99) and a contract count.
type PriceLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// UnmarshalJSON accepts both the [price, quantity] pair form used by the
// REST API and the object form.
func (l *PriceLevel) UnmarshalJSON(b []byte) error {
	var pair []int64
	if err := json.Unmarshal(b, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("kalshi: price level: want 2 elements, got %d", len(pair))
		}
		l.Price, l.Quantity = pair[0], pair[1]
		return nil
	}
	type plain PriceLevel
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("kalshi: price level: %w", err)
	}
	*l = PriceLevel(p)
	return nil
}

// TopOfBook returns the best YES bid and ask in dollars. ok is false when
// either side is empty.
func (o Orderbook) TopOfBook() (bid, ask float64, ok bool) {
	bestYes := bestPrice(o.Yes)
	bestNo := bestPrice(o.No)
	if bestYes == 0 || bestNo == 0 {
		return 0, 0, false
	}
	return float64(bestYes) / 100, float64(100-bestNo) / 100, true
}

func bestPrice(levels []PriceLevel) int64 {
	var best int64
	for _, l := range levels {
		if l.Quantity > 0 && l.Price > best {
			best = l.Price
		}
	}
	return best
}

// errorResponse is the body Kalshi returns on failures.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e errorResponse) text() string {
	code, msg := e.Code, e.Message
	if e.Error.Code != "" {
		code, msg = e.Error.Code, e.Error.Message
	}
	return fmt.Sprintf("%s (%s)", msg, code)
}
