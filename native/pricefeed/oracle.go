package pricefeed

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnknownFeed indicates the oracle has no quote for the requested feed.
	ErrUnknownFeed = errors.New("pricefeed: unknown feed")
	// ErrStaleQuote indicates the freshest available quote is older than the
	// caller's staleness bound.
	ErrStaleQuote = errors.New("pricefeed: quote outside freshness window")
	// ErrInvalidQuote marks quotes with a non-positive price.
	ErrInvalidQuote = errors.New("pricefeed: invalid quote")
)

// Quote captures a single oracle observation for a collateral/debt pair. The
// price is expressed as Price * 10^Expo, mirroring the integer-mantissa
// format used by push oracles.
type Quote struct {
	FeedID      string
	Price       int64
	Expo        int32
	PublishedAt time.Time
}

// Rate renders the quote as an exact rational so downstream risk math stays
// reproducible across platforms.
func (q Quote) Rate() *big.Rat {
	if q.Price <= 0 {
		return new(big.Rat)
	}
	rate := new(big.Rat).SetInt64(q.Price)
	if q.Expo == 0 {
		return rate
	}
	exp := q.Expo
	scale := new(big.Int).SetInt64(10)
	if exp > 0 {
		scale.Exp(scale, big.NewInt(int64(exp)), nil)
		return rate.Mul(rate, new(big.Rat).SetInt(scale))
	}
	scale.Exp(scale, big.NewInt(int64(-exp)), nil)
	return rate.Quo(rate, new(big.Rat).SetInt(scale))
}

// Fresh reports whether the quote was published within maxAge of now.
func (q Quote) Fresh(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return true
	}
	if q.PublishedAt.IsZero() {
		return false
	}
	return now.Sub(q.PublishedAt) <= maxAge
}

// Oracle resolves the latest quote for a feed, rejecting quotes older than
// maxAge.
type Oracle interface {
	GetPrice(feedID string, maxAge time.Duration) (Quote, error)
}

// StaticOracle is a manually fed oracle used by operators and tests. Quotes
// are pushed via SetQuote and served until superseded.
type StaticOracle struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	nowFn  func() time.Time
}

// NewStaticOracle constructs an empty manual oracle.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{
		quotes: make(map[string]Quote),
		nowFn:  time.Now,
	}
}

// SetNowFunc overrides the clock used for freshness checks, primarily for
// deterministic tests.
func (o *StaticOracle) SetNowFunc(now func() time.Time) {
	if o == nil || now == nil {
		return
	}
	o.mu.Lock()
	o.nowFn = now
	o.mu.Unlock()
}

// SetQuote records the latest observation for a feed.
func (o *StaticOracle) SetQuote(q Quote) error {
	if o == nil {
		return ErrInvalidQuote
	}
	feed := strings.TrimSpace(q.FeedID)
	if feed == "" || q.Price <= 0 {
		return ErrInvalidQuote
	}
	q.FeedID = feed
	o.mu.Lock()
	o.quotes[feed] = q
	o.mu.Unlock()
	return nil
}

// GetPrice returns the stored quote for the feed when it is within maxAge.
func (o *StaticOracle) GetPrice(feedID string, maxAge time.Duration) (Quote, error) {
	if o == nil {
		return Quote{}, ErrUnknownFeed
	}
	feed := strings.TrimSpace(feedID)
	o.mu.RLock()
	quote, ok := o.quotes[feed]
	now := o.nowFn()
	o.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownFeed, feed)
	}
	if !quote.Fresh(now, maxAge) {
		return Quote{}, fmt.Errorf("%w: %s", ErrStaleQuote, feed)
	}
	return quote, nil
}
