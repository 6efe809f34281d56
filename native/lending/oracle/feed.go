// Package oracle defines the price collaborator the auditor reads and ships a
// settable feed plus an Ornstein-Uhlenbeck price path for simulations.
package oracle

import (
	"fmt"
	"math/big"
	"sync"

	"fixedlend/native/lending"
)

// Feed reports the latest price of one asset in the protocol's base unit.
type Feed interface {
	// LatestAnswer returns the price and the timestamp it was updated at.
	LatestAnswer() (*big.Int, uint64, error)
	Decimals() uint8
}

// MockFeed is a feed whose answer is set explicitly.
type MockFeed struct {
	mu        sync.RWMutex
	decimals  uint8
	price     *big.Int
	updatedAt uint64
}

// NewMockFeed returns a feed answering price with the given decimals.
func NewMockFeed(decimals uint8, price *big.Int) *MockFeed {
	f := &MockFeed{decimals: decimals, price: new(big.Int)}
	if price != nil {
		f.price.Set(price)
	}
	return f
}

func (f *MockFeed) Decimals() uint8 { return f.decimals }

// LatestAnswer implements Feed.
func (f *MockFeed) LatestAnswer() (*big.Int, uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return new(big.Int).Set(f.price), f.updatedAt, nil
}

// SetPrice updates the answer. Negative and zero prices are accepted so
// failure paths can be exercised; readers reject them.
func (f *MockFeed) SetPrice(price *big.Int, at uint64) {
	f.mu.Lock()
	f.price = new(big.Int).Set(price)
	f.updatedAt = at
	f.mu.Unlock()
}

// Checkpoint snapshots the answer.
func (f *MockFeed) Checkpoint() func() {
	f.mu.RLock()
	price, at := new(big.Int).Set(f.price), f.updatedAt
	f.mu.RUnlock()
	return func() { f.SetPrice(price, at) }
}

// Validated reads feed and rejects non-positive answers.
func Validated(feed Feed) (*big.Int, uint64, error) {
	if feed == nil {
		return nil, 0, fmt.Errorf("no price feed: %w", lending.ErrPriceError)
	}
	price, at, err := feed.LatestAnswer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", lending.ErrPriceError, err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, 0, fmt.Errorf("price %v: %w", price, lending.ErrPriceError)
	}
	return price, at, nil
}
