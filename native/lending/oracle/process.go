package oracle

import (
	"fmt"
	"math"
	"math/big"
	"math/rand"

	"github.com/shopspring/decimal"

	"fixedlend/native/lending"
)

// ProcessParams configures an Ornstein-Uhlenbeck price path.
type ProcessParams struct {
	InitialPrice float64 `toml:"initialPrice"`
	Mean         float64 `toml:"mean"`
	StdDev       float64 `toml:"stdDev"`
	Theta        float64 `toml:"theta"`
	T0           float64 `toml:"t0"`
	TN           float64 `toml:"tN"`
	Steps        int     `toml:"steps"`
	// Seed makes the path reproducible. Nil draws a random seed.
	Seed *int64 `toml:"seed"`
}

// Path is a sampled price trajectory.
type Path struct {
	Prices []float64
}

// OrnsteinUhlenbeck samples params with the Euler-Maruyama scheme. rng
// supplies the seed when params.Seed is nil.
func OrnsteinUhlenbeck(params ProcessParams, rng *rand.Rand) (Path, error) {
	if params.Steps <= 0 || params.TN <= params.T0 {
		return Path{}, fmt.Errorf("invalid process window: %w", lending.ErrInvalidParameter)
	}
	if params.StdDev < 0 || params.Theta < 0 {
		return Path{}, fmt.Errorf("negative process coefficient: %w", lending.ErrInvalidParameter)
	}
	var src *rand.Rand
	switch {
	case params.Seed != nil:
		src = rand.New(rand.NewSource(*params.Seed))
	case rng != nil:
		src = rand.New(rand.NewSource(rng.Int63()))
	default:
		src = rand.New(rand.NewSource(rand.Int63()))
	}
	dt := (params.TN - params.T0) / float64(params.Steps)
	sqrtDt := math.Sqrt(dt)
	prices := make([]float64, params.Steps+1)
	prices[0] = params.InitialPrice
	for i := 1; i <= params.Steps; i++ {
		prev := prices[i-1]
		prices[i] = prev + params.Theta*(params.Mean-prev)*dt + params.StdDev*sqrtDt*src.NormFloat64()
	}
	return Path{Prices: prices}, nil
}

// Len is the number of sampled points, including the initial price.
func (p Path) Len() int { return len(p.Prices) }

// Wad returns point i scaled to decimals, truncated. Non-positive samples
// are returned as is so feeds can surface them as price errors.
func (p Path) Wad(i int, decimals uint8) *big.Int {
	return decimal.NewFromFloat(p.Prices[i]).Shift(int32(decimals)).Truncate(0).BigInt()
}
