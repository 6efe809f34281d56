package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type RewardsMetrics struct {
	claims       *prometheus.CounterVec
	claimed      *prometheus.CounterVec
	distribution *prometheus.GaugeVec
}

var (
	rewardsOnce     sync.Once
	rewardsRegistry *RewardsMetrics
)

func Rewards() *RewardsMetrics {
	rewardsOnce.Do(func() {
		rewardsRegistry = &RewardsMetrics{
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "fixedlend_rewards_claims_total",
				Help: "Count of reward payouts by reward token.",
			}, []string{"reward"}),
			claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "fixedlend_rewards_claimed",
				Help: "Reward tokens paid out, in whole tokens.",
			}, []string{"reward"}),
			distribution: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "fixedlend_rewards_distribution_total",
				Help: "Configured total of each distribution, in whole tokens.",
			}, []string{"market", "reward"}),
		}
		prometheus.MustRegister(
			rewardsRegistry.claims,
			rewardsRegistry.claimed,
			rewardsRegistry.distribution,
		)
	})
	return rewardsRegistry
}

func (m *RewardsMetrics) ObserveClaim(reward string, amount float64) {
	if m == nil {
		return
	}
	if reward == "" {
		reward = "unknown"
	}
	m.claims.WithLabelValues(reward).Inc()
	m.claimed.WithLabelValues(reward).Add(amount)
}

func (m *RewardsMetrics) SetDistribution(market, reward string, total float64) {
	if m == nil {
		return
	}
	m.distribution.WithLabelValues(market, reward).Set(total)
}

func (m *RewardsMetrics) InitReward(reward string) {
	if m == nil {
		return
	}
	if reward == "" {
		reward = "unknown"
	}
	m.claims.WithLabelValues(reward).Add(0)
	m.claimed.WithLabelValues(reward).Add(0)
}
