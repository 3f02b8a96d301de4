package proxypool

import (
	"math/rand"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

// pick chooses among the active entries. Caller holds the manager lock and
// guarantees active is non-empty.
func (p *pool) pick(active []*entry) *entry {
	switch p.strategy {
	case domain.StrategyRandom:
		return active[rand.Intn(len(active))]
	case domain.StrategyBestHealth:
		return p.bestHealth(active)
	default:
		e := active[p.cursor%len(active)]
		p.cursor = (p.cursor + 1) % len(active)

		return e
	}
}

// bestHealth returns the entry with the highest score; entries tied at the
// top rotate through the round-robin cursor so a fresh pool, where everyone
// carries a perfect score, still spreads traffic.
func (p *pool) bestHealth(active []*entry) *entry {
	tied := []*entry{active[0]}
	bestScore := liveScore(active[0])

	for _, e := range active[1:] {
		switch s := liveScore(e); {
		case s > bestScore:
			tied = []*entry{e}
			bestScore = s
		case s == bestScore:
			tied = append(tied, e)
		}
	}

	e := tied[p.cursor%len(tied)]
	p.cursor = (p.cursor + 1) % len(tied)

	return e
}

// liveScore recomputes the score so unused endpoints rank by their implicit
// perfect rate instead of a stale zero
func liveScore(e *entry) float64 {
	if e.health.SuccessCount+e.health.FailureCount == 0 {
		return 1.0
	}

	return e.health.Score
}
