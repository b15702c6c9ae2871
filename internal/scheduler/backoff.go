package scheduler

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"time"
)

// backoffConfig configures the settle delay applied when scheduleImmediate
// aborts an in-flight update and restarts it, grounded directly on the
// teacher's engine.BackoffConfig / DelayForAttempt pair, generalized from
// per-node LLM retries to per-update settle delays.
type backoffConfig struct {
	InitialDelayMS int
	BackoffFactor  float64
	MaxDelayMS     int
	Jitter         bool
}

func defaultSettleBackoff() backoffConfig {
	return backoffConfig{InitialDelayMS: 200, BackoffFactor: 2.0, MaxDelayMS: 10_000, Jitter: true}
}

// delayForAttempt mirrors the teacher's DelayForAttempt: exponential with
// an optional deterministic jitter seeded from a string (here, the commit
// hash the restart is racing against, so repeated restarts for the same
// cause produce the same delay).
func delayForAttempt(attempt int, cfg backoffConfig, jitterSeed string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.InitialDelayMS <= 0 {
		return 0
	}
	baseMS := float64(cfg.InitialDelayMS) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if cfg.MaxDelayMS > 0 {
		baseMS = math.Min(baseMS, float64(cfg.MaxDelayMS))
	}
	if cfg.Jitter {
		baseMS *= 0.5 + jitterUnit(jitterSeed)
	}
	if baseMS < 0 {
		baseMS = 0
	}
	return time.Duration(baseMS * float64(time.Millisecond))
}

func jitterUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	u := binary.BigEndian.Uint64(sum[:8])
	const max = float64(^uint64(0))
	return float64(u) / max
}
