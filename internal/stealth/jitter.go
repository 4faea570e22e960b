package stealth

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Jitter implements randomized timing that never sleeps for exact integers
type Jitter struct {
	rng *rand.Rand
}

// NewJitter creates a new Jitter instance
func NewJitter(rng *rand.Rand) *Jitter {
	return &Jitter{rng: rng}
}

// Between returns a random duration in [min, max] plus sub-millisecond noise
func (j *Jitter) Between(min, max time.Duration) time.Duration {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	d := min
	if span := max - min; span > 0 {
		d += time.Duration(j.rng.Int63n(int64(span) + 1))
	}
	return d + time.Duration(j.rng.Intn(1000))*time.Microsecond/10
}

// Gaussian returns a duration sampled from a normal distribution, floored at 1ms
func (j *Jitter) Gaussian(mean, stdDev time.Duration) time.Duration {
	// Box-Muller transform
	u1 := 1 - j.rng.Float64()
	u2 := j.rng.Float64()
	z0 := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

	d := time.Duration(float64(mean) + z0*float64(stdDev))
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// RandomInt returns a random integer between min and max (inclusive)
func (j *Jitter) RandomInt(min, max int) int {
	if min > max {
		min, max = max, min
	}
	if min == max {
		return min
	}
	return min + j.rng.Intn(max-min+1)
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
