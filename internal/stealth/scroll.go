package stealth

import (
	"math"
	"math/rand"
	"time"
)

// Scroll implements human-like scrolling with acceleration/deceleration
type Scroll struct {
	rng *rand.Rand
}

// NewScroll creates a new Scroll instance
func NewScroll(rng *rand.Rand) *Scroll {
	return &Scroll{rng: rng}
}

// ScrollAction represents one wheel event
type ScrollAction struct {
	Distance int           // Pixels to scroll, negative scrolls up/left
	Delay    time.Duration // Delay after scrolling
}

// Actions splits distance into wheel chunks with:
// - Acceleration at start, deceleration at end
// - Random pauses between chunks
//
// The chunk distances always sum to exactly distance.
func (s *Scroll) Actions(distance, chunkMin, chunkMax int) []ScrollAction {
	if distance == 0 {
		return nil
	}
	if chunkMin < 1 {
		chunkMin = 1
	}
	if chunkMax < chunkMin {
		chunkMax = chunkMin
	}

	sign := 1
	if distance < 0 {
		sign = -1
		distance = -distance
	}

	avgChunk := (chunkMin + chunkMax) / 2
	numChunks := int(math.Ceil(float64(distance) / float64(avgChunk)))
	if numChunks < 1 {
		numChunks = 1
	}

	actions := make([]ScrollAction, 0, numChunks+1)
	remaining := distance

	for i := 0; remaining > 0; i++ {
		t := 0.5
		if numChunks > 1 {
			t = float64(i) / float64(numChunks-1)
		}

		// slower at start and end, faster in middle
		ease := math.Sin(math.Pi * math.Min(t, 1))
		base := float64(chunkMin) + ease*float64(chunkMax-chunkMin)
		chunk := int(base * (0.7 + s.rng.Float64()*0.6))
		if chunk < 1 {
			chunk = 1
		}
		if chunk > remaining || i >= numChunks*2 {
			chunk = remaining
		}

		baseDelay := 50.0 + float64(chunk)*0.5
		if i == 0 || chunk == remaining {
			baseDelay *= 1.5 + s.rng.Float64()*0.5
		} else {
			baseDelay *= 0.7 + s.rng.Float64()*0.3
		}
		delay := time.Duration((baseDelay + s.rng.Float64()*20.0) * float64(time.Millisecond))

		actions = append(actions, ScrollAction{Distance: chunk * sign, Delay: delay})
		remaining -= chunk
	}

	// reading pause after scrolling
	actions[len(actions)-1].Delay += time.Duration(200+s.rng.Intn(300)) * time.Millisecond

	return actions
}
