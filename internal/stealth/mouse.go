package stealth

import (
	"math"
	"math/rand"
	"time"

	"profile-launcher/internal/core"
)

// Mouse implements human-like pointer movement using Bézier curves
type Mouse struct {
	config *MouseConfig
	rng    *rand.Rand
}

// MouseConfig holds configuration for mouse behavior
type MouseConfig struct {
	SpeedMin        float64 // Minimum speed multiplier
	SpeedMax        float64 // Maximum speed multiplier
	OvershootChance float64 // Probability of overshooting target (0.0-1.0)
}

// NewMouse creates a new Mouse instance
func NewMouse(config *MouseConfig, rng *rand.Rand) *Mouse {
	if config.SpeedMin <= 0 {
		config.SpeedMin = 0.8
	}
	if config.SpeedMax < config.SpeedMin {
		config.SpeedMax = config.SpeedMin
	}
	return &Mouse{config: config, rng: rng}
}

// Point represents a 2D coordinate
type Point struct {
	X, Y float64
}

// PointIn picks a click target inside the central region of box, away from
// the edges where a real user rarely lands
func (m *Mouse) PointIn(box core.Box) Point {
	fx := 0.25 + m.rng.Float64()*0.5
	fy := 0.25 + m.rng.Float64()*0.5
	return Point{
		X: box.X + box.Width*fx,
		Y: box.Y + box.Height*fy,
	}
}

// generateControlPoints generates control points for a cubic Bézier curve
// Returns: [P0, P1, P2, P3] where P0 is start and P3 is end
func (m *Mouse) generateControlPoints(start, end Point) []Point {
	dx := end.X - start.X
	dy := end.Y - start.Y
	perpendicularX := -dy
	perpendicularY := dx

	perpLength := math.Sqrt(perpendicularX*perpendicularX + perpendicularY*perpendicularY)
	if perpLength > 0 {
		scale := (m.rng.Float64()*0.3 + 0.2) * math.Sqrt(dx*dx+dy*dy) // 20-50% of distance
		if m.rng.Intn(2) == 0 {
			scale = -scale
		}
		perpendicularX = (perpendicularX / perpLength) * scale
		perpendicularY = (perpendicularY / perpLength) * scale
	}

	return []Point{
		start,
		{X: start.X + dx*0.3 + perpendicularX*(0.3+m.rng.Float64()*0.4), Y: start.Y + dy*0.3 + perpendicularY*(0.3+m.rng.Float64()*0.4)},
		{X: end.X - dx*0.3 + perpendicularX*(0.3+m.rng.Float64()*0.4), Y: end.Y - dy*0.3 + perpendicularY*(0.3+m.rng.Float64()*0.4)},
		end,
	}
}

// bezier samples steps points along a cubic Bézier curve, easing the
// parameter so movement is slower at both ends
func bezier(cp []Point, steps int) []Point {
	points := make([]Point, steps)
	p0, p1, p2, p3 := cp[0], cp[1], cp[2], cp[3]

	for i := 0; i < steps; i++ {
		t := easeInOutCubic(float64(i+1) / float64(steps))

		// B(t) = (1-t)³P₀ + 3(1-t)²tP₁ + 3(1-t)t²P₂ + t³P₃
		mt := 1 - t
		mt2 := mt * mt
		mt3 := mt2 * mt
		t2 := t * t
		t3 := t2 * t

		points[i] = Point{
			X: mt3*p0.X + 3*mt2*t*p1.X + 3*mt*t2*p2.X + t3*p3.X,
			Y: mt3*p0.Y + 3*mt2*t*p1.Y + 3*mt*t2*p2.Y + t3*p3.Y,
		}
	}

	return points
}

func easeInOutCubic(t float64) float64 {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// Path returns the points from start to end, excluding start. The last point
// is always exactly end, even when the path overshoots and corrects.
func (m *Mouse) Path(start, end Point) []Point {
	distance := math.Hypot(end.X-start.X, end.Y-start.Y)
	if distance < 1.0 {
		return []Point{end}
	}

	target := end
	overshoot := m.rng.Float64() < m.config.OvershootChance && distance > 50
	if overshoot {
		extra := distance * (0.05 + m.rng.Float64()*0.1)
		angle := math.Atan2(end.Y-start.Y, end.X-start.X)
		target = Point{
			X: end.X + extra*math.Cos(angle),
			Y: end.Y + extra*math.Sin(angle),
		}
	}

	speed := m.config.SpeedMin + m.rng.Float64()*(m.config.SpeedMax-m.config.SpeedMin)
	steps := int(distance / (10.0 * speed))
	if steps < 10 {
		steps = 10
	}
	if steps > 100 {
		steps = 100
	}

	points := bezier(m.generateControlPoints(start, target), steps)

	if overshoot {
		correction := int(distance * 0.05)
		if correction < 5 {
			correction = 5
		}
		if correction > 20 {
			correction = 20
		}
		points = append(points, bezier(m.generateControlPoints(target, end), correction)...)
	}

	points[len(points)-1] = end
	return points
}

// StepDelay is the pause between two consecutive pointer events
func (m *Mouse) StepDelay() time.Duration {
	return time.Duration(4+m.rng.Intn(12))*time.Millisecond + time.Duration(m.rng.Intn(1000))*time.Microsecond
}
