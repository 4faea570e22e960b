package fingerprint

// The hashing and PRNG helpers here are mirrored one-to-one by js/prelude.js.
// Both sides work on wrapping uint32 arithmetic so Go-side expectations
// (tests, audit tooling) match what the injected script computes in the page.

// FNV1a hashes s byte-wise with 32-bit FNV-1a
func FNV1a(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// Mix32 is the murmur3 finalizer
func Mix32(h uint32) uint32 {
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

// SessionSeed derives the per-site seed from the profile seed and the page
// hostname. It is computed once per page and stays fixed for its lifetime.
func SessionSeed(seed uint32, hostname string) uint32 {
	return Mix32(seed ^ FNV1a(hostname))
}

// CanvasSeed is the seed the canvas noise PRNG starts from for a w x h read
func CanvasSeed(session uint32, width, height int) uint32 {
	return session ^ uint32(width*65537+height)
}

// Mulberry32 is a small deterministic PRNG
type Mulberry32 struct {
	state uint32
}

// NewMulberry32 seeds a generator
func NewMulberry32(seed uint32) *Mulberry32 {
	return &Mulberry32{state: seed}
}

// Next returns the next 32-bit value
func (m *Mulberry32) Next() uint32 {
	m.state += 0x6D2B79F5
	t := m.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return t ^ (t >> 14)
}

// Float returns a value in [0, 1)
func (m *Mulberry32) Float() float64 {
	return float64(m.Next()) / 4294967296.0
}
