package fingerprint

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var ipv4Pattern = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)

// AddressRewriter replaces IPv4 literals in SDP and ICE payloads for one page
// session. The same source literal always maps to the same private address
// within a session; loopback, unspecified and excluded addresses pass through.
type AddressRewriter struct {
	session  uint32
	excluded map[string]bool

	mu       sync.Mutex
	mapped   map[string]string
	produced map[string]bool
}

// NewAddressRewriter creates a rewriter for the session seed
func NewAddressRewriter(session uint32, excluded []string) *AddressRewriter {
	ex := make(map[string]bool, len(excluded))
	for _, addr := range excluded {
		ex[strings.TrimSpace(addr)] = true
	}
	return &AddressRewriter{
		session:  session,
		excluded: ex,
		mapped:   make(map[string]string),
		produced: make(map[string]bool),
	}
}

// Replacement returns the private-range stand-in for addr
func Replacement(session uint32, addr string) string {
	h := Mix32(session ^ FNV1a(addr))
	return fmt.Sprintf("192.168.%d.%d", (h>>8)&0xff, (h&0xff)%253+2)
}

// Rewrite returns payload with every eligible IPv4 literal replaced
func (r *AddressRewriter) Rewrite(payload string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return ipv4Pattern.ReplaceAllStringFunc(payload, func(addr string) string {
		if r.passThrough(addr) {
			return addr
		}
		if repl, ok := r.mapped[addr]; ok {
			return repl
		}
		repl := Replacement(r.session, addr)
		r.mapped[addr] = repl
		r.produced[repl] = true
		return repl
	})
}

func (r *AddressRewriter) passThrough(addr string) bool {
	if strings.HasPrefix(addr, "127.") || addr == "0.0.0.0" {
		return true
	}
	if r.excluded[addr] {
		return true
	}
	// already rewritten once in this session
	return r.produced[addr]
}
