package fingerprint

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profile-launcher/internal/core"
)

// a minimal page global with an RTCPeerConnection whose accessors live on
// the prototype, the way browsers expose them
const fakePeerJS = `
globalThis.window = globalThis;
var location = { protocol: 'https:', hostname: 'example.com' };

globalThis.RTCIceCandidate = function RTCIceCandidate(init) {
  this.candidate = init.candidate;
  this.sdpMid = init.sdpMid;
  this.sdpMLineIndex = init.sdpMLineIndex;
};

globalThis.RTCPeerConnection = function RTCPeerConnection() {
  this._desc = null;
  this._listeners = [];
  this._onice = null;
};
Object.defineProperty(RTCPeerConnection.prototype, 'localDescription', {
  get: function () { return this._desc; },
  configurable: true,
});
Object.defineProperty(RTCPeerConnection.prototype, 'onicecandidate', {
  get: function () { return this._onice; },
  set: function (fn) { this._onice = fn; },
  configurable: true,
});
RTCPeerConnection.prototype.addEventListener = function (type, fn) {
  if (type === 'icecandidate') this._listeners.push(fn);
};
RTCPeerConnection.prototype.createOffer = function () { return Promise.resolve(this._desc); };
RTCPeerConnection.prototype.createAnswer = function () { return Promise.resolve(this._desc); };
RTCPeerConnection.prototype.emit = function (candidate) {
  var ev = { candidate: new RTCIceCandidate({ candidate: candidate, sdpMid: '0', sdpMLineIndex: 0 }) };
  this._listeners.forEach(function (fn) { fn(ev); });
  if (this._onice) this._onice(ev);
};
`

func newPeerVM(t *testing.T, cfg *Config) *goja.Runtime {
	t.Helper()
	vm := goja.New()
	_, err := vm.RunString(fakePeerJS)
	require.NoError(t, err)

	script := cfg.PostLoadScript()
	require.NotEmpty(t, script)
	_, err = vm.RunString(script)
	require.NoError(t, err)
	return vm
}

func runString(t *testing.T, vm *goja.Runtime, src string) goja.Value {
	t.Helper()
	v, err := vm.RunString(src)
	require.NoError(t, err)
	return v
}

func TestWebRTCScriptMatchesRewriter(t *testing.T) {
	cfg := &Config{
		Enabled:        true,
		Seed:           FNV1a("profile-a"),
		WebRTCMode:     core.WebRTCReplace,
		WebRTCExcluded: []string{"10.0.0.5"},
	}
	vm := newPeerVM(t, cfg)
	want := NewAddressRewriter(SessionSeed(cfg.Seed, "example.com"), cfg.WebRTCExcluded)

	require.NoError(t, vm.Set("sampleSDP", sampleSDP))
	runString(t, vm, `
var pc = new RTCPeerConnection();
pc._desc = { type: 'offer', sdp: sampleSDP };
var seen = [];
pc.addEventListener('icecandidate', function (ev) { seen.push(ev.candidate.candidate); });
pc.onicecandidate = function (ev) { seen.push(ev.candidate.candidate); };
var offered = null;
pc.createOffer().then(function (d) { offered = d.sdp; });
`)

	expected := want.Rewrite(sampleSDP)
	local := runString(t, vm, `pc.localDescription.sdp`).String()
	assert.Equal(t, expected, local)
	assert.Contains(t, local, "IN IP4 127.0.0.1")
	assert.Contains(t, local, "10.0.0.5 54400 typ host")
	assert.Contains(t, local, "0.0.0.0 9 typ host")
	assert.NotContains(t, local, "203.0.113.7")

	assert.Equal(t, expected, runString(t, vm, `offered`).String())
	assert.Equal(t, "offer", runString(t, vm, `pc.localDescription.type`).String())

	candidate := "candidate:2 1 udp 1686052607 203.0.113.7 54401 typ srflx raddr 10.0.0.5 rport 54400"
	require.NoError(t, vm.Set("candidate", candidate))
	runString(t, vm, `pc.emit(candidate)`)

	var seen []string
	require.NoError(t, vm.ExportTo(runString(t, vm, `seen`), &seen))
	rewritten := want.Rewrite(candidate)
	assert.Equal(t, []string{rewritten, rewritten}, seen)
	assert.Contains(t, rewritten, "raddr 10.0.0.5")
	assert.NotContains(t, rewritten, "203.0.113.7")
}

func TestWebRTCScriptStableAcrossReruns(t *testing.T) {
	cfg := &Config{Enabled: true, Seed: 7, WebRTCMode: core.WebRTCReplace}
	vm := newPeerVM(t, cfg)

	// re-asserting on a loaded page must not wrap the prototype twice
	_, err := vm.RunString(cfg.PostLoadScript())
	require.NoError(t, err)

	require.NoError(t, vm.Set("sampleSDP", sampleSDP))
	runString(t, vm, `var pc = new RTCPeerConnection(); pc._desc = { type: 'offer', sdp: sampleSDP };`)
	first := runString(t, vm, `pc.localDescription.sdp`).String()
	second := runString(t, vm, `pc.localDescription.sdp`).String()

	want := NewAddressRewriter(SessionSeed(cfg.Seed, "example.com"), nil).Rewrite(sampleSDP)
	assert.Equal(t, want, first)
	assert.Equal(t, first, second)
}

func TestWebRTCScriptDisableHidesPeerConnection(t *testing.T) {
	cfg := &Config{Enabled: true, WebRTCMode: core.WebRTCDisable}
	vm := newPeerVM(t, cfg)

	assert.Equal(t, "undefined", runString(t, vm, `typeof window.RTCPeerConnection`).String())
}
