package soap

import (
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/rflink/bridge/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertSameState compares float fields bit for bit, letting any NaN
// match any NaN, and everything else with assert.Equal.
func assertSameState(t *testing.T, want, got core.SimulatorState) {
	t.Helper()
	wf, gf := want.Floats(), got.Floats()
	for i := range wf {
		assertSameFloat(t, *wf[i], *gf[i], "float field %d", i)
		*wf[i], *gf[i] = 0, 0
	}
	for i := range want.PreviousInputs.Channels {
		assertSameFloat(t, want.PreviousInputs.Channels[i], got.PreviousInputs.Channels[i], "channel %d", i)
		want.PreviousInputs.Channels[i], got.PreviousInputs.Channels[i] = 0, 0
	}
	assert.Equal(t, want, got)
}

func assertSameFloat(t *testing.T, want, got float64, msg string, args ...any) {
	t.Helper()
	if math.IsNaN(want) {
		assert.True(t, math.IsNaN(got), append([]any{msg}, args...)...)
		return
	}
	assert.Equal(t, math.Float64bits(want), math.Float64bits(got), append([]any{msg}, args...)...)
}

// randomState fills every field from seed. Half the floats are raw bit
// patterns, so NaN, infinities, subnormals and negative zero all occur.
func randomState(seed uint64, flags uint8, status string) core.SimulatorState {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	next := func() float64 {
		if rng.IntN(2) == 0 {
			return math.Float64frombits(rng.Uint64())
		}
		return (rng.Float64() - 0.5) * math.Pow(10, float64(rng.IntN(12)))
	}
	st := core.SimulatorState{CurrentAircraftStatus: status}
	for _, p := range st.Floats() {
		*p = next()
	}
	for i := range st.PreviousInputs.Channels {
		st.PreviousInputs.Channels[i] = next()
	}
	for i, p := range st.Flags() {
		*p = flags&(1<<i) != 0
	}
	return st
}

// decodeOverHTTP pushes st through the simulator's HTTP framing and back.
func decodeOverHTTP(t *testing.T, st *core.SimulatorState) core.SimulatorState {
	t.Helper()
	resp, err := ReadResponse(httpResponse(200, EncodeStateResponse(st), false), nil)
	require.NoError(t, err)
	got, err := DecodeState(resp.Body)
	require.NoError(t, err)
	return got
}

func TestDecode_StatusKeptVerbatim(t *testing.T) {
	statuses := []string{
		" padded ",
		"line\nbreak\n",
		"tab\t",
		"\r\n",
		"   ",
		"  <tag> & 'quote'  ",
		"ünïcødé ✈",
	}
	for _, status := range statuses {
		st := sampleState()
		st.CurrentAircraftStatus = status
		got := decodeOverHTTP(t, &st)
		assert.Equal(t, status, got.CurrentAircraftStatus)
		assert.Equal(t, st, got)
	}
}

func TestDecode_NumbersTolerateWhitespace(t *testing.T) {
	st := sampleState()
	body := string(EncodeStateResponse(&st))
	body = replaceOnce(t, body, "<m-airspeed-MPS>0.1</m-airspeed-MPS>", "<m-airspeed-MPS>\n  0.1 \t</m-airspeed-MPS>")
	body = replaceOnce(t, body, "<m-isLocked>false</m-isLocked>", "<m-isLocked> false </m-isLocked>")

	got, err := DecodeState([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, st, got)
}

func replaceOnce(t *testing.T, s, old, repl string) string {
	t.Helper()
	require.Contains(t, s, old)
	return strings.Replace(s, old, repl, 1)
}

func TestDecode_RandomRoundTrip(t *testing.T) {
	for seed := range uint64(200) {
		st := randomState(seed, uint8(seed), "CAS-FLYING")
		assertSameState(t, st, decodeOverHTTP(t, &st))
	}
}

func FuzzDecodeEncode(f *testing.F) {
	f.Add(uint64(0), uint8(0), "")
	f.Add(uint64(1), uint8(0x3f), " padded ")
	f.Add(uint64(2), uint8(0x15), "line\nbreak\n")
	f.Add(uint64(3), uint8(0x2a), "tab\t")
	f.Add(uint64(4), uint8(0x01), "&amp; <![CDATA[x]]> &#65;")
	f.Fuzz(func(t *testing.T, seed uint64, flags uint8, status string) {
		if len(status) > MaxBodySize/2 {
			t.Skip("status larger than a simulator body")
		}
		st := randomState(seed, flags, status)
		assertSameState(t, st, decodeOverHTTP(t, &st))
	})
}
