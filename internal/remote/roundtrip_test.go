package remote

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allTags = []Tag{
	TagExchangeRequest, TagExchangeResponse, TagEnableRc, TagDisableRc,
	TagResetAircraft, TagAck, TagError,
}

// randomMessage builds a message of the given tag whose meaningful field
// is filled from seed. Floats are raw bit patterns, NaN payloads included.
func randomMessage(tag Tag, seed uint64, code uint8, a, b, c string) Message {
	rng := rand.New(rand.NewPCG(seed, ^seed))
	bits := func() float64 { return math.Float64frombits(rng.Uint64()) }

	m := Message{Tag: tag}
	switch tag {
	case TagExchangeRequest:
		for i := range m.Inputs.Channels {
			m.Inputs.Channels[i] = bits()
		}
	case TagExchangeResponse:
		for i := range m.State.PreviousInputs.Channels {
			m.State.PreviousInputs.Channels[i] = bits()
		}
		for _, p := range m.State.Floats() {
			*p = bits()
		}
		flags := rng.Uint32()
		for i, p := range m.State.Flags() {
			*p = flags&(1<<i) != 0
		}
		m.State.CurrentAircraftStatus = a
	case TagError:
		m.Failure = Failure{Code: code, Op: a, Field: b, Message: c}
	}
	return m
}

// assertSameMessage compares floats by bit pattern, then the rest.
func assertSameMessage(t *testing.T, want, got Message) {
	t.Helper()
	pairs := [][2]*float64{}
	for i := range want.Inputs.Channels {
		pairs = append(pairs, [2]*float64{&want.Inputs.Channels[i], &got.Inputs.Channels[i]})
	}
	for i := range want.State.PreviousInputs.Channels {
		pairs = append(pairs, [2]*float64{&want.State.PreviousInputs.Channels[i], &got.State.PreviousInputs.Channels[i]})
	}
	wf, gf := want.State.Floats(), got.State.Floats()
	for i := range wf {
		pairs = append(pairs, [2]*float64{wf[i], gf[i]})
	}
	for i, p := range pairs {
		assert.Equal(t, math.Float64bits(*p[0]), math.Float64bits(*p[1]), "float %d", i)
		*p[0], *p[1] = 0, 0
	}
	assert.Equal(t, want, got)
}

func checkRoundTrip(t *testing.T, m Message) {
	t.Helper()
	frame, err := Encode(m)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(frame), HeaderSize)
	assert.Equal(t, Version, binary.BigEndian.Uint16(frame))
	assert.Equal(t, byte(m.Tag), frame[2])
	assert.Equal(t, uint32(len(frame)-HeaderSize), binary.BigEndian.Uint32(frame[3:HeaderSize]))

	got, err := Decode(frame)
	require.NoError(t, err)
	assertSameMessage(t, m, got)

	var stream bytes.Buffer
	_, err = WriteMessage(&stream, nil, m)
	require.NoError(t, err)
	assert.Equal(t, frame, stream.Bytes())
	read, _, err := ReadMessage(&stream, nil)
	require.NoError(t, err)
	again, err := Encode(read)
	require.NoError(t, err)
	assert.Equal(t, frame, again)
}

func TestCodec_RandomRoundTripEveryTag(t *testing.T) {
	for _, tag := range allTags {
		t.Run(tag.String(), func(t *testing.T) {
			for seed := range uint64(50) {
				checkRoundTrip(t, randomMessage(tag, seed, uint8(seed*37), "CAS-FLYING", "m-roll-DEG", "λ ✈ \x00"))
			}
		})
	}
}

func FuzzCodecRoundTrip(f *testing.F) {
	for i, tag := range allTags {
		f.Add(uint8(tag), uint64(i), uint8(i), "", "", "")
	}
	f.Add(uint8(TagError), uint64(9), uint8(255), "exchange", "m-roll-DEG", "invalid number")
	f.Add(uint8(TagExchangeResponse), uint64(10), uint8(0), " padded \n", "", "")
	f.Fuzz(func(t *testing.T, rawTag uint8, seed uint64, code uint8, a, b, c string) {
		if len(a) > math.MaxUint16 || len(b) > math.MaxUint16 || len(c) > math.MaxUint16 {
			t.Skip("string longer than the wire allows")
		}
		tag := allTags[int(rawTag)%len(allTags)]
		checkRoundTrip(t, randomMessage(tag, seed, code, a, b, c))
	})
}
