package main

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checksumRangeSum(frame []byte) int {
	sum := 0
	for _, b := range frame[checksumStart : len(frame)-1] {
		sum += int(b)
	}
	return sum
}

func TestEncodeWriteCoarseTune(t *testing.T) {
	frame, err := EncodeWrite(MC707, 0x30000018, 112, 1)
	require.NoError(t, err)

	want := []byte{0xF0, 0x41, 0x10, 0x00, 0x00, 0x00, 0x5D, 0x12, 0x30, 0x00, 0x00, 0x18, 0x70, 0x48, 0xF7}
	assert.Equal(t, want, frame)
	assert.Len(t, frame, 15)
	assert.Zero(t, checksumRangeSum(frame)%128)
}

func TestEncodeRequest(t *testing.T) {
	frame := EncodeRequest(MC101, 0x30000000, 1)

	want := []byte{0xF0, 0x41, 0x10, 0x00, 0x00, 0x00, 0x5E, 0x11, 0x30, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x4F, 0xF7}
	assert.Equal(t, want, frame)
}

func TestEncodeRequestMasksCount(t *testing.T) {
	frame := EncodeRequest(MC707, 0x30000000, 0x1FF)
	assert.Equal(t, byte(0xFF), frame[15])
}

func TestChecksumInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		address := rng.Uint32() & 0x7F7F7F7F
		size := []int{1, 2, 4}[rng.Intn(3)]
		frame, err := EncodeWrite(MC707, address, rng.Uint32(), size)
		require.NoError(t, err)
		require.Zero(t, checksumRangeSum(frame)%128, "frame % X", frame)
		require.Less(t, frame[len(frame)-2], byte(0x80))

		rq := EncodeRequest(MC707, address, rng.Intn(128))
		require.Zero(t, checksumRangeSum(rq)%128, "frame % X", rq)
	}
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{name: "empty", data: []byte{}, expected: 0x00},
		{name: "single byte", data: []byte{0x01}, expected: 0x7F},
		{name: "multiple of 128", data: []byte{0x40, 0x40}, expected: 0x00},
		{name: "address and value", data: []byte{0x30, 0x00, 0x00, 0x18, 0x70}, expected: 0x48},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Checksum(tt.data))
		})
	}
}

func TestSetChecksumTooShort(t *testing.T) {
	frame := []byte{0xF0, 0x41, 0x10, 0x00, 0x00, 0x00, 0x5D, 0x12, 0x30, 0x00, 0x00, 0x01, 0xF7}
	orig := append([]byte(nil), frame...)

	err := SetChecksum(frame)
	assert.True(t, errors.Is(err, ErrFrameTooShort))
	assert.Equal(t, orig, frame)
}

func TestEncodeWriteNibbles(t *testing.T) {
	frame, err := EncodeWrite(MC707, 0x30002020, 0x1234, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, frame[12:16])

	frame, err = EncodeWrite(MC707, 0x30002020, 0xAB, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0A, 0x0B}, frame[12:14])

	frame, err = EncodeWrite(MC707, 0x30000018, 0xFF, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(0x7F), frame[12])
}

func TestEncodeWriteUnsupportedSize(t *testing.T) {
	for _, size := range []int{0, 3, 5, 8, -1} {
		frame, err := EncodeWrite(MC707, 0x30000000, 1, size)
		assert.Nil(t, frame)
		assert.True(t, errors.Is(err, ErrUnsupportedSize), "size %d", size)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	limits := map[int]uint32{1: 127, 2: 255, 4: 65535}
	for size, max := range limits {
		for v := uint32(0); v <= max; v += 1 + max/300 {
			frame, err := EncodeWrite(MC707, 0x30000000, v, size)
			require.NoError(t, err)

			got, ok := DecodeParam(frame[headerSize:len(frame)-footerSize], size)
			require.True(t, ok)
			require.Equal(t, v, got, "size %d", size)
		}
	}
}

func TestDecodeParam(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		size    int
		want    uint32
		ok      bool
	}{
		{name: "one byte", payload: []byte{0x40}, size: 1, want: 0x40, ok: true},
		{name: "two nibbles", payload: []byte{0x07, 0x0F}, size: 2, want: 0x7F, ok: true},
		{name: "four nibbles", payload: []byte{0x03, 0x0F, 0x0F, 0x0F}, size: 4, want: 0x3FFF, ok: true},
		{name: "high bits ignored", payload: []byte{0x71, 0x72}, size: 2, want: 0x12, ok: true},
		{name: "longer payload", payload: []byte{0x01, 0x02, 0x03}, size: 2, want: 0x12, ok: true},
		{name: "short payload", payload: []byte{0x01}, size: 2},
		{name: "unsupported size", payload: []byte{0x01, 0x02, 0x03}, size: 3},
		{name: "empty", payload: nil, size: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeParam(tt.payload, tt.size)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEmptyPayloadAnySize(t *testing.T) {
	for _, size := range []int{1, 2, 4} {
		_, ok := DecodeParam(nil, size)
		assert.False(t, ok)
	}
}

func TestParseFrame(t *testing.T) {
	frame, err := EncodeWrite(MC707, 0x30220018, 64, 1)
	require.NoError(t, err)

	f, err := ParseFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, byte(cmdDT1), f.Command)
	assert.Equal(t, MC707.ID, f.Model)
	assert.Equal(t, uint32(0x30220018), f.Address)
	assert.Equal(t, []byte{64}, f.Payload)

	frame[12] ^= 0x01
	_, err = ParseFrame(frame)
	assert.True(t, errors.Is(err, ErrBadFrame))

	_, err = ParseFrame(frame[:10])
	assert.True(t, errors.Is(err, ErrFrameTooShort))
}

func TestUnframe(t *testing.T) {
	frame, err := EncodeWrite(MC707, 0x30000000, 0x1234, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, Unframe(frame))

	assert.Nil(t, Unframe(frame[:13]))
	assert.Nil(t, Unframe(nil))
}

func TestLookupModel(t *testing.T) {
	for _, name := range []string{"mc707", "MC-707", "Mc707 "} {
		m, ok := LookupModel(name)
		assert.True(t, ok)
		assert.Equal(t, MC707, m)
	}
	m, ok := LookupModel("mc-101")
	assert.True(t, ok)
	assert.Equal(t, byte(0x5E), m.ID)

	_, ok = LookupModel("tr-8s")
	assert.False(t, ok)
}

func TestFilterTimingAndText(t *testing.T) {
	assert.Equal(t, []byte{0xF0, 0x41}, filterTiming([]byte{0xF8, 0xF0, 0xFE, 0x41, 0xF8}))
	assert.Equal(t, "30 00 7F", hexString([]byte{0x30, 0x00, 0x7F}))
	assert.Equal(t, "AB.~.", asciiString([]byte{'A', 'B', 0x00, '~', 0x7F}))
}

func TestEncodedFramesAreNeverShort(t *testing.T) {
	rq := EncodeRequest(MC707, 0x30000000, 1)
	assert.GreaterOrEqual(t, len(rq), minFrameSize)
	assert.NoError(t, SetChecksum(rq))

	dt, err := EncodeWrite(MC707, 0x30000000, 1, 1)
	require.NoError(t, err)
	assert.Len(t, dt, minFrameSize+1)
	assert.NoError(t, SetChecksum(dt))
}

func TestMaxValue(t *testing.T) {
	for size, want := range map[int]uint32{1: 127, 2: 255, 4: 65535} {
		got, ok := maxValue(size)
		assert.True(t, ok)
		assert.Equal(t, want, got)

		frame, err := EncodeWrite(MC707, 0x30000000, got, size)
		require.NoError(t, err)
		v, _ := DecodeParam(frame[headerSize:len(frame)-footerSize], size)
		assert.Equal(t, want, v, "size %d", size)
	}
	_, ok := maxValue(3)
	assert.False(t, ok)
}
