package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScanOptions() ScanOptions {
	opts := DefaultScanOptions()
	opts.Wait = testWait
	opts.Pace = 0
	return opts
}

func requestedAddresses(dev *fakeDevice) []uint32 {
	var out []uint32
	for _, f := range dev.sentFrames(cmdRQ1) {
		out = append(out, f.Address)
	}
	return out
}

func TestScanRecordsNonEmptyResponses(t *testing.T) {
	e, dev := newTestEngine(t)
	dev.set(0x30000000, 'A', 'B', 0x00)
	dev.set(0x30000020, 0x7F)
	dev.set(0x30020000, 'Z')

	sink := &sliceSink{}
	rows, err := Scan(context.Background(), e, 0x30000000, 0x30030000, testScanOptions(), sink)
	require.NoError(t, err)
	assert.Equal(t, 3, rows)
	assert.Equal(t, []ScanRow{
		{Address: 0x30000000, Data: []byte{'A', 'B', 0x00}},
		{Address: 0x30000020, Data: []byte{0x7F}},
		{Address: 0x30020000, Data: []byte{'Z'}},
	}, sink.rows)

	assert.Equal(t, []uint32{
		0x30000000, 0x30000010, 0x30000020,
		0x30010000,
		0x30020000, 0x30020010, 0x30020020,
	}, requestedAddresses(dev))

	for _, f := range dev.sentFrames(cmdRQ1) {
		assert.Equal(t, []byte{0, 0, 0, scanReadSize}, f.Payload)
	}
}

func TestScanEmptyRunLimit(t *testing.T) {
	e, dev := newTestEngine(t)
	dev.set(0x30000030, 0x01)

	opts := testScanOptions()
	opts.SkipEmptyHead = false
	opts.InnerOffsets = 8

	sink := &sliceSink{}
	rows, err := Scan(context.Background(), e, 0x30000000, 0x30010000, opts, sink)
	require.NoError(t, err)
	assert.Zero(t, rows)
	assert.Empty(t, sink.rows)
	assert.Equal(t, []uint32{0x30000000, 0x30000010}, requestedAddresses(dev))
}

func TestScanWithoutEmptyRunLimit(t *testing.T) {
	e, dev := newTestEngine(t)
	dev.set(0x30000030, 0x01)

	opts := testScanOptions()
	opts.SkipEmptyHead = false
	opts.EmptyRunLimit = 0
	opts.InnerOffsets = 4

	sink := &sliceSink{}
	rows, err := Scan(context.Background(), e, 0x30000000, 0x30010000, opts, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
	assert.Equal(t, uint32(0x30000030), sink.rows[0].Address)
}

func TestScanSkipsNonDataAddresses(t *testing.T) {
	e, dev := newTestEngine(t)
	dev.set(0x307F0000, 0x01)
	dev.set(0x30800000, 0x02)
	dev.set(0x30810000, 0x03)
	for low := uint32(0); low < 0x90; low += 0x10 {
		dev.set(0x307F0000+low, 0x04)
	}

	opts := testScanOptions()
	opts.InnerOffsets = 9

	sink := &sliceSink{}
	_, err := Scan(context.Background(), e, 0x307F0000, 0x30820000, opts, sink)
	require.NoError(t, err)

	for _, address := range requestedAddresses(dev) {
		assert.True(t, validAddress(address), "requested %08X", address)
	}
	for _, row := range sink.rows {
		assert.True(t, validAddress(row.Address), "recorded %08X", row.Address)
	}
	assert.Len(t, sink.rows, 8)
}

func TestScanCancelled(t *testing.T) {
	e, dev := newTestEngine(t)
	dev.set(0x30000000, 0x01)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows, err := Scan(ctx, e, 0x30000000, 0x30100000, testScanOptions(), &sliceSink{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, rows)
	assert.Empty(t, dev.sentRaw())
}

func TestScanTransportFailure(t *testing.T) {
	e, dev := newTestEngine(t)
	require.NoError(t, dev.Close())

	_, err := Scan(context.Background(), e, 0x30000000, 0x30010000, testScanOptions(), &sliceSink{})
	assert.True(t, isTransportError(err))
}

func TestCSVSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.csv")

	for _, row := range []ScanRow{
		{Address: 0x30000000, Data: []byte{'A', 'B', 0x00}},
		{Address: 0x31080010, Data: []byte{0x7F, ' '}},
	} {
		sink, err := OpenCSVSink(path)
		require.NoError(t, err)
		require.NoError(t, sink.Add(row))
		require.NoError(t, sink.Close())
	}

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "30000000,3,41 42 00,AB.\n31080010,2,7F 20,. \n", string(got))
}

func TestScanRowRecord(t *testing.T) {
	row := ScanRow{Address: 0x0000ABCD, Data: []byte("Hi!")}
	assert.Equal(t, []string{"0000ABCD", "3", "48 69 21", "Hi!"}, row.Record())
}
