package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const scanReadSize = 16

// ScanRow is one non-empty response found by a scan.
type ScanRow struct {
	Address uint32
	Data    []byte
}

func (r ScanRow) Record() []string {
	return []string{
		fmt.Sprintf("%08X", r.Address),
		strconv.Itoa(len(r.Data)),
		hexString(r.Data),
		asciiString(r.Data),
	}
}

type ScanSink interface {
	Add(row ScanRow) error
}

// ScanOptions control how much of each 64 KB block a scan samples.
type ScanOptions struct {
	// Wait is the response window per request.
	Wait time.Duration `yaml:"wait"`
	// Pace is the pause between requests.
	Pace time.Duration `yaml:"pace"`
	// InnerOffsets is how many 0x10-spaced low offsets are probed per block.
	// Only the start of each block is sampled; this is a reconnaissance
	// shortcut, not a full sweep.
	InnerOffsets int `yaml:"inner_offsets"`
	// EmptyRunLimit abandons a block after this many consecutive empty
	// responses. Registers late in a sparse block can be missed.
	EmptyRunLimit int `yaml:"empty_run_limit"`
	// SkipEmptyHead abandons a block as soon as its first offset is empty.
	SkipEmptyHead bool `yaml:"skip_empty_head"`
}

func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		Wait:          DefaultScanWait,
		Pace:          200 * time.Millisecond,
		InnerOffsets:  3,
		EmptyRunLimit: 2,
		SkipEmptyHead: true,
	}
}

// Scan probes [start, end) block by block and hands every non-empty
// response to sink. It holds the engine for the whole run.
func Scan(ctx context.Context, e *Engine, start, end uint32, opts ScanOptions, sink ScanSink) (int, error) {
	runLog := log.WithField("scan_id", uuid.NewString())
	runLog.Infof("starting register dump 0x%08X-0x%08X", start, end)

	e.Lock()
	defer e.Unlock()

	rows := 0
	for high := start >> 16; high < end>>16; high++ {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		blockLog := runLog.WithField("block", fmt.Sprintf("%04X", high))
		blockLog.Debug("scanning block")

		emptyRun := 0
		for i := 0; i < opts.InnerOffsets; i++ {
			low := uint32(i) << 4
			address := high<<16 | low
			if !validAddress(address) {
				continue
			}

			blockLog.Infof("---> poking up to %d bytes from address 0x%08X, empty run %d of %d",
				scanReadSize, address, emptyRun, opts.EmptyRunLimit)
			data, err := e.RequestLocked(address, scanReadSize, opts.Wait)
			if err != nil {
				return rows, err
			}

			if len(data) > 0 {
				emptyRun = 0
				blockLog.Infof("got response from %08X, len %d", address, len(data))
				if err := sink.Add(ScanRow{Address: address, Data: data}); err != nil {
					return rows, errors.Wrap(err, "record scan row")
				}
				rows++
			} else {
				emptyRun++
				if low == 0 && opts.SkipEmptyHead {
					break
				}
				if opts.EmptyRunLimit > 0 && emptyRun >= opts.EmptyRunLimit {
					blockLog.Info("too many empty spaces, moving on")
					break
				}
			}

			if opts.Pace > 0 {
				select {
				case <-ctx.Done():
					return rows, ctx.Err()
				case <-time.After(opts.Pace):
				}
			}
		}
	}

	runLog.Infof("register dump done, %d rows", rows)
	return rows, nil
}

// CSVSink appends scan rows to a CSV file, flushing after every row.
type CSVSink struct {
	f *os.File
	w *csv.Writer
}

func OpenCSVSink(path string) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return &CSVSink{f: f, w: csv.NewWriter(f)}, nil
}

func (s *CSVSink) Add(row ScanRow) error {
	if err := s.w.Write(row.Record()); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.w.Flush()
	return s.f.Close()
}

type sliceSink struct {
	rows []ScanRow
}

func (s *sliceSink) Add(row ScanRow) error {
	s.rows = append(s.rows, row)
	return nil
}
