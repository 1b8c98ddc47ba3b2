package main

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var ErrReadFailed = errors.New("read failed")

// Param describes a parameter inside a tone structure.
type Param struct {
	Name   string
	Offset uint32
	Size   int
	Min    int
	Max    int
}

var CoarseTune = Param{Name: "coarse tune", Offset: 0x0018, Size: 1, Min: 16, Max: 112}

var partialOffset = [4]uint32{0x2000, 0x2100, 0x2200, 0x2300}

const partialWaveNumberL = 0x20

// PartialWave is the left PCM waveform number of a partial (1-4). It only
// means something for tones built on PCM waveforms.
func PartialWave(partial int) Param {
	idx := clamp(partial, 1, len(partialOffset)) - 1
	return Param{
		Name:   "partial waveform L",
		Offset: partialOffset[idx] + partialWaveNumberL,
		Size:   4,
		Min:    0,
		Max:    16383,
	}
}

// RMW reads p at base, adds step, clamps to the parameter range and writes
// the result back. Nothing is written when the read fails.
func RMW(e *Engine, base uint32, p Param, step int) (int, error) {
	address := base + p.Offset
	log.Infof("%s %+d @ 0x%08X", p.Name, step, address)

	current, ok, err := e.ReadParam(address, p.Size)
	if err != nil {
		return 0, err
	}
	if !ok {
		log.Warnf("%s: no value read, nothing written", p.Name)
		return 0, errors.Wrapf(ErrReadFailed, "%s at 0x%08X", p.Name, address)
	}

	next := clamp(int(current)+step, p.Min, p.Max)
	if err := e.WriteParam(address, uint32(next), p.Size); err != nil {
		return 0, err
	}
	return next, nil
}
