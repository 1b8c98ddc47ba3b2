package main

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
)

// Note is a key held on a track's MIDI channel.
type Note struct {
	Key      uint8
	Velocity uint8
	Release  uint8
	Hold     time.Duration
}

// TestNote is the note the poke session and the play command sound by default.
var TestNote = Note{Key: 0x40, Velocity: 0x70, Release: 0x40, Hold: time.Second}

// phraseNote is how each step of a phrase is played; Key is replaced per step.
var phraseNote = Note{Velocity: TestNote.Velocity, Release: TestNote.Release, Hold: 300 * time.Millisecond}

const phraseGap = 60 * time.Millisecond

// PlayNote sends note on, waits n.Hold and sends note off on the channel of
// track (1-16).
func (e *Engine) PlayNote(track int, n Note) error {
	ch := channelByte(track)
	log.Infof("playing note %02X on channel %d", n.Key, ch+1)
	if err := e.Send(midi.NoteOn(ch, n.Key, n.Velocity)); err != nil {
		return err
	}
	time.Sleep(n.Hold)
	if err := e.Send(midi.NoteOffVelocity(ch, n.Key, n.Release)); err != nil {
		return err
	}
	log.Debug("note off")
	return nil
}

// Step is one entry of a phrase. A rest lasts as long as a played step.
type Step struct {
	Key  uint8
	Rest bool
}

// PlayPhrase plays steps one after another on track, each shaped by n.
func (e *Engine) PlayPhrase(track int, steps []Step, n Note) error {
	for _, st := range steps {
		if st.Rest {
			time.Sleep(n.Hold + phraseGap)
			continue
		}
		n.Key = st.Key
		if err := e.PlayNote(track, n); err != nil {
			return err
		}
		time.Sleep(phraseGap)
	}
	return nil
}

var pitchClass = map[string]int{
	"C": 0, "C#": 1, "DB": 1, "D": 2, "D#": 3, "EB": 3, "E": 4, "F": 5,
	"F#": 6, "GB": 6, "G": 7, "G#": 8, "AB": 8, "A": 9, "A#": 10, "BB": 10, "B": 11,
}

// ParsePhrase reads steps such as "C4 F#3, Bb2 r". Middle C is C4; "r" or
// "-" is a rest.
func ParsePhrase(text string) ([]Step, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == ','
	})
	if len(fields) == 0 {
		return nil, errors.New("empty phrase")
	}

	steps := make([]Step, 0, len(fields))
	for i, f := range fields {
		st, err := parseStep(f)
		if err != nil {
			return nil, errors.Wrapf(err, "step %d", i+1)
		}
		steps = append(steps, st)
	}
	return steps, nil
}

func parseStep(tok string) (Step, error) {
	if tok == "-" || strings.EqualFold(tok, "r") {
		return Step{Rest: true}, nil
	}

	split := strings.IndexFunc(tok, func(r rune) bool { return r == '-' || unicode.IsDigit(r) })
	if split < 1 {
		return Step{}, errors.Errorf("%q: want pitch and octave", tok)
	}
	pc, ok := pitchClass[strings.ToUpper(tok[:split])]
	if !ok {
		return Step{}, errors.Errorf("%q: unknown pitch %q", tok, tok[:split])
	}
	octave, err := strconv.Atoi(tok[split:])
	if err != nil {
		return Step{}, errors.Wrapf(err, "%q: octave", tok)
	}

	key := 12*(octave+1) + pc
	if key < 0 || key > 127 {
		return Step{}, errors.Errorf("%q: key %d out of range", tok, key)
	}
	return Step{Key: uint8(key)}, nil
}
