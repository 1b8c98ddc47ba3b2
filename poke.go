package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	maxOffset = 0x10000
	maxSize   = 32

	// The partial used by the waveform keys.
	examplePartial = 2
)

// Cursor is the state of an interactive session.
type Cursor struct {
	Track int
	// Clip is 1-16, or TrackSound.
	Clip   int
	Base   uint32
	Offset uint32
	Size   int

	// Value is the last value read or written; Known is false until then.
	Value int
	Known bool
}

func NewCursor() Cursor {
	return Cursor{
		Track: 1,
		Clip:  1,
		Base:  Resolve(1, 1),
		Size:  1,
	}
}

// Address adds the offset to the base in 7-bit address arithmetic, so offset
// 0x80 is the byte after 0x7F.
func (c Cursor) Address() uint32 { return fromLinear(toLinear(c.Base) + c.Offset) }

type binding struct {
	key    byte
	help   string
	action func(ctx context.Context, s *Session) error
}

// Session dispatches key presses to device operations.
type Session struct {
	engine   *Engine
	cfg      Config
	cursor   Cursor
	out      io.Writer
	note     Note
	bindings []binding
}

func NewSession(engine *Engine, cfg Config, out io.Writer) *Session {
	s := &Session{
		engine:   engine,
		cfg:      cfg,
		cursor:   NewCursor(),
		out:      out,
		note:     TestNote,
	}
	s.bindings = defaultBindings()
	return s
}

func (s *Session) Cursor() Cursor { return s.cursor }

func defaultBindings() []binding {
	return []binding{
		{'w', "previous clip (track sound above clip 1)", func(_ context.Context, s *Session) error {
			if s.cursor.Clip > TrackSound {
				s.cursor.Clip--
			}
			return s.selectTone()
		}},
		{'s', "next clip", func(_ context.Context, s *Session) error {
			if s.cursor.Clip < NumClips {
				s.cursor.Clip++
			}
			return s.selectTone()
		}},
		{'a', "previous track", func(_ context.Context, s *Session) error {
			if s.cursor.Track > 1 {
				s.cursor.Track--
			} else {
				log.Info("first track")
			}
			return s.selectTone()
		}},
		{'d', "next track", func(_ context.Context, s *Session) error {
			if s.cursor.Track < NumTracks {
				s.cursor.Track++
			} else {
				log.Info("last track")
			}
			return s.selectTone()
		}},
		{'r', "coarse tune +1", func(_ context.Context, s *Session) error {
			return s.rmw(CoarseTune, 1)
		}},
		{'f', "coarse tune -1", func(_ context.Context, s *Session) error {
			return s.rmw(CoarseTune, -1)
		}},
		{'t', "partial 2 waveform +1", func(_ context.Context, s *Session) error {
			return s.rmw(PartialWave(examplePartial), 1)
		}},
		{'g', "partial 2 waveform -1", func(_ context.Context, s *Session) error {
			return s.rmw(PartialWave(examplePartial), -1)
		}},
		{'[', "offset +1", func(_ context.Context, s *Session) error {
			if s.cursor.Offset < maxOffset {
				s.cursor.Offset++
			}
			log.Infof("offset set to %02X", s.cursor.Offset)
			return nil
		}},
		{']', "offset -1", func(_ context.Context, s *Session) error {
			if s.cursor.Offset > 0 {
				s.cursor.Offset--
			}
			log.Infof("offset set to %02X", s.cursor.Offset)
			return nil
		}},
		{'{', "size +1", func(_ context.Context, s *Session) error {
			if s.cursor.Size < maxSize {
				s.cursor.Size++
			}
			log.Infof("size set to %d", s.cursor.Size)
			return nil
		}},
		{'}', "size -1", func(_ context.Context, s *Session) error {
			if s.cursor.Size > 1 {
				s.cursor.Size--
			}
			log.Infof("size set to %d", s.cursor.Size)
			return nil
		}},
		{' ', "read at cursor", func(_ context.Context, s *Session) error {
			return s.readAtCursor()
		}},
		{'+', "increment and write", func(_ context.Context, s *Session) error {
			return s.stepAtCursor(1)
		}},
		{'-', "decrement and write", func(_ context.Context, s *Session) error {
			return s.stepAtCursor(-1)
		}},
		{'i', "send identity request", func(_ context.Context, s *Session) error {
			return s.engine.SendIdentityRequest()
		}},
		{'n', "play test note on the track channel", func(_ context.Context, s *Session) error {
			return s.engine.PlayNote(s.cursor.Track, s.note)
		}},
		{'^', "dump registers to the output file", func(ctx context.Context, s *Session) error {
			return s.scan(ctx)
		}},
		{'h', "help", func(_ context.Context, s *Session) error {
			s.printHelp()
			return nil
		}},
		{'?', "help", func(_ context.Context, s *Session) error {
			s.printHelp()
			return nil
		}},
	}
}

func (s *Session) selectTone() error {
	s.cursor.Base = Resolve(s.cursor.Track, s.cursor.Clip)
	if s.cursor.Clip < 1 || s.cursor.Clip > NumClips {
		return nil
	}
	return s.engine.ProgramChange(s.cursor.Track, s.cursor.Clip-1)
}

func (s *Session) rmw(p Param, step int) error {
	v, err := RMW(s.engine, s.cursor.Base, p, step)
	if err != nil {
		return err
	}
	s.cursor.Value, s.cursor.Known = v, true
	return nil
}

func (s *Session) readAtCursor() error {
	address := s.cursor.Address()
	v, ok, err := s.engine.ReadParam(address, s.cursor.Size)
	if err != nil {
		return err
	}
	if !ok {
		log.Info("no valid response received")
		return nil
	}
	s.cursor.Value, s.cursor.Known = int(v), true
	log.Infof("value read: %d", v)
	return nil
}

func (s *Session) stepAtCursor(step int) error {
	if !s.cursor.Known {
		log.Info("no value read yet, counting from 0")
	}
	next := s.cursor.Value + step
	if limit, ok := maxValue(s.cursor.Size); ok {
		next = clamp(next, 0, int(limit))
	} else if next < 0 {
		next = 0
	}
	address := s.cursor.Address()
	log.Infof("write @ addr=%08X, value=%02X", address, next)
	if err := s.engine.WriteParam(address, uint32(next), s.cursor.Size); err != nil {
		return err
	}
	s.cursor.Value, s.cursor.Known = next, true
	return nil
}

func (s *Session) scan(ctx context.Context) error {
	sink, err := OpenCSVSink(s.cfg.Out)
	if err != nil {
		return err
	}
	defer sink.Close()

	_, err = Scan(ctx, s.engine, uint32(s.cfg.Start), uint32(s.cfg.End), s.cfg.Scan, sink)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// HandleKey runs the action bound to key. Protocol level failures are
// logged and swallowed; the returned error means the session cannot go on.
func (s *Session) HandleKey(ctx context.Context, key byte) (quit bool, err error) {
	log.Debugf("key pressed: %q", key)
	if key == 'q' {
		return true, nil
	}
	for _, b := range s.bindings {
		if b.key != key {
			continue
		}
		if err := b.action(ctx, s); err != nil {
			if isTransportError(err) {
				return true, err
			}
			log.Warnf("%s: %v", b.help, err)
		}
		s.printStatus()
		return false, nil
	}
	return false, nil
}

// Run services the port and the keyboard until quit, ctx cancellation or a
// transport failure. Both sources are consumed here, so transactions started
// by a key never race another reader for the port.
func (s *Session) Run(ctx context.Context, keys <-chan byte) error {
	rx := s.engine.port.Incoming()

	s.printHelp()
	if err := s.selectTone(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-rx:
			if !ok {
				return s.engine.portErr()
			}
			if isTimingByte(b) {
				continue
			}
			log.Infof("rxed: %02X", b)
		case k, ok := <-keys:
			if !ok {
				return nil
			}
			quit, err := s.HandleKey(ctx, k)
			if err != nil || quit {
				return err
			}
		}
	}
}

// readKeys delivers single bytes from r until it fails.
func readKeys(r io.Reader) <-chan byte {
	keys := make(chan byte)
	go func() {
		defer close(keys)
		buf := make([]byte, 1)
		for {
			n, err := r.Read(buf)
			if n == 1 {
				keys <- buf[0]
			}
			if err != nil {
				return
			}
		}
	}()
	return keys
}

var (
	keyStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).Width(7)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

func keyName(k byte) string {
	if k == ' ' {
		return "space"
	}
	return string(k)
}

func (s *Session) printHelp() {
	var sb strings.Builder
	sb.WriteString(keyStyle.Render("q") + helpStyle.Render("quit") + "\n")
	for _, b := range s.bindings {
		sb.WriteString(keyStyle.Render(keyName(b.key)) + helpStyle.Render(b.help) + "\n")
	}
	fmt.Fprint(s.out, sb.String())
}

func (s *Session) printStatus() {
	c := s.cursor
	clip := "track"
	if c.Clip >= 1 && c.Clip <= NumClips {
		clip = fmt.Sprintf("%d", c.Clip)
	}
	value := "-"
	if c.Known {
		value = fmt.Sprintf("%d", c.Value)
	}
	line := fmt.Sprintf("trk=%d clip=%s base=%08X offset=%04X size=%d value=%s",
		c.Track, clip, c.Base, c.Offset, c.Size, value)
	fmt.Fprintln(s.out, statusStyle.Render(line))
}
