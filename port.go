package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.bug.st/serial"
)

const (
	midiBaudRate = 31250

	// Serial reads return after this long without data so the pump can notice Close.
	serialPollTimeout = 20 * time.Millisecond

	rxBufferSize = 4096
)

var ErrPortClosed = errors.New("port closed")

// Port is a byte-oriented MIDI connection. Incoming bytes are delivered on a
// single channel which is closed when the connection fails or is closed; Err
// reports why.
type Port interface {
	Send(data []byte) error
	Incoming() <-chan byte
	Err() error
	Close() error
}

type serialPort struct {
	name string
	port serial.Port

	writeMu sync.Mutex
	rx      chan byte
	done    chan struct{}
	stopped chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

// OpenSerial opens a serial MIDI interface at the MIDI baud rate.
func OpenSerial(path string) (Port, error) {
	mode := &serial.Mode{
		BaudRate: midiBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if err := p.SetReadTimeout(serialPollTimeout); err != nil {
		p.Close()
		return nil, errors.Wrap(err, "set read timeout")
	}
	if err := p.ResetInputBuffer(); err != nil {
		log.Warnf("reset input buffer on %s: %v", path, err)
	}

	log.Infof("opened serial port %s at %d baud", path, midiBaudRate)
	return newSerialPort(path, p, rxBufferSize), nil
}

func newSerialPort(name string, p serial.Port, bufSize int) *serialPort {
	sp := &serialPort{
		name:    name,
		port:    p,
		rx:      make(chan byte, bufSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go sp.pump()
	return sp
}

func (s *serialPort) pump() {
	defer close(s.stopped)
	defer close(s.rx)
	buf := make([]byte, 256)
	for {
		n, err := s.port.Read(buf)
		for _, b := range buf[:n] {
			select {
			case s.rx <- b:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.fail(errors.Wrapf(err, "read %s", s.name))
			return
		}
		select {
		case <-s.done:
			return
		default:
		}
	}
}

func (s *serialPort) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.err = ErrPortClosed
		return
	}
	s.err = err
}

func (s *serialPort) Send(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.port.Write(data); err != nil {
		return errors.Wrapf(err, "write %s", s.name)
	}
	return s.port.Drain()
}

func (s *serialPort) Incoming() <-chan byte { return s.rx }

func (s *serialPort) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil && s.closed {
		return ErrPortClosed
	}
	return s.err
}

func (s *serialPort) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	return s.port.Close()
}

// midiPort talks to the device through an OS MIDI port pair (USB MIDI).
type midiPort struct {
	in  drivers.In
	out drivers.Out

	stop func()
	rx   chan byte

	mu     sync.Mutex
	closed bool
}

// OpenMIDIPort opens the first input and output whose names contain nameHint.
func OpenMIDIPort(nameHint string) (Port, error) {
	out, err := matchPort([]drivers.Out(midi.GetOutPorts()), "output", nameHint)
	if err != nil {
		return nil, err
	}
	in, err := matchPort([]drivers.In(midi.GetInPorts()), "input", nameHint)
	if err != nil {
		return nil, err
	}

	if err := out.Open(); err != nil {
		return nil, errors.Wrapf(err, "open output %s", out.String())
	}

	mp := &midiPort{
		in:  in,
		out: out,
		rx:  make(chan byte, rxBufferSize),
	}

	mp.stop, err = midi.ListenTo(mp.in, mp.receive, midi.UseSysEx(), midi.SysExBufferSize(rxBufferSize))
	if err != nil {
		_ = out.Close()
		return nil, errors.Wrapf(err, "listen on %s", mp.in.String())
	}

	log.Infof("opened MIDI ports in=%q out=%q", mp.in.String(), out.String())
	return mp, nil
}

func (m *midiPort) receive(msg midi.Message, _ int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for _, b := range msg.Bytes() {
		select {
		case m.rx <- b:
		default:
			log.Warnf("receive buffer full, dropping %02X", b)
		}
	}
}

func (m *midiPort) Send(data []byte) error {
	if !m.out.IsOpen() {
		if err := m.out.Open(); err != nil {
			return err
		}
	}
	return m.out.Send(data)
}

func (m *midiPort) Incoming() <-chan byte { return m.rx }

func (m *midiPort) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrPortClosed
	}
	return nil
}

func (m *midiPort) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.stop()
	m.mu.Lock()
	close(m.rx)
	m.mu.Unlock()

	_ = m.in.Close()
	err := m.out.Close()
	drivers.Close()
	return err
}

// matchPort returns the first port whose name contains hint, ignoring case.
// A model name such as "MC-707" picks the device's USB MIDI port.
func matchPort[P fmt.Stringer](ports []P, kind, hint string) (P, error) {
	var none P
	if len(ports) == 0 {
		return none, errors.Errorf("no MIDI %ss available", kind)
	}
	hint = strings.ToLower(hint)
	for _, p := range ports {
		if strings.Contains(strings.ToLower(p.String()), hint) {
			return p, nil
		}
	}
	return none, errors.Errorf("no MIDI %s matches %q", kind, hint)
}
