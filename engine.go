package main

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
)

const (
	DefaultReadWait = 400 * time.Millisecond
	DefaultScanWait = 200 * time.Millisecond
)

var identityRequest = []byte{0xF0, 0x7E, 0x7F, 0x06, 0x01, 0xF7}

// Engine runs synchronous RQ1/DT1 transactions over a Port. Only one
// transaction is in flight at a time; the engine is the only reader of the
// port's byte stream while a transaction waits.
type Engine struct {
	mu       sync.Mutex
	port     Port
	model    Model
	readWait time.Duration
}

type EngineOption func(*Engine)

// WithReadWait sets how long ReadParam waits for a response.
func WithReadWait(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.readWait = d
		}
	}
}

func NewEngine(port Port, model Model, opts ...EngineOption) *Engine {
	e := &Engine{
		port:     port,
		model:    model,
		readWait: DefaultReadWait,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Model() Model { return e.model }

// Lock gives a caller exclusive use of the engine across several calls, for
// instance a whole scan. Locked variants of the operations end in "Locked".
func (e *Engine) Lock()   { e.mu.Lock() }
func (e *Engine) Unlock() { e.mu.Unlock() }

// TransportError means the port itself failed, as opposed to the device
// not answering.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

func isTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func (e *Engine) send(data []byte) error {
	if err := e.port.Send(data); err != nil {
		return &TransportError{Err: errors.Wrap(err, "send")}
	}
	return nil
}

// Send transmits a MIDI message.
func (e *Engine) Send(msg midi.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.send(msg.Bytes())
}

// Drain returns whatever is pending on the port without waiting, minus
// timing bytes.
func (e *Engine) Drain() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drainLocked()
}

func (e *Engine) drainLocked() ([]byte, error) {
	var out []byte
	rx := e.port.Incoming()
	for {
		select {
		case b, ok := <-rx:
			if !ok {
				return out, e.portErr()
			}
			if !isTimingByte(b) {
				out = append(out, b)
			}
		default:
			return out, nil
		}
	}
}

func (e *Engine) portErr() error {
	err := e.port.Err()
	if err == nil {
		err = ErrPortClosed
	}
	return &TransportError{Err: err}
}

// collect gathers bytes for up to wait. It returns early when an end of
// exclusive arrives after at least a minimal frame.
func (e *Engine) collect(wait time.Duration) ([]byte, error) {
	var buf []byte
	rx := e.port.Incoming()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case b, ok := <-rx:
			if !ok {
				return buf, e.portErr()
			}
			if isTimingByte(b) {
				continue
			}
			buf = append(buf, b)
			if b == sysExEnd && len(buf) >= minFrameSize {
				return buf, nil
			}
		case <-timer.C:
			return buf, nil
		}
	}
}

// Request sends an RQ1 for count bytes at address and returns the response
// payload. An empty payload means nothing usable came back in time; errors
// are reserved for transport failures.
func (e *Engine) Request(address uint32, count int, wait time.Duration) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.RequestLocked(address, count, wait)
}

func (e *Engine) RequestLocked(address uint32, count int, wait time.Duration) ([]byte, error) {
	if stale, err := e.drainLocked(); err != nil {
		return nil, err
	} else if len(stale) > 0 {
		log.Debugf("discarded before request: %s", hexString(stale))
	}

	rq := EncodeRequest(e.model, address, count)
	log.Infof("request raw:  %s", hexString(rq))
	if err := e.send(rq); err != nil {
		return nil, err
	}

	buf, err := e.collect(wait)
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		log.Info("no response")
		return nil, nil
	}
	log.Infof("response raw: %s (len=%d)", hexString(buf), len(buf))
	if len(buf) < minFrameSize {
		log.Infof("response too short: %d", len(buf))
		return nil, nil
	}

	payload := Unframe(buf)
	log.Infof("extracted response: %s (len=%d)", hexString(payload), len(payload))
	return payload, nil
}

// ReadParam reads a value of size 1, 2 or 4. ok is false when the device
// did not answer with enough data, or when address is not a valid device
// address; nothing is sent then.
func (e *Engine) ReadParam(address uint32, size int) (value uint32, ok bool, err error) {
	log.Infof("read param 0x%08X, size %d", address, size)
	if !validAddress(address) {
		log.Errorf("read 0x%08X: %v", address, ErrInvalidAddress)
		return 0, false, nil
	}
	payload, err := e.Request(address, size, e.readWait)
	if err != nil {
		return 0, false, err
	}
	value, ok = DecodeParam(payload, size)
	return value, ok, nil
}

// WriteParam sends a DT1. The device does not acknowledge writes. Addresses
// with a byte of 0x80 or more are refused before anything is sent.
func (e *Engine) WriteParam(address uint32, value uint32, size int) error {
	if !validAddress(address) {
		log.Errorf("write 0x%08X: %v", address, ErrInvalidAddress)
		return errors.Wrapf(ErrInvalidAddress, "0x%08X", address)
	}
	dt, err := EncodeWrite(e.model, address, value, size)
	if err != nil {
		log.Errorf("write 0x%08X: %v", address, err)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.send(dt); err != nil {
		return err
	}
	log.Infof("sent value %d=0x%02X of size %d to address 0x%08X", value, value, size, address)
	log.Infof("     set raw: %s", hexString(dt))
	return nil
}

// SendIdentityRequest sends the universal identity request.
func (e *Engine) SendIdentityRequest() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	log.Infof("identity request: %s", hexString(identityRequest))
	return e.send(identityRequest)
}

// ProgramChange selects program (0-127) on channel (1-16).
func (e *Engine) ProgramChange(channel int, program int) error {
	msg := midi.ProgramChange(channelByte(channel), uint8(clamp(program, 0, 127)))
	log.Infof("MIDI program change: %s", hexString(msg.Bytes()))
	return e.Send(msg)
}

func channelByte(channel int) uint8 {
	return uint8(clamp(channel, 1, 16) - 1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
