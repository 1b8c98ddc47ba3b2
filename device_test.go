package main

import (
	"sync"
)

// fakeDevice answers RQ1 requests from an in-memory register map and stores
// DT1 writes. Replies are interleaved with timing clock bytes.
type fakeDevice struct {
	mu      sync.Mutex
	model   Model
	mem     map[uint32]byte
	sent    [][]byte
	rx      chan byte
	closed  bool
	respond func(req *Frame) []byte
}

func newFakeDevice(model Model) *fakeDevice {
	return &fakeDevice{
		model: model,
		mem:   make(map[uint32]byte),
		rx:    make(chan byte, 1<<16),
	}
}

func (d *fakeDevice) set(address uint32, data ...byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, b := range data {
		d.mem[address+uint32(i)] = b
	}
}

func (d *fakeDevice) get(address uint32, n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		b, ok := d.mem[address+uint32(i)]
		if !ok {
			break
		}
		out = append(out, b)
	}
	return out
}

// inject queues raw bytes as if the device had sent them unprompted.
func (d *fakeDevice) inject(data ...byte) {
	for _, b := range data {
		d.rx <- b
	}
}

func (d *fakeDevice) Send(data []byte) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrPortClosed
	}
	d.sent = append(d.sent, append([]byte(nil), data...))
	d.mu.Unlock()

	req, err := ParseFrame(data)
	if err != nil || req.Model != d.model.ID {
		return nil
	}

	switch req.Command {
	case cmdRQ1:
		var reply []byte
		if d.respond != nil {
			reply = d.respond(req)
		} else {
			reply = d.reply(req)
		}
		for i, b := range reply {
			if i%5 == 0 {
				d.rx <- timingClock
			}
			d.rx <- b
		}
	case cmdDT1:
		d.set(req.Address, req.Payload...)
	}
	return nil
}

func (d *fakeDevice) reply(req *Frame) []byte {
	count := int(req.Payload[3])
	data := d.get(req.Address, count)
	if len(data) == 0 {
		return nil
	}
	frame := frameHeader(d.model, cmdDT1, req.Address)
	frame = append(frame, data...)
	frame = append(frame, 0x00, sysExEnd)
	_ = SetChecksum(frame)
	return frame
}

func (d *fakeDevice) Incoming() <-chan byte { return d.rx }

func (d *fakeDevice) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrPortClosed
	}
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.rx)
	}
	return nil
}

// sentFrames returns the parsed SysEx frames sent with the given command.
func (d *fakeDevice) sentFrames(command byte) []*Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*Frame
	for _, data := range d.sent {
		f, err := ParseFrame(data)
		if err == nil && f.Command == command {
			out = append(out, f)
		}
	}
	return out
}

// sentRaw returns every message sent, frames and short messages alike.
func (d *fakeDevice) sentRaw() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.sent...)
}
