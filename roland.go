package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	sysExStart = 0xF0
	sysExEnd   = 0xF7

	manufacturerID = 0x41 // Roland
	deviceID       = 0x10

	cmdRQ1 = 0x11
	cmdDT1 = 0x12

	// Header: F0 41 10 00 00 00 <model> <cmd> + 4 address bytes.
	headerSize = 12
	// Footer: checksum + F7.
	footerSize = 2
	// Checksum covers the address and payload bytes.
	checksumStart = 8
	// Anything shorter cannot carry an address, one data byte and a footer.
	minFrameSize = 14

	timingClock = 0xF8
	activeSense = 0xFE
)

var (
	ErrUnsupportedSize = errors.New("unsupported operand size, use 1, 2 or 4")
	ErrFrameTooShort   = errors.New("frame too short")
	ErrBadFrame        = errors.New("malformed frame")
	ErrInvalidAddress  = errors.New("address byte above 7F")
)

// Model identifies one of the supported grooveboxes.
type Model struct {
	Name string
	ID   byte
}

var (
	MC707 = Model{Name: "MC-707", ID: 0x5D}
	MC101 = Model{Name: "MC-101", ID: 0x5E}

	DefaultModel = MC707
)

// LookupModel accepts "mc707", "MC-707", "mc101" and "mc-101".
func LookupModel(name string) (Model, bool) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "") {
	case "mc707":
		return MC707, true
	case "mc101":
		return MC101, true
	}
	return Model{}, false
}

// Frame is a validated RQ1 or DT1 message.
type Frame struct {
	Model   byte
	Command byte
	Address uint32
	Payload []byte
}

func frameHeader(model Model, cmd byte, address uint32) []byte {
	return []byte{
		sysExStart, manufacturerID, deviceID, 0x00, 0x00, 0x00, model.ID, cmd,
		byte(address >> 24), byte(address >> 16), byte(address >> 8), byte(address),
	}
}

// EncodeRequest builds an RQ1 frame asking for count bytes at address.
// The count is masked to 8 bits; keeping it below 128 is up to the caller.
func EncodeRequest(model Model, address uint32, count int) []byte {
	frame := frameHeader(model, cmdRQ1, address)
	frame = append(frame, 0x00, 0x00, 0x00, byte(count&0xFF))
	frame = append(frame, 0x00, sysExEnd)
	// 18 bytes, never short.
	_ = SetChecksum(frame)
	return frame
}

// EncodeWrite builds a DT1 frame. Size 1 carries the low 7 bits of value,
// sizes 2 and 4 carry it as nibbles, most significant first.
func EncodeWrite(model Model, address uint32, value uint32, size int) ([]byte, error) {
	data, err := encodeValue(value, size)
	if err != nil {
		return nil, err
	}
	frame := frameHeader(model, cmdDT1, address)
	frame = append(frame, data...)
	frame = append(frame, 0x00, sysExEnd)
	// At least one data byte, so the frame is at least minFrameSize long.
	_ = SetChecksum(frame)
	return frame, nil
}

func encodeValue(value uint32, size int) ([]byte, error) {
	switch size {
	case 1:
		return []byte{byte(value & 0x7F)}, nil
	case 2, 4:
		out := make([]byte, size)
		for i := range out {
			shift := uint(4 * (size - 1 - i))
			out[i] = byte((value >> shift) & 0x0F)
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedSize, "size %d", size)
}

// maxValue is the largest value a write of size can carry.
func maxValue(size int) (uint32, bool) {
	switch size {
	case 1:
		return 0x7F, true
	case 2:
		return 0xFF, true
	case 4:
		return 0xFFFF, true
	}
	return 0, false
}

// Checksum returns the byte that brings the sum of data to a multiple of 128.
func Checksum(data []byte) byte {
	sum := 0
	for _, b := range data {
		sum += int(b)
	}
	return byte((128 - sum%128) & 0x7F)
}

// SetChecksum fills the checksum slot (len-2) of frame in place.
// Frames shorter than minFrameSize are left untouched.
func SetChecksum(frame []byte) error {
	if len(frame) < minFrameSize {
		log.Warnf("checksum: too short, len=%d", len(frame))
		return errors.Wrapf(ErrFrameTooShort, "len=%d", len(frame))
	}
	idx := len(frame) - footerSize
	frame[idx] = Checksum(frame[checksumStart:idx])
	return nil
}

// ParseFrame validates a complete RQ1/DT1 frame.
func ParseFrame(frame []byte) (*Frame, error) {
	switch {
	case len(frame) < minFrameSize:
		return nil, errors.Wrapf(ErrFrameTooShort, "len=%d", len(frame))
	case frame[0] != sysExStart || frame[len(frame)-1] != sysExEnd:
		return nil, errors.Wrap(ErrBadFrame, "not a SysEx frame")
	case frame[1] != manufacturerID:
		return nil, errors.Wrapf(ErrBadFrame, "wrong manufacturer: want %02X, got %02X", manufacturerID, frame[1])
	case frame[7] != cmdRQ1 && frame[7] != cmdDT1:
		return nil, errors.Wrapf(ErrBadFrame, "unexpected command %02X", frame[7])
	}

	idx := len(frame) - footerSize
	want := Checksum(frame[checksumStart:idx])
	if got := frame[idx]; got != want {
		return nil, errors.Wrapf(ErrBadFrame, "wrong checksum: calculated=%02X, got=%02X", want, got)
	}

	return &Frame{
		Model:   frame[6],
		Command: frame[7],
		Address: uint32(frame[8])<<24 | uint32(frame[9])<<16 | uint32(frame[10])<<8 | uint32(frame[11]),
		Payload: frame[headerSize:idx],
	}, nil
}

// Unframe strips the DT1 header and footer from a response buffer. It does
// not insist on a valid frame: anything long enough yields a payload.
func Unframe(buf []byte) []byte {
	if len(buf) < minFrameSize {
		return nil
	}
	if _, err := ParseFrame(buf); err != nil {
		log.Warnf("response is not a clean frame: %v", err)
	}
	out := make([]byte, len(buf)-headerSize-footerSize)
	copy(out, buf[headerSize:len(buf)-footerSize])
	return out
}

// DecodeParam turns a response payload into a value of the given size.
func DecodeParam(payload []byte, size int) (uint32, bool) {
	if len(payload) < size {
		return 0, false
	}
	switch size {
	case 1:
		return uint32(payload[0]), true
	case 2, 4:
		var v uint32
		for _, b := range payload[:size] {
			v = v<<4 | uint32(b&0x0F)
		}
		return v, true
	}
	return 0, false
}

func isTimingByte(b byte) bool {
	return b == timingClock || b == activeSense
}

func filterTiming(data []byte) []byte {
	out := data[:0:0]
	for _, b := range data {
		if !isTimingByte(b) {
			out = append(out, b)
		}
	}
	return out
}

func hexString(data []byte) string {
	return fmt.Sprintf("% X", data)
}

func asciiString(data []byte) string {
	var sb strings.Builder
	for _, b := range data {
		if b >= 0x20 && b < 0x7F {
			sb.WriteByte(b)
		} else {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}
