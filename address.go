package main

import (
	log "github.com/sirupsen/logrus"
)

const (
	NumTracks = 8
	NumClips  = 16

	// The track sound is stored as if it were clip 17.
	TrackSoundSlot = NumClips + 1

	// TrackSound selects the track sound instead of a clip.
	TrackSound = 0

	// Distance between adjacent ZEN-Core tone structures.
	ToneStride = 0x20000
)

var trackBase = [NumTracks]uint32{
	0x30000000, 0x30220000, 0x30440000, 0x30660000,
	0x31080000, 0x312A0000, 0x314C0000, 0x316E0000,
}

// Resolve returns the base address of the tone for track (1-8) and clip
// (1-16). Any other clip, TrackSound included, selects the track sound.
// Strides are added in 7-bit arithmetic, as the track bases are laid out.
func Resolve(track, clip int) uint32 {
	track = clamp(track, 1, NumTracks)
	slot := clip
	if clip < 1 || clip > NumClips {
		slot = TrackSoundSlot
	}

	address := fromLinear(toLinear(trackBase[track-1]) + toLinear(ToneStride)*uint32(slot-1))
	if slot == TrackSoundSlot {
		log.Infof("selecting trk=%d @ base_address=0x%08X", track, address)
	} else {
		log.Infof("selecting trk=%d, clip=%d @ base_address=0x%08X", track, clip, address)
	}
	return address
}

// toLinear packs the four 7-bit address bytes into one integer so that
// address arithmetic carries from 0x7F into the next byte.
func toLinear(address uint32) uint32 {
	return (address>>24&0x7F)<<21 | (address>>16&0x7F)<<14 | (address>>8&0x7F)<<7 | address&0x7F
}

func fromLinear(v uint32) uint32 {
	return (v>>21&0x7F)<<24 | (v>>14&0x7F)<<16 | (v>>7&0x7F)<<8 | v&0x7F
}

// validAddress reports whether every byte of address is a MIDI data byte.
func validAddress(address uint32) bool {
	return address&0x80808080 == 0
}
