package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func readCmd() *cmd {
	var (
		address Address
		size    int
	)
	return &cmd{
		name:     "read",
		synopsis: "Read one value with RQ1",
		setFlags: func(f *flag.FlagSet) {
			f.Var(&address, "addr", "Absolute address in hex")
			f.IntVar(&size, "size", 1, "Value size: 1, 2 or 4")
		},
		run: func(_ context.Context, e *Engine, _ Config) error {
			v, ok, err := e.ReadParam(uint32(address), size)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("no value at %s", address)
			}
			fmt.Println(v)
			return nil
		},
	}
}

func writeCmd() *cmd {
	var (
		address Address
		value   uint
		size    int
	)
	return &cmd{
		name:     "write",
		synopsis: "Write one value with DT1",
		setFlags: func(f *flag.FlagSet) {
			f.Var(&address, "addr", "Absolute address in hex")
			f.UintVar(&value, "value", 0, "Value to write")
			f.IntVar(&size, "size", 1, "Value size: 1, 2 or 4")
		},
		run: func(_ context.Context, e *Engine, _ Config) error {
			return e.WriteParam(uint32(address), uint32(value), size)
		},
	}
}

func identityCmd() *cmd {
	return &cmd{
		name:     "identity",
		synopsis: "Send the identity request and print the reply",
		run: func(_ context.Context, e *Engine, cfg Config) error {
			if err := e.SendIdentityRequest(); err != nil {
				return err
			}
			time.Sleep(cfg.ReadWait)
			reply, err := e.Drain()
			if err != nil {
				return err
			}
			if len(reply) == 0 {
				log.Info("no response")
				return nil
			}
			fmt.Println(hexString(reply))
			return nil
		},
	}
}

func playCmd() *cmd {
	var (
		track  int
		phrase string
	)
	return &cmd{
		name:     "play",
		synopsis: "Play the test note, or a -phrase like \"C4 E4 G4\", on a track's channel",
		setFlags: func(f *flag.FlagSet) {
			f.IntVar(&track, "track", 1, "Track (1-8), used as the MIDI channel")
			f.StringVar(&phrase, "phrase", "", "Steps such as C4 F#3 Bb2; r is a rest")
		},
		run: func(_ context.Context, e *Engine, _ Config) error {
			if phrase == "" {
				return e.PlayNote(track, TestNote)
			}
			steps, err := ParsePhrase(phrase)
			if err != nil {
				return err
			}
			return e.PlayPhrase(track, steps, phraseNote)
		},
	}
}
