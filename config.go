package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Address is a device address written in hex, with or without 0x.
type Address uint32

func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid address %q", s)
	}
	return Address(v), nil
}

func (a Address) String() string { return fmt.Sprintf("%08X", uint32(a)) }

func (a *Address) Set(s string) error {
	v, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	return a.Set(value.Value)
}

type Config struct {
	Serial   string        `yaml:"serial"`
	MIDIPort string        `yaml:"midi_port"`
	Model    string        `yaml:"model"`
	Out      string        `yaml:"out"`
	Start    Address       `yaml:"start"`
	End      Address       `yaml:"end"`
	ReadWait time.Duration `yaml:"read_wait"`
	Scan     ScanOptions   `yaml:"scan"`
}

func DefaultConfig() Config {
	return Config{
		Serial:   "/dev/ttyUSB0",
		Model:    "mc707",
		Out:      "default.csv",
		Start:    0x30000000,
		End:      0x40000000,
		ReadWait: DefaultReadWait,
		Scan:     DefaultScanOptions(),
	}
}

// LoadConfig overlays the YAML file at path on the defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// ResolveModel maps the configured name to a model, falling back to the
// default with a warning.
func (c Config) ResolveModel() Model {
	if c.Model == "" {
		return DefaultModel
	}
	m, ok := LookupModel(c.Model)
	if !ok {
		log.Warnf("unsupported model name %q, please specify MC-101 or MC-707, using %s", c.Model, DefaultModel.Name)
		return DefaultModel
	}
	return m
}

// OpenPort opens the MIDI port when one is configured, the serial device otherwise.
func (c Config) OpenPort() (Port, error) {
	if c.MIDIPort != "" {
		return OpenMIDIPort(c.MIDIPort)
	}
	return OpenSerial(c.Serial)
}

func (c Config) log() {
	log.WithFields(log.Fields{
		"model":  c.ResolveModel().Name,
		"out":    c.Out,
		"start":  c.Start.String(),
		"end":    c.End.String(),
		"serial": c.Serial,
		"midi":   c.MIDIPort,
	}).Info("configuration")
}
