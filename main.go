package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
	log "github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.bug.st/serial/enumerator"
)

var (
	configPath = flag.String("config", "", "YAML config file")
	verbose    = flag.Bool("v", false, "Log debug output")

	flagSerial   = flag.String("serial", "", "Serial device of the MIDI interface (default /dev/ttyUSB0)")
	flagMIDIPort = flag.String("midi_port", "", "Use the OS MIDI port whose name contains this instead of a serial device")
	flagModel    = flag.String("model", "", "Device model: mc707 or mc101")
	flagOut      = flag.String("out", "", "CSV file the register dump appends to (default default.csv)")
	flagStart    Address
	flagEnd      Address
)

func init() {
	flag.Var(&flagStart, "start", "Register dump start address in hex (default 30000000)")
	flag.Var(&flagEnd, "end", "Register dump end address in hex, exclusive (default 40000000)")
}

// loadConfig reads the config file and applies the global flags that were set.
func loadConfig() (Config, error) {
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return cfg, err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "serial":
			cfg.Serial = *flagSerial
		case "midi_port":
			cfg.MIDIPort = *flagMIDIPort
		case "model":
			cfg.Model = *flagModel
		case "out":
			cfg.Out = *flagOut
		case "start":
			cfg.Start = flagStart
		case "end":
			cfg.End = flagEnd
		}
	})
	return cfg, nil
}

// withEngine opens the configured port and runs fn against it.
func withEngine(fn func(e *Engine, cfg Config) error) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		log.Errorf("config: %v", err)
		return subcommands.ExitFailure
	}
	cfg.log()

	port, err := cfg.OpenPort()
	if err != nil {
		log.Errorf("failed to open port: %v", err)
		return subcommands.ExitFailure
	}
	defer port.Close()

	e := NewEngine(port, cfg.ResolveModel(), WithReadWait(cfg.ReadWait))
	log.Infof("model_id = %02X", e.Model().ID)

	if err := fn(e, cfg); err != nil {
		log.Error(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type cmd struct {
	name, synopsis string
	setFlags       func(*flag.FlagSet)
	run            func(ctx context.Context, e *Engine, cfg Config) error
}

func (c *cmd) Name() string     { return c.name }
func (c *cmd) Synopsis() string { return c.synopsis }
func (c *cmd) Usage() string {
	return fmt.Sprintf("%s [flags]:\n  %s\n", c.name, c.synopsis)
}

func (c *cmd) SetFlags(f *flag.FlagSet) {
	if c.setFlags != nil {
		c.setFlags(f)
	}
}

func (c *cmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withEngine(func(e *Engine, cfg Config) error {
		return c.run(ctx, e, cfg)
	})
}

func runPoke(ctx context.Context, e *Engine, cfg Config) error {
	fd := int(os.Stdin.Fd())
	restore, err := cbreak(fd)
	if err != nil {
		return err
	}
	defer restore()

	fmt.Println("Press a key to perform an action (q or Ctrl+C to quit)...")
	err = NewSession(e, cfg, os.Stdout).Run(ctx, readKeys(os.Stdin))
	fmt.Println("\nExit")
	return err
}

func runScan(ctx context.Context, e *Engine, cfg Config) error {
	sink, err := OpenCSVSink(cfg.Out)
	if err != nil {
		return err
	}
	defer sink.Close()

	rows, err := Scan(ctx, e, uint32(cfg.Start), uint32(cfg.End), cfg.Scan, sink)
	log.Infof("%d rows appended to %s", rows, cfg.Out)
	return err
}

type portsCmd struct{}

func (*portsCmd) Name() string             { return "ports" }
func (*portsCmd) Synopsis() string         { return "List serial devices and MIDI ports" }
func (*portsCmd) Usage() string            { return "ports:\n  List serial devices and MIDI ports\n" }
func (*portsCmd) SetFlags(_ *flag.FlagSet) {}

func (*portsCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		log.Errorf("list serial ports: %v", err)
	}
	fmt.Println("Serial devices:")
	for _, d := range details {
		if d.IsUSB {
			fmt.Printf("  %s (USB %s:%s %s)\n", d.Name, d.VID, d.PID, d.Product)
		} else {
			fmt.Printf("  %s\n", d.Name)
		}
	}

	fmt.Println("MIDI outputs:")
	fmt.Print(midi.GetOutPorts().String())
	fmt.Println("MIDI inputs:")
	fmt.Print(midi.GetInPorts().String())
	midi.CloseDriver()
	return subcommands.ExitSuccess
}

var commands = []subcommands.Command{
	&cmd{
		name:     "poke",
		synopsis: "Interactive single-key editor (press h for the key list)",
		run:      runPoke,
	},
	&cmd{
		name:     "scan",
		synopsis: "Dump readable registers between -start and -end to the -out CSV file",
		run:      runScan,
	},
	readCmd(),
	writeCmd(),
	identityCmd(),
	playCmd(),
	&cmd{
		name:     "mcp",
		synopsis: "Serve the device operations as MCP tools on stdio",
		run: func(_ context.Context, e *Engine, cfg Config) error {
			return runMCP(e, cfg)
		},
	},
	&portsCmd{},
}

func main() {
	flag.Parse()

	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	for _, c := range commands {
		subcommands.Register(c, "")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := subcommands.Execute(ctx)
	stop()
	os.Exit(int(status))
}
