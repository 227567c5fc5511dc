package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/clearcut-bridge/bridge"
	"github.com/wippyai/clearcut-bridge/config"
	"github.com/wippyai/clearcut-bridge/memvm"
	"github.com/wippyai/clearcut-bridge/sink"
	"github.com/wippyai/clearcut-bridge/wasmvm"
)

type options struct {
	configPath  string
	runtime     string
	payloads    []string
	files       []string
	samples     int
	anonymous   bool
	interactive bool
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (*options, error) {
	var opts options

	fs := pflag.NewFlagSet("tfbridge", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config (default: $"+config.EnvVar+")")
	fs.StringVar(&opts.runtime, "runtime", runtimeWasm, "managed runtime hosting the logging service: wasm or mem")
	fs.StringArrayVarP(&opts.payloads, "payload-hex", "p", nil, "hex encoded payload to send (repeatable)")
	fs.StringArrayVarP(&opts.files, "file", "f", nil, "file whose contents are sent as one payload (repeatable)")
	fs.IntVarP(&opts.samples, "samples", "n", 0, "number of generated sample events to send")
	fs.BoolVar(&opts.anonymous, "anonymous", false, "construct the logger with the anonymous factory")
	fs.BoolVarP(&opts.interactive, "interactive", "i", false, "interactive mode with TUI")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: tfbridge [--config file] [--runtime wasm|mem] [-p hex]... [-f file]... [-n count]")
		fmt.Fprintln(os.Stderr, "       tfbridge -i  (interactive mode)")
		fmt.Fprintln(os.Stderr)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if opts.samples < 0 {
		return nil, fmt.Errorf("--samples must not be negative")
	}
	switch opts.runtime {
	case runtimeWasm, runtimeMem:
	default:
		return nil, fmt.Errorf("unknown runtime %q", opts.runtime)
	}
	return &opts, nil
}

func loadConfig(opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if opts.anonymous {
		cfg.Bridge.Construction = bridge.ConstructionAnonymous
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log, err := cfg.Log.Logger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	memvm.SetLogger(log.Named("memvm"))
	wasmvm.SetLogger(log.Named("wasmvm"))
	sink.SetLogger(log.Named("sink"))

	payloads, err := collectPayloads(opts)
	if err != nil {
		return err
	}

	s, err := startSession(ctx, cfg, opts.runtime, log)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	if opts.interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("interactive mode requires a terminal")
		}
		return runInteractive(ctx, s)
	}

	if !s.ready {
		fmt.Fprintln(out, "Clearcut unavailable; events are dropped")
	}
	for i, p := range payloads {
		ok := s.send(ctx, p)
		log.Debug("payload processed", zap.Int("index", i), zap.Bool("ok", ok))
	}
	s.summary(out)

	if len(payloads) > 0 && s.failed() == len(payloads) {
		return fmt.Errorf("no payload was delivered")
	}
	return nil
}

func collectPayloads(opts *options) ([][]byte, error) {
	var payloads [][]byte
	for _, h := range opts.payloads {
		p, err := decodeHex(h)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, p)
	}
	for _, path := range opts.files {
		p, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		payloads = append(payloads, p)
	}
	for i := 0; i < opts.samples; i++ {
		p, err := sampleEvent(i)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

// decodeHex accepts hex with optional spaces and a 0x prefix.
func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.ReplaceAll(s, " ", "")
	p, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode payload %q: %w", s, err)
	}
	return p, nil
}
