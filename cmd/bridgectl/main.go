// Command bridgectl drives scripted workloads through a native bridge and
// reports its table statistics.
//
//	bridgectl --workload locals,globals --threads 8 --iterations 5000
//	bridgectl --workload misuse --policy warn
//	bridgectl --config bridge.hujson --watch -i
//	bridgectl --wasm natives.wasm --call app/Main.run()I
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/bridge"
	"github.com/wippyai/native-bridge/config"
	"github.com/wippyai/native-bridge/wasmnative"
)

type cliOptions struct {
	configPath  string
	workload    string
	policy      string
	dumpPath    string
	wasmFile    string
	call        string
	threads     int
	iterations  int
	checked     bool
	watch       bool
	interactive bool
	verbose     bool
	list        bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var o cliOptions
	fs := pflag.NewFlagSet("bridgectl", pflag.ContinueOnError)
	fs.StringVarP(&o.configPath, "config", "c", "", "Options file (JSON with comments)")
	fs.StringVarP(&o.workload, "workload", "w", "all", "Comma-separated workloads to run")
	fs.StringVar(&o.policy, "policy", "", "Violation policy: warn or abort")
	fs.StringVar(&o.dumpPath, "dump", "", "Write the diagnostic dump here on abort")
	fs.StringVar(&o.wasmFile, "wasm", "", "Native library module to load")
	fs.StringVar(&o.call, "call", "", "Static native to invoke from --wasm, as class.method(signature)")
	fs.IntVarP(&o.threads, "threads", "t", 4, "Worker threads")
	fs.IntVarP(&o.iterations, "iterations", "n", 1000, "Iterations per workload per thread")
	fs.BoolVar(&o.checked, "checked", false, "Validate every bridge call")
	fs.BoolVar(&o.watch, "watch", false, "Escalate from --config whenever it changes")
	fs.BoolVarP(&o.interactive, "interactive", "i", false, "Interactive mode with TUI")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "Log registrations and native calls")
	fs.BoolVar(&o.list, "list", false, "List workloads and exit")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: bridgectl [flags]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 2
	}

	styled := term.IsTerminal(int(os.Stdout.Fd()))

	if o.list {
		for _, name := range workloadNames() {
			fmt.Printf("%-10s %s\n", name, workloads[name].desc)
		}
		return 0
	}

	if err := execute(o, styled); err != nil {
		if styled {
			fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("Error: %v", err)))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.Sampling = nil
	return cfg.Build()
}

// loadOptions layers the options file under the command-line flags.
func loadOptions(o cliOptions) (bridge.Options, error) {
	opts := bridge.DefaultOptions()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return bridge.Options{}, err
		}
		opts = loaded
	}
	if o.checked {
		opts.Checked = true
	}
	if o.policy != "" {
		p, err := bridge.ParsePolicy(o.policy)
		if err != nil {
			return bridge.Options{}, err
		}
		opts.Policy = p
	}
	if o.dumpPath != "" {
		opts.DumpPath = o.dumpPath
	}
	if o.verbose {
		opts.Verbose = true
	}
	return opts, nil
}

func execute(o cliOptions, styled bool) error {
	if o.interactive && !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("interactive mode needs a terminal")
	}
	if o.watch && o.configPath == "" {
		return fmt.Errorf("--watch needs --config")
	}
	if o.threads < 1 || o.iterations < 0 {
		return fmt.Errorf("threads must be positive and iterations not negative")
	}

	log, err := newLogger(o.verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	bridge.SetLogger(log)
	config.SetLogger(log)
	wasmnative.SetLogger(log)

	opts, err := loadOptions(o)
	if err != nil {
		return err
	}
	opts.Logger = log
	opts.Abort = func(fe *bridge.FatalError) {
		_ = log.Sync()
		fmt.Fprintln(os.Stderr, fe.Error())
		if opts.DumpPath == "" {
			fmt.Fprintln(os.Stderr, fe.Dump)
		}
		os.Exit(134)
	}

	b, err := nativebridge.New(opts)
	if err != nil {
		return err
	}
	defer func() { _ = b.Shutdown() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if o.watch {
		w, err := config.NewWatcher(o.configPath, b)
		if err != nil {
			return err
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Warn("options watcher stopped", zap.Error(err))
			}
		}()
	}

	if o.wasmFile != "" {
		if o.call == "" {
			return fmt.Errorf("--wasm needs --call")
		}
		v, err := runWasm(ctx, b, o.wasmFile, o.call)
		if err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", o.call, v)
		fmt.Println(renderStats(b.Stats(), styled))
		return nil
	}

	wls, err := selectWorkloads(o.workload)
	if err != nil {
		return err
	}
	rc := runConfig{workloads: wls, threads: o.threads, iterations: o.iterations}

	if o.interactive {
		return runInteractive(ctx, b, rc)
	}

	var done atomic.Int64
	start := time.Now()
	runErr := runWorkloads(ctx, b, rc, &done)
	fmt.Println(renderSummary(rc, done.Load(), time.Since(start), styled))
	fmt.Println(renderStats(b.Stats(), styled))
	return runErr
}
