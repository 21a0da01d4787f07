package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"

	"tsfbridge/internal/busmon"
	"tsfbridge/internal/compat"
	"tsfbridge/internal/config"
	"tsfbridge/internal/journal"
	"tsfbridge/internal/logging"
	"tsfbridge/internal/metrics"
	"tsfbridge/internal/script"
	"tsfbridge/internal/textstore"
)

func cmdReplay() {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := configFlag(fs)
	remote := fs.Bool("remote", false, "Run every document in remote mode")
	processor := fs.String("processor", "", "Processor for scripts that do not name one")
	watch := fs.Bool("watch", false, "Replay again whenever the configuration changes")
	verbose := fs.Bool("v", false, "Debug logging")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: tsfbridge replay [-config file] [-remote] [-processor name] [-watch] [-v] <script|dir>...")
		os.Exit(1)
	}

	paths, err := scriptPaths(fs.Args())
	if err != nil {
		fatal("%v", err)
	}
	scripts := make([]*script.Script, 0, len(paths))
	for _, p := range paths {
		s, err := script.Load(p)
		if err != nil {
			fatal("%v", err)
		}
		scripts = append(scripts, s)
	}

	loader, cfg := loadConfig(*configPath)
	defer loader.Close()
	logger := setupLogging(cfg, *verbose)
	defer logger.Close()
	log := logger.WithComponent("replay")

	table := compat.NewTable()
	if err := cfg.Compat.Apply(table, nil); err != nil {
		fatal("compat table: %v", err)
	}

	runner := &script.Runner{
		Logger:        log.Logger,
		Compat:        table,
		Registry:      textstore.NewRegistry(),
		LayoutRetries: cfg.Store.LayoutRetries,
		Remote:        *remote || cfg.Store.RemoteDocument,
		Processor:     *processor,
	}
	if runner.Processor == "" {
		runner.Processor = cfg.Store.Processor
	}

	var registry *metrics.Registry
	if cfg.Metrics.Enabled {
		registry = metrics.NewRegistry(cfg.Metrics.Namespace, "")
		runner.Metrics = metrics.NewStoreMetrics(registry)
	}

	if cfg.Monitor.Enabled {
		mon, conn, err := busmon.Connect(cfg.Monitor.Bus, busmon.Options{
			Path:      dbus.ObjectPath(cfg.Monitor.Path),
			Interface: cfg.Monitor.Interface,
			Logger:    logger.WithComponent("busmon").Logger,
		})
		if err != nil {
			log.Warn("D-Bus monitor unavailable", "error", err)
		} else {
			defer conn.Close()
			runner.Observers = append(runner.Observers, mon)
			log.Info("emitting D-Bus signals", "bus", cfg.Monitor.Bus, "path", mon.Path())
		}
	}

	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		jrnl, err = journal.Open(cfg.Journal.Path, journal.Options{
			BusyTimeout:   time.Duration(cfg.Journal.BusyTimeoutMs) * time.Millisecond,
			RetentionDays: cfg.Journal.RetentionDays,
			Logger:        logger.WithComponent("journal").Logger,
		})
		if err != nil {
			fatal("opening journal: %v", err)
		}
		defer jrnl.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	changed := make(chan struct{}, 1)
	if *watch {
		loader.OnChange(func(old, new *config.Config) {
			if err := new.Compat.Apply(table, &old.Compat); err != nil {
				log.Error("reapplying compat table", "error", err)
				return
			}
			log.Info("configuration reloaded", "path", loader.Path())
			select {
			case changed <- struct{}{}:
			default:
			}
		})
		if err := loader.Watch(); err != nil {
			fatal("watching config: %v", err)
		}
	}

	for {
		failed := replayAll(runner, scripts, jrnl, log)
		if registry != nil {
			if err := dumpMetrics(registry, cfg.Metrics.Path); err != nil {
				log.Warn("writing metrics", "error", err)
			}
		}
		if !*watch {
			if failed > 0 {
				os.Exit(1)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case err := <-loader.Errors():
			log.Warn("configuration reload failed", "error", err)
		case <-changed:
		}
	}
}

// scriptPaths expands directories to the scripts they hold.
func scriptPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		found, err := script.Glob(arg)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("no scripts in %s", arg)
		}
		paths = append(paths, found...)
	}
	return paths, nil
}

// replayAll runs every script and returns how many failed.
func replayAll(base *script.Runner, scripts []*script.Script, j *journal.Journal, log *logging.Logger) int {
	failed := 0
	for _, s := range scripts {
		runner := *base
		var sess *journal.Session
		if j != nil {
			var err error
			processor := s.Processor
			if processor == "" {
				processor = base.Processor
			}
			sess, err = j.StartSession(s.Name, processor)
			if err != nil {
				log.Warn("journal session not started", "script", s.Name, "error", err)
			} else {
				runner.Observers = append(append([]textstore.Observer(nil), base.Observers...), sess)
			}
		}

		res, err := runner.Run(s)
		if sess != nil {
			if endErr := sess.End(); endErr != nil {
				log.Warn("ending journal session", "script", s.Name, "error", endErr)
			}
		}
		switch {
		case err != nil:
			failed++
			fmt.Printf("FAIL  %s\n      %v\n", s.Name, err)
		case !res.Passed():
			failed++
			fmt.Printf("FAIL  %s (%d steps)\n", s.Name, res.Steps)
			for _, f := range res.Failures {
				fmt.Printf("      %s\n", f)
			}
		default:
			fmt.Printf("ok    %s (%d steps, %d commands)\n", s.Name, res.Steps, res.Commands)
		}
	}
	fmt.Printf("\n%d scripts, %d failed\n", len(scripts), failed)
	return failed
}

func dumpMetrics(registry *metrics.Registry, path string) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return registry.WritePrometheus(w)
}
