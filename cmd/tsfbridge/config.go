package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"tsfbridge/internal/config"
)

func cmdConfig() {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := configFlag(fs)
	format := fs.String("format", "toml", "show: output format (toml, json, yaml)")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: tsfbridge config [-config file] show [-format toml|json|yaml] | check | init | path")
		os.Exit(1)
	}
	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}

	switch action := fs.Arg(0); action {
	case "path":
		fmt.Println(path)
	case "show":
		_, cfg := loadConfig(path)
		data, err := config.Encode(cfg, "."+strings.TrimPrefix(*format, "."))
		if err != nil {
			fatal("%v", err)
		}
		os.Stdout.Write(data)
	case "check":
		_, cfg := loadConfig(path)
		findings := config.Check(cfg)
		if len(findings) == 0 {
			fmt.Printf("%s: ok\n", path)
			return
		}
		printFindings(os.Stdout, findings)
	case "init":
		_, created, err := config.LoadOrCreate(path)
		if err != nil {
			fatal("%v", err)
		}
		if created {
			fmt.Printf("Wrote default configuration to %s\n", path)
		} else {
			fmt.Printf("%s already exists\n", path)
		}
	default:
		fatal("unknown config action: %s", action)
	}
}

func printFindings(w io.Writer, findings config.ValidationErrors) {
	for _, f := range findings {
		level := "error"
		if f.Warning {
			level = "warning"
		}
		fmt.Fprintf(w, "  %-7s %s: %s\n", level, f.Field, f.Message)
	}
}
