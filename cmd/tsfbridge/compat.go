package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"tsfbridge/internal/compat"
)

type compatRow struct {
	ID       uint16   `json:"id"`
	Name     string   `json:"name"`
	Rules    []string `json:"rules"`
	Disabled bool     `json:"disabled,omitempty"`
}

func cmdCompat() {
	fs := flag.NewFlagSet("compat", flag.ExitOnError)
	configPath := configFlag(fs)
	jsonOut := fs.Bool("json", false, "Output JSON")
	fs.Parse(os.Args[2:])

	_, cfg := loadConfig(*configPath)
	table := compat.NewTable()
	if err := cfg.Compat.Apply(table, nil); err != nil {
		fatal("compat table: %v", err)
	}

	rows := compatRows(table, cfg.Compat.Disabled)
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			fatal("%v", err)
		}
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROCESSOR\tRULES")
	for _, r := range rows {
		name := r.Name
		if r.Disabled {
			name += " (disabled)"
		}
		fmt.Fprintf(tw, "%#04x\t%s\t%s\n", r.ID, name, strings.Join(r.Rules, ", "))
	}
	tw.Flush()
}

// compatRows lists the enabled rows followed by the disabled ones.
func compatRows(table *compat.Table, disabled []string) []compatRow {
	var rows []compatRow
	for _, e := range table.Entries() {
		rows = append(rows, compatRow{ID: uint16(e.ID), Name: e.Name, Rules: ruleNames(e.Rules)})
	}
	for _, name := range disabled {
		id, ok := table.Lookup(name)
		if !ok {
			continue
		}
		rows = append(rows, compatRow{ID: uint16(id), Name: table.Name(id), Disabled: true})
	}
	return rows
}

func ruleNames(rules []compat.Rule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Trigger.String()+"/"+r.Adjustment.String())
	}
	return out
}
