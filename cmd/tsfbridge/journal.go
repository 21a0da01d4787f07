package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"tsfbridge/internal/journal"
)

func cmdJournal() {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	configPath := configFlag(fs)
	path := fs.String("path", "", "Journal database (default from config)")
	days := fs.Int("days", 0, "prune: remove sessions that ended more than this many days ago")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: tsfbridge journal [-config file] [-path db] list | show <id> | prune -days N")
		os.Exit(1)
	}

	_, cfg := loadConfig(*configPath)
	dbPath := *path
	if dbPath == "" {
		dbPath = cfg.Journal.Path
	}
	j, err := journal.Open(dbPath, journal.Options{
		BusyTimeout: time.Duration(cfg.Journal.BusyTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		fatal("opening journal: %v", err)
	}
	defer j.Close()

	switch action := fs.Arg(0); action {
	case "list":
		journalList(j)
	case "show":
		if fs.NArg() < 2 {
			fatal("show needs a session id")
		}
		id, err := strconv.ParseInt(fs.Arg(1), 10, 64)
		if err != nil {
			fatal("bad session id %q", fs.Arg(1))
		}
		journalShow(j, id)
	case "prune":
		if *days <= 0 {
			fatal("prune needs -days N")
		}
		n, err := j.Prune(time.Now().AddDate(0, 0, -*days))
		if err != nil {
			fatal("pruning: %v", err)
		}
		fmt.Printf("Removed %d sessions\n", n)
	default:
		fatal("unknown journal action: %s", action)
	}
}

func journalList(j *journal.Journal) {
	sessions, err := j.Sessions()
	if err != nil {
		fatal("listing sessions: %v", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tLABEL\tPROCESSOR\tACTIONS\tNOTIFICATIONS")
	for _, s := range sessions {
		dur := "open"
		if !s.Open() {
			dur = s.Ended.Sub(s.Started).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\n", s.ID, s.Started.Format("2006-01-02 15:04:05"),
			dur, s.Label, s.Processor, s.Actions, s.Notifications)
	}
	tw.Flush()
}

type journalLine struct {
	seq  int
	text string
}

func journalShow(j *journal.Journal, id int64) {
	actions, err := j.Actions(id)
	if err != nil {
		fatal("reading actions: %v", err)
	}
	notes, err := j.Notifications(id)
	if err != nil {
		fatal("reading notifications: %v", err)
	}

	var lines []journalLine
	for _, a := range actions {
		text := fmt.Sprintf("store %d  -> %-20s [%d,%d)", a.StoreID, a.Kind, a.Offset, a.Offset+a.Length)
		if a.Digest != nil {
			text += fmt.Sprintf(" runes=%d digest=%s", a.Runes, hex.EncodeToString(a.Digest[:8]))
		}
		if a.Incomplete {
			text += " incomplete"
		}
		if a.Ranges > 0 {
			text += fmt.Sprintf(" ranges=%d", a.Ranges)
		}
		if a.Error != "" {
			text += " error=" + a.Error
		}
		lines = append(lines, journalLine{a.Seq, text})
	}
	for _, n := range notes {
		text := fmt.Sprintf("store %d  <- %-20s", n.StoreID, n.Kind)
		if n.Kind == "text" {
			text += fmt.Sprintf(" start=%d old_end=%d new_end=%d", n.Start, n.OldEnd, n.NewEnd)
			if n.ByComposition {
				text += " composition"
			}
		}
		lines = append(lines, journalLine{n.Seq, text})
	}
	sort.Slice(lines, func(a, b int) bool { return lines[a].seq < lines[b].seq })

	fmt.Printf("=== Session %d ===\n", id)
	for _, l := range lines {
		fmt.Printf("%5d  %s\n", l.seq, l.text)
	}
}
