// Package script replays YAML scenarios against an in-memory document and
// a scripted input service.
//
// A script names the initial text and a list of steps. Each step does one
// thing: run a lock session, type a string, edit or select from the host,
// press a key, pump a remote document, run idle tasks, change the layout
// state, or check expectations. Expectations that do not hold are collected
// in the Result rather than stopping the run.
package script

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrInvalidScript is wrapped by every parse and validation error.
var ErrInvalidScript = errors.New("invalid script")

// Script is a replayable scenario.
type Script struct {
	Name      string  `yaml:"name"`
	Text      string  `yaml:"text"`
	Remote    bool    `yaml:"remote"`
	Processor string  `yaml:"processor"`
	Quirks    []Quirk `yaml:"quirks"`

	// RequeryLayout makes the service re-query the composition rect on
	// every layout notification.
	RequeryLayout bool `yaml:"requery_layout"`

	Steps []Step `yaml:"steps"`
}

// Quirk is a compatibility rule registered for the script's processor.
type Quirk struct {
	Trigger    string `yaml:"trigger"`
	Adjustment string `yaml:"adjustment"`
}

// Step is one action. Exactly one field is set.
type Step struct {
	Session *Session `yaml:"session"`
	Type    *string  `yaml:"type"`
	Edit    *Edit    `yaml:"edit"`
	Select  []int    `yaml:"select"`
	Key     *Key     `yaml:"key"`
	Commit  *Commit  `yaml:"commit"`
	Pump    bool     `yaml:"pump"`
	Idle    bool     `yaml:"idle"`
	Layout  string   `yaml:"layout"`
	Expect  *Expect  `yaml:"expect"`
}

// Session is a lock session run by the service.
type Session struct {
	// Lock is "read" or "readwrite"; empty means readwrite.
	Lock  string `yaml:"lock"`
	Async bool   `yaml:"async"`
	Ops   []Op   `yaml:"ops"`

	// Err names the error the request is expected to fail with.
	Err string `yaml:"err"`
}

// Op is a protocol call made inside a session. Exactly one call field is
// set; Err names the error the call is expected to return.
type Op struct {
	Start            []int    `yaml:"start"`
	StartAtSelection bool     `yaml:"start_at_selection"`
	Compose          *Compose `yaml:"compose"`
	Select           []int    `yaml:"select"`
	SetSelection     []int    `yaml:"set_selection"`
	SetText          *Edit    `yaml:"set_text"`
	Insert           *string  `yaml:"insert"`
	UpdateIncomplete bool     `yaml:"update_incomplete"`
	Move             []int    `yaml:"move"`
	End              bool     `yaml:"end"`
	Rect             []int    `yaml:"rect"`
	Session          *Session `yaml:"session"`

	Err string `yaml:"err"`
}

// Compose replaces the composition string. Caret is relative to the
// composition; nil puts it at the end.
type Compose struct {
	Text  string `yaml:"text"`
	Caret *int   `yaml:"caret"`
}

// Edit replaces [Start, End) with Text.
type Edit struct {
	Start int    `yaml:"start"`
	End   int    `yaml:"end"`
	Text  string `yaml:"text"`
}

// Key is a raw key press. With Type set the service eats the key and types
// the string; otherwise Eat decides.
type Key struct {
	Name      string   `yaml:"name"`
	Modifiers []string `yaml:"modifiers"`
	Type      string   `yaml:"type"`
	Eat       bool     `yaml:"eat"`
}

// Commit asks the store to commit or cancel the composition.
type Commit struct {
	Discard bool `yaml:"discard"`
}

// Expect checks document and transcript state. Nil fields are not checked.
// An empty Selection or Composition expects none. Commands and
// Notifications compare everything recorded since they were last checked.
type Expect struct {
	Text          *string  `yaml:"text"`
	Selection     []int    `yaml:"selection"`
	Composition   []int    `yaml:"composition"`
	Commands      []string `yaml:"commands"`
	Notifications []string `yaml:"notifications"`
	Rect          []int    `yaml:"rect"`
	Pending       *int     `yaml:"pending"`
}

// Parse decodes and validates a script. Unknown keys are errors.
func Parse(data []byte) (*Script, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and parses the script at path. Scripts without a name are
// named after the file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if s.Name == "" {
		s.Name = filepath.Base(path)
	}
	return s, nil
}

// Glob returns the .yaml and .yml files in dir, sorted.
func Glob(dir string) ([]string, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)
	return paths, nil
}

// Validate checks the shape of every step.
func (s *Script) Validate() error {
	if len(s.Quirks) > 0 && s.Processor == "" {
		return fmt.Errorf("%w: quirks need a processor name", ErrInvalidScript)
	}
	for i, st := range s.Steps {
		if err := st.validate(); err != nil {
			return fmt.Errorf("%w: step %d: %v", ErrInvalidScript, i+1, err)
		}
	}
	return nil
}

func (st *Step) validate() error {
	n := 0
	for _, set := range []bool{
		st.Session != nil, st.Type != nil, st.Edit != nil, st.Select != nil, st.Key != nil,
		st.Commit != nil, st.Pump, st.Idle, st.Layout != "", st.Expect != nil,
	} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("want exactly one action, got %d", n)
	}
	switch {
	case st.Session != nil:
		return st.Session.validate()
	case st.Select != nil:
		return span("select", st.Select)
	case st.Key != nil && st.Key.Name == "":
		return errors.New("key needs a name")
	case st.Layout != "" && st.Layout != "pending" && st.Layout != "ready":
		return fmt.Errorf("layout must be pending or ready, not %q", st.Layout)
	case st.Expect != nil:
		return st.Expect.validate()
	}
	return nil
}

func (se *Session) validate() error {
	switch se.Lock {
	case "", "read", "readwrite":
	default:
		return fmt.Errorf("lock must be read or readwrite, not %q", se.Lock)
	}
	if err := checkErrName(se.Err); err != nil {
		return err
	}
	for i, op := range se.Ops {
		if err := op.validate(); err != nil {
			return fmt.Errorf("op %d: %v", i+1, err)
		}
	}
	return nil
}

func (op *Op) validate() error {
	n := 0
	for _, set := range []bool{
		op.Start != nil, op.StartAtSelection, op.Compose != nil, op.Select != nil,
		op.SetSelection != nil, op.SetText != nil, op.Insert != nil, op.UpdateIncomplete,
		op.Move != nil, op.End, op.Rect != nil, op.Session != nil,
	} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("want exactly one call, got %d", n)
	}
	if err := checkErrName(op.Err); err != nil {
		return err
	}
	for name, v := range map[string][]int{
		"start": op.Start, "select": op.Select, "set_selection": op.SetSelection,
		"move": op.Move, "rect": op.Rect,
	} {
		if v != nil {
			if err := span(name, v); err != nil {
				return err
			}
		}
	}
	if op.Session != nil {
		return op.Session.validate()
	}
	return nil
}

func (e *Expect) validate() error {
	if len(e.Selection) != 0 {
		if err := span("selection", e.Selection); err != nil {
			return err
		}
	}
	if len(e.Composition) != 0 {
		if err := span("composition", e.Composition); err != nil {
			return err
		}
	}
	if e.Rect != nil && len(e.Rect) != 4 {
		return fmt.Errorf("rect needs 4 values, got %d", len(e.Rect))
	}
	return nil
}

func span(name string, v []int) error {
	if len(v) != 2 {
		return fmt.Errorf("%s needs [start, end], got %d values", name, len(v))
	}
	return nil
}
