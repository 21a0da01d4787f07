package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tsfbridge/internal/compat"
)

//go:embed config.schema.json
var schemaJSON []byte

const schemaURL = "tsfbridge-config.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func configSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// ErrInvalidConfig is matched by every ValidationErrors.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
	Warning bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Warnings returns only warning-level entries.
func (e ValidationErrors) Warnings() ValidationErrors {
	var out ValidationErrors
	for _, err := range e {
		if err.Warning {
			out = append(out, err)
		}
	}
	return out
}

// Errors returns only error-level entries.
func (e ValidationErrors) Errors() ValidationErrors {
	var out ValidationErrors
	for _, err := range e {
		if !err.Warning {
			out = append(out, err)
		}
	}
	return out
}

// HasErrors reports whether any entry is an error.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// Fields returns the field of every entry, in order.
func (e ValidationErrors) Fields() []string {
	out := make([]string, len(e))
	for i, err := range e {
		out[i] = err.Field
	}
	return out
}

// ValidateConfig returns the error-level findings of Check, or nil.
func ValidateConfig(c *Config) error {
	if errs := Check(c).Errors(); len(errs) > 0 {
		return errs
	}
	return nil
}

// Check validates c against the JSON schema and then checks what the schema
// cannot express. Warnings do not make a configuration invalid.
func Check(c *Config) ValidationErrors {
	errs := checkSchema(c)
	errs = append(errs, checkLogging(&c.Logging)...)
	errs = append(errs, checkCompat(&c.Compat, c.Store.Processor)...)
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "journal.path",
			Message: "path is required when the journal is enabled",
		})
	}
	return errs
}

func checkSchema(c *Config) ValidationErrors {
	schema, err := configSchema()
	if err != nil {
		return ValidationErrors{{Field: "$schema", Message: err.Error()}}
	}
	c.mu.RLock()
	data, err := json.Marshal(c)
	c.mu.RUnlock()
	if err != nil {
		return ValidationErrors{{Field: "$", Message: err.Error()}}
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return ValidationErrors{{Field: "$", Message: err.Error()}}
	}

	err = schema.Validate(instance)
	var ve *jsonschema.ValidationError
	if err == nil || !errors.As(err, &ve) {
		if err != nil {
			return ValidationErrors{{Field: "$", Message: err.Error()}}
		}
		return nil
	}
	var errs ValidationErrors
	collectLeaves(ve, &errs)
	return errs
}

// collectLeaves flattens the schema error tree to its most specific causes.
func collectLeaves(ve *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(ve.Causes) == 0 {
		*errs = append(*errs, ValidationError{
			Field:   fieldName(ve.InstanceLocation),
			Message: ve.Message,
		})
		return
	}
	for _, cause := range ve.Causes {
		collectLeaves(cause, errs)
	}
}

// fieldName turns a JSON pointer such as /compat/processors/0/name into
// compat.processors.0.name.
func fieldName(pointer string) string {
	field := strings.ReplaceAll(strings.TrimPrefix(pointer, "/"), "/", ".")
	if field == "" {
		return "$"
	}
	return field
}

func checkLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors
	if (l.Output == "file" || l.Output == "both") && l.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "logging.file_path",
			Message: fmt.Sprintf("file path is required when output is %q", l.Output),
		})
	}
	for i, p := range l.RedactPatterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("logging.redact_patterns.%d", i),
				Message: err.Error(),
			})
		}
	}
	if l.LogText {
		errs = append(errs, ValidationError{
			Field:   "logging.log_text",
			Message: "document text will appear in logs",
			Warning: true,
		})
	}
	return errs
}

// checkCompat resolves processor names against the built-in table plus the
// configured rows.
func checkCompat(c *CompatConfig, active string) ValidationErrors {
	var errs ValidationErrors
	table := compat.NewTable()
	for _, p := range c.Processors {
		table.Register(p.Name, nil)
	}
	for i, name := range c.Disabled {
		if _, ok := table.Lookup(name); !ok {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("compat.disabled.%d", i),
				Message: fmt.Sprintf("unknown processor %q", name),
			})
		}
	}
	if active != "" {
		if _, ok := table.Lookup(active); !ok {
			errs = append(errs, ValidationError{
				Field:   "store.processor",
				Message: fmt.Sprintf("processor %q has no compatibility entry", active),
				Warning: true,
			})
		}
	}
	return errs
}
