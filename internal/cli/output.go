package cli

import (
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

const (
	ExitSuccess      = 0
	ExitFailure      = 1 // lookup miss, denied channel
	ExitCommandError = 2 // bad flags, unreachable backend
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the code of an ExitError, ExitFailure otherwise.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// OutputFormatter writes command results as text, JSON or YAML.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Response is the JSON and YAML envelope.
type Response struct {
	Status string `json:"status" yaml:"status"`
	Data   any    `json:"data,omitempty" yaml:"data,omitempty"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Success writes data. Text output uses text when given, else data's
// default formatting.
func (f *OutputFormatter) Success(data any, text string) error {
	switch f.Format {
	case "json":
		return jsonAPI.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
	case "yaml":
		return f.yaml(Response{Status: "ok", Data: data})
	}
	if text != "" {
		_, err := fmt.Fprintln(f.Writer, text)
		return err
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Line writes one streamed item; JSON output is one object per line.
func (f *OutputFormatter) Line(data any, text string) error {
	switch f.Format {
	case "json":
		return jsonAPI.NewEncoder(f.Writer).Encode(data)
	case "yaml":
		if _, err := fmt.Fprintln(f.Writer, "---"); err != nil {
			return err
		}
		return f.yaml(data)
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}

func (f *OutputFormatter) yaml(v any) error {
	enc := yaml.NewEncoder(f.Writer)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
