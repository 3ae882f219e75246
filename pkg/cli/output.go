package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	// FormatTable renders a styled table (default for terminal)
	FormatTable OutputFormat = "table"
	// FormatYAML outputs as YAML
	FormatYAML OutputFormat = "yaml"
	// FormatJSON outputs as JSON
	FormatJSON OutputFormat = "json"
)

// Tabular is implemented by results that can render as a table.
type Tabular interface {
	Header() []string
	Rows() [][]string
}

// OutputOptions configures output behavior
type OutputOptions struct {
	// Format is the output format (table, yaml, json)
	Format OutputFormat

	// Writer is the destination (stdout when nil)
	Writer io.Writer

	// Styles are used for tables; zero means DefaultTheme
	Styles *Styles
}

// Output writes result in the requested format. Results that are not
// Tabular fall back to YAML when a table is requested.
func Output(result any, opts OutputOptions) error {
	var w io.Writer = os.Stdout
	if opts.Writer != nil {
		w = opts.Writer
	}

	switch opts.Format {
	case FormatJSON:
		return outputJSON(w, result)
	case FormatYAML:
		return outputYAML(w, result)
	case FormatTable, "":
		t, ok := result.(Tabular)
		if !ok {
			return outputYAML(w, result)
		}
		styles := NewStyles(DefaultTheme)
		if opts.Styles != nil {
			styles = *opts.Styles
		}
		_, err := fmt.Fprintln(w, styles.Table(t.Header(), t.Rows()))
		return err
	default:
		return fmt.Errorf("unsupported output format: %s", opts.Format)
	}
}

func outputJSON(w io.Writer, result any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func outputYAML(w io.Writer, result any) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// Print helpers for terminal output

// PrintSuccess prints a success message with checkmark
func PrintSuccess(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, NewStyles(DefaultTheme).Good.Render("✓ "+fmt.Sprintf(format, args...)))
}

// PrintWarning prints a warning message
func PrintWarning(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, NewStyles(DefaultTheme).Bad.Render("⚠ "+fmt.Sprintf(format, args...)))
}
