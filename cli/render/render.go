// Package render provides output rendering for the chatlink CLI.
//
// Format selection:
//   - If stdout is a TTY, default to table
//   - Otherwise default to json
//   - --format always overrides the default
//   - Invalid formats are errors
//
// --no-color affects table and line output only.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/chatlink/types"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3B82F6"))
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from the --format and --no-color flags.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	tty := IsTTY(os.Stdout)
	if format == "" {
		format = FormatJSON
		if tty {
			format = FormatTable
		}
	}
	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color") || !tty,
		out:     os.Stdout,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Format returns the selected format.
func (r *Renderer) Format() Format {
	return r.format
}

// Render outputs data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		return enc.Encode(data)
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// Line renders one chat message as "HH:MM user: text".
func (r *Renderer) Line(m types.Message) string {
	ts, user := Clock(m.Timestamp), m.User
	if !r.noColor {
		ts, user = timeStyle.Render(ts), userStyle.Render(user)
	}
	return fmt.Sprintf("%s %s: %s", ts, user, m.Text)
}

// WriteLine writes Line(m) and a newline.
func (r *Renderer) WriteLine(m types.Message) error {
	_, err := fmt.Fprintln(r.out, r.Line(m))
	return err
}

// Clock formats an RFC 3339 timestamp as local HH:MM, or "--:--".
func Clock(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return "--:--"
	}
	return t.Local().Format("15:04")
}

func (r *Renderer) renderTable(data any) error {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	switch v.Kind() {
	case reflect.Slice:
		if v.Len() == 0 {
			fmt.Fprintln(w, "(no results)")
			return nil
		}
		elem := v.Type().Elem()
		if elem.Kind() != reflect.Struct {
			for i := range v.Len() {
				fmt.Fprintln(w, formatValue(v.Index(i)))
			}
			return nil
		}
		headers := make([]string, elem.NumField())
		for i := range elem.NumField() {
			headers[i] = fieldName(elem.Field(i))
		}
		fmt.Fprintln(w, r.header(strings.Join(headers, "\t")))
		for i := range v.Len() {
			row := v.Index(i)
			cells := make([]string, row.NumField())
			for j := range row.NumField() {
				cells[j] = formatValue(row.Field(j))
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
	case reflect.Struct:
		for i := range v.NumField() {
			fmt.Fprintf(w, "%s:\t%s\n", fieldName(v.Type().Field(i)), formatValue(v.Field(i)))
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			fmt.Fprintf(w, "%v:\t%s\n", iter.Key().Interface(), formatValue(iter.Value()))
		}
	default:
		fmt.Fprintf(w, "%v\n", data)
	}
	return nil
}

func (r *Renderer) header(s string) string {
	if r.noColor {
		return s
	}
	return headerStyle.Render(s)
}

// fieldName prefers the json tag name.
func fieldName(f reflect.StructField) string {
	if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
		return name
	}
	return strings.ToLower(f.Name)
}

func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		if t, ok := v.Interface().(time.Time); ok {
			return t.Format(time.RFC3339)
		}
		return "{...}"
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// IsTTY returns true if f is a terminal.
func IsTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
