// Package render writes command responses as json, yaml or an aligned
// table. A terminal stdout defaults to table, anything else to json;
// --format overrides both.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/aipfs/cli/tui"
)

// Format is an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses --format. An empty string yields an empty Format so
// the caller can pick the default.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(s))
	switch f {
	case "", FormatJSON, FormatTable, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
}

// Tabular is implemented by paged payloads whose table form is the list
// of rows they carry.
type Tabular interface {
	TableRows() any
}

// Renderer writes responses in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer reads --format and --no-color from c and writes to stdout.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatJSON
		if IsTTY(os.Stdout) {
			format = FormatTable
		}
	}
	return NewRendererWithWriter(format, c.Bool("no-color"), os.Stdout), nil
}

// NewRendererWithWriter creates a renderer writing to out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Format returns the resolved output format.
func (r *Renderer) Format() Format { return r.format }

// Render writes data in the renderer's format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.table(data)
	}
	return fmt.Errorf("unknown format: %s", r.format)
}

// RenderTUI shows data in the named bubbletea view.
func (r *Renderer) RenderTUI(view string, data any) error {
	if !tui.IsTUISupported(view) {
		return fmt.Errorf("--tui is not supported for %s", view)
	}
	return tui.Run(view, data)
}

// table writes a slice as one row per element under a header, and
// anything else as name/value lines.
func (r *Renderer) table(data any) error {
	if t, ok := data.(Tabular); ok {
		data = t.TableRows()
	}
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)

	v := indirect(reflect.ValueOf(data))
	if v.Kind() != reflect.Slice {
		names, cells := columns(v)
		if names == nil {
			fmt.Fprintf(w, "%v\n", data)
		}
		for i, name := range names {
			fmt.Fprintf(w, "%s:\t%s\n", name, cells[i])
		}
		return w.Flush()
	}

	if v.Len() == 0 {
		fmt.Fprintln(r.out, "(no results)")
		return nil
	}
	header, _ := columns(indirect(v.Index(0)))
	if header == nil {
		for i := range v.Len() {
			fmt.Fprintln(w, cell(v.Index(i)))
		}
		return w.Flush()
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for i := range v.Len() {
		_, cells := columns(indirect(v.Index(i)))
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	return w.Flush()
}

// columns returns the names and formatted values of a struct's exported
// fields or a map's entries (sorted by key). Other kinds yield nil.
func columns(v reflect.Value) (names, cells []string) {
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			f := t.Field(i)
			name, ok := fieldName(f)
			if !ok {
				continue
			}
			names = append(names, name)
			cells = append(cells, cell(v.Field(i)))
		}
	case reflect.Map:
		keys := v.MapKeys()
		slices.SortFunc(keys, func(a, b reflect.Value) int {
			return strings.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
		})
		for _, k := range keys {
			names = append(names, fmt.Sprint(k.Interface()))
			cells = append(cells, cell(v.MapIndex(k)))
		}
	}
	return names, cells
}

// fieldName is the json name of an exported field, or its lowercased name.
func fieldName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return "", false
	case "":
		return strings.ToLower(f.Name), true
	}
	return name, true
}

var timeType = reflect.TypeFor[time.Time]()

func cell(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
		return cell(v.Elem())
	}

	switch {
	case v.Type() == timeType:
		return v.Interface().(time.Time).Format(time.RFC3339)
	case v.Kind() == reflect.Slice || v.Kind() == reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case v.Kind() == reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case v.Kind() == reflect.Struct:
		return "{...}"
	}
	return fmt.Sprint(v.Interface())
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v
		}
		v = v.Elem()
	}
	return v
}

// IsTTY reports whether f is a terminal.
func IsTTY(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
