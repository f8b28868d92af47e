// Package log is a small structured-console shim the control layer uses for
// TempDebug output and IgnoreErrorProgram failures, and the cmd/qdb CLI uses
// for query progress and results. Grounded on the teacher's
// datalog/annotations/output.go (OutputFormatter: latency-prefixed, color
// coded event lines) and datalog/executor/table_formatter.go (markdown
// relation rendering via tablewriter), reduced to the handful of message
// shapes this module's control layer and CLI actually emit.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/elewis/qdb/value"
)

// Logger writes color-coded status lines and relation tables to an
// io.Writer, the way OutputFormatter writes event lines to os.Stdout.
type Logger struct {
	w        io.Writer
	useColor bool
}

// New builds a Logger writing to w, auto-detecting color support the way
// NewOutputFormatter does (only an *os.File on file descriptor 1 or 2 gets
// color; whether that descriptor is a terminal is not checked; anything
// else, including a test's bytes.Buffer, stays plain).
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isTerminal(f.Fd())
	}
	return &Logger{w: w, useColor: useColor}
}

// Default is the package-level logger cmd/qdb and the control layer use
// unless a caller wires up its own.
var Default = New(os.Stdout)

// Infof prints a status line, green-tagged "info" when color is enabled.
func (l *Logger) Infof(format string, args ...interface{}) {
	fmt.Fprintln(l.w, l.tag("info", color.FgGreen)+fmt.Sprintf(format, args...))
}

// Errorf prints a status line, red-tagged "error" when color is enabled.
func (l *Logger) Errorf(format string, args ...interface{}) {
	fmt.Fprintln(l.w, l.tag("error", color.FgRed)+fmt.Sprintf(format, args...))
}

func (l *Logger) tag(word string, attr color.Attribute) string {
	ts := time.Now().Format("15:04:05.000")
	if !l.useColor {
		return fmt.Sprintf("[%s] %s: ", ts, word)
	}
	return fmt.Sprintf("[%s] %s: ", ts, color.New(attr).Sprint(word))
}

// Relation prints columns and rows as a markdown table, the TempDebug and
// query-result rendering this module needs from TableFormatter.FormatRelation.
func (l *Logger) Relation(columns []string, rows []value.Tuple) {
	fmt.Fprintln(l.w, FormatRelation(columns, rows))
}

// FormatRelation renders columns/rows as a markdown table string, matching
// TableFormatter.formatTable's column-aligned markdown output and trailing
// row count, generalized from Relation/Tuple to this module's value.Tuple.
func FormatRelation(columns []string, rows []value.Tuple) string {
	if len(rows) == 0 {
		return fmt.Sprintf("_Columns: %v_\n\n_No rows_", columns)
	}

	out := &strings.Builder{}
	alignment := make([]tw.Align, len(columns))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(out,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(columns)

	for _, row := range rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = FormatValue(v)
		}
		table.Append(cells)
	}
	table.Render()

	fmt.Fprintf(out, "\n_%d rows_\n", len(rows))
	return out.String()
}

// FormatValue renders a single DataValue for display, generalizing
// TableFormatter.formatValue's type switch to this module's tagged value
// type instead of Go's bare interface{}.
func FormatValue(v value.DataValue) string {
	switch v.Tag {
	case value.TagNull:
		return "nil"
	case value.TagBool:
		return fmt.Sprintf("%t", v.Bool)
	case value.TagInt:
		return fmt.Sprintf("%d", v.Int)
	case value.TagFloat:
		return fmt.Sprintf("%.2f", v.Float)
	case value.TagString:
		return v.Str
	case value.TagBytes:
		return fmt.Sprintf("%x", v.Bytes)
	case value.TagRef:
		return fmt.Sprintf("#%x", v.RefHash)
	case value.TagList:
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			parts[i] = FormatValue(e)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case value.TagBot:
		return "⊤"
	default:
		return "?"
	}
}

// isTerminal is the same simplified stdout/stderr check OutputFormatter
// uses rather than pulling in golang.org/x/term for a two-fd test.
func isTerminal(fd uintptr) bool {
	return fd == uintptr(1) || fd == uintptr(2)
}
