package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Output печатает результаты команд: данные в stdout таблицей или JSON
// (--json), сообщения о ходе работы в stderr.
type Output struct {
	data   io.Writer
	notes  io.Writer
	asJSON bool
}

func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(os.Stdout, os.Stderr, jsonMode)
}

func NewOutputTo(data, notes io.Writer, jsonMode bool) *Output {
	return &Output{data: data, notes: notes, asJSON: jsonMode}
}

func (o *Output) JSONMode() bool { return o.asJSON }

func (o *Output) Writer() io.Writer { return o.data }

// Print печатает rows под headers, а в режиме --json — jsonData.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.asJSON {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// tableBorder оставляет от рамки только линию под заголовком.
var tableBorder = lipgloss.Border{Top: "-", Bottom: "-"}

var cellStyle = lipgloss.NewStyle().PaddingRight(2)

// Table печатает выровненную таблицу без рамки.
func (o *Output) Table(headers []string, rows [][]string) {
	t := table.New().
		Border(tableBorder).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		BorderRow(false).
		BorderHeader(true).
		StyleFunc(func(int, int) lipgloss.Style { return cellStyle }).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(o.data, t.String())
}

func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.data)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		o.Error(err.Error())
	}
}

func (o *Output) Success(msg string) { fmt.Fprintln(o.notes, msg) }

func (o *Output) Error(msg string) { fmt.Fprintln(o.notes, "Error: "+msg) }

// FormatValue — значение порта в ячейке: "-" для nil, списки и объекты
// компактным JSON, остальное через fmt.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case string:
		return val
	case []any, map[string]any:
		if b, err := json.Marshal(val); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}

// valueRows — пары KEY/VALUE по возрастанию ключа.
func valueRows(values map[string]any) [][]string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, FormatValue(values[k])})
	}
	return rows
}
