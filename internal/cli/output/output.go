// Package output formats CLI results for terminals.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

var (
	successColor = newColor(fgGreen, bold)
	errorColor   = newColor(fgRed, bold)
	infoColor    = newColor(fgCyan)
	warnColor    = newColor(fgYellow)
)

func Success(format string, a ...any) {
	successColor.printf("✓ "+format+"\n", a...)
}

func Error(format string, a ...any) {
	errorColor.fprintf(os.Stderr, "✗ "+format+"\n", a...)
}

func Info(format string, a ...any) {
	infoColor.printf(format+"\n", a...)
}

func Warn(format string, a ...any) {
	warnColor.printf("⚠ "+format+"\n", a...)
}

func JSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers []string) *Table {
	return &Table{headers: headers}
}

func (t *Table) AddRow(row []string) {
	t.rows = append(t.rows, row)
}

func (t *Table) Render() {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	header := newColor(fgWhite, bold)
	for i, h := range t.headers {
		header.printf("%-*s  ", widths[i], h)
	}
	fmt.Println()

	for i := range t.headers {
		fmt.Print(strings.Repeat("-", widths[i]) + "  ")
	}
	fmt.Println()

	for _, row := range t.rows {
		for i, cell := range row {
			fmt.Printf("%-*s  ", widths[i], cell)
		}
		fmt.Println()
	}
}
