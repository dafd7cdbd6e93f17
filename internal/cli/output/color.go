package output

import (
	"fmt"
	"io"
	"strconv"
)

const ansiReset = "\033[0m"

const (
	fgRed    = 31
	fgGreen  = 32
	fgYellow = 33
	fgCyan   = 36
	fgWhite  = 37

	bold = 1
)

type color struct {
	prefix string
}

func newColor(attrs ...int) color {
	seq := "\033["
	for i, a := range attrs {
		if i > 0 {
			seq += ";"
		}
		seq += strconv.Itoa(a)
	}
	return color{prefix: seq + "m"}
}

func (c color) printf(format string, a ...any) {
	fmt.Printf(c.prefix+format+ansiReset, a...)
}

func (c color) fprintf(w io.Writer, format string, a ...any) {
	fmt.Fprintf(w, c.prefix+format+ansiReset, a...)
}
