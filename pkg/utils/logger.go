package utils

import (
	"io"
	"sync"

	"github.com/fatih/color"
)

var colors = []color.Attribute{color.FgYellow, color.FgGreen, color.FgRed, color.FgWhite, color.FgMagenta}
var index = -1

var l sync.Mutex

const MaxNameLength = 20

// ColorLogger provides an io.Writer that prefixes every write with a colored
// step name, so interleaved command output stays attributable to its step.
type ColorLogger struct {
	name   string
	writer io.Writer
	c      color.Attribute
}

func NewColorLogger(name string, writer io.Writer, newColor bool) io.Writer {
	l.Lock()
	if newColor || index < 0 {
		index = (index + 1) % len(colors)
	}
	c := colors[index]
	l.Unlock()

	if len(name) > MaxNameLength {
		name = name[:MaxNameLength-3] + "..."
	}

	return &ColorLogger{
		name:   name,
		writer: writer,
		c:      c,
	}
}

func (c *ColorLogger) Write(p []byte) (int, error) {
	out := color.New(c.c)
	out.Fprint(c.writer, c.name, " | ")
	return out.Fprintf(c.writer, "%s", p)
}
