package sink

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/mklimuk/timeswipe/record"
)

var (
	dim = color.New(color.FgHiBlack).SprintFunc()
	red = color.New(color.FgRed).SprintFunc()
)

// Console prints one summary line per burst.
type Console struct {
	w io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Write(b record.Batch, dropped uint64) error {
	s := Summarize(b, dropped)
	var line strings.Builder
	fmt.Fprintf(&line, "%s %6d", dim("burst"), s.Samples)
	for ch, st := range s.Channels {
		fmt.Fprintf(&line, "  %s%d %9.2f", dim("ch"), ch+1, st.Mean)
	}
	if dropped > 0 {
		fmt.Fprintf(&line, "  %s", red(fmt.Sprintf("dropped %d", dropped)))
	}
	_, err := fmt.Fprintln(c.w, line.String())
	return err
}

func (c *Console) Close() error { return nil }
