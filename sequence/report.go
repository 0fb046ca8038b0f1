package sequence

import (
	"fmt"

	"github.com/fatih/color"
)

var (
	okText  = color.New(color.FgGreen).SprintFunc()
	badText = color.New(color.FgRed).SprintFunc()
)

// Verdict is OK or BAD
func (r Report) Verdict() string {
	if r.Passed {
		return "OK"
	}
	return "BAD"
}

// Line is the operator's one-line summary: name, result, colored verdict.
// Color follows color.NoColor.
func (r Report) Line() string {
	v := okText(r.Verdict())
	if !r.Passed {
		v = badText(r.Verdict())
	}
	return fmt.Sprintf("%-18s %-24s %s", r.Name, r.Result, v)
}
