package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	failColor   = color.New(color.FgRed, color.Bold)
	dimColor    = color.New(color.FgHiBlack)
)

func disableColor() {
	color.NoColor = true
}

// displayGram quotes a gram so whitespace and control characters stay
// visible.
func displayGram(g string) string {
	return strconv.QuoteToGraphic(g)
}

func header(w io.Writer, format string, args ...any) {
	headerColor.Fprintf(w, format+"\n", args...)
}

func status(w io.Writer, ok bool, format string, args ...any) {
	if ok {
		okColor.Fprint(w, "  ok    ")
	} else {
		failColor.Fprint(w, "  FAIL  ")
	}
	fmt.Fprintf(w, format+"\n", args...)
}
