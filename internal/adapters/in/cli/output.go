package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed)
	infoColor = color.New(color.FgBlue)
	dimColor  = color.New(color.Faint)
)

func printOK(w io.Writer, format string, a ...any) {
	_, _ = okColor.Fprintf(w, format+"\n", a...)
}

func printWarn(w io.Writer, format string, a ...any) {
	_, _ = warnColor.Fprintf(w, format+"\n", a...)
}

func printFail(w io.Writer, format string, a ...any) {
	_, _ = failColor.Fprintf(w, format+"\n", a...)
}

func printInfo(w io.Writer, format string, a ...any) {
	_, _ = infoColor.Fprintf(w, format+"\n", a...)
}

// table writes tab-separated rows aligned in columns.
func table(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, strings.Join(header, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(tw, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// keyValues parses repeated KEY=VALUE flags.
func keyValues(pairs []string, sep string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, sep)
		if !ok || k == "" {
			return nil, fmt.Errorf("expected KEY%sVALUE, got %q", sep, p)
		}
		out[k] = v
	}
	return out, nil
}
