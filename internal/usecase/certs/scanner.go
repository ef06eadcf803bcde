package certs

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/bnema/flotilla/internal/usecase/naming"
)

// parseConfName splits "{project}_{env}_{service}.conf".
func parseConfName(name string) (project, env, service string, ok bool) {
	base, found := strings.CutSuffix(name, ".conf")
	if !found {
		return "", "", "", false
	}
	return naming.ParseContainerName(base)
}

// serverName returns the first usable name of the first server_name directive.
// Catch-all, localhost, wildcard and regex names are not issuable and are skipped.
func serverName(content []byte) (string, bool) {
	for _, stmt := range statements(content) {
		fields := strings.Fields(stmt)
		if len(fields) < 2 || fields[0] != "server_name" {
			continue
		}
		for _, name := range fields[1:] {
			name = strings.Trim(name, `"'`)
			if usableName(name) {
				return strings.ToLower(name), true
			}
		}
	}
	return "", false
}

// statements splits an nginx config into directives, dropping comments. A
// directive may span lines and share a line with others.
func statements(content []byte) []string {
	var b strings.Builder
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.FieldsFunc(b.String(), func(r rune) bool {
		return r == ';' || r == '{' || r == '}'
	})
}

func usableName(name string) bool {
	switch {
	case name == "_", name == "localhost", name == "":
		return false
	case strings.ContainsAny(name, "*~$"):
		return false
	case !strings.Contains(name, "."):
		return false
	}
	return true
}
