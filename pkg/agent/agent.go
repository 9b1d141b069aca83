// Package agent splits raw agent output into per-section string tables.
//
// Agent output is a sequence of sections, each introduced by a header line:
//
//	<<<prism_remote_support:sep(0)>>>
//	{'enable': {'enabled': True}}
//
// Header options follow the section name separated by colons. The sep(N)
// option splits each row on the character with code N; sep(0) keeps the
// whole line as a single field. Without it rows are split on whitespace.
// Piggyback blocks for other hosts (<<<<host>>>> ... <<<<>>>>) are skipped.
package agent

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/supporttools/prism-check/pkg/types"
)

// MaxLineSize is the longest line the splitter accepts.
const MaxLineSize = 1024 * 1024

// ErrLineTooLong is returned when a line exceeds MaxLineSize.
var ErrLineTooLong = errors.New("agent output line too long")

// sectionHeader holds a parsed <<<name:options>>> line.
type sectionHeader struct {
	name string
	sep  rune
	// splitFields is false for sep(0): the whole line becomes one field.
	splitFields bool
	whitespace  bool
}

// Parse reads agent output and returns the rows of every section keyed by
// section name. Rows of repeated sections are appended in order.
func Parse(r io.Reader) (map[string]types.StringTable, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	tables := make(map[string]types.StringTable)
	var current *sectionHeader
	inPiggyback := false
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")

		if isPiggybackHeader(line) {
			// <<<<>>>> returns to the monitored host itself.
			inPiggyback = line != "<<<<>>>>"
			current = nil
			continue
		}
		if inPiggyback {
			continue
		}

		if isSectionHeader(line) {
			header, err := parseHeader(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			current = header
			if current != nil {
				if _, ok := tables[current.name]; !ok {
					tables[current.name] = types.StringTable{}
				}
			}
			continue
		}

		if current == nil {
			continue
		}
		tables[current.name] = append(tables[current.name], current.split(line))
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("line %d: %w (limit %d bytes)", lineNo+1, ErrLineTooLong, MaxLineSize)
		}
		return nil, fmt.Errorf("failed to read agent output: %w", err)
	}

	return tables, nil
}

// ParseFile reads agent output from path. A path of "-" reads standard input.
func ParseFile(path string) (map[string]types.StringTable, error) {
	if path == "-" {
		return Parse(os.Stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open agent output: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

func isPiggybackHeader(line string) bool {
	return strings.HasPrefix(line, "<<<<") && strings.HasSuffix(line, ">>>>")
}

func isSectionHeader(line string) bool {
	return strings.HasPrefix(line, "<<<") && strings.HasSuffix(line, ">>>") && len(line) >= 6
}

// parseHeader returns nil for the <<<>>> terminator.
func parseHeader(line string) (*sectionHeader, error) {
	inner := strings.TrimSpace(line[3 : len(line)-3])
	if inner == "" {
		return nil, nil
	}

	parts := strings.Split(inner, ":")
	header := &sectionHeader{
		name:        strings.TrimSpace(parts[0]),
		splitFields: true,
		whitespace:  true,
	}
	if header.name == "" {
		return nil, fmt.Errorf("section header %q has no name", line)
	}

	for _, opt := range parts[1:] {
		if !strings.HasPrefix(opt, "sep(") || !strings.HasSuffix(opt, ")") {
			// Other options (cached, persist, encoding) do not change the rows.
			continue
		}
		code, err := strconv.Atoi(opt[4 : len(opt)-1])
		if err != nil || code < 0 || code > 0x10FFFF {
			return nil, fmt.Errorf("invalid separator option %q in header %q", opt, line)
		}
		header.whitespace = false
		if code == 0 {
			header.splitFields = false
		} else {
			header.sep = rune(code)
		}
	}

	return header, nil
}

func (h *sectionHeader) split(line string) []string {
	switch {
	case !h.splitFields:
		return []string{line}
	case h.whitespace:
		return strings.Fields(line)
	default:
		return strings.Split(line, string(h.sep))
	}
}
