// Package script parses step files into automation steps.
//
// A step file holds one directive per line; blank lines and lines starting
// with # are ignored:
//
//	wait <text>          wait until <text> is on screen
//	wait-exact <text>    wait until a whole line of text equals <text>
//	click <text>         wait for <text> and click its centre
//	click <x> <y>        click a point
//	type <text>          type the rest of the line verbatim
//	key <chord>          press a chord such as "return" or "cmd+q"
//	sleep <duration>     pause, e.g. "2s"
//	login <user> <pass>  log into a text console
//	shutdown             shut a macOS guest down from the Apple menu
package script

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jeeftor/vmcap/internal/automation"
	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/input"
)

// CommentChar starts a comment line.
const CommentChar = "#"

// ParseError reports the offending line.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse reads a step file.
func Parse(r io.Reader) ([]automation.Step, error) {
	var steps []automation.Step
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, CommentChar) {
			continue
		}
		parsed, err := parseLine(line)
		if err != nil {
			return nil, &ParseError{Line: n, Text: line, Err: err}
		}
		steps = append(steps, parsed...)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return steps, nil
}

func parseLine(line string) ([]automation.Step, error) {
	directive, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	directive = strings.ToLower(directive)

	needArg := func() error {
		if rest == "" {
			return fmt.Errorf("%s needs an argument", directive)
		}
		return nil
	}

	switch directive {
	case "wait":
		if err := needArg(); err != nil {
			return nil, err
		}
		return []automation.Step{{Description: line, Until: automation.ContainsSubstring(rest)}}, nil

	case "wait-exact":
		if err := needArg(); err != nil {
			return nil, err
		}
		return []automation.Step{{Description: line, Until: automation.ContainsExact(rest)}}, nil

	case "click":
		if err := needArg(); err != nil {
			return nil, err
		}
		if p, ok := parsePoint(rest); ok {
			return []automation.Step{{Description: line, ClickAt: &p}}, nil
		}
		return []automation.Step{{Description: line, ClickOn: automation.First(automation.Substring(rest))}}, nil

	case "type":
		if err := needArg(); err != nil {
			return nil, err
		}
		// Keep inner spacing, only the separator after the directive goes.
		_, text, _ := strings.Cut(line, " ")
		return []automation.Step{{Description: directive, Text: text}}, nil

	case "key":
		if err := needArg(); err != nil {
			return nil, err
		}
		codes, holding, err := input.ParseChord(rest)
		if err != nil {
			return nil, err
		}
		return []automation.Step{{Description: line, Keys: codes, Holding: holding}}, nil

	case "sleep":
		d, err := time.ParseDuration(rest)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("sleep must be positive")
		}
		return []automation.Step{{Description: line, Pause: d}}, nil

	case "login":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return nil, fmt.Errorf("login needs a user and a password")
		}
		return automation.ConsoleLoginSteps(fields[0], fields[1]), nil

	case "shutdown":
		return automation.ShutdownSteps(), nil
	}
	return nil, fmt.Errorf("unknown directive %q", directive)
}

func parsePoint(s string) (capability.Point, bool) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return capability.Point{}, false
	}
	x, errX := strconv.ParseFloat(fields[0], 64)
	y, errY := strconv.ParseFloat(fields[1], 64)
	if errX != nil || errY != nil {
		return capability.Point{}, false
	}
	return capability.Point{X: x, Y: y}, true
}
