package ocr

import (
	"errors"
	"fmt"
	"image"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrInvalidPattern wraps regex compilation failures.
var ErrInvalidPattern = errors.New("invalid regex pattern")

// SearchResult is one match. Columns count grid cells, not bytes.
type SearchResult struct {
	LineNumber int      `json:"lineNumber"`
	Line       string   `json:"line"`
	StartCol   int      `json:"startCol"`
	EndCol     int      `json:"endCol"`
	Match      string   `json:"match"`
	Groups     []string `json:"groups,omitempty"`
}

// SearchConfig controls searching and formatting.
type SearchConfig struct {
	IgnoreCase  bool
	FirstOnly   bool // stop at the first match, scanning bottom-up
	Quiet       bool
	LineNumbers bool
}

// SearchResults holds all matches.
type SearchResults struct {
	Query      string         `json:"query"`
	Matches    []SearchResult `json:"matches"`
	TotalLines int            `json:"totalLines"`
	Found      bool           `json:"found"`
}

// TextItem is a run of non-space cells and the pixels it covers.
type TextItem struct {
	Text string
	Rect image.Rectangle
}

// TextItems splits every line on spaces. Unknown cells stay part of their word.
func (r *Result) TextItems() []TextItem {
	var words []TextItem
	for row, line := range r.Text {
		col, start := 0, -1
		var sb strings.Builder
		flush := func(end int) {
			if start < 0 {
				return
			}
			words = append(words, TextItem{Text: sb.String(), Rect: r.cellRect(row, start, end)})
			sb.Reset()
			start = -1
		}
		for _, ch := range line {
			if ch == ' ' {
				flush(col)
			} else {
				if start < 0 {
					start = col
				}
				sb.WriteRune(ch)
			}
			col++
		}
		flush(col)
	}
	return words
}

// cellRect covers columns [from, to) of row.
func (r *Result) cellRect(row, from, to int) image.Rectangle {
	return image.Rect(from*r.CellWidth, row*r.CellHeight, to*r.CellWidth, (row+1)*r.CellHeight)
}

// MatchRect returns the pixel rectangle a match occupies.
func (r *Result) MatchRect(m SearchResult) image.Rectangle {
	return r.cellRect(m.LineNumber, m.StartCol, m.EndCol)
}

func runeCol(s string, byteOff int) int {
	return utf8.RuneCountInString(s[:byteOff])
}

// FindString searches for a literal string, newest output (bottom line) first.
func FindString(result *Result, query string, cfg SearchConfig) *SearchResults {
	res := &SearchResults{Query: query, Matches: []SearchResult{}, TotalLines: len(result.Text)}
	if query == "" {
		return res
	}

	needle := query
	if cfg.IgnoreCase {
		needle = strings.ToLower(query)
	}

	for i := len(result.Text) - 1; i >= 0; i-- {
		line := result.Text[i]
		hay := line
		if cfg.IgnoreCase {
			hay = strings.ToLower(line)
			// Lowering can change byte lengths; fall back to exact offsets
			// only when it did not.
			if len(hay) != len(line) {
				hay = line
			}
		}

		start := 0
		for {
			pos := strings.Index(hay[start:], needle)
			if pos == -1 {
				break
			}
			at := start + pos
			end := at + len(needle)
			res.Matches = append(res.Matches, SearchResult{
				LineNumber: i,
				Line:       line,
				StartCol:   runeCol(line, at),
				EndCol:     runeCol(line, end),
				Match:      line[at:end],
			})
			res.Found = true
			if cfg.FirstOnly {
				return res
			}
			start = end
		}
	}
	return res
}

// FindRegex searches for a pattern, bottom line first.
func FindRegex(result *Result, pattern string, cfg SearchConfig) (*SearchResults, error) {
	if cfg.IgnoreCase {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}

	res := &SearchResults{Query: pattern, Matches: []SearchResult{}, TotalLines: len(result.Text)}
	for i := len(result.Text) - 1; i >= 0; i-- {
		line := result.Text[i]
		for _, idx := range re.FindAllStringSubmatchIndex(line, -1) {
			m := SearchResult{
				LineNumber: i,
				Line:       line,
				StartCol:   runeCol(line, idx[0]),
				EndCol:     runeCol(line, idx[1]),
				Match:      line[idx[0]:idx[1]],
			}
			for g := 2; g+1 < len(idx); g += 2 {
				if idx[g] < 0 {
					m.Groups = append(m.Groups, "")
					continue
				}
				m.Groups = append(m.Groups, line[idx[g]:idx[g+1]])
			}
			res.Matches = append(res.Matches, m)
			res.Found = true
			if cfg.FirstOnly {
				return res, nil
			}
		}
	}
	return res, nil
}

// FormatResults renders matches for the terminal.
func FormatResults(results *SearchResults, cfg SearchConfig) string {
	if cfg.Quiet || !results.Found {
		return ""
	}

	var out strings.Builder
	if !cfg.LineNumbers {
		for _, m := range results.Matches {
			out.WriteString(m.Line + "\n")
		}
		return out.String()
	}

	if len(results.Matches) == 1 {
		fmt.Fprintf(&out, "Found 1 match for %q:\n", results.Query)
	} else {
		fmt.Fprintf(&out, "Found %d matches for %q:\n", len(results.Matches), results.Query)
	}
	for _, m := range results.Matches {
		fmt.Fprintf(&out, "Line %d (col %d-%d): %s", m.LineNumber, m.StartCol, m.EndCol-1, m.Line)
		if len(m.Groups) > 0 {
			fmt.Fprintf(&out, " [Groups: %v]", m.Groups)
		}
		out.WriteString("\n")
	}
	return out.String()
}

// ExitCode is 0 when something matched, 1 when nothing did, 3 for a bad
// pattern and 2 for any other failure.
func ExitCode(results *SearchResults, err error) int {
	switch {
	case errors.Is(err, ErrInvalidPattern):
		return 3
	case err != nil:
		return 2
	case results != nil && results.Found:
		return 0
	default:
		return 1
	}
}
