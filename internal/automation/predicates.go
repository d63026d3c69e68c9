package automation

import "strings"

// Predicate reports whether the recognized screen is the one awaited.
type Predicate func([]RecognizedText) bool

// Finder picks one recognized text, for example to click on it.
type Finder func([]RecognizedText) (RecognizedText, bool)

// Matcher compares a single recognized text.
type Matcher func(text string) bool

// Exact matches text equal to s, ignoring case.
func Exact(s string) Matcher {
	s = strings.ToLower(s)
	return func(text string) bool { return strings.ToLower(text) == s }
}

// Prefix matches text starting with s, ignoring case.
func Prefix(s string) Matcher {
	s = strings.ToLower(s)
	return func(text string) bool { return strings.HasPrefix(strings.ToLower(text), s) }
}

// Substring matches text containing s, ignoring case.
func Substring(s string) Matcher {
	s = strings.ToLower(s)
	return func(text string) bool { return strings.Contains(strings.ToLower(text), s) }
}

// Suffix matches text ending with s, ignoring case.
func Suffix(s string) Matcher {
	s = strings.ToLower(s)
	return func(text string) bool { return strings.HasSuffix(strings.ToLower(text), s) }
}

// Contains holds when any recognized text satisfies m.
func Contains(m Matcher) Predicate {
	return func(texts []RecognizedText) bool {
		_, ok := First(m)(texts)
		return ok
	}
}

// Any holds when any of preds holds.
func Any(preds ...Predicate) Predicate {
	return func(texts []RecognizedText) bool {
		for _, p := range preds {
			if p(texts) {
				return true
			}
		}
		return false
	}
}

// ContainsExact holds when some text equals s, ignoring case.
func ContainsExact(s string) Predicate { return Contains(Exact(s)) }

// ContainsPrefix holds when some text starts with s, ignoring case.
func ContainsPrefix(s string) Predicate { return Contains(Prefix(s)) }

// ContainsSubstring holds when some text contains s, ignoring case.
func ContainsSubstring(s string) Predicate { return Contains(Substring(s)) }

// First returns the first text satisfying m.
func First(m Matcher) Finder {
	return func(texts []RecognizedText) (RecognizedText, bool) {
		for _, t := range texts {
			if m(t.Text) {
				return t, true
			}
		}
		return RecognizedText{}, false
	}
}

// FirstOf tries each finder in turn.
func FirstOf(finders ...Finder) Finder {
	return func(texts []RecognizedText) (RecognizedText, bool) {
		for _, f := range finders {
			if t, ok := f(texts); ok {
				return t, true
			}
		}
		return RecognizedText{}, false
	}
}
