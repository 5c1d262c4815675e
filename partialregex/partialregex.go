// Package partialregex wraps the regexp engine with partial-match detection
// for streaming input. A search reports Full when the pattern matches
// outright, and Partial when the input ends with a non-empty prefix of a
// possible match, meaning more bytes could still complete it.
package partialregex

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"
)

type MatchType int

const (
	MatchTypeNone MatchType = iota
	MatchTypePartial
	MatchTypeFull
)

func (t MatchType) String() string {
	switch t {
	case MatchTypeNone:
		return "None"
	case MatchTypePartial:
		return "Partial"
	case MatchTypeFull:
		return "Full"
	default:
		return "Unknown"
	}
}

// Range is a half-open byte range into the searched input. Unmatched capture
// groups are reported as {-1, -1}.
type Range struct {
	Begin int
	End   int
}

type Match struct {
	Type   MatchType
	Groups []Range
}

// Regex is a compiled pattern plus a derived matcher for partial detection.
// Partial matches are found by matching a "reversed partial" pattern against
// the reversed input: it recognizes exactly the non-empty input suffixes that
// are prefixes of a string in the original pattern's language.
type Regex struct {
	pattern         string
	full            *regexp.Regexp
	reversedPartial *regexp.Regexp
}

func Compile(pattern string) (*Regex, error) {
	full, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	r := &Regex{pattern: pattern, full: full}

	tree, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return nil, err
	}
	if partial, ok := reversedPartial(tree); ok {
		rp, err := regexp.Compile("^(?:" + partial + ")")
		if err != nil {
			return nil, fmt.Errorf("derive partial matcher for %q: %w", pattern, err)
		}
		r.reversedPartial = rp
	}

	return r, nil
}

func MustCompile(pattern string) *Regex {
	r, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Regex) String() string {
	return r.pattern
}

// Search looks for the pattern in input at or after from. A Full match wins
// over a Partial one; Partial is only reported for a suffix that reaches the
// end of the input, since only there can more bytes still arrive.
func (r *Regex) Search(input string, from int) Match {
	if from < 0 {
		from = 0
	}
	if from > len(input) {
		from = len(input)
	}

	if loc := r.full.FindStringSubmatchIndex(input[from:]); loc != nil {
		groups := make([]Range, 0, len(loc)/2)
		for i := 0; i < len(loc); i += 2 {
			if loc[i] < 0 {
				groups = append(groups, Range{-1, -1})
				continue
			}
			groups = append(groups, Range{from + loc[i], from + loc[i+1]})
		}
		return Match{Type: MatchTypeFull, Groups: groups}
	}

	if r.reversedPartial != nil {
		rev := reverse(input[from:])
		if loc := r.reversedPartial.FindStringIndex(rev); loc != nil && loc[1] > loc[0] {
			begin := len(input) - (loc[1] - loc[0])
			return Match{
				Type:   MatchTypePartial,
				Groups: []Range{{begin, len(input)}},
			}
		}
	}

	return Match{Type: MatchTypeNone}
}

// reversedFull returns a pattern matching the reverse of every string the
// expression matches.
func reversedFull(re *syntax.Regexp) (string, bool) {
	switch re.Op {
	case syntax.OpLiteral:
		return quoteRunes(reverseRunes(re.Rune), re.Flags), true
	case syntax.OpCharClass, syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return re.String(), true
	case syntax.OpEmptyMatch, syntax.OpBeginText, syntax.OpEndText, syntax.OpBeginLine, syntax.OpEndLine:
		return "", true
	case syntax.OpCapture:
		sub, ok := reversedFull(re.Sub[0])
		if !ok {
			return "", false
		}
		return "(?:" + sub + ")", true
	case syntax.OpConcat:
		var sb strings.Builder
		for i := len(re.Sub) - 1; i >= 0; i-- {
			sub, ok := reversedFull(re.Sub[i])
			if !ok {
				return "", false
			}
			sb.WriteString(sub)
		}
		return sb.String(), true
	case syntax.OpAlternate:
		parts := make([]string, 0, len(re.Sub))
		for _, s := range re.Sub {
			sub, ok := reversedFull(s)
			if !ok {
				return "", false
			}
			parts = append(parts, sub)
		}
		return "(?:" + strings.Join(parts, "|") + ")", true
	case syntax.OpStar:
		sub, ok := reversedFull(re.Sub[0])
		if !ok {
			return "", false
		}
		return "(?:" + sub + ")*", true
	case syntax.OpPlus:
		sub, ok := reversedFull(re.Sub[0])
		if !ok {
			return "", false
		}
		return "(?:" + sub + ")+", true
	case syntax.OpQuest:
		sub, ok := reversedFull(re.Sub[0])
		if !ok {
			return "", false
		}
		return "(?:" + sub + ")?", true
	case syntax.OpRepeat:
		sub, ok := reversedFull(re.Sub[0])
		if !ok {
			return "", false
		}
		if re.Max < 0 {
			return fmt.Sprintf("(?:%s){%d,}", sub, re.Min), true
		}
		return fmt.Sprintf("(?:%s){%d,%d}", sub, re.Min, re.Max), true
	default:
		return "", false
	}
}

// reversedPartial returns a pattern matching the reverse of every non-empty
// proper-or-full prefix of a string the expression matches. The second return
// is false when the expression cannot contribute a partial match (or uses an
// unsupported construct), in which case Search never reports Partial.
func reversedPartial(re *syntax.Regexp) (string, bool) {
	switch re.Op {
	case syntax.OpLiteral:
		return partialLiteral(re.Rune, re.Flags), true
	case syntax.OpCharClass, syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return re.String(), true
	case syntax.OpCapture:
		return reversedPartial(re.Sub[0])
	case syntax.OpConcat:
		// A prefix of e1 e2 … en is complete e1…e(k-1) plus a non-empty
		// prefix of ek; reversed, the partial piece comes first.
		var terms []string
		for k := range re.Sub {
			part, ok := reversedPartial(re.Sub[k])
			if !ok {
				continue
			}
			var sb strings.Builder
			sb.WriteString("(?:")
			sb.WriteString(part)
			sb.WriteString(")")
			done := true
			for i := k - 1; i >= 0; i-- {
				full, ok := reversedFull(re.Sub[i])
				if !ok {
					done = false
					break
				}
				sb.WriteString(full)
			}
			if done {
				terms = append(terms, sb.String())
			}
		}
		if len(terms) == 0 {
			return "", false
		}
		return "(?:" + strings.Join(terms, "|") + ")", true
	case syntax.OpAlternate:
		var parts []string
		for _, s := range re.Sub {
			if sub, ok := reversedPartial(s); ok {
				parts = append(parts, sub)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return "(?:" + strings.Join(parts, "|") + ")", true
	case syntax.OpStar, syntax.OpPlus:
		full, ok := reversedFull(re.Sub[0])
		if !ok {
			return "", false
		}
		part, ok := reversedPartial(re.Sub[0])
		if !ok {
			return "", false
		}
		return "(?:" + full + ")*(?:" + part + ")", true
	case syntax.OpQuest:
		return reversedPartial(re.Sub[0])
	case syntax.OpRepeat:
		full, ok := reversedFull(re.Sub[0])
		if !ok {
			return "", false
		}
		part, ok := reversedPartial(re.Sub[0])
		if !ok {
			return "", false
		}
		max := ""
		if re.Max > 0 {
			max = fmt.Sprintf("%d", re.Max-1)
		}
		return fmt.Sprintf("(?:%s){0,%s}(?:%s)", full, max, part), true
	default:
		return "", false
	}
}

// partialLiteral builds the reversed-prefix pattern for a literal. For "abc"
// the reversed prefixes are "a", "ba", "cba", i.e. (?:(?:c)?b)?a.
func partialLiteral(runes []rune, flags syntax.Flags) string {
	var build func(i int) string
	build = func(i int) string {
		if i >= len(runes) {
			return ""
		}
		return "(?:" + build(i+1) + quoteRune(runes[i], flags) + ")?"
	}
	return build(1) + quoteRune(runes[0], flags)
}

func quoteRune(r rune, flags syntax.Flags) string {
	q := regexp.QuoteMeta(string(r))
	if flags&syntax.FoldCase != 0 {
		return "(?i:" + q + ")"
	}
	return q
}

func quoteRunes(runes []rune, flags syntax.Flags) string {
	q := regexp.QuoteMeta(string(runes))
	if flags&syntax.FoldCase != 0 {
		return "(?i:" + q + ")"
	}
	return q
}

func reverseRunes(runes []rune) []rune {
	out := make([]rune, len(runes))
	for i, r := range runes {
		out[len(runes)-1-i] = r
	}
	return out
}

func reverse(s string) string {
	return string(reverseRunes([]rune(s)))
}
