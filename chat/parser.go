// Package chat converts raw model-generated text into a structured assistant
// message of content, thinking and tool calls. The parser works on complete
// and still-streaming input alike: callers re-parse from the start when more
// text arrives, and truncated JSON is healed with a marker unique to the
// parse so downstream consumers always see well-formed values.
package chat

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wbpxre150/llamachat/api"
	"github.com/wbpxre150/llamachat/jsonpartial"
	"github.com/wbpxre150/llamachat/partialregex"
)

// PartialError signals that an expected token is missing at the end of
// partial input. It is not a failure: callers keep the input and retry once
// more text arrives.
type PartialError struct {
	Token string
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("incomplete %s at end of partial input", e.Token)
}

// StringRange is a half-open byte range into the parser's input.
type StringRange struct {
	Begin int
	End   int
}

// FindRegexResult carries the text between the previous cursor position and
// a match, plus the match's capture groups.
type FindRegexResult struct {
	Prelude string
	Groups  []StringRange
}

type Parser struct {
	input         string
	isPartial     bool
	syntax        Syntax
	pos           int
	healingMarker string
	result        api.Message
	lastXMLError  XMLParseError
}

// New creates a parser over input. The healing marker is drawn by rejection
// sampling until it does not occur in the input, so it can be spliced into
// healed JSON without colliding with real data.
func New(input string, isPartial bool, syntax Syntax) *Parser {
	p := &Parser{
		input:     input,
		isPartial: isPartial,
		syntax:    syntax,
	}
	p.result.Role = "assistant"

	for {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")
		if !strings.Contains(input, id) {
			p.healingMarker = id
			break
		}
	}

	return p
}

func (p *Parser) Input() string         { return p.input }
func (p *Parser) Pos() int              { return p.pos }
func (p *Parser) IsPartial() bool       { return p.isPartial }
func (p *Parser) HealingMarker() string { return p.healingMarker }
func (p *Parser) Syntax() Syntax        { return p.syntax }

// Result returns the message built so far.
func (p *Parser) Result() api.Message {
	return p.result
}

// Str returns the input text covered by a range.
func (p *Parser) Str(rng StringRange) string {
	return p.input[rng.Begin:rng.End]
}

func (p *Parser) AddContent(content string) {
	p.result.Content += content
}

func (p *Parser) AddThinking(thinking string) {
	p.result.Thinking += thinking
}

// AddToolCall appends a tool call. Calls with an empty name are rejected.
func (p *Parser) AddToolCall(name, id, arguments string) bool {
	if name == "" {
		return false
	}
	p.result.ToolCalls = append(p.result.ToolCalls, api.ToolCall{
		ID: id,
		Function: api.ToolCallFunction{
			Index:     len(p.result.ToolCalls),
			Name:      name,
			Arguments: arguments,
		},
	})
	return true
}

// AddToolCalls appends a batch of tool calls, all or nothing: if any call has
// an empty name the whole batch is rejected and none are appended.
func (p *Parser) AddToolCalls(calls []api.ToolCall) bool {
	for _, call := range calls {
		if call.Function.Name == "" {
			return false
		}
	}
	for _, call := range calls {
		p.AddToolCall(call.Function.Name, call.ID, call.Function.Arguments)
	}
	return true
}

func (p *Parser) ClearTools() {
	p.result.ToolCalls = nil
}

// Finish checks that a complete input was fully consumed. Partial input may
// stop anywhere.
func (p *Parser) Finish() error {
	if !p.isPartial && p.pos != len(p.input) {
		return fmt.Errorf("unexpected content at end of input: %q", p.input[p.pos:])
	}
	return nil
}

// ConsumeSpaces advances past whitespace, reporting whether any was consumed.
func (p *Parser) ConsumeSpaces() bool {
	consumed := false
	for p.pos < len(p.input) && isSpaceByte(p.input[p.pos]) {
		p.pos++
		consumed = true
	}
	return consumed
}

// TryConsumeLiteral advances past literal if it sits exactly at the cursor.
func (p *Parser) TryConsumeLiteral(literal string) bool {
	if strings.HasPrefix(p.input[p.pos:], literal) {
		p.pos += len(literal)
		return true
	}
	return false
}

// ConsumeLiteral is TryConsumeLiteral that fails with a PartialError when the
// literal is absent.
func (p *Parser) ConsumeLiteral(literal string) error {
	if !p.TryConsumeLiteral(literal) {
		return &PartialError{Token: literal}
	}
	return nil
}

// TryFindLiteral searches for literal at or after the cursor. On partial
// input a trailing fragment of the literal at the end of the input also
// counts: the match then spans that fragment through the end of input, and
// callers can detect it by the short group.
func (p *Parser) TryFindLiteral(literal string) (FindRegexResult, bool) {
	if idx := strings.Index(p.input[p.pos:], literal); idx >= 0 {
		start := p.pos + idx
		end := start + len(literal)
		res := FindRegexResult{
			Prelude: p.input[p.pos:start],
			Groups:  []StringRange{{start, end}},
		}
		p.pos = end
		return res, true
	}
	if p.isPartial {
		if idx := findPartialStop(p.input, literal); idx >= 0 && idx >= p.pos {
			res := FindRegexResult{
				Prelude: p.input[p.pos:idx],
				Groups:  []StringRange{{idx, len(p.input)}},
			}
			p.pos = len(p.input)
			return res, true
		}
	}
	return FindRegexResult{}, false
}

// ConsumeRest returns and consumes everything after the cursor.
func (p *Parser) ConsumeRest() string {
	rest := p.input[p.pos:]
	p.pos = len(p.input)
	return rest
}

// TryFindRegex searches for re at or after from (the cursor when from is
// negative). On a full match the cursor moves past it and the prelude is
// optionally appended to content. A partial match at the end of partial input
// commits the prelude, then fails with a PartialError; on complete input it
// is treated as no match and the cursor stays put.
func (p *Parser) TryFindRegex(re *partialregex.Regex, from int, addPreludeToContent bool) (FindRegexResult, bool, error) {
	if from < 0 {
		from = p.pos
	}
	m := re.Search(p.input, from)
	switch m.Type {
	case partialregex.MatchTypeNone:
		return FindRegexResult{}, false, nil
	case partialregex.MatchTypePartial:
		if !p.isPartial {
			return FindRegexResult{}, false, nil
		}
		prelude := p.input[p.pos:m.Groups[0].Begin]
		p.pos = m.Groups[0].End
		if addPreludeToContent {
			p.AddContent(prelude)
		}
		return FindRegexResult{}, false, &PartialError{Token: re.String()}
	}
	prelude := p.input[p.pos:m.Groups[0].Begin]
	p.pos = m.Groups[0].End
	if addPreludeToContent {
		p.AddContent(prelude)
	}
	return FindRegexResult{Prelude: prelude, Groups: toStringRanges(m.Groups)}, true, nil
}

// TryConsumeRegex matches re anchored at the cursor only.
func (p *Parser) TryConsumeRegex(re *partialregex.Regex) (FindRegexResult, bool, error) {
	m := re.Search(p.input, p.pos)
	switch m.Type {
	case partialregex.MatchTypeNone:
		return FindRegexResult{}, false, nil
	case partialregex.MatchTypePartial:
		if p.isPartial {
			return FindRegexResult{}, false, &PartialError{Token: re.String()}
		}
		return FindRegexResult{}, false, nil
	}
	if m.Groups[0].Begin != p.pos {
		return FindRegexResult{}, false, nil
	}
	p.pos = m.Groups[0].End
	return FindRegexResult{Groups: toStringRanges(m.Groups)}, true, nil
}

// ConsumeRegex is TryConsumeRegex that fails with a PartialError on a miss.
func (p *Parser) ConsumeRegex(re *partialregex.Regex) (FindRegexResult, error) {
	res, ok, err := p.TryConsumeRegex(re)
	if err != nil {
		return FindRegexResult{}, err
	}
	if !ok {
		return FindRegexResult{}, &PartialError{Token: re.String()}
	}
	return res, nil
}

// TryConsumeJSON consumes one JSON value at the cursor. It returns nil when
// no value starts there. Healing on complete input violates the partial-input
// contract and fails with a PartialError.
func (p *Parser) TryConsumeJSON() (*jsonpartial.Result, error) {
	res, n, ok := jsonpartial.Parse(p.input[p.pos:], p.healingMarker)
	if !ok {
		return nil, nil
	}
	p.pos += n
	if res.Healing.Empty() {
		return &res, nil
	}
	if !p.isPartial {
		return nil, &PartialError{Token: "JSON"}
	}
	return &res, nil
}

// ConsumeJSON is TryConsumeJSON that fails with a PartialError on a miss.
func (p *Parser) ConsumeJSON() (jsonpartial.Result, error) {
	res, err := p.TryConsumeJSON()
	if err != nil {
		return jsonpartial.Result{}, err
	}
	if res == nil {
		return jsonpartial.Result{}, &PartialError{Token: "JSON"}
	}
	return *res, nil
}

func toStringRanges(groups []partialregex.Range) []StringRange {
	out := make([]StringRange, len(groups))
	for i, g := range groups {
		out[i] = StringRange{Begin: g.Begin, End: g.End}
	}
	return out
}
