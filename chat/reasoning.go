package chat

type ReasoningFormat int

const (
	ReasoningFormatNone ReasoningFormat = iota
	ReasoningFormatDeepSeek
	ReasoningFormatGeneric
)

func (f ReasoningFormat) String() string {
	switch f {
	case ReasoningFormatNone:
		return "none"
	case ReasoningFormatDeepSeek:
		return "deepseek"
	case ReasoningFormatGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// Syntax configures which dialect constructs the parser recognizes.
type Syntax struct {
	Format             Format
	ReasoningFormat    ReasoningFormat
	ReasoningInContent bool
	ThinkingForcedOpen bool
	ParseToolCalls     bool
}

// TryParseReasoning recognizes a reasoning window delimited by the given
// literals at the cursor. Reasoning text is routed to the thinking field, or
// wrapped back into content when ReasoningInContent is set. An unclosed
// window is tolerated even on complete input, since upstream models
// occasionally drop the closing tag.
func (p *Parser) TryParseReasoning(startThink, endThink string) bool {
	handleReasoning := func(reasoning string, closed bool) {
		stripped := stripSpace(reasoning)
		if stripped == "" {
			return
		}
		if p.syntax.ReasoningInContent {
			if p.syntax.ReasoningFormat == ReasoningFormatDeepSeek {
				p.AddContent("<think>")
			} else {
				p.AddContent(startThink)
			}
			p.AddContent(stripped)
			if closed {
				if p.syntax.ReasoningFormat == ReasoningFormatDeepSeek {
					p.AddContent("</think>")
				} else {
					p.AddContent(endThink)
				}
			}
		} else {
			p.AddThinking(stripped)
		}
	}

	if p.syntax.ReasoningFormat == ReasoningFormatNone {
		return false
	}
	if p.syntax.ThinkingForcedOpen || p.TryConsumeLiteral(startThink) {
		if res, ok := p.TryFindLiteral(endThink); ok {
			handleReasoning(res.Prelude, true)
			p.ConsumeSpaces()
			return true
		}
		if rest := p.ConsumeRest(); rest != "" {
			handleReasoning(rest, !p.isPartial)
		}
		return true
	}
	return false
}
