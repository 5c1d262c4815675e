package chat

import (
	"errors"
	"fmt"

	"github.com/wbpxre150/llamachat/api"
	"github.com/wbpxre150/llamachat/jsonpartial"
	"github.com/wbpxre150/llamachat/logutil"
	"github.com/wbpxre150/llamachat/partialregex"
)

// Format selects the dialect a model emits its messages in.
type Format int

const (
	FormatContentOnly Format = iota
	FormatHermes
	FormatDeepSeekR1
	FormatQwen3Coder
)

func (f Format) String() string {
	switch f {
	case FormatContentOnly:
		return "content-only"
	case FormatHermes:
		return "hermes"
	case FormatDeepSeekR1:
		return "deepseek-r1"
	case FormatQwen3Coder:
		return "qwen3-coder"
	default:
		return "unknown"
	}
}

const (
	toolOpenTag  = "<tool_call>"
	toolCloseTag = "</tool_call>"

	deepSeekToolCallBegin = "<｜tool▁call▁begin｜>"
	deepSeekToolCallEnd   = "<｜tool▁call▁end｜>"
	deepSeekToolCallsEnd  = "<｜tool▁calls▁end｜>"
	deepSeekToolSep       = "<｜tool▁sep｜>"
)

var deepSeekToolCallsBeginRegex = partialregex.MustCompile(`<｜tool▁calls▁begin｜>|<｜tool_calls_begin｜>|<｜tool calls begin｜>`)

// Parse runs a full parse of input in the given dialect and returns the
// resulting assistant message. On partial input an incomplete trailing
// construct is not an error: the message built so far is returned, and the
// caller re-parses once more text arrives.
func Parse(input string, isPartial bool, syntax Syntax, tools []api.Tool) (api.Message, error) {
	p := New(input, isPartial, syntax)

	err := p.parseFormat(tools)
	if err != nil {
		var pe *PartialError
		if errors.As(err, &pe) && isPartial {
			logutil.Trace("partial parse interrupted", "format", syntax.Format, "token", pe.Token, "pos", p.Pos())
			return p.Result(), nil
		}
		return api.Message{}, err
	}
	if err := p.Finish(); err != nil {
		return api.Message{}, err
	}
	logutil.Trace("chat message parsed", "format", syntax.Format, "toolCalls", len(p.Result().ToolCalls))
	return p.Result(), nil
}

func (p *Parser) parseFormat(tools []api.Tool) error {
	switch p.syntax.Format {
	case FormatContentOnly:
		p.TryParseReasoning("<think>", "</think>")
		p.AddContent(p.ConsumeRest())
		return nil
	case FormatHermes:
		return p.parseHermes(tools)
	case FormatDeepSeekR1:
		return p.parseDeepSeekR1()
	case FormatQwen3Coder:
		return p.parseQwen3Coder(tools)
	default:
		return fmt.Errorf("unknown chat format: %d", p.syntax.Format)
	}
}

// parseHermes handles `<tool_call>{"name": …, "arguments": {…}}</tool_call>`
// blocks interleaved with plain content.
func (p *Parser) parseHermes(tools []api.Tool) error {
	p.TryParseReasoning("<think>", "</think>")

	if !p.syntax.ParseToolCalls {
		p.AddContent(p.ConsumeRest())
		return nil
	}

	for {
		res, ok := p.TryFindLiteral(toolOpenTag)
		if !ok {
			p.AddContent(p.ConsumeRest())
			return nil
		}
		p.AddContent(res.Prelude)
		if p.Str(res.Groups[0]) != toolOpenTag {
			// Trailing fragment of the open tag; wait for more input.
			return &PartialError{Token: toolOpenTag}
		}
		p.ConsumeSpaces()

		consumed, err := p.ConsumeJSONWithDumpedArgs([][]string{{"arguments"}}, nil)
		if err != nil {
			return err
		}
		name := stringAt(consumed.Value, "name")
		arguments := stringAt(consumed.Value, "arguments")
		if !p.AddToolCall(name, stringAt(consumed.Value, "id"), arguments) {
			return &PartialError{Token: "tool call"}
		}

		p.ConsumeSpaces()
		if err := p.ConsumeLiteral(toolCloseTag); err != nil {
			return err
		}
		p.ConsumeSpaces()
	}
}

// parseDeepSeekR1 handles `<think>` reasoning followed by DeepSeek-R1 tool
// call marker blocks with fenced JSON arguments.
func (p *Parser) parseDeepSeekR1() error {
	p.TryParseReasoning("<think>", "</think>")

	if !p.syntax.ParseToolCalls {
		p.AddContent(p.ConsumeRest())
		return nil
	}

	_, ok, err := p.TryFindRegex(deepSeekToolCallsBeginRegex, -1, true)
	if err != nil {
		return err
	}
	if !ok {
		p.AddContent(p.ConsumeRest())
		return nil
	}

	for {
		p.ConsumeSpaces()
		if !p.TryConsumeLiteral(deepSeekToolCallBegin) {
			break
		}
		if err := p.ConsumeLiteral("function"); err != nil {
			return err
		}
		if err := p.ConsumeLiteral(deepSeekToolSep); err != nil {
			return err
		}

		nameRes, ok := p.TryFindLiteral("\n```json\n")
		if !ok {
			return &PartialError{Token: "```json"}
		}
		if p.Str(nameRes.Groups[0]) != "\n```json\n" {
			return &PartialError{Token: "```json"}
		}
		name := stripSpace(nameRes.Prelude)

		consumed, err := p.ConsumeJSONWithDumpedArgs([][]string{{}}, nil)
		if err != nil {
			return err
		}
		arguments, _ := consumed.Value.(string)
		if !p.AddToolCall(name, "", arguments) {
			return &PartialError{Token: "tool call"}
		}

		if err := p.ConsumeLiteral("\n```"); err != nil {
			return err
		}
		if err := p.ConsumeLiteral(deepSeekToolCallEnd); err != nil {
			return err
		}
	}

	p.ConsumeSpaces()
	if err := p.ConsumeLiteral(deepSeekToolCallsEnd); err != nil {
		return err
	}
	p.ConsumeSpaces()
	p.AddContent(p.ConsumeRest())
	return nil
}

// parseQwen3Coder handles XML-style tool calls. A tool call is only parsed
// once its closing tag has arrived; until then nothing of it is emitted.
func (p *Parser) parseQwen3Coder(tools []api.Tool) error {
	p.TryParseReasoning("<think>", "</think>")

	if !p.syntax.ParseToolCalls {
		p.AddContent(p.ConsumeRest())
		return nil
	}

	for {
		start := p.pos
		res, ok := p.TryFindLiteral(toolCloseTag)
		if !ok {
			// No complete tool call remains; everything up to a (possibly
			// partial) open tag is content.
			open, ok := p.TryFindLiteral(toolOpenTag)
			if !ok {
				p.AddContent(p.ConsumeRest())
				return nil
			}
			p.AddContent(open.Prelude)
			return &PartialError{Token: toolCloseTag}
		}
		if p.Str(res.Groups[0]) != toolCloseTag {
			p.pos = start
			return &PartialError{Token: toolCloseTag}
		}

		block := p.input[start:res.Groups[0].End]
		if !p.ParseXMLToolCall(block, tools) {
			xmlErr := p.LastXMLError()
			return fmt.Errorf("invalid XML tool call: %s", xmlErr.Message)
		}
		p.ConsumeSpaces()
	}
}

func stringAt(v any, key string) string {
	raw, ok := jsonpartial.Get(v, key)
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return s
}
