package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/wbpxre150/llamachat/api"
	"github.com/wbpxre150/llamachat/jsonpartial"
)

// Size limits for the XML tool-call scanner.
const (
	maxInputSize       = 1024 * 1024
	maxParameterCount  = 100
	maxTagNameLength   = 256
	maxAttributeLength = 1024
)

type XMLParseErrorType int

const (
	XMLErrorNone XMLParseErrorType = iota
	XMLErrorInputTooLarge
	XMLErrorTagNameTooLong
	XMLErrorAttributeTooLong
	XMLErrorTooManyParameters
	XMLErrorTooManyTools
	XMLErrorInvalidXMLStructure
	XMLErrorInvalidFunctionName
	XMLErrorFunctionNotFound
	XMLErrorParameterConversionFailed
	XMLErrorJSONSerializationFailed
)

func (t XMLParseErrorType) String() string {
	switch t {
	case XMLErrorNone:
		return "None"
	case XMLErrorInputTooLarge:
		return "InputTooLarge"
	case XMLErrorTagNameTooLong:
		return "TagNameTooLong"
	case XMLErrorAttributeTooLong:
		return "AttributeTooLong"
	case XMLErrorTooManyParameters:
		return "TooManyParameters"
	case XMLErrorTooManyTools:
		return "TooManyTools"
	case XMLErrorInvalidXMLStructure:
		return "InvalidXmlStructure"
	case XMLErrorInvalidFunctionName:
		return "InvalidFunctionName"
	case XMLErrorFunctionNotFound:
		return "FunctionNotFound"
	case XMLErrorParameterConversionFailed:
		return "ParameterConversionFailed"
	case XMLErrorJSONSerializationFailed:
		return "JsonSerializationFailed"
	default:
		return "Unknown"
	}
}

// XMLParseError describes where and why the XML tool-call scan failed.
type XMLParseError struct {
	Type     XMLParseErrorType
	Position int
	Context  string
	Message  string
}

func (e XMLParseError) HasError() bool {
	return e.Type != XMLErrorNone
}

func (e *XMLParseError) Clear() {
	*e = XMLParseError{}
}

func setXMLError(err *XMLParseError, typ XMLParseErrorType, position int, context, message string) {
	if err == nil {
		return
	}
	err.Type = typ
	err.Position = position
	err.Context = context
	err.Message = message
}

// xmlTag is one matched open/close tag pair. Offsets are into the scanned
// slice.
type xmlTag struct {
	name      string
	attribute string
	content   string
	start     int
	end       int
}

func truncateContext(s string) string {
	if len(s) > 100 {
		return s[:100]
	}
	return s
}

// findXMLTag locates `<name…>content</name>` at or after from. A candidate
// where the character after the name is not '>', '=' or whitespace is a
// prefix collision (searching "tool" must not match "tool_call") and the
// scan resumes one byte later. A missing close tag is a miss, not an error.
func findXMLTag(text, tagName string, from int, xmlErr *XMLParseError) (xmlTag, bool) {
	if len(text) > maxInputSize {
		setXMLError(xmlErr, XMLErrorInputTooLarge, 0, truncateContext(text),
			fmt.Sprintf("XML input exceeds maximum size limit of %d bytes", maxInputSize))
		return xmlTag{}, false
	}
	if len(tagName) > maxTagNameLength {
		setXMLError(xmlErr, XMLErrorTagNameTooLong, 0, tagName,
			fmt.Sprintf("tag name exceeds maximum length of %d characters", maxTagNameLength))
		return xmlTag{}, false
	}
	if from >= len(text) {
		return xmlTag{}, false
	}

	openTagStart := "<" + tagName
	closeTag := "</" + tagName + ">"

	searchPos := from
	for searchPos < len(text) {
		openPos := strings.Index(text[searchPos:], openTagStart)
		if openPos < 0 {
			return xmlTag{}, false
		}
		openPos += searchPos

		checkPos := openPos + len(openTagStart)
		if checkPos < len(text) {
			next := text[checkPos]
			if next != '>' && next != '=' && !isSpaceByte(next) {
				searchPos = openPos + 1
				continue
			}
		}

		openEnd := strings.IndexByte(text[openPos:], '>')
		if openEnd < 0 {
			return xmlTag{}, false
		}
		openEnd += openPos

		tag := xmlTag{name: tagName, start: openPos}

		// Attribute of the form `=VALUE`, `= VALUE`, `="VALUE"` or
		// `= 'VALUE'` between the tag name and '>'.
		tagContentStart := openPos + 1 + len(tagName)
		if tagContentStart < openEnd {
			if eq := strings.IndexByte(text[tagContentStart:openEnd], '='); eq >= 0 {
				attrStart := tagContentStart + eq + 1
				for attrStart < openEnd && isSpaceByte(text[attrStart]) {
					attrStart++
				}
				if attrStart < openEnd {
					attrEnd := openEnd
					if text[attrStart] == '"' || text[attrStart] == '\'' {
						quote := text[attrStart]
						attrStart++
						if qe := strings.IndexByte(text[attrStart:openEnd], quote); qe >= 0 {
							attrEnd = attrStart + qe
						} else {
							// No closing quote, treat as unquoted.
							attrStart--
						}
					} else {
						for attrEnd > attrStart && isSpaceByte(text[attrEnd-1]) {
							attrEnd--
						}
					}
					if attrStart < attrEnd {
						attr := text[attrStart:attrEnd]
						if len(attr) > maxAttributeLength {
							setXMLError(xmlErr, XMLErrorAttributeTooLong, openPos, truncateContext(attr),
								fmt.Sprintf("attribute exceeds maximum length of %d characters", maxAttributeLength))
							return xmlTag{}, false
						}
						tag.attribute = attr
					}
				}
			}
		}

		closePos := strings.Index(text[openEnd+1:], closeTag)
		if closePos < 0 {
			return xmlTag{}, false
		}
		closePos += openEnd + 1

		tag.end = closePos + len(closeTag)
		tag.content = text[openEnd+1 : closePos]
		return tag, true
	}

	return xmlTag{}, false
}

// findAllXMLTags collects up to maxParameterCount tags; a further tag past
// the cap raises TooManyParameters.
func findAllXMLTags(text, tagName string, xmlErr *XMLParseError) []xmlTag {
	var tags []xmlTag
	pos := 0
	for pos < len(text) && len(tags) < maxParameterCount {
		tag, ok := findXMLTag(text, tagName, pos, xmlErr)
		if !ok {
			return tags
		}
		tags = append(tags, tag)
		pos = tag.end
	}
	if len(tags) == maxParameterCount && !xmlErr.HasError() {
		if _, ok := findXMLTag(text, tagName, pos, xmlErr); ok {
			setXMLError(xmlErr, XMLErrorTooManyParameters, pos, truncateContext(text[pos:]),
				fmt.Sprintf("too many %s tags found (max: %d)", tagName, maxParameterCount))
		}
	}
	return tags
}

func trimParamSpace(s string) string {
	return strings.Trim(s, " \t\n\r")
}

// safeParseInt parses a decimal integer through a 64-bit intermediate and
// rejects values outside the 32-bit signed range.
func safeParseInt(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, false
	}
	return v, true
}

// safeParseFloat parses through float64 and rejects values outside the
// 32-bit float range (and non-finite results, which JSON cannot carry).
func safeParseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f > math.MaxFloat32 || f < -math.MaxFloat32 {
		return 0, false
	}
	return f, true
}

func formatJSONFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// escapeJSONPathKey escapes a raw key for use as a gjson/sjson path element.
func escapeJSONPathKey(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch r {
		case '.', '|', '#', '@', '*', '?', '\\', ':':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// paramProperties returns the schema's "properties" object for a function,
// or the whole parameters document when it has no properties wrapper.
func paramProperties(funcName string, tools []api.Tool) gjson.Result {
	for _, tool := range tools {
		if tool.Name != funcName {
			continue
		}
		if !gjson.Valid(tool.Parameters) {
			return gjson.Result{}
		}
		if props := gjson.Get(tool.Parameters, "properties"); props.Exists() {
			return props
		}
		return gjson.Parse(tool.Parameters)
	}
	return gjson.Result{}
}

// convertParamValue coerces a raw parameter value into a JSON fragment
// following the schema's declared type, or by inference without one. String
// fallbacks always go through the JSON encoder so embedded quotes,
// backslashes and control characters cannot break the arguments document.
func convertParamValue(raw, name string, props gjson.Result) string {
	trimmed := trimParamSpace(raw)

	if trimmed == "null" {
		return "null"
	}

	if prop := props.Get(escapeJSONPathKey(name)); prop.Exists() {
		typ := "string"
		if t := prop.Get("type"); t.Exists() {
			typ = t.String()
		}
		switch typ {
		case "string", "str", "text":
			return jsonpartial.EncodeString(trimmed)
		case "integer", "int":
			if v, ok := safeParseInt(trimmed); ok {
				return strconv.FormatInt(v, 10)
			}
			return jsonpartial.EncodeString(trimmed)
		case "number", "float":
			if f, ok := safeParseFloat(trimmed); ok {
				return formatJSONFloat(f)
			}
			return jsonpartial.EncodeString(trimmed)
		case "boolean", "bool":
			if trimmed == "true" || trimmed == "false" {
				return trimmed
			}
			return "false"
		case "object", "array":
			if json.Valid([]byte(trimmed)) {
				return trimmed
			}
			return jsonpartial.EncodeString(trimmed)
		}
	}

	// No schema for this parameter: infer the type from the value.
	if json.Valid([]byte(trimmed)) {
		return trimmed
	}
	if v, ok := safeParseInt(trimmed); ok {
		return strconv.FormatInt(v, 10)
	}
	if f, ok := safeParseFloat(trimmed); ok {
		return formatJSONFloat(f)
	}
	if trimmed == "true" || trimmed == "false" {
		return trimmed
	}
	return jsonpartial.EncodeString(trimmed)
}

// ParseXMLToolCall extracts a single
// `<tool_call><function=NAME><parameter=KEY>VALUE</parameter>…</function></tool_call>`
// block from content. Text before the block is appended to the message
// content verbatim. It returns false on terminal failure with the cause
// available via LastXMLError; a parameter conversion failure is recoverable
// (the raw value is kept as a string) and does not fail the call.
func (p *Parser) ParseXMLToolCall(content string, tools []api.Tool) bool {
	var xmlErr XMLParseError
	ok := p.parseXMLToolCall(content, tools, &xmlErr)
	p.lastXMLError = xmlErr
	return ok
}

// LastXMLError returns the error slot of the most recent ParseXMLToolCall.
func (p *Parser) LastXMLError() XMLParseError {
	return p.lastXMLError
}

func (p *Parser) parseXMLToolCall(content string, tools []api.Tool, xmlErr *XMLParseError) bool {
	xmlErr.Clear()

	if len(content) > maxInputSize {
		slog.Debug("xml tool call content too large", "size", len(content), "max", maxInputSize)
		setXMLError(xmlErr, XMLErrorInputTooLarge, 0, truncateContext(content),
			fmt.Sprintf("XML content exceeds maximum size limit of %d bytes", maxInputSize))
		return false
	}
	if len(tools) > maxParameterCount {
		slog.Debug("too many tools provided", "count", len(tools), "max", maxParameterCount)
		setXMLError(xmlErr, XMLErrorTooManyTools, 0, "",
			fmt.Sprintf("too many tools provided: %d (max: %d)", len(tools), maxParameterCount))
		return false
	}

	validFunctions := make(map[string]struct{}, len(tools))
	for _, tool := range tools {
		validFunctions[tool.Name] = struct{}{}
	}

	toolCallTag, ok := findXMLTag(content, "tool_call", 0, xmlErr)
	if !ok {
		if !xmlErr.HasError() {
			setXMLError(xmlErr, XMLErrorInvalidXMLStructure, 0, truncateContext(content),
				"no valid <tool_call> tag found in content")
		}
		return false
	}

	// Text before the tool call is content; whitespace may be significant,
	// keep it as-is.
	if toolCallTag.start > 0 {
		p.AddContent(content[:toolCallTag.start])
	}

	functionTag, ok := findXMLTag(toolCallTag.content, "function", 0, xmlErr)
	if !ok || functionTag.attribute == "" {
		slog.Debug("invalid or missing function tag in tool_call")
		if !xmlErr.HasError() {
			setXMLError(xmlErr, XMLErrorInvalidXMLStructure, toolCallTag.start, truncateContext(toolCallTag.content),
				"invalid or missing <function> tag with attribute in <tool_call>")
		}
		return false
	}

	functionName := trimParamSpace(functionTag.attribute)
	if functionName == "" || len(functionName) > maxTagNameLength {
		slog.Debug("invalid function name", "name", functionName)
		setXMLError(xmlErr, XMLErrorInvalidFunctionName, toolCallTag.start+functionTag.start, functionName,
			fmt.Sprintf("invalid function name: %q (length: %d, max: %d)", functionName, len(functionName), maxTagNameLength))
		return false
	}
	if len(tools) > 0 {
		if _, found := validFunctions[functionName]; !found {
			slog.Debug("function not found in available tools", "name", functionName)
			setXMLError(xmlErr, XMLErrorFunctionNotFound, toolCallTag.start+functionTag.start, functionName,
				fmt.Sprintf("function %q not found in available tools", functionName))
			return false
		}
	}

	props := paramProperties(functionName, tools)

	parameterTags := findAllXMLTags(functionTag.content, "parameter", xmlErr)
	if xmlErr.HasError() {
		return false
	}

	arguments := "{}"
	for _, paramTag := range parameterTags {
		if paramTag.attribute == "" {
			slog.Debug("skipping parameter with empty attribute")
			continue
		}
		paramName := trimParamSpace(paramTag.attribute)
		if paramName == "" || len(paramName) > maxTagNameLength {
			slog.Debug("invalid parameter name", "name", paramName)
			continue
		}

		converted := convertParamValue(paramTag.content, paramName, props)
		if !json.Valid([]byte(converted)) {
			slog.Debug("failed to convert parameter, using raw value", "name", paramName)
			setXMLError(xmlErr, XMLErrorParameterConversionFailed,
				toolCallTag.start+functionTag.start+paramTag.start,
				paramName+"="+paramTag.content,
				fmt.Sprintf("failed to convert parameter %q", paramName))
			converted = jsonpartial.EncodeString(trimParamSpace(paramTag.content))
		}

		next, err := sjson.SetRaw(arguments, escapeJSONPathKey(paramName), converted)
		if err != nil {
			slog.Debug("failed to set parameter", "name", paramName, "error", err)
			setXMLError(xmlErr, XMLErrorParameterConversionFailed,
				toolCallTag.start+functionTag.start+paramTag.start,
				paramName+"="+paramTag.content,
				fmt.Sprintf("failed to set parameter %q: %v", paramName, err))
			continue
		}
		arguments = next
	}

	if !json.Valid([]byte(arguments)) {
		slog.Debug("failed to serialize arguments", "function", functionName)
		setXMLError(xmlErr, XMLErrorJSONSerializationFailed, toolCallTag.start, functionName,
			fmt.Sprintf("failed to serialize arguments for function %q", functionName))
		return false
	}

	return p.AddToolCall(functionName, "", arguments)
}
