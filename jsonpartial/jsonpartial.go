// Package jsonpartial parses a single JSON value from possibly-truncated
// input. When the input runs out mid-value the parser heals the document by
// splicing in a caller-supplied marker string, so downstream consumers can
// locate the truncation point in the resulting tree. Objects preserve key
// insertion order and numbers keep their source text, so Dump reproduces
// byte-stable output the marker can be searched in.
package jsonpartial

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// maxDepth bounds container nesting so adversarial input cannot exhaust the
// host stack during decoding or later tree walks.
const maxDepth = 512

// HealingMarker records how the marker was spliced into a healed document.
// Marker is the raw marker string as it appears inside logical string values.
// JSONDumpMarker is the form to search for in serialized output: equal to
// Marker when the input was cut inside a string token (key or value);
// `"` + Marker when a fresh string had to be opened between structural
// tokens; and `,"` + Marker when a synthetic member had to be appended after
// a complete value, so truncation also removes the synthetic comma.
type HealingMarker struct {
	Marker         string
	JSONDumpMarker string
}

func (m HealingMarker) Empty() bool {
	return m.Marker == ""
}

// Result is one parsed JSON value. Value is one of nil, bool, json.Number,
// string, []any or *orderedmap.OrderedMap[string, any]. Healing is non-empty
// when the input was truncated and the marker was spliced in.
type Result struct {
	Value   any
	Healing HealingMarker
}

type scanState int

const (
	stateValue scanState = iota
	stateValueOrEnd
	stateKeyOrEnd
	stateKey
	stateColon
	stateCommaOrEndObject
	stateCommaOrEndArray
)

type frame byte

const (
	frameObject frame = '}'
	frameArray  frame = ']'
)

// Parse consumes exactly one JSON value from the start of input (leading
// whitespace allowed) and returns the number of bytes consumed. A truncated
// value consumes the whole input and reports how it was healed; input that
// cannot start or continue a value returns ok == false.
func Parse(input, marker string) (Result, int, bool) {
	i := 0
	for i < len(input) && isSpace(input[i]) {
		i++
	}
	if i >= len(input) {
		return Result{}, 0, false
	}
	start := i

	var stack []frame
	state := stateValue

	closers := func() string {
		var sb strings.Builder
		for j := len(stack) - 1; j >= 0; j-- {
			sb.WriteByte(byte(stack[j]))
		}
		return sb.String()
	}
	healed := func(prefix, splice string, healing HealingMarker) (Result, int, bool) {
		value, err := decode(prefix + splice + closers())
		if err != nil {
			return Result{}, 0, false
		}
		return Result{Value: value, Healing: healing}, len(input), true
	}
	freshMarker := HealingMarker{Marker: marker, JSONDumpMarker: `"` + marker}
	inStringMarker := HealingMarker{Marker: marker, JSONDumpMarker: marker}

	// pop and afterValue set the state that follows a complete value: a
	// comma or closer inside a container. They return true when the document
	// is done.
	pop := func() bool {
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			return true
		}
		if stack[len(stack)-1] == frameObject {
			state = stateCommaOrEndObject
		} else {
			state = stateCommaOrEndArray
		}
		return false
	}
	afterValue := func() bool {
		if len(stack) == 0 {
			return true
		}
		if stack[len(stack)-1] == frameObject {
			state = stateCommaOrEndObject
		} else {
			state = stateCommaOrEndArray
		}
		return false
	}

	for i < len(input) {
		c := input[i]
		if isSpace(c) {
			i++
			continue
		}

		switch state {
		case stateValue, stateValueOrEnd:
			if state == stateValueOrEnd && c == ']' {
				i++
				if pop() {
					return complete(input, start, i)
				}
				continue
			}
			switch {
			case c == '{':
				if len(stack) >= maxDepth {
					return Result{}, 0, false
				}
				stack = append(stack, frameObject)
				state = stateKeyOrEnd
				i++
			case c == '[':
				if len(stack) >= maxDepth {
					return Result{}, 0, false
				}
				stack = append(stack, frameArray)
				state = stateValueOrEnd
				i++
			case c == '"':
				end, closed, cut := scanString(input, i)
				if !closed {
					return healed(input[start:cut], marker+`"`, inStringMarker)
				}
				i = end
				if afterValue() {
					return complete(input, start, i)
				}
			case c == 't' || c == 'f' || c == 'n':
				lit := "null"
				if c == 't' {
					lit = "true"
				} else if c == 'f' {
					lit = "false"
				}
				rest := input[i:]
				if len(rest) >= len(lit) {
					if rest[:len(lit)] != lit {
						return Result{}, 0, false
					}
					i += len(lit)
					if afterValue() {
						return complete(input, start, i)
					}
					continue
				}
				if lit[:len(rest)] != rest {
					return Result{}, 0, false
				}
				// Truncated literal: its completion is ambiguous, replace it
				// with a fresh marker string.
				return healed(input[start:i], `"`+marker+`"`, freshMarker)
			case c == '-' || (c >= '0' && c <= '9'):
				end := scanNumber(input, i)
				if end == len(input) && len(stack) > 0 {
					// A number ending at EOF inside an open container may
					// still be extended by the next chunk; rewind it.
					return healed(input[start:i], `"`+marker+`"`, freshMarker)
				}
				i = end
				if afterValue() {
					return complete(input, start, i)
				}
			default:
				return Result{}, 0, false
			}
		case stateKeyOrEnd, stateKey:
			if state == stateKeyOrEnd && c == '}' {
				i++
				if pop() {
					return complete(input, start, i)
				}
				continue
			}
			if c != '"' {
				return Result{}, 0, false
			}
			end, closed, cut := scanString(input, i)
			if !closed {
				return healed(input[start:cut], marker+`":1`, inStringMarker)
			}
			i = end
			state = stateColon
		case stateColon:
			if c != ':' {
				return Result{}, 0, false
			}
			i++
			state = stateValue
		case stateCommaOrEndObject:
			switch c {
			case ',':
				i++
				state = stateKey
			case '}':
				i++
				if pop() {
					return complete(input, start, i)
				}
			default:
				return Result{}, 0, false
			}
		case stateCommaOrEndArray:
			switch c {
			case ',':
				i++
				state = stateValue
			case ']':
				i++
				if pop() {
					return complete(input, start, i)
				}
			default:
				return Result{}, 0, false
			}
		}
	}

	// EOF inside an unfinished value: splice the marker at the point where
	// input ran out and close every open container.
	switch state {
	case stateValue, stateValueOrEnd:
		return healed(input[start:], `"`+marker+`"`, freshMarker)
	case stateKeyOrEnd, stateKey:
		return healed(input[start:], `"`+marker+`":1`, freshMarker)
	case stateColon:
		return healed(input[start:], `:"`+marker+`"`, freshMarker)
	case stateCommaOrEndObject:
		// The dump marker includes the synthetic comma so truncation lands
		// right after the last complete member, whether or not another one
		// follows later.
		return healed(input[start:], `,"`+marker+`":1`, HealingMarker{Marker: marker, JSONDumpMarker: `,"` + marker})
	case stateCommaOrEndArray:
		return healed(input[start:], `,"`+marker+`"`, HealingMarker{Marker: marker, JSONDumpMarker: `,"` + marker})
	}
	return Result{}, 0, false
}

func complete(input string, start, end int) (Result, int, bool) {
	value, err := decode(input[start:end])
	if err != nil {
		return Result{}, 0, false
	}
	return Result{Value: value}, end, true
}

// scanString scans a string token starting at the opening quote. When the
// input ends before the closing quote, cut is where a healing splice must go:
// a dangling backslash escape (including a partial \uXXXX) is dropped so the
// healed text stays valid.
func scanString(input string, i int) (end int, closed bool, cut int) {
	j := i + 1
	for j < len(input) {
		switch input[j] {
		case '\\':
			if j+1 >= len(input) {
				return len(input), false, j
			}
			if input[j+1] == 'u' {
				if j+6 > len(input) {
					return len(input), false, j
				}
				j += 6
				continue
			}
			j += 2
		case '"':
			return j + 1, true, j + 1
		default:
			j++
		}
	}
	return len(input), false, len(input)
}

func scanNumber(input string, i int) int {
	j := i
	for j < len(input) {
		c := input[j]
		if (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' {
			j++
			continue
		}
		break
	}
	return j
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

// decode parses JSON text into the ordered in-memory form.
func decode(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	v, err := decodeValue(dec, 0)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func decodeValue(dec *json.Decoder, depth int) (any, error) {
	if depth > maxDepth {
		return nil, errors.New("json depth limit exceeded")
	}
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			om := orderedmap.New[string, any]()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, errors.New("object key is not a string")
				}
				value, err := decodeValue(dec, depth+1)
				if err != nil {
					return nil, err
				}
				om.Set(key, value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return om, nil
		case '[':
			arr := []any{}
			for dec.More() {
				value, err := decodeValue(dec, depth+1)
				if err != nil {
					return nil, err
				}
				arr = append(arr, value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, errors.New("unexpected delimiter")
	default:
		return t, nil
	}
}

// Get looks up a key on an ordered-object value. It returns false when the
// value is not an object or the key is absent.
func Get(v any, key string) (any, bool) {
	om, ok := v.(*orderedmap.OrderedMap[string, any])
	if !ok {
		return nil, false
	}
	return om.Get(key)
}

// Dump serializes a parsed value back to compact JSON, preserving object key
// order and number source text.
func Dump(v any) string {
	var sb strings.Builder
	dumpValue(&sb, v)
	return sb.String()
}

func dumpValue(sb *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if t {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case json.Number:
		sb.WriteString(string(t))
	case string:
		sb.WriteString(EncodeString(t))
	case []any:
		sb.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			dumpValue(sb, e)
		}
		sb.WriteByte(']')
	case *orderedmap.OrderedMap[string, any]:
		sb.WriteByte('{')
		first := true
		for pair := t.Oldest(); pair != nil; pair = pair.Next() {
			if !first {
				sb.WriteByte(',')
			}
			first = false
			sb.WriteString(EncodeString(pair.Key))
			sb.WriteByte(':')
			dumpValue(sb, pair.Value)
		}
		sb.WriteByte('}')
	default:
		bts, err := json.Marshal(t)
		if err != nil {
			sb.WriteString("null")
			return
		}
		sb.Write(bts)
	}
}

// EncodeString returns the JSON string literal for s without HTML escaping.
func EncodeString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		bts, _ := json.Marshal(s)
		return string(bts)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
