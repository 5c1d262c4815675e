package chat

import (
	"errors"
	"slices"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/wbpxre150/llamachat/jsonpartial"
	"github.com/wbpxre150/llamachat/logutil"
)

// ConsumedJSON is a JSON value with unsupported healings removed. Subtrees at
// argument paths have been re-serialized to JSON text, truncated at the
// healing marker when the input was cut inside them; IsPartial reports
// whether any truncation was found.
type ConsumedJSON struct {
	Value     any
	IsPartial bool
}

// TryConsumeJSONWithDumpedArgs consumes a JSON value at the cursor and walks
// it. Values at argsPaths are serialized to JSON text strings (tool arguments
// travel as text); values at contentPaths must be strings and are truncated
// at the raw marker. A path is a list of object keys; an empty path is the
// root. Object members whose key or string value contains the marker were
// mid-write when input ran out and are dropped, along with everything after
// them; arrays are truncated at the first marked string element.
func (p *Parser) TryConsumeJSONWithDumpedArgs(argsPaths, contentPaths [][]string) (*ConsumedJSON, error) {
	partial, err := p.TryConsumeJSON()
	if err != nil || partial == nil {
		return nil, err
	}

	isArgsPath := func(path []string) bool {
		return containsPath(argsPaths, path)
	}
	isContentPath := func(path []string) bool {
		return containsPath(contentPaths, path)
	}

	if partial.Healing.Empty() {
		if len(argsPaths) == 0 {
			return &ConsumedJSON{Value: partial.Value}, nil
		}
		if isArgsPath(nil) {
			return &ConsumedJSON{Value: jsonpartial.Dump(partial.Value)}, nil
		}
	}

	logutil.Trace("parsed partial JSON", "value", jsonpartial.Dump(partial.Value), "jsonDumpMarker", partial.Healing.JSONDumpMarker)

	foundHealingMarker := false
	var walkErr error
	var path []string

	var clean func(v any) any
	clean = func(v any) any {
		if walkErr != nil {
			return nil
		}
		if isArgsPath(path) {
			arguments := jsonpartial.Dump(v)
			if p.isPartial && !partial.Healing.Empty() {
				if idx := strings.Index(arguments, partial.Healing.JSONDumpMarker); idx >= 0 {
					arguments = arguments[:idx]
					foundHealingMarker = true
				}
				if arguments == `"` {
					// Left over from a string cut right after its opening quote.
					arguments = ""
				}
			}
			return arguments
		}
		if isContentPath(path) {
			s, ok := v.(string)
			if !ok {
				walkErr = errors.New("content path must be a string")
				return nil
			}
			// The raw marker, not its dump form: we are inside the logical
			// string already.
			if idx := strings.Index(s, partial.Healing.Marker); idx >= 0 {
				s = s[:idx]
				foundHealingMarker = true
			}
			return s
		}
		switch t := v.(type) {
		case *orderedmap.OrderedMap[string, any]:
			obj := orderedmap.New[string, any]()
			for pair := t.Oldest(); pair != nil; pair = pair.Next() {
				key, value := pair.Key, pair.Value
				if strings.Contains(key, p.healingMarker) {
					// The key itself was being written: drop it and
					// everything after it.
					foundHealingMarker = true
					break
				}
				path = append(path, key)
				if s, ok := value.(string); ok {
					if strings.Contains(s, p.healingMarker) {
						foundHealingMarker = true
						if isContentPath(path) && partial.Healing.Marker == partial.Healing.JSONDumpMarker {
							// Healing landed inside the string value: keep
							// the truncated text. Otherwise ditch the pair.
							obj.Set(key, clean(value))
						}
						path = path[:len(path)-1]
						break
					}
					obj.Set(key, value)
				} else {
					obj.Set(key, clean(value))
				}
				path = path[:len(path)-1]
			}
			return obj
		case []any:
			arr := make([]any, 0, len(t))
			for _, value := range t {
				if s, ok := value.(string); ok && strings.Contains(s, p.healingMarker) {
					// Array values outside the argument paths are truncated,
					// not healed.
					foundHealingMarker = true
					break
				}
				arr = append(arr, clean(value))
			}
			return arr
		}
		return v
	}

	cleaned := clean(partial.Value)
	if walkErr != nil {
		return nil, walkErr
	}
	logutil.Trace("cleaned up JSON", "value", jsonpartial.Dump(cleaned), "isPartial", foundHealingMarker)
	return &ConsumedJSON{Value: cleaned, IsPartial: foundHealingMarker}, nil
}

// ConsumeJSONWithDumpedArgs is TryConsumeJSONWithDumpedArgs that fails with a
// PartialError when no JSON value starts at the cursor.
func (p *Parser) ConsumeJSONWithDumpedArgs(argsPaths, contentPaths [][]string) (ConsumedJSON, error) {
	res, err := p.TryConsumeJSONWithDumpedArgs(argsPaths, contentPaths)
	if err != nil {
		return ConsumedJSON{}, err
	}
	if res == nil {
		return ConsumedJSON{}, &PartialError{Token: "JSON"}
	}
	return *res, nil
}

func containsPath(paths [][]string, path []string) bool {
	for _, p := range paths {
		if slices.Equal(p, path) {
			return true
		}
	}
	return false
}
