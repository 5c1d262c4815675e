package jsonpartial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const marker = "XXX"

func TestParseComplete(t *testing.T) {
	t.Parallel()

	res, n, ok := Parse(`{"b":1,"a":2} tail`, marker)
	require.True(t, ok)
	assert.Equal(t, len(`{"b":1,"a":2}`), n)
	assert.True(t, res.Healing.Empty())
	assert.Equal(t, `{"b":1,"a":2}`, Dump(res.Value))
}

func TestParseCompleteScalars(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		n     int
		dump  string
	}{
		{name: "string", input: `"hi" rest`, n: 4, dump: `"hi"`},
		{name: "number with trailing text", input: `12x`, n: 2, dump: `12`},
		{name: "top-level number at eof", input: `12`, n: 2, dump: `12`},
		{name: "true", input: `true`, n: 4, dump: `true`},
		{name: "null", input: `null`, n: 4, dump: `null`},
		{name: "array", input: `[1,2]xx`, n: 5, dump: `[1,2]`},
		{name: "leading whitespace", input: `  {"a":1}`, n: 9, dump: `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, n, ok := Parse(tt.input, marker)
			require.True(t, ok)
			assert.Equal(t, tt.n, n)
			assert.True(t, res.Healing.Empty())
			assert.Equal(t, tt.dump, Dump(res.Value))
		})
	}
}

func TestParseHealed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		dump       string
		dumpMarker string
	}{
		{
			name:       "truncated after colon",
			input:      `{"name":"sum","arguments":{"a":1,"b":`,
			dump:       `{"name":"sum","arguments":{"a":1,"b":"XXX"}}`,
			dumpMarker: `"` + marker,
		},
		{
			name:       "truncated inside string value",
			input:      `{"msg":"hel`,
			dump:       `{"msg":"helXXX"}`,
			dumpMarker: marker,
		},
		{
			name:       "truncated inside key",
			input:      `{"na`,
			dump:       `{"naXXX":1}`,
			dumpMarker: marker,
		},
		{
			name:       "truncated before colon",
			input:      `{"a"`,
			dump:       `{"a":"XXX"}`,
			dumpMarker: `"` + marker,
		},
		{
			name:       "ambiguous number at end rewound",
			input:      `{"a":1`,
			dump:       `{"a":"XXX"}`,
			dumpMarker: `"` + marker,
		},
		{
			name:       "truncated after complete object value",
			input:      `{"a":"done"`,
			dump:       `{"a":"done","XXX":1}`,
			dumpMarker: `,"` + marker,
		},
		{
			name:       "truncated after comma in object",
			input:      `{"a":1,`,
			dump:       `{"a":1,"XXX":1}`,
			dumpMarker: `"` + marker,
		},
		{
			name:       "truncated after comma in array",
			input:      `[1,`,
			dump:       `[1,"XXX"]`,
			dumpMarker: `"` + marker,
		},
		{
			name:       "truncated number in array",
			input:      `[12, 3`,
			dump:       `[12,"XXX"]`,
			dumpMarker: `"` + marker,
		},
		{
			name:       "truncated literal",
			input:      `{"ok":tru`,
			dump:       `{"ok":"XXX"}`,
			dumpMarker: `"` + marker,
		},
		{
			name:       "complete literal in open array",
			input:      `[true`,
			dump:       `[true,"XXX"]`,
			dumpMarker: `,"` + marker,
		},
		{
			name:       "open object",
			input:      `{`,
			dump:       `{"XXX":1}`,
			dumpMarker: `"` + marker,
		},
		{
			name:       "open array",
			input:      `[`,
			dump:       `["XXX"]`,
			dumpMarker: `"` + marker,
		},
		{
			name:       "top-level string",
			input:      `"hel`,
			dump:       `"helXXX"`,
			dumpMarker: marker,
		},
		{
			name:       "dangling escape dropped",
			input:      `{"a":"x\`,
			dump:       `{"a":"xXXX"}`,
			dumpMarker: marker,
		},
		{
			name:       "partial unicode escape dropped",
			input:      `{"a":"ab\u00`,
			dump:       `{"a":"abXXX"}`,
			dumpMarker: marker,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, n, ok := Parse(tt.input, marker)
			require.True(t, ok)
			assert.Equal(t, len(tt.input), n)
			require.False(t, res.Healing.Empty())
			assert.Equal(t, marker, res.Healing.Marker)
			assert.Equal(t, tt.dumpMarker, res.Healing.JSONDumpMarker)
			assert.Equal(t, tt.dump, Dump(res.Value))
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "whitespace only", input: "   "},
		{name: "not json", input: "hello"},
		{name: "bare key", input: "{foo"},
		{name: "missing comma", input: `{"a":1 2`},
		{name: "wrong literal", input: `[trap]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ok := Parse(tt.input, marker)
			assert.False(t, ok)
		})
	}
}

func TestGet(t *testing.T) {
	t.Parallel()

	res, _, ok := Parse(`{"name":"sum","n":3}`, marker)
	require.True(t, ok)

	name, found := Get(res.Value, "name")
	require.True(t, found)
	assert.Equal(t, "sum", name)

	_, found = Get(res.Value, "missing")
	assert.False(t, found)

	_, found = Get("not an object", "name")
	assert.False(t, found)
}

func TestDumpPreservesOrderAndNumbers(t *testing.T) {
	t.Parallel()

	text := `{"z":1,"a":[1.50,"x"],"m":{"q":null,"b":false}}`
	res, _, ok := Parse(text, marker)
	require.True(t, ok)
	assert.Equal(t, `{"z":1,"a":[1.50,"x"],"m":{"q":null,"b":false}}`, Dump(res.Value))
}

func TestEncodeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"He said \"hi\""`, EncodeString(`He said "hi"`))
	assert.Equal(t, `"a\\b"`, EncodeString(`a\b`))
	assert.Equal(t, `"<b>"`, EncodeString("<b>"))
	assert.Equal(t, `"line\nbreak"`, EncodeString("line\nbreak"))
}
