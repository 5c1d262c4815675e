package chat

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbpxre150/llamachat/jsonpartial"
)

func TestTryConsumeJSONComplete(t *testing.T) {
	t.Parallel()

	p := New(`{"a":1} tail`, false, Syntax{})
	res, err := p.TryConsumeJSON()
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Healing.Empty())
	assert.Equal(t, `{"a":1}`, jsonpartial.Dump(res.Value))
	assert.Equal(t, " tail", p.ConsumeRest())
}

func TestTryConsumeJSONNoValue(t *testing.T) {
	t.Parallel()

	p := New("not json", false, Syntax{})
	res, err := p.TryConsumeJSON()
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 0, p.Pos())
}

func TestTryConsumeJSONHealedOnCompleteInput(t *testing.T) {
	t.Parallel()

	// Healing on complete input means the model emitted truncated JSON;
	// that is a partial-contract violation, not something to paper over.
	p := New(`{"a":`, false, Syntax{})
	_, err := p.TryConsumeJSON()
	var pe *PartialError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "JSON", pe.Token)
}

func TestConsumeJSONWithDumpedArgsTruncation(t *testing.T) {
	t.Parallel()

	p := New(`{"name":"sum","arguments":{"a":1,"b":`, true, Syntax{})
	res, err := p.TryConsumeJSONWithDumpedArgs([][]string{{"arguments"}}, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsPartial)

	name, ok := jsonpartial.Get(res.Value, "name")
	require.True(t, ok)
	assert.Equal(t, "sum", name)

	arguments, ok := jsonpartial.Get(res.Value, "arguments")
	require.True(t, ok)
	assert.Equal(t, `{"a":1,"b":`, arguments)
}

func TestConsumeJSONWithDumpedArgsFastPaths(t *testing.T) {
	t.Parallel()

	// No argument paths and no healing: the value passes through untouched.
	p := New(`{"x":1}`, false, Syntax{})
	res, err := p.TryConsumeJSONWithDumpedArgs(nil, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.IsPartial)
	assert.Equal(t, `{"x":1}`, jsonpartial.Dump(res.Value))

	// Root as the arguments path: the whole value is dumped to text.
	p = New(`{"x":1}`, false, Syntax{})
	res, err = p.TryConsumeJSONWithDumpedArgs([][]string{{}}, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.IsPartial)
	assert.Equal(t, `{"x":1}`, res.Value)
}

func TestConsumeJSONWithDumpedArgsRootTruncation(t *testing.T) {
	t.Parallel()

	p := New(`{"a":1,"b":`, true, Syntax{})
	res, err := p.TryConsumeJSONWithDumpedArgs([][]string{{}}, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsPartial)
	assert.Equal(t, `{"a":1,"b":`, res.Value)
}

func TestConsumeJSONWithDumpedArgsEmptyArguments(t *testing.T) {
	t.Parallel()

	// Healing just after an opening quote dumps as a lone quote; that
	// collapses to the empty string rather than dangling.
	p := New(`"`, true, Syntax{})
	res, err := p.TryConsumeJSONWithDumpedArgs([][]string{{}}, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsPartial)
	assert.Equal(t, "", res.Value)
}

func TestConsumeJSONWithDumpedArgsContentPath(t *testing.T) {
	t.Parallel()

	p := New(`{"content":"hel`, true, Syntax{})
	res, err := p.TryConsumeJSONWithDumpedArgs(nil, [][]string{{"content"}})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsPartial)

	content, ok := jsonpartial.Get(res.Value, "content")
	require.True(t, ok)
	assert.Equal(t, "hel", content)
}

func TestConsumeJSONWithDumpedArgsContentPathNotString(t *testing.T) {
	t.Parallel()

	p := New(`{"content":42,"args":{"x":`, true, Syntax{})
	_, err := p.TryConsumeJSONWithDumpedArgs([][]string{{"args"}}, [][]string{{"content"}})
	assert.Error(t, err)
}

func TestConsumeJSONWithDumpedArgsDropsTruncatedKey(t *testing.T) {
	t.Parallel()

	p := New(`{"a":1,"zz`, true, Syntax{})
	res, err := p.TryConsumeJSONWithDumpedArgs([][]string{{"unused"}}, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsPartial)
	assert.Equal(t, `{"a":1}`, jsonpartial.Dump(res.Value))
}

func TestConsumeJSONWithDumpedArgsDropsTruncatedStringValue(t *testing.T) {
	t.Parallel()

	// A string value cut off outside any content path is dropped with its
	// key rather than healed.
	p := New(`{"a":1,"b":"cut`, true, Syntax{})
	res, err := p.TryConsumeJSONWithDumpedArgs([][]string{{"unused"}}, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsPartial)
	assert.Equal(t, `{"a":1}`, jsonpartial.Dump(res.Value))
}

func TestConsumeJSONWithDumpedArgsTruncatesArray(t *testing.T) {
	t.Parallel()

	p := New(`["a","b`, true, Syntax{})
	res, err := p.TryConsumeJSONWithDumpedArgs([][]string{{"unused"}}, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsPartial)
	if diff := cmp.Diff([]any{"a"}, res.Value); diff != "" {
		t.Errorf("unexpected cleaned value (-want +got):\n%s", diff)
	}
}

func TestConsumeJSONWithDumpedArgsMissing(t *testing.T) {
	t.Parallel()

	p := New("plain text", true, Syntax{})
	_, err := p.ConsumeJSONWithDumpedArgs(nil, nil)
	var pe *PartialError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "JSON", pe.Token)
}
