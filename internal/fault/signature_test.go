package fault

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractKeywordsDropsShortTokensAndOrdersByFrequencyThenAlpha(t *testing.T) {
	text := "timeout timeout retry retry retry alpha beta ab"

	kw := ExtractKeywords(text, 3)

	assert.Equal(t, []string{"retry", "timeout", "alpha"}, kw)
}

func TestExtractKeywordsCapsAtK(t *testing.T) {
	kw := ExtractKeywords("alpha beta gamma delta epsilon", 2)
	assert.Len(t, kw, 2)
}

func TestNewSignatureTruncatesStateHashPrefix(t *testing.T) {
	sig := NewSignature("get_record", Timeout, "fetch", "request timeout after 30s", "0123456789abcdef")

	assert.Equal(t, "0123456789", sig.StateHashPrefix)
	assert.Equal(t, "get_record", sig.ToolName)
	assert.Equal(t, Timeout, sig.Kind)
	assert.Contains(t, sig.Keywords, "timeout")
}

func TestSignatureKeyIsStableAndDistinguishing(t *testing.T) {
	a := NewSignature("get_record", Timeout, "fetch", "timeout", "abc")
	b := NewSignature("get_record", Timeout, "fetch", "timeout", "abc")
	c := NewSignature("get_record", HTTP500, "fetch", "timeout", "abc")

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestJaccardSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard([]string{"a", "b"}, []string{"b", "a"}))
	assert.Equal(t, 0.0, Jaccard(nil, nil))
	assert.InDelta(t, 1.0/3.0, Jaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
}
