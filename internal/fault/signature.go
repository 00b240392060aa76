package fault

import (
	"regexp"
	"sort"
	"strings"
)

// Signature is the canonical Fault Signature key used for Memory Bank
// lookup (§3): {tool name, error kind, step name, top-K keywords, state
// hash prefix}.
type Signature struct {
	ToolName        string
	Kind            Kind
	StepName        string
	Keywords        []string
	StateHashPrefix string
}

var keywordPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// ExtractKeywords extracts up to k lowercased alphanumeric keywords from
// text by descending token frequency, breaking ties alphabetically for
// determinism (§3). Tokens of length <= 2 are dropped as noise, matching
// the original Python keyword extractor this is grounded on
// (original_source/learning.py's _extract_keywords).
func ExtractKeywords(text string, k int) []string {
	tokens := keywordPattern.FindAllString(strings.ToLower(text), -1)
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		if len(t) <= 2 {
			continue
		}
		freq[t]++
	}
	uniq := make([]string, 0, len(freq))
	for t := range freq {
		uniq = append(uniq, t)
	}
	sort.Slice(uniq, func(i, j int) bool {
		if freq[uniq[i]] != freq[uniq[j]] {
			return freq[uniq[i]] > freq[uniq[j]]
		}
		return uniq[i] < uniq[j]
	})
	if len(uniq) > k {
		uniq = uniq[:k]
	}
	return uniq
}

// NewSignature builds a Signature from a failure's tool name, error kind,
// step name, the failure's message+trace text (from which keywords are
// extracted), and the pre-call state hash (hex).
func NewSignature(toolName string, kind Kind, stepName, failureText, stateHashHex string) Signature {
	prefix := stateHashHex
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}
	return Signature{
		ToolName:        toolName,
		Kind:            kind,
		StepName:        stepName,
		Keywords:        ExtractKeywords(failureText, 5),
		StateHashPrefix: prefix,
	}
}

// Key renders the canonical string key used to index the Memory Bank and
// to label Memory Entry files on disk (§6: "tool|kind|step|state_prefix|kw1,…,kwK").
func (s Signature) Key() string {
	return s.ToolName + "|" + string(s.Kind) + "|" + s.StepName + "|" + s.StateHashPrefix + "|" + strings.Join(s.Keywords, ",")
}

// KeywordSet returns the signature's keywords as a set, used for Jaccard
// similarity scoring (§4.5).
func (s Signature) KeywordSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Keywords))
	for _, k := range s.Keywords {
		set[k] = struct{}{}
	}
	return set
}

// Jaccard computes the Jaccard similarity between two keyword sets: the
// size of their intersection over the size of their union (0 if both are
// empty, matching the original's union-or-1 denominator guard).
func Jaccard(a, b []string) float64 {
	as := make(map[string]struct{}, len(a))
	for _, k := range a {
		as[k] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, k := range b {
		bs[k] = struct{}{}
	}
	inter := 0
	for k := range as {
		if _, ok := bs[k]; ok {
			inter++
		}
	}
	union := len(as)
	for k := range bs {
		if _, ok := as[k]; !ok {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
