package qdrant

import (
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

const (
	// Long regulatory prose needs harder saturation than chat text, so the
	// document-side k runs higher than the query side.
	docBM25K       = 1.6
	queryBM25K     = 1.2
	maxSparseTerms = 256

	regulatoryTermBoost = 1.5
	authorityTermBoost  = 2.0
	citationTermBoost   = 2.0
	numericTermBoost    = 1.3
)

// regulatoryVocabulary is the normative wording whose term weight is raised
// on both sides of the match.
var regulatoryVocabulary = map[string]struct{}{
	"shall": {}, "must": {}, "required": {}, "requirement": {}, "obligation": {},
	"prohibited": {}, "exemption": {}, "derogation": {}, "threshold": {},
	"compliance": {}, "supervisory": {}, "disclosure": {}, "notification": {},
}

var authorityVocabulary = map[string]struct{}{
	"eba": {}, "esma": {}, "eiopa": {}, "ecb": {}, "bafin": {}, "fca": {},
	"finma": {}, "acpr": {},
}

var citationVocabulary = map[string]struct{}{
	"article": {}, "section": {}, "paragraph": {}, "annex": {}, "chapter": {},
}

var numericToken = regexp.MustCompile(`^\d`)

// encodeSparseDocument builds the indexed sparse vector for one chunk. The
// section path is folded in with citation weight so heading terms match
// structural queries.
func encodeSparseDocument(text string, sectionPath []string) sparseVector {
	termFreq := make(map[uint32]float64, 64)
	appendWeightedTerms(termFreq, tokenizeAlphaNum(text))
	for _, section := range sectionPath {
		appendTermFreq(termFreq, tokenizeAlphaNum(section), citationTermBoost)
	}
	return termFreqToSparse(termFreq, docBM25K)
}

func encodeSparseQuery(query string) sparseVector {
	termFreq := make(map[uint32]float64, 32)
	appendWeightedTerms(termFreq, tokenizeAlphaNum(query))
	return termFreqToSparse(termFreq, queryBM25K)
}

// appendWeightedTerms folds tokens in at their domain weight: authority codes
// and citation markers matter most, normative vocabulary next, then numbers
// (thresholds, article numbers), then everything else at weight one.
func appendWeightedTerms(dst map[uint32]float64, tokens []string) {
	for _, token := range tokens {
		if token == "" {
			continue
		}
		weight := 1.0
		switch {
		case hasTerm(authorityVocabulary, token):
			weight = authorityTermBoost
		case hasTerm(citationVocabulary, token):
			weight = citationTermBoost
		case hasTerm(regulatoryVocabulary, token):
			weight = regulatoryTermBoost
		case numericToken.MatchString(token):
			weight = numericTermBoost
		}
		dst[hashToken(token)] += weight
	}
}

func hasTerm(vocab map[string]struct{}, token string) bool {
	_, ok := vocab[token]
	return ok
}

func appendTermFreq(dst map[uint32]float64, tokens []string, tokenWeight float64) {
	for _, token := range tokens {
		if token == "" {
			continue
		}
		dst[hashToken(token)] += tokenWeight
	}
}

func termFreqToSparse(tf map[uint32]float64, k float64) sparseVector {
	if len(tf) == 0 {
		return sparseVector{}
	}
	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	if len(indices) > maxSparseTerms {
		indices = indices[:maxSparseTerms]
	}

	values := make([]float32, 0, len(indices))
	for _, idx := range indices {
		tfValue := tf[idx]
		weight := (tfValue * (k + 1.0)) / (tfValue + k)
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			weight = 0
		}
		values = append(values, float32(weight))
	}

	return sparseVector{Indices: indices, Values: values}
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum32()
	if sum == 0 {
		return 1
	}
	return sum
}

func tokenizeAlphaNum(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
