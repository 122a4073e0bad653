package caseindex

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// termVector is a sparse, L2-normalized term-weight vector. Indices
// are sorted ascending; Values is index-parallel.
type termVector struct {
	Indices []int
	Values  []float64
}

// norm returns the Euclidean length of the vector.
func (v termVector) norm() float64 {
	return floats.Norm(v.Values, 2)
}

// dot computes the inner product of two sorted sparse vectors. Both
// sides are unit length, so this is their cosine similarity.
func (v termVector) dot(other termVector) float64 {
	sum := 0.0
	i, j := 0, 0
	for i < len(v.Indices) && j < len(other.Indices) {
		switch {
		case v.Indices[i] == other.Indices[j]:
			sum += v.Values[i] * other.Values[j]
			i++
			j++
		case v.Indices[i] < other.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// vectorizer builds TF-IDF term vectors over unigrams and adjacent
// bigrams with a capped vocabulary.
type vectorizer struct {
	vocabulary map[string]int
	idf        []float64
}

// ngrams expands a token sequence with its adjacent bigrams.
func ngrams(tokens []string) []string {
	out := make([]string, 0, 2*len(tokens))
	out = append(out, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}

// fitVectorizer learns a vocabulary and IDF weights from tokenized
// documents, keeping at most maxFeatures terms by document frequency.
func fitVectorizer(docs [][]string, maxFeatures int) *vectorizer {
	df := make(map[string]int)
	for _, tokens := range docs {
		seen := make(map[string]bool)
		for _, term := range ngrams(tokens) {
			if !seen[term] {
				seen[term] = true
				df[term]++
			}
		}
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if df[terms[i]] != df[terms[j]] {
			return df[terms[i]] > df[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if maxFeatures > 0 && len(terms) > maxFeatures {
		terms = terms[:maxFeatures]
	}
	sort.Strings(terms)

	v := &vectorizer{
		vocabulary: make(map[string]int, len(terms)),
		idf:        make([]float64, len(terms)),
	}
	n := float64(len(docs))
	for i, term := range terms {
		v.vocabulary[term] = i
		// Smoothed IDF, never zero, so common terms still contribute.
		v.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
	return v
}

// transform maps tokens onto the learned vocabulary and returns an
// L2-normalized TF-IDF vector. Out-of-vocabulary terms are dropped.
func (v *vectorizer) transform(tokens []string) termVector {
	counts := make(map[int]float64)
	for _, term := range ngrams(tokens) {
		if idx, ok := v.vocabulary[term]; ok {
			counts[idx]++
		}
	}
	if len(counts) == 0 {
		return termVector{}
	}

	indices := make([]int, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	values := make([]float64, len(indices))
	for i, idx := range indices {
		values[i] = counts[idx] * v.idf[idx]
	}

	vec := termVector{Indices: indices, Values: values}
	if n := vec.norm(); n > 0 {
		floats.Scale(1/n, vec.Values)
	}
	return vec
}

// vocabularySize returns the number of learned terms.
func (v *vectorizer) vocabularySize() int {
	return len(v.vocabulary)
}
