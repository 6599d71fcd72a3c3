package utils

import (
	"fmt"
	"math"
	"strings"
	"unicode"
)

// dotProduct calculates the dot product of two vectors.
func dotProduct(vec1, vec2 []float32) (float32, error) {
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("vectors must have the same dimension")
	}
	var product float32
	for i := range vec1 {
		product += vec1[i] * vec2[i]
	}
	return product, nil
}

// magnitude calculates the L2 norm of a vector.
func magnitude(vec []float32) float32 {
	var sumOfSquares float32
	for _, val := range vec {
		sumOfSquares += val * val
	}
	return float32(math.Sqrt(float64(sumOfSquares)))
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(vec1, vec2 []float32) (float32, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, fmt.Errorf("vectors cannot be empty")
	}
	dot, err := dotProduct(vec1, vec2)
	if err != nil {
		return 0, err
	}

	mag1 := magnitude(vec1)
	mag2 := magnitude(vec2)
	if mag1 == 0 || mag2 == 0 {
		return 0, nil
	}
	return dot / (mag1 * mag2), nil
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit. Underscores split too, so "age_group" yields "age" and "group".
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TermVectors builds term-frequency vectors for a and b over their shared
// vocabulary.
func TermVectors(a, b string) ([]float32, []float32) {
	index := map[string]int{}
	ta, tb := Tokenize(a), Tokenize(b)
	for _, tok := range append(append([]string{}, ta...), tb...) {
		if _, ok := index[tok]; !ok {
			index[tok] = len(index)
		}
	}
	va := make([]float32, len(index))
	vb := make([]float32, len(index))
	for _, tok := range ta {
		va[index[tok]]++
	}
	for _, tok := range tb {
		vb[index[tok]]++
	}
	return va, vb
}

// TextSimilarity is the cosine similarity of the term vectors of a and b.
// Empty input scores 0.
func TextSimilarity(a, b string) float32 {
	va, vb := TermVectors(a, b)
	sim, err := CosineSimilarity(va, vb)
	if err != nil {
		return 0
	}
	return sim
}
