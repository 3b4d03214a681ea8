package memory

import (
	"math"
	"strings"
)

// keywordSimilarity scores how well the query keywords cover a memory
// description. It blends an overlap ratio with keyword coverage.
func keywordSimilarity(keywords []string, description string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	target := strings.ToLower(description)
	targetWords := tokenize(target)
	targetSet := make(map[string]bool, len(targetWords))
	for _, w := range targetWords {
		targetSet[w] = true
	}

	var matched int
	var weightedScore float64
	for _, kw := range keywords {
		if targetSet[kw] {
			matched++
			weightedScore += 1.0
		} else if strings.Contains(target, kw) {
			matched++
			weightedScore += 0.7 // partial substring match
		}
	}

	if matched == 0 {
		return 0
	}

	overlap := float64(matched)
	union := float64(len(keywords) + len(targetSet) - matched)
	jaccard := overlap / math.Max(union, 1)
	coverage := weightedScore / float64(len(keywords))

	return 0.4*jaccard + 0.6*coverage
}

// cosineSimilarity returns the cosine of the angle between a and b, or false
// when the vectors cannot be compared.
func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

// tokenize splits text into lowercase word tokens.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127)
	})
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if len(w) > 1 && !stopWords[w] {
			result = append(result, w)
		}
	}
	return result
}

var stopWords = map[string]bool{
	"the": true, "and": true, "is": true, "was": true, "to": true, "of": true,
	"in": true, "on": true, "at": true, "for": true, "with": true, "said": true,
}
