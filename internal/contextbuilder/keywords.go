package contextbuilder

import (
	"sort"
	"strings"
	"unicode"
)

const (
	minKeywordRunes = 5
	maxKeywordRunes = 31
)

// ExtractKeywords returns up to limit keywords from text, ranked by
// frequency. Equal counts keep first-seen order.
func ExtractKeywords(text string, limit int) []string {
	if limit <= 0 {
		return nil
	}

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	counts := make(map[string]int)
	var order []string
	for _, tok := range tokens {
		n := len([]rune(tok))
		if n < minKeywordRunes || n > maxKeywordRunes {
			continue
		}
		if counts[tok] == 0 {
			order = append(order, tok)
		}
		counts[tok]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > limit {
		order = order[:limit]
	}
	return order
}
