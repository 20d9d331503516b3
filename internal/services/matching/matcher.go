package matching

import (
	"context"
	"regexp"
	"strings"

	"donation-settlement-backend/internal/cache"
	"donation-settlement-backend/internal/models"
)

var (
	nonAlnum   = regexp.MustCompile(`[^A-Z0-9\s]`)
	multiSpace = regexp.MustCompile(`\s+`)
)

// NormalizeMerchant produces the comparison basis shared between the mapping
// patterns and Transaction.MerchantNameNorm: uppercase, punctuation stripped,
// whitespace collapsed.
func NormalizeMerchant(name string) string {
	n := strings.ToUpper(name)
	n = nonAlnum.ReplaceAllString(n, "")
	n = multiSpace.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}

// Matcher maps a merchant string to a BusinessMapping via the cached pattern
// table.
type Matcher struct {
	mappings cache.MappingCache
}

func NewMatcher(mappings cache.MappingCache) *Matcher {
	return &Matcher{mappings: mappings}
}

// Match returns the first active mapping whose pattern is a case-insensitive
// substring of the normalized merchant name. The table order is significant:
// multiple patterns may match the same merchant and only the first wins.
// An empty or unmatched merchant is (nil, false, nil), never an error.
func (m *Matcher) Match(ctx context.Context, merchantName string) (*models.BusinessMapping, bool, error) {
	normalized := NormalizeMerchant(merchantName)
	if normalized == "" {
		return nil, false, nil
	}

	mappings, err := m.mappings.Get(ctx)
	if err != nil {
		return nil, false, err
	}

	for i := range mappings {
		// Patterns get the same normalization as the merchant, so a
		// punctuated pattern like "CHICK-FIL-A" still matches.
		pattern := NormalizeMerchant(mappings[i].MerchantPattern)
		if pattern == "" {
			continue
		}
		if strings.Contains(normalized, pattern) {
			return &mappings[i], true, nil
		}
	}

	return nil, false, nil
}

// Invalidate drops the cached mapping set after an administrative update.
func (m *Matcher) Invalidate(ctx context.Context) error {
	return m.mappings.Invalidate(ctx)
}
