package sqlxml

import (
	"cmp"
	"fmt"

	"github.com/jacoelho/sqlxml/internal/contentform"
)

const (
	defaultPrescanLimit = contentform.DefaultLimit
	defaultMaxDepth     = 256
)

type limits struct {
	prescan  int
	maxDepth int
}

func resolveLimits(prescan, maxDepth int) (limits, error) {
	if prescan < 0 {
		return limits{}, fmt.Errorf("prescan limit must be >= 0")
	}
	if maxDepth < 0 {
		return limits{}, fmt.Errorf("max depth must be >= 0")
	}
	return limits{
		prescan:  defaultLimit(prescan, defaultPrescanLimit),
		maxDepth: defaultLimit(maxDepth, defaultMaxDepth),
	}, nil
}

func defaultLimit(value, fallback int) int {
	return cmp.Or(value, fallback)
}

// isXMLName reports whether s is usable as an unprefixed element name. The
// wrapper is spliced into encoded bytes, so only ASCII names qualify.
func isXMLName(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', c == '_':
		case i > 0 && ('0' <= c && c <= '9' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return s != ""
}
