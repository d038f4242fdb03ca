package resolver

import (
	"strconv"
	"strings"
	"time"
)

// parseColonDuration parses a colon-separated duration string as reported by
// the search backend ("3:20", "1:05:20"). Malformed or empty input yields
// zero, which downstream rendering treats as an unknown length.
func parseColonDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0
	}
	var total time.Duration
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + time.Duration(n)*time.Second
	}
	return total
}
