package catalog

import (
	"fmt"
	"time"
)

var ttls = map[string]time.Duration{
	"disabled": 0,
	"1 day":    24 * time.Hour,
	"2 days":   48 * time.Hour,
	"1 week":   7 * 24 * time.Hour,
	"2 weeks":  14 * 24 * time.Hour,
}

// ParseTTL maps a configured cache lifetime to a duration. "disabled" yields
// zero, which turns snapshot caching off.
func ParseTTL(s string) (time.Duration, error) {
	d, ok := ttls[s]
	if !ok {
		return 0, fmt.Errorf("unknown cache ttl %q", s)
	}
	return d, nil
}
