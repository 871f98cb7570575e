package matching

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// Client is a connection that asked to be paired.
type Client struct {
	ID        string
	Interests []string
	JoinedAt  time.Time
}

// sharedInterests returns the tags of want that c also has, in want's order.
func (c Client) sharedInterests(want []string) []string {
	if len(want) == 0 || len(c.Interests) == 0 {
		return nil
	}
	return lo.Filter(want, func(tag string, _ int) bool {
		return lo.Contains(c.Interests, tag)
	})
}

// NormalizeInterests turns client supplied tags into the set the engine
// matches on.
//
// Tags are trimmed, empty and over-long tags are dropped, duplicates keep
// their first position, and at most maxCount tags survive. Matching is
// case-sensitive. A limit <= 0 disables that limit. The result is never nil.
func NormalizeInterests(raw []string, maxCount, maxLen int) []string {
	tags := lo.Map(raw, func(tag string, _ int) string {
		return strings.TrimSpace(tag)
	})
	tags = lo.Filter(tags, func(tag string, _ int) bool {
		return tag != "" && (maxLen <= 0 || len(tag) <= maxLen)
	})
	tags = lo.Uniq(tags)
	if maxCount > 0 && len(tags) > maxCount {
		tags = tags[:maxCount]
	}
	if tags == nil {
		return []string{}
	}
	return tags
}
