package assembler

import (
	"sort"

	"github.com/haasonsaas/nexuscore/pkg/models"
)

// trim enforces the token budget. While over budget it drops the
// lowest-ranked contribution when that alone does not cover the overflow,
// and otherwise truncates the lowest-priority survivor by the overflow.
// Rank is relevance descending, then tier ascending.
func trim(survivors []*candidate, maxTokens int) (kept []*candidate, dropped, truncated []string) {
	kept = append([]*candidate(nil), survivors...)
	total := 0
	for _, c := range kept {
		total += c.contrib.Tokens()
	}

	for total > maxTokens && len(kept) > 0 {
		overflow := total - maxTokens

		ranked := append([]*candidate(nil), kept...)
		sort.SliceStable(ranked, func(i, j int) bool { return outranks(ranked[i], ranked[j]) })
		lowest := ranked[len(ranked)-1]

		victim := lowest
		if lowest.contrib.Tokens() > overflow {
			victim = lowestTier(kept)
		}
		before := victim.contrib.Tokens()
		if victim == lowest && before <= overflow {
			kept = remove(kept, victim)
			dropped = append(dropped, victim.spec.name())
			total -= before
			continue
		}

		cut := truncate(victim.contrib, before-overflow)
		if cut == nil {
			kept = remove(kept, victim)
			dropped = append(dropped, victim.spec.name())
			total -= before
			continue
		}
		victim.contrib = cut
		truncated = appendOnce(truncated, victim.spec.name())
		total -= before - cut.Tokens()
	}
	return kept, dropped, truncated
}

func outranks(a, b *candidate) bool {
	if a.relevance != b.relevance {
		return a.relevance > b.relevance
	}
	if a.tier() != b.tier() {
		return a.tier() < b.tier()
	}
	return a.index < b.index
}

// lowestTier returns the survivor with the highest priority value; among
// equals the one declared last.
func lowestTier(kept []*candidate) *candidate {
	victim := kept[0]
	for _, c := range kept[1:] {
		if c.tier() > victim.tier() || (c.tier() == victim.tier() && c.index > victim.index) {
			victim = c
		}
	}
	return victim
}

func remove(kept []*candidate, victim *candidate) []*candidate {
	out := kept[:0:0]
	for _, c := range kept {
		if c != victim {
			out = append(out, c)
		}
	}
	return out
}

func appendOnce(list []string, name string) []string {
	for _, existing := range list {
		if existing == name {
			return list
		}
	}
	return append(list, name)
}

// truncate returns a copy of c costing at most target tokens, or nil when
// nothing useful fits. Oldest interactions go first, then snapshot keys
// from last to first; the final remaining item is cut to a prefix.
func truncate(c *models.Contribution, target int) *models.Contribution {
	if target <= 0 {
		return nil
	}
	out := c.Clone()
	if out.Tokens() <= target {
		return out
	}

	for out.Tokens() > target && len(out.Interactions) > 0 &&
		(len(out.Interactions) > 1 || len(out.Snapshot) > 0) {
		out.Interactions = out.Interactions[1:]
	}
	keys := out.SnapshotKeys()
	for out.Tokens() > target && len(keys) > 0 &&
		(len(keys) > 1 || len(out.Interactions) > 0) {
		delete(out.Snapshot, keys[len(keys)-1])
		keys = keys[:len(keys)-1]
	}

	if out.Tokens() > target {
		switch {
		case len(out.Interactions) == 1:
			item := out.Interactions[0]
			item.Content = models.TruncateToTokens(item.Content, target)
			if item.Content == "" {
				return nil
			}
			out.Interactions[0] = item
		case len(keys) == 1:
			key := keys[0]
			text, ok := out.Snapshot[key].(string)
			avail := target - models.EstimateTokens(key)
			if !ok || avail <= 0 {
				return nil
			}
			out.Snapshot[key] = models.TruncateToTokens(text, avail)
		}
	}
	if len(out.Snapshot) == 0 {
		out.Snapshot = nil
	}
	if out.Empty() || out.Tokens() > target {
		return nil
	}
	return out
}
