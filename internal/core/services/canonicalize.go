package services

import (
	"sort"
	"strings"

	"botflow/internal/core/domain"
)

// CanonicalBots groups bots by token and keeps one canonical bot per token.
// Within a group, active bots sort first, then by id descending; the first is canonical.
// pollable lists canonical bots that should be polled. demoted lists active
// non-canonical bots, already switched to inactive, that the caller must persist.
func CanonicalBots(bots []*domain.Bot) (pollable, demoted []*domain.Bot) {
	groups := make(map[string][]*domain.Bot)
	var order []string
	for _, b := range bots {
		token := strings.TrimSpace(b.Token)
		if token == "" {
			continue
		}
		if _, seen := groups[token]; !seen {
			order = append(order, token)
		}
		groups[token] = append(groups[token], b)
	}

	for _, token := range order {
		group := groups[token]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Active != group[j].Active {
				return group[i].Active
			}
			return group[i].ID > group[j].ID
		})

		if winner := group[0]; winner.Pollable() {
			pollable = append(pollable, winner)
		}
		for _, loser := range group[1:] {
			if loser.Active {
				loser.Active = false
				demoted = append(demoted, loser)
			}
		}
	}
	return pollable, demoted
}
