package app

import (
	"sort"

	"chainiq-service/internal/domain"
)

// TimeMode selects how a player's total time is derived from their attempts.
type TimeMode string

const (
	// TimeDurations sums each attempt's recorded duration.
	TimeDurations TimeMode = "durations"
	// TimeSpanPlusDurations adds the first-to-last wall-clock span to the summed durations.
	// It double-counts time and is kept for parity with historical leaderboards.
	TimeSpanPlusDurations TimeMode = "span_plus_durations"
)

// ParseTimeMode falls back to TimeDurations for unknown or empty values.
func ParseTimeMode(raw string) TimeMode {
	if TimeMode(raw) == TimeSpanPlusDurations {
		return TimeSpanPlusDurations
	}
	return TimeDurations
}

type rankedPlayer struct {
	address string
	entry   domain.LeaderboardEntry
}

// ComputeLeaderboard ranks players by attempts needed to reach a perfect score,
// then by total time. Output is deterministic for a fixed attempts list.
func ComputeLeaderboard(attempts []domain.Attempt, totalQuestions int, mode TimeMode) []domain.LeaderboardEntry {
	groups := make(map[string][]domain.Attempt)
	for _, a := range attempts {
		groups[a.PlayerAddress] = append(groups[a.PlayerAddress], a)
	}

	players := make([]rankedPlayer, 0, len(groups))
	for address, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].CompletedAt.Before(group[j].CompletedAt)
		})
		players = append(players, rankedPlayer{
			address: address,
			entry:   summarize(address, group, totalQuestions, mode),
		})
	}

	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i].entry, players[j].entry
		if a.AttemptsUntilPerfect != b.AttemptsUntilPerfect {
			return a.AttemptsUntilPerfect < b.AttemptsUntilPerfect
		}
		if a.TotalTimeSeconds != b.TotalTimeSeconds {
			return a.TotalTimeSeconds < b.TotalTimeSeconds
		}
		return players[i].address < players[j].address
	})

	entries := make([]domain.LeaderboardEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, p.entry)
	}
	return entries
}

// summarize expects group sorted by completion time.
func summarize(address string, group []domain.Attempt, totalQuestions int, mode TimeMode) domain.LeaderboardEntry {
	entry := domain.LeaderboardEntry{
		Address:              DisplayAddress(address),
		AttemptsUntilPerfect: len(group),
		Attempts:             len(group),
	}
	for i, a := range group {
		if a.IsPerfect(totalQuestions) {
			entry.AttemptsUntilPerfect = i + 1
			entry.Perfect = true
			break
		}
	}

	if len(group) > 1 {
		var total float64
		for _, a := range group {
			total += a.TimeTakenSeconds
		}
		if mode == TimeSpanPlusDurations {
			total += group[len(group)-1].CompletedAt.Sub(group[0].CompletedAt).Seconds()
		}
		entry.TotalTimeSeconds = total
	}
	return entry
}

// DisplayAddress shortens a wallet address to its first 6 and last 4 characters.
func DisplayAddress(address string) string {
	runes := []rune(address)
	if len(runes) <= 10 {
		return address
	}
	return string(runes[:6]) + "..." + string(runes[len(runes)-4:])
}
