package game

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// SortMode selects the order of a game listing
type SortMode string

const (
	SortNewest     SortMode = "newest"
	SortOldest     SortMode = "oldest"
	SortHighestBet SortMode = "highest_bet"
	SortLowestBet  SortMode = "lowest_bet"
)

// ParseSortMode parses a sort mode, defaulting to newest for the empty string
func ParseSortMode(s string) (SortMode, error) {
	switch SortMode(s) {
	case "":
		return SortNewest, nil
	case SortNewest, SortOldest, SortHighestBet, SortLowestBet:
		return SortMode(s), nil
	}
	return "", fmt.Errorf("unknown sort mode %q", s)
}

// Filter narrows a listing. Zero value matches everything.
type Filter struct {
	Status *Status
	Player *common.Address
}

// Match reports whether r passes the filter
func (f Filter) Match(r *Record) bool {
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.Player != nil && !r.IsParticipant(*f.Player) {
		return false
	}
	return true
}

// Apply returns the records matching f, ordered by mode. The input is not modified.
func Apply(records []*Record, f Filter, mode SortMode) []*Record {
	out := make([]*Record, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	Sort(out, mode)
	return out
}

// Sort orders records in place. Newest surfaces Open and RevealPhase games
// ahead of terminal ones, then orders by id descending. Bet orders break
// ties on id, newest first.
func Sort(records []*Record, mode SortMode) {
	var less func(a, b *Record) bool
	switch mode {
	case SortOldest:
		less = func(a, b *Record) bool { return a.ID < b.ID }
	case SortHighestBet:
		less = func(a, b *Record) bool {
			if c := cmpBet(a, b); c != 0 {
				return c > 0
			}
			return a.ID > b.ID
		}
	case SortLowestBet:
		less = func(a, b *Record) bool {
			if c := cmpBet(a, b); c != 0 {
				return c < 0
			}
			return a.ID > b.ID
		}
	default:
		less = func(a, b *Record) bool {
			if a.Status.Active() != b.Status.Active() {
				return a.Status.Active()
			}
			return a.ID > b.ID
		}
	}
	sort.SliceStable(records, func(i, j int) bool { return less(records[i], records[j]) })
}

func cmpBet(a, b *Record) int {
	switch {
	case a.BetAmount == nil && b.BetAmount == nil:
		return 0
	case a.BetAmount == nil:
		return -1
	case b.BetAmount == nil:
		return 1
	}
	return a.BetAmount.Cmp(b.BetAmount)
}
