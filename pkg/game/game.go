// Package game holds the domain model of an Elements duel: moves, game
// records as mirrored from the ledger, player statistics and the legal
// protocol transitions.
package game

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Move is an 8-bit move code as understood by the ledger
type Move uint8

const (
	None Move = iota
	Fire
	Water
	Plant
)

func (m Move) String() string {
	switch m {
	case Fire:
		return "fire"
	case Water:
		return "water"
	case Plant:
		return "plant"
	default:
		return "none"
	}
}

// Valid reports whether m is a playable move
func (m Move) Valid() bool {
	return m == Fire || m == Water || m == Plant
}

// Beats reports whether m wins against other.
// Water beats Fire, Plant beats Water, Fire beats Plant.
func (m Move) Beats(other Move) bool {
	switch m {
	case Water:
		return other == Fire
	case Plant:
		return other == Water
	case Fire:
		return other == Plant
	}
	return false
}

// ParseMove parses a move name or its numeric code
func ParseMove(s string) (Move, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fire", "1":
		return Fire, nil
	case "water", "2":
		return Water, nil
	case "plant", "3":
		return Plant, nil
	}
	return None, fmt.Errorf("unknown move %q", s)
}

func (m Move) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Move) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" || s == "none" {
		*m = None
		return nil
	}
	parsed, err := ParseMove(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Status is the ledger-side lifecycle state of a game
type Status uint8

const (
	Open Status = iota
	RevealPhase
	Completed
	Expired
	Canceled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case RevealPhase:
		return "reveal_phase"
	case Completed:
		return "completed"
	case Expired:
		return "expired"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus parses the textual form produced by String
func ParseStatus(s string) (Status, error) {
	for st := Open; st <= Canceled; st++ {
		if st.String() == strings.ToLower(s) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// Active reports whether the game still awaits an action
func (s Status) Active() bool {
	return s == Open || s == RevealPhase
}

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == Completed || s == Canceled || s == Expired
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Outcome tells how a completed game ended
type Outcome uint8

const (
	Undecided Outcome = iota
	Win
	Tie
)

// Result is the winner field of a record: undecided, a tie, or a winning address
type Result struct {
	Outcome Outcome
	Winner  common.Address
}

// Decided returns a result naming winner
func Decided(winner common.Address) Result {
	return Result{Outcome: Win, Winner: winner}
}

func (r Result) MarshalJSON() ([]byte, error) {
	switch r.Outcome {
	case Win:
		return json.Marshal(r.Winner.Hex())
	case Tie:
		return json.Marshal("tie")
	default:
		return []byte("null"), nil
	}
}

// Record mirrors one ledger-side game
type Record struct {
	ID             uint64         `json:"id"`
	Creator        common.Address `json:"creator"`
	Opponent       Slot           `json:"opponent"`
	CommitmentHash common.Hash    `json:"commitmentHash"`
	CreatorMove    Move           `json:"creatorMove"`
	OpponentMove   Move           `json:"opponentMove"`
	BetAmount      *big.Int       `json:"betAmount"`
	Status         Status         `json:"status"`
	Result         Result         `json:"winner"`
	CreatedAt      time.Time      `json:"createdAt"`
	RevealDeadline time.Time      `json:"revealDeadline,omitempty"`
	Referrer       Slot           `json:"referrer"`
}

// Exists reports whether the record names a created game. The ledger answers
// reads for never-created ids with a zeroed record.
func (r *Record) Exists() bool {
	return r != nil && r.Creator != (common.Address{})
}

// IsParticipant reports whether addr is the creator or the joined opponent
func (r *Record) IsParticipant(addr common.Address) bool {
	return r.Creator == addr || r.Opponent.Is(addr)
}

// DeadlinePassed reports whether the reveal deadline is set and has elapsed at now
func (r *Record) DeadlinePassed(now time.Time) bool {
	return !r.RevealDeadline.IsZero() && now.After(r.RevealDeadline)
}

// PlayerStats is the per-address aggregate kept by the ledger, plus the
// derived fields computed on every fetch.
type PlayerStats struct {
	Address      common.Address `json:"address"`
	Wins         uint64         `json:"wins"`
	Losses       uint64         `json:"losses"`
	Ties         uint64         `json:"ties"`
	GamesPlayed  uint64         `json:"gamesPlayed"`
	TotalWagered *big.Int       `json:"totalWagered"`
	TotalWon     *big.Int       `json:"totalWon"`
	MonthlyScore *big.Int       `json:"monthlyScore"`
	LastPlayed   time.Time      `json:"lastPlayed"`

	WinRate int64    `json:"winRate"`
	Profit  *big.Int `json:"profit"`
}

// Derive fills WinRate and Profit from the raw counters
func (s *PlayerStats) Derive() {
	s.WinRate = WinRate(s.Wins, s.GamesPlayed)
	s.Profit = Profit(s.TotalWon, s.TotalWagered)
}

// WinRate returns round(wins/played*100), 0 when nothing was played
func WinRate(wins, played uint64) int64 {
	if played == 0 {
		return 0
	}
	return int64(math.Round(float64(wins) / float64(played) * 100))
}

// Profit returns won - wagered as a signed amount
func Profit(won, wagered *big.Int) *big.Int {
	out := new(big.Int)
	if won != nil {
		out.Set(won)
	}
	if wagered != nil {
		out.Sub(out, wagered)
	}
	return out
}

// LeaderboardEntry is one row of the monthly ranking
type LeaderboardEntry struct {
	Player common.Address `json:"player"`
	Score  *big.Int       `json:"score"`
}
