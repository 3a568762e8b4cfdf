package game

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestMove_Beats(t *testing.T) {
	assert.True(t, Water.Beats(Fire))
	assert.True(t, Plant.Beats(Water))
	assert.True(t, Fire.Beats(Plant))

	for _, m := range []Move{Fire, Water, Plant} {
		assert.False(t, m.Beats(m), "%s must not beat itself", m)
	}
	assert.False(t, Fire.Beats(Water))
	assert.False(t, None.Beats(Fire))
}

func TestParseMove(t *testing.T) {
	m, err := ParseMove(" Water ")
	require.NoError(t, err)
	assert.Equal(t, Water, m)

	m, err = ParseMove("3")
	require.NoError(t, err)
	assert.Equal(t, Plant, m)

	_, err = ParseMove("rock")
	assert.Error(t, err)
}

func TestSettle(t *testing.T) {
	res := Settle(At(alice), At(bob), Fire, Water)
	assert.Equal(t, Decided(bob), res)

	res = Settle(At(alice), At(bob), Fire, Plant)
	assert.Equal(t, Decided(alice), res)

	res = Settle(At(alice), At(bob), Plant, Plant)
	assert.Equal(t, Tie, res.Outcome)
}

func TestNext_OnlyTableEdgesAreLegal(t *testing.T) {
	legal := map[Status]map[Operation]Status{
		Open:        {OpJoin: RevealPhase, OpCancel: Canceled},
		RevealPhase: {OpReveal: Completed, OpClaimTimeout: Completed},
	}

	for _, st := range Statuses() {
		for _, op := range Operations() {
			to, err := Next(st, op)
			want, ok := legal[st][op]
			if ok {
				if err != nil || to != want {
					t.Errorf("%s/%s: expected %s, got %s (%v)", st, op, want, to, err)
				}
				continue
			}
			if !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("%s/%s: expected illegal transition, got %v", st, op, err)
			}
			if to != st {
				t.Errorf("%s/%s: status mutated to %s", st, op, to)
			}
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, st := range []Status{Completed, Canceled, Expired} {
		assert.True(t, st.Terminal())
		assert.False(t, st.Active())
	}
	assert.True(t, Open.Active())
	assert.True(t, RevealPhase.Active())
}

func TestWinRateAndProfit(t *testing.T) {
	assert.Equal(t, int64(0), WinRate(0, 0))
	assert.Equal(t, int64(67), WinRate(2, 3))
	assert.Equal(t, int64(33), WinRate(1, 3))
	assert.Equal(t, int64(100), WinRate(4, 4))

	stats := &PlayerStats{
		Wins: 1, GamesPlayed: 4,
		TotalWagered: big.NewInt(400),
		TotalWon:     big.NewInt(150),
	}
	stats.Derive()
	assert.Equal(t, int64(25), stats.WinRate)
	assert.Equal(t, big.NewInt(-250), stats.Profit)

	assert.Equal(t, big.NewInt(0), Profit(nil, nil))
}

func TestSlot(t *testing.T) {
	assert.False(t, SlotOf(common.Address{}).IsSet())
	assert.True(t, SlotOf(alice).Is(alice))
	assert.False(t, Unset().Is(common.Address{}))
	assert.Equal(t, common.Address{}, Unset().OrZero())

	data, err := json.Marshal(struct{ S Slot }{Unset()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"S":null}`, string(data))

	var decoded Slot
	require.NoError(t, json.Unmarshal([]byte(`"`+bob.Hex()+`"`), &decoded))
	assert.True(t, decoded.Is(bob))
}

func TestRecord_DeadlinePassed(t *testing.T) {
	now := time.Now()
	r := &Record{}
	assert.False(t, r.DeadlinePassed(now))

	r.RevealDeadline = now.Add(-time.Second)
	assert.True(t, r.DeadlinePassed(now))

	r.RevealDeadline = now.Add(time.Minute)
	assert.False(t, r.DeadlinePassed(now))
}

func TestSort_NewestSurfacesActiveGames(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	records := []*Record{
		{ID: 1, Status: Open, CreatedAt: base},
		{ID: 2, Status: Completed, CreatedAt: base.Add(5 * time.Hour)},
		{ID: 3, Status: RevealPhase, CreatedAt: base.Add(time.Hour)},
		{ID: 4, Status: Canceled, CreatedAt: base.Add(9 * time.Hour)},
		{ID: 5, Status: Expired, CreatedAt: base.Add(2 * time.Hour)},
		{ID: 6, Status: Open, CreatedAt: base.Add(-time.Hour)},
	}

	Sort(records, SortNewest)

	seenTerminal := false
	for _, r := range records {
		if r.Status.Terminal() {
			seenTerminal = true
			continue
		}
		if seenTerminal {
			t.Fatalf("active game %d sorted after a terminal game", r.ID)
		}
	}
	assert.Equal(t, []uint64{6, 3, 1, 5, 4, 2}, ids(records))
}

func TestSort_BetOrders(t *testing.T) {
	records := []*Record{
		{ID: 1, BetAmount: big.NewInt(10)},
		{ID: 2, BetAmount: big.NewInt(30)},
		{ID: 3, BetAmount: big.NewInt(10)},
		{ID: 4, BetAmount: big.NewInt(20)},
	}

	Sort(records, SortHighestBet)
	assert.Equal(t, []uint64{2, 4, 3, 1}, ids(records))

	Sort(records, SortLowestBet)
	assert.Equal(t, []uint64{3, 1, 4, 2}, ids(records))

	Sort(records, SortOldest)
	assert.Equal(t, []uint64{1, 2, 3, 4}, ids(records))
}

func TestApply_Filters(t *testing.T) {
	open := Open
	records := []*Record{
		{ID: 1, Creator: alice, Status: Open},
		{ID: 2, Creator: bob, Opponent: At(alice), Status: RevealPhase},
		{ID: 3, Creator: bob, Status: Open},
	}

	out := Apply(records, Filter{Player: &alice}, SortNewest)
	assert.Equal(t, []uint64{2, 1}, ids(out))

	out = Apply(records, Filter{Status: &open}, SortOldest)
	assert.Equal(t, []uint64{1, 3}, ids(out))
}

func TestParseSortMode(t *testing.T) {
	m, err := ParseSortMode("")
	require.NoError(t, err)
	assert.Equal(t, SortNewest, m)

	_, err = ParseSortMode("random")
	assert.Error(t, err)
}

func ids(records []*Record) []uint64 {
	out := make([]uint64, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
