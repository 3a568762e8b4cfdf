package commitment

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainsafe/elements-duel/pkg/game"
)

func TestCompute_MatchesPackedKeccak(t *testing.T) {
	got, err := Compute(game.Fire, "abc")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	want := crypto.Keccak256Hash([]byte{0x01, 'a', 'b', 'c'})
	if got != want {
		t.Fatalf("expected %s, got %s", want.Hex(), got.Hex())
	}
}

func TestCompute_RejectsBadInput(t *testing.T) {
	if _, err := Compute(game.None, "abc"); err != ErrInvalidMove {
		t.Errorf("expected ErrInvalidMove, got %v", err)
	}
	if _, err := Compute(game.Move(9), "abc"); err != ErrInvalidMove {
		t.Errorf("expected ErrInvalidMove, got %v", err)
	}
	if _, err := Compute(game.Water, ""); err != ErrEmptySecret {
		t.Errorf("expected ErrEmptySecret, got %v", err)
	}
	if _, err := Compute(game.Water, string([]byte{0xff, 0xfe})); err != ErrInvalidSecret {
		t.Errorf("expected ErrInvalidSecret, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	h, err := Compute(game.Plant, "s3cret")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if !Verify(h, game.Plant, "s3cret") {
		t.Error("expected matching pair to verify")
	}
	if Verify(h, game.Plant, "wrong") {
		t.Error("expected wrong secret to fail")
	}
	if Verify(h, game.Water, "s3cret") {
		t.Error("expected wrong move to fail")
	}
}

func TestCompute_DeterministicAndCollisionFree(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	moves := []game.Move{game.Fire, game.Water, game.Plant}

	type input struct {
		move   game.Move
		secret string
	}
	seen := make(map[common.Hash]input, 10000)

	for i := 0; i < 10000; i++ {
		in := input{
			move:   moves[rng.Intn(len(moves))],
			secret: randomSecret(rng, i),
		}

		h1, err := Compute(in.move, in.secret)
		if err != nil {
			t.Fatalf("Compute(%v, %q): %v", in.move, in.secret, err)
		}
		h2, _ := Compute(in.move, in.secret)
		if h1 != h2 {
			t.Fatalf("hash not stable for %v/%q", in.move, in.secret)
		}

		if prev, ok := seen[h1]; ok && prev != in {
			t.Fatalf("collision between %v and %v", prev, in)
		}
		seen[h1] = in
	}
}

func TestNewSecret(t *testing.T) {
	a, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	b, _ := NewSecret()
	if len(a) != 2*secretBytes {
		t.Errorf("expected %d hex chars, got %d", 2*secretBytes, len(a))
	}
	if a == b {
		t.Error("expected distinct secrets")
	}
}

func FuzzVerifyRoundTrip(f *testing.F) {
	f.Add(uint8(1), "abc")
	f.Add(uint8(3), "ünïcødé")
	f.Fuzz(func(t *testing.T, code uint8, secret string) {
		move := game.Move(code%3 + 1)
		h, err := Compute(move, secret)
		if err != nil {
			return
		}
		if !Verify(h, move, secret) {
			t.Fatalf("round trip failed for %v/%q", move, secret)
		}
	})
}

// randomSecret returns a short random string; every other one carries the sample index.
func randomSecret(rng *rand.Rand, i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789-_ üñ"
	n := 1 + rng.Intn(12)
	buf := make([]rune, 0, n)
	runes := []rune(alphabet)
	for j := 0; j < n; j++ {
		buf = append(buf, runes[rng.Intn(len(runes))])
	}
	if i%2 == 0 {
		return string(buf) + strconv.Itoa(i)
	}
	return string(buf)
}
