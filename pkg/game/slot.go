package game

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// Slot is an optional address: either Unset or holding an address.
// The ledger encodes "unset" as the zero address; SlotOf maps that back.
type Slot struct {
	addr common.Address
	set  bool
}

// Unset returns the empty slot
func Unset() Slot { return Slot{} }

// At returns a slot holding addr, even if addr is the zero address
func At(addr common.Address) Slot { return Slot{addr: addr, set: true} }

// SlotOf converts a ledger address, treating the zero address as unset
func SlotOf(addr common.Address) Slot {
	if addr == (common.Address{}) {
		return Unset()
	}
	return At(addr)
}

// IsSet reports whether the slot holds an address
func (s Slot) IsSet() bool { return s.set }

// Address returns the held address and whether there is one
func (s Slot) Address() (common.Address, bool) { return s.addr, s.set }

// Is reports whether the slot holds exactly addr
func (s Slot) Is(addr common.Address) bool { return s.set && s.addr == addr }

// OrZero returns the held address or the zero address, as the ledger expects it
func (s Slot) OrZero() common.Address {
	if !s.set {
		return common.Address{}
	}
	return s.addr
}

func (s Slot) String() string {
	if !s.set {
		return "unset"
	}
	return s.addr.Hex()
}

func (s Slot) MarshalJSON() ([]byte, error) {
	if !s.set {
		return []byte("null"), nil
	}
	return json.Marshal(s.addr.Hex())
}

func (s *Slot) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Unset()
		return nil
	}
	var addr common.Address
	if err := json.Unmarshal(data, &addr); err != nil {
		return err
	}
	*s = At(addr)
	return nil
}
