package fixed

import (
	"fmt"

	"github.com/holiman/uint256"

	"fixedlend/native/lending"
)

// Interval is the spacing between consecutive maturities (4 weeks).
const Interval uint64 = 4 * 7 * 24 * 60 * 60

// maxSlots bounds how many maturities a MaturitySet can track past its base.
const maxSlots = 224

// State classifies a maturity relative to the current time.
type State uint8

const (
	StateNone State = iota
	StateInvalid
	StateMatured
	StateValid
	StateNotReady
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateMatured:
		return "matured"
	case StateValid:
		return "valid"
	case StateNotReady:
		return "not_ready"
	default:
		return "none"
	}
}

// PoolState reports the lifecycle stage of maturity at now when at most
// maxPools future maturities are open.
func PoolState(maturity, maxPools, now uint64) State {
	if maturity%Interval != 0 {
		return StateInvalid
	}
	if maturity < now {
		return StateMatured
	}
	if maturity > now-(now%Interval)+maxPools*Interval {
		return StateNotReady
	}
	return StateValid
}

// CheckPoolState fails with lending.ErrInvalidPoolState unless the maturity
// is in the required state or, when given, the alternative one.
func CheckPoolState(maturity, maxPools, now uint64, required, alternative State) error {
	state := PoolState(maturity, maxPools, now)
	if state == required || (alternative != StateNone && state == alternative) {
		return nil
	}
	return fmt.Errorf("maturity %d is %s: %w", maturity, state, lending.ErrInvalidPoolState)
}

// LatestMaturity returns the maturity the current interval settles on.
func LatestMaturity(now uint64) uint64 {
	return now - now%Interval
}

// OpenMaturities lists the maturities accepting new fixed operations.
func OpenMaturities(now, maxPools uint64) []uint64 {
	base := LatestMaturity(now)
	out := make([]uint64, 0, maxPools)
	for i := uint64(1); i <= maxPools; i++ {
		out = append(out, base+i*Interval)
	}
	return out
}

// MaturitySet is an account's packed index of open maturities. The low 32
// bits hold the earliest tracked maturity; bit 32+i flags base+i*Interval.
type MaturitySet struct {
	packed uint256.Int
}

// NewMaturitySet restores a set from its packed form.
func NewMaturitySet(packed *uint256.Int) MaturitySet {
	var s MaturitySet
	if packed != nil {
		s.packed.Set(packed)
	}
	return s
}

// Packed returns a copy of the packed representation.
func (s MaturitySet) Packed() *uint256.Int {
	return new(uint256.Int).Set(&s.packed)
}

func bitSet(x *uint256.Int, i uint) bool {
	return new(uint256.Int).Rsh(x, i).Uint64()&1 == 1
}

func (s MaturitySet) IsZero() bool { return s.packed.IsZero() }

func (s MaturitySet) base() uint64 {
	return s.packed.Uint64() & 0xffffffff
}

func (s MaturitySet) flags() *uint256.Int {
	return new(uint256.Int).Rsh(&s.packed, 32)
}

func (s *MaturitySet) store(base uint64, flags *uint256.Int) {
	s.packed.Lsh(flags, 32)
	s.packed.Or(&s.packed, uint256.NewInt(base))
}

// Has reports whether maturity is tracked.
func (s MaturitySet) Has(maturity uint64) bool {
	if s.IsZero() {
		return false
	}
	base := s.base()
	if maturity < base || (maturity-base)%Interval != 0 {
		return false
	}
	slot := (maturity - base) / Interval
	if slot >= maxSlots {
		return false
	}
	return bitSet(s.flags(), uint(slot))
}

// Set adds maturity to the set.
func (s *MaturitySet) Set(maturity uint64) error {
	if maturity > 0xffffffff {
		return fmt.Errorf("maturity %d does not fit in 32 bits: %w", maturity, lending.ErrMaturityOverflow)
	}
	if s.IsZero() {
		s.store(maturity, uint256.NewInt(1))
		return nil
	}
	base := s.base()
	flags := s.flags()
	if maturity < base {
		shift := (base - maturity) / Interval
		if shift >= maxSlots || flags.BitLen()+int(shift) > maxSlots {
			return fmt.Errorf("maturity %d before base %d: %w", maturity, base, lending.ErrMaturityOverflow)
		}
		flags.Lsh(flags, uint(shift))
		flags.Or(flags, uint256.NewInt(1))
		s.store(maturity, flags)
		return nil
	}
	slot := (maturity - base) / Interval
	if slot >= maxSlots {
		return fmt.Errorf("maturity %d past base %d: %w", maturity, base, lending.ErrMaturityOverflow)
	}
	flags.Or(flags, new(uint256.Int).Lsh(uint256.NewInt(1), uint(slot)))
	s.store(base, flags)
	return nil
}

// Clear removes maturity from the set, rebasing on the next tracked
// maturity when the base itself is cleared.
func (s *MaturitySet) Clear(maturity uint64) {
	if !s.Has(maturity) {
		return
	}
	base := s.base()
	flags := s.flags()
	slot := (maturity - base) / Interval
	flags.And(flags, new(uint256.Int).Not(new(uint256.Int).Lsh(uint256.NewInt(1), uint(slot))))
	if flags.IsZero() {
		s.packed.Clear()
		return
	}
	if slot == 0 {
		for !bitSet(flags, 0) {
			flags.Rsh(flags, 1)
			base += Interval
		}
	}
	s.store(base, flags)
}

// Maturities lists the tracked maturities in ascending order.
func (s MaturitySet) Maturities() []uint64 {
	if s.IsZero() {
		return nil
	}
	base := s.base()
	flags := s.flags()
	out := make([]uint64, 0, 4)
	for i := 0; i < flags.BitLen(); i++ {
		if bitSet(flags, uint(i)) {
			out = append(out, base+uint64(i)*Interval)
		}
	}
	return out
}
