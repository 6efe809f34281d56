package fixed

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestScaleKeepsRatio(t *testing.T) {
	pos := NewPosition(u(1000), u(50))
	scaled := pos.Scale(u(525))
	if scaled.Principal.Uint64() != 500 || scaled.Fee.Uint64() != 25 {
		t.Fatalf("unexpected scaled position %s/%s", scaled.Principal, scaled.Fee)
	}
	if !scaled.Total().Eq(u(525)) {
		t.Fatalf("scaled total drifted: %s", scaled.Total())
	}
	if pos.Principal.Uint64() != 1000 {
		t.Fatalf("scale mutated the receiver")
	}
}

func TestReduceKeepsRatio(t *testing.T) {
	pos := NewPosition(u(1000), u(50))
	reduced := pos.Reduce(u(210))
	if reduced.Principal.Uint64() != 800 || reduced.Fee.Uint64() != 40 {
		t.Fatalf("unexpected reduced position %s/%s", reduced.Principal, reduced.Fee)
	}
	if !pos.Reduce(pos.Total()).IsZero() {
		t.Fatalf("reducing by the full total should empty the position")
	}
}

func TestScaleRatioWithinRounding(t *testing.T) {
	pos := NewPosition(u(333_333), u(7_777))
	for _, amount := range []uint64{1, 17, 1_000, 99_999, 341_110} {
		scaled := pos.Scale(u(amount))
		// principal/total of the scaled position stays within one unit of the original ratio
		lhs := new(uint256.Int).Mul(scaled.Principal, pos.Total())
		rhs := new(uint256.Int).Mul(pos.Principal, u(amount))
		diff := new(uint256.Int)
		if lhs.Gt(rhs) {
			diff.Sub(lhs, rhs)
		} else {
			diff.Sub(rhs, lhs)
		}
		if diff.Gt(pos.Total()) {
			t.Fatalf("ratio drifted for amount %d: %s/%s", amount, scaled.Principal, scaled.Fee)
		}
	}
}

func TestEmptyPositionScalesToZero(t *testing.T) {
	var pos Position
	if !pos.IsZero() || !pos.Scale(u(10)).IsZero() {
		t.Fatalf("empty position should stay empty")
	}
	grown := pos.Add(u(3), u(1))
	if grown.Total().Uint64() != 4 {
		t.Fatalf("unexpected total %s", grown.Total())
	}
}
