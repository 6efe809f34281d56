package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type bare string

func (b bare) EventType() string { return string(b) }

func TestFloatingActionRendersAttributes(t *testing.T) {
	evt := FloatingAction{
		Kind:   TypeDeposit,
		Market: " dai ",
		Caller: common.HexToAddress("0x01"),
		Assets: uint256.NewInt(1000),
	}.Event()
	if evt.Type != TypeDeposit {
		t.Fatalf("unexpected type %q", evt.Type)
	}
	if evt.Attributes["market"] != "DAI" {
		t.Fatalf("market not normalised: %q", evt.Attributes["market"])
	}
	if evt.Attributes["assets"] != "1000" || evt.Attributes["shares"] != "0" {
		t.Fatalf("unexpected amounts: %v", evt.Attributes)
	}
	if evt.Attributes["receiver"] != "" {
		t.Fatalf("zero address rendered: %q", evt.Attributes["receiver"])
	}
}

func TestRingKeepsLatestEvents(t *testing.T) {
	ring := NewRing(3)
	if got := ring.Recent(10); len(got) != 0 {
		t.Fatalf("expected empty ring, got %d events", len(got))
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		ring.Emit(bare(name))
	}
	if ring.Total() != 4 {
		t.Fatalf("unexpected total %d", ring.Total())
	}
	recent := ring.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("expected 3 events, got %d", len(recent))
	}
	for i, want := range []string{"b", "c", "d"} {
		if recent[i].Type != want {
			t.Fatalf("event %d: want %s got %s", i, want, recent[i].Type)
		}
	}
	if last := ring.Recent(1); len(last) != 1 || last[0].Type != "d" {
		t.Fatalf("unexpected latest event %+v", last)
	}
}

func TestFanoutAndRecorder(t *testing.T) {
	rec := &Recorder{}
	ring := NewRing(2)
	fan := Fanout{rec, nil, ring}
	fan.Emit(bare("x"))
	fan.Emit(bare("y"))
	if types := rec.Types(); len(types) != 2 || types[1] != "y" {
		t.Fatalf("unexpected recorded types %v", types)
	}
	if ring.Total() != 2 {
		t.Fatalf("ring missed events")
	}
}
