package asset

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fixedlend/native/lending"
)

func TestLedgerTransfer(t *testing.T) {
	alice := common.HexToAddress("0xa11ce")
	bob := common.HexToAddress("0xb0b")
	token := NewLedger("DAI", 18)
	if err := token.Mint(alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := token.Transfer(context.Background(), alice, bob, uint256.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if token.BalanceOf(alice).Uint64() != 60 || token.BalanceOf(bob).Uint64() != 40 {
		t.Fatalf("unexpected balances %s %s", token.BalanceOf(alice), token.BalanceOf(bob))
	}
	if err := token.Transfer(context.Background(), bob, alice, uint256.NewInt(41)); !errors.Is(err, lending.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if got := token.Holders(); len(got) != 2 {
		t.Fatalf("unexpected holders %v", got)
	}
}

func TestLedgerCheckpointRestores(t *testing.T) {
	alice := common.HexToAddress("0xa11ce")
	token := NewLedger("DAI", 18)
	_ = token.Mint(alice, uint256.NewInt(5))
	restore := token.Checkpoint()
	_ = token.Mint(alice, uint256.NewInt(10))
	restore()
	if token.BalanceOf(alice).Uint64() != 5 || token.TotalSupply().Uint64() != 5 {
		t.Fatalf("checkpoint not restored: %s", token.BalanceOf(alice))
	}
}

func TestLedgerReceiveHook(t *testing.T) {
	alice := common.HexToAddress("0xa11ce")
	bob := common.HexToAddress("0xb0b")
	token := NewLedger("DAI", 18)
	_ = token.Mint(alice, uint256.NewInt(5))
	boom := errors.New("rejected")
	token.OnReceive(bob, func(context.Context, common.Address, common.Address, *uint256.Int) error {
		return boom
	})
	if err := token.Transfer(context.Background(), alice, bob, uint256.NewInt(1)); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
}
