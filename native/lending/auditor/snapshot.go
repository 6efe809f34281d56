package auditor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fixedlend/native/lending"
	"fixedlend/native/lending/wad"
)

// Snapshot is the persisted form of the auditor. Price feeds are live
// collaborators and are not part of it.
type Snapshot struct {
	Liquidator  *uint256.Int
	Lenders     *uint256.Int
	Listings    []ListingRecord
	Memberships []MembershipRecord
}

// ListingRecord is one listed market, in listing order.
type ListingRecord struct {
	Symbol       string
	AdjustFactor *uint256.Int
}

// MembershipRecord is the bitmap of listing indexes an account entered.
type MembershipRecord struct {
	Account common.Address
	Markets *uint256.Int
}

// Snapshot exports the auditor state.
func (a *Auditor) Snapshot() Snapshot {
	var snap Snapshot
	_ = a.exec.View(func(uint64) error {
		snap.Liquidator = wad.Clone(a.st.incentive.Liquidator)
		snap.Lenders = wad.Clone(a.st.incentive.Lenders)
		for _, l := range a.st.listings {
			snap.Listings = append(snap.Listings, ListingRecord{Symbol: l.market.Symbol(), AdjustFactor: wad.Clone(l.adjustFactor)})
		}
		for account, markets := range a.st.accountMarkets {
			snap.Memberships = append(snap.Memberships, MembershipRecord{Account: account, Markets: new(uint256.Int).Set(&markets)})
		}
		sort.Slice(snap.Memberships, func(i, j int) bool {
			return snap.Memberships[i].Account.Cmp(snap.Memberships[j].Account) < 0
		})
		return nil
	})
	return snap
}

// Restore loads snap into an auditor whose markets were listed again in the
// same order.
func (a *Auditor) Restore(snap Snapshot) error {
	incentive := Incentive{Liquidator: snap.Liquidator, Lenders: snap.Lenders}
	if err := incentive.validate(); err != nil {
		return err
	}
	return a.exec.View(func(uint64) error {
		if len(snap.Listings) != len(a.st.listings) {
			return fmt.Errorf("snapshot lists %d markets, auditor %d: %w", len(snap.Listings), len(a.st.listings), lending.ErrInvalidParameter)
		}
		for i, rec := range snap.Listings {
			if !strings.EqualFold(rec.Symbol, a.st.listings[i].market.Symbol()) {
				return fmt.Errorf("listing %d is %s, snapshot has %s: %w", i, a.st.listings[i].market.Symbol(), rec.Symbol, lending.ErrInvalidParameter)
			}
			if err := validateAdjustFactor(rec.AdjustFactor); err != nil {
				return err
			}
		}
		limit := new(uint256.Int).Lsh(uint256.NewInt(1), uint(len(a.st.listings)))
		for _, rec := range snap.Memberships {
			if rec.Markets == nil || !rec.Markets.Lt(limit) {
				return fmt.Errorf("membership of %s names unknown markets: %w", rec.Account.Hex(), lending.ErrInvalidParameter)
			}
		}

		st := a.st.clone()
		st.incentive = incentive.clone()
		for i, rec := range snap.Listings {
			st.listings[i].adjustFactor = wad.Clone(rec.AdjustFactor)
		}
		st.accountMarkets = make(map[common.Address]uint256.Int, len(snap.Memberships))
		for _, rec := range snap.Memberships {
			if !rec.Markets.IsZero() {
				st.accountMarkets[rec.Account] = *rec.Markets
			}
		}
		a.st = st
		return nil
	})
}
