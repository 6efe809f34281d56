// Package lending hosts the fixed and floating rate lending engine. The
// subpackages implement the fixed-point math (wad), the maturity pools and
// positions (fixed), the interest rate curves (irm), the market orchestration
// (market), the cross-market risk checks (auditor), the incentive accounting
// (rewards) and the atomic action boundary (txn). This package only carries
// the shared error taxonomy.
package lending
