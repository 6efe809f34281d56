package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"fixedlend/config"
	"fixedlend/native/lending"
	"fixedlend/native/lending/market"
	"fixedlend/native/lending/txn"
	"fixedlend/native/lending/wad"
)

var errBadRequest = errors.New("bad request")

type poolView struct {
	Maturity           uint64 `json:"maturity"`
	State              string `json:"state"`
	Borrowed           string `json:"borrowed"`
	Supplied           string `json:"supplied"`
	BackupSupplied     string `json:"backupSupplied"`
	UnassignedEarnings string `json:"unassignedEarnings"`
	LastAccrual        uint64 `json:"lastAccrual"`
}

type marketView struct {
	Symbol                 string     `json:"symbol"`
	Address                string     `json:"address"`
	Decimals               uint8      `json:"decimals"`
	Timestamp              uint64     `json:"timestamp"`
	TotalAssets            string     `json:"totalAssets"`
	TotalSupply            string     `json:"totalSupply"`
	FloatingAssets         string     `json:"floatingAssets"`
	FloatingDebt           string     `json:"floatingDebt"`
	FloatingBackupBorrowed string     `json:"floatingBackupBorrowed"`
	EarningsAccumulator    string     `json:"earningsAccumulator"`
	FloatingRate           string     `json:"floatingRate,omitempty"`
	Price                  string     `json:"price,omitempty"`
	AdjustFactor           string     `json:"adjustFactor,omitempty"`
	PenaltyRate            string     `json:"penaltyRate"`
	MaxFuturePools         uint64     `json:"maxFuturePools"`
	Pools                  []poolView `json:"pools,omitempty"`
}

type positionView struct {
	Maturity  uint64 `json:"maturity"`
	Principal string `json:"principal"`
	Fee       string `json:"fee"`
}

type holdingView struct {
	Market        string         `json:"market"`
	Entered       bool           `json:"entered"`
	Shares        string         `json:"shares"`
	Assets        string         `json:"assets"`
	Debt          string         `json:"debt"`
	FixedDeposits []positionView `json:"fixedDeposits,omitempty"`
	FixedBorrows  []positionView `json:"fixedBorrows,omitempty"`
}

type accountView struct {
	Address            string            `json:"address"`
	AdjustedCollateral string            `json:"adjustedCollateral"`
	AdjustedDebt       string            `json:"adjustedDebt"`
	HealthFactor       string            `json:"healthFactor,omitempty"`
	Markets            []holdingView     `json:"markets"`
	Balances           map[string]string `json:"balances"`
	Claimable          map[string]string `json:"claimable,omitempty"`
}

// actionRequest carries the arguments of every market action. Amounts are
// decimal strings in token units; omitted parties default to Account.
type actionRequest struct {
	Account     string `json:"account"`
	Receiver    string `json:"receiver,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Borrower    string `json:"borrower,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Shares      string `json:"shares,omitempty"`
	Maturity    uint64 `json:"maturity,omitempty"`
	Limit       string `json:"limit,omitempty"`
	SeizeMarket string `json:"seizeMarket,omitempty"`
}

type actionResponse struct {
	Action    string `json:"action"`
	Market    string `json:"market"`
	Timestamp uint64 `json:"timestamp"`
	Assets    string `json:"assets,omitempty"`
	Shares    string `json:"shares,omitempty"`
}

func formatUnits(x *uint256.Int, decimals uint8) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x.ToBig(), -int32(decimals)).String()
}

func parseUnits(s string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid amount %q", errBadRequest, s)
	}
	units, err := config.Units(d, decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return units, nil
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", errBadRequest, s)
	}
	return common.HexToAddress(s), nil
}

func (s *Server) market(symbol string) (*market.Market, error) {
	m, ok := s.env.Auditor.Market(symbol)
	if !ok {
		return nil, fmt.Errorf("market %s: %w", symbol, lending.ErrMarketNotListed)
	}
	return m, nil
}

func (s *Server) marketView(m *market.Market, pools bool) (marketView, error) {
	overview, err := m.Overview()
	if err != nil {
		return marketView{}, err
	}
	dec := overview.Decimals
	out := marketView{
		Symbol:                 overview.Symbol,
		Address:                overview.Address.Hex(),
		Decimals:               dec,
		Timestamp:              overview.Timestamp,
		TotalAssets:            formatUnits(overview.TotalAssets, dec),
		TotalSupply:            formatUnits(overview.TotalSupply, dec),
		FloatingAssets:         formatUnits(overview.FloatingAssets, dec),
		FloatingDebt:           formatUnits(overview.FloatingDebt, dec),
		FloatingBackupBorrowed: formatUnits(overview.FloatingBackupBorrowed, dec),
		EarningsAccumulator:    formatUnits(overview.EarningsAccumulator, dec),
		PenaltyRate:            wad.Format(overview.Params.PenaltyRate),
		MaxFuturePools:         overview.Params.MaxFuturePools,
	}
	if overview.FloatingRate != nil {
		out.FloatingRate = wad.Format(overview.FloatingRate)
	}
	if price, err := s.env.Auditor.Price(m); err == nil {
		out.Price = wad.Format(price)
	}
	if factor, err := s.env.Auditor.AdjustFactor(m); err == nil {
		out.AdjustFactor = wad.Format(factor)
	}
	if pools {
		for _, pool := range overview.Pools {
			out.Pools = append(out.Pools, poolViewOf(pool, dec))
		}
	}
	return out, nil
}

func poolViewOf(pool market.PoolOverview, dec uint8) poolView {
	return poolView{
		Maturity:           pool.Maturity,
		State:              pool.State,
		Borrowed:           formatUnits(pool.Borrowed, dec),
		Supplied:           formatUnits(pool.Supplied, dec),
		BackupSupplied:     formatUnits(pool.BackupSupplied, dec),
		UnassignedEarnings: formatUnits(pool.UnassignedEarnings, dec),
		LastAccrual:        pool.LastAccrual,
	}
}

func (s *Server) listMarkets(w http.ResponseWriter, _ *http.Request) {
	markets := s.env.Auditor.Markets()
	out := make([]marketView, 0, len(markets))
	for _, m := range markets {
		view, err := s.marketView(m, false)
		if err != nil {
			s.writeError(w, err)
			return
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": out})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.market(chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.marketView(m, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	m, err := s.market(chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	maturity, err := strconv.ParseUint(chi.URLParam(r, "maturity"), 10, 64)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid maturity", errBadRequest))
		return
	}
	pool, err := m.Pool(maturity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolViewOf(pool, m.Decimals()))
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	liq, err := s.env.Auditor.AccountLiquidity(account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := accountView{
		Address:            account.Hex(),
		AdjustedCollateral: wad.Format(liq.AdjustedCollateral),
		AdjustedDebt:       wad.Format(liq.AdjustedDebt),
		Balances:           make(map[string]string),
	}
	if !liq.AdjustedDebt.IsZero() {
		out.HealthFactor = wad.Format(wad.DivWadDown(liq.AdjustedCollateral, liq.AdjustedDebt))
	}
	entered := make(map[string]bool)
	for _, m := range s.env.Auditor.AccountMarkets(account) {
		entered[m.Symbol()] = true
	}
	for _, m := range s.env.Auditor.Markets() {
		overview, err := m.AccountOverview(account)
		if err != nil {
			s.writeError(w, err)
			return
		}
		dec := m.Decimals()
		holding := holdingView{
			Market:  m.Symbol(),
			Entered: entered[m.Symbol()],
			Shares:  formatUnits(overview.Shares, dec),
			Assets:  formatUnits(overview.Assets, dec),
			Debt:    formatUnits(overview.Debt, dec),
		}
		for _, pos := range overview.FixedDeposits {
			holding.FixedDeposits = append(holding.FixedDeposits, positionView{pos.Maturity, formatUnits(pos.Principal, dec), formatUnits(pos.Fee, dec)})
		}
		for _, pos := range overview.FixedBorrows {
			holding.FixedBorrows = append(holding.FixedBorrows, positionView{pos.Maturity, formatUnits(pos.Principal, dec), formatUnits(pos.Fee, dec)})
		}
		out.Markets = append(out.Markets, holding)
	}
	for symbol, ledger := range s.env.Ledgers {
		out.Balances[symbol] = formatUnits(ledger.BalanceOf(account), ledger.Decimals())
	}
	if s.env.Rewards != nil {
		claimable := s.env.Rewards.Claimable(account)
		if len(claimable) > 0 {
			out.Claimable = make(map[string]string, len(claimable))
			for reward, amount := range claimable {
				out.Claimable[reward] = formatUnits(amount, s.env.Ledgers[reward].Decimals())
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type resolvedAction struct {
	req      actionRequest
	account  common.Address
	receiver common.Address
	owner    common.Address
	borrower common.Address
	decimals uint8
}

func (a resolvedAction) amount() (*uint256.Int, error) {
	if strings.TrimSpace(a.req.Amount) == "" {
		return nil, fmt.Errorf("%w: amount required", errBadRequest)
	}
	return parseUnits(a.req.Amount, a.decimals)
}

func (a resolvedAction) shares() (*uint256.Int, error) {
	if strings.TrimSpace(a.req.Shares) == "" {
		return nil, fmt.Errorf("%w: shares required", errBadRequest)
	}
	return parseUnits(a.req.Shares, a.decimals)
}

// limit parses the slippage bound, falling back to fallback when omitted.
func (a resolvedAction) limit(fallback *uint256.Int) (*uint256.Int, error) {
	if strings.TrimSpace(a.req.Limit) == "" {
		return fallback, nil
	}
	return parseUnits(a.req.Limit, a.decimals)
}

func (a resolvedAction) maturity() (uint64, error) {
	if a.req.Maturity == 0 {
		return 0, fmt.Errorf("%w: maturity required", errBadRequest)
	}
	return a.req.Maturity, nil
}

func resolve(req actionRequest, decimals uint8) (resolvedAction, error) {
	out := resolvedAction{req: req, decimals: decimals}
	var err error
	if out.account, err = parseAddress(req.Account); err != nil {
		return out, err
	}
	party := func(s string) (common.Address, error) {
		if strings.TrimSpace(s) == "" {
			return out.account, nil
		}
		return parseAddress(s)
	}
	if out.receiver, err = party(req.Receiver); err != nil {
		return out, err
	}
	if out.owner, err = party(req.Owner); err != nil {
		return out, err
	}
	if out.borrower, err = party(req.Borrower); err != nil {
		return out, err
	}
	return out, nil
}

func (s *Server) marketAction(w http.ResponseWriter, r *http.Request) {
	m, err := s.market(chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	action, err := resolve(req, m.Decimals())
	if err != nil {
		s.writeError(w, err)
		return
	}
	name := strings.ToLower(chi.URLParam(r, "action"))
	resp, err := s.dispatch(r.Context(), m, name, action)
	if err != nil {
		s.logger.Info("action rejected",
			"request_id", RequestID(r.Context()),
			"market", m.Symbol(),
			"action", name,
			"kind", lending.Kind(err),
			"error", err,
		)
		s.writeError(w, err)
		return
	}
	resp.Action = name
	resp.Market = m.Symbol()
	resp.Timestamp = s.env.Clock.Now()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) dispatch(ctx context.Context, m *market.Market, name string, a resolvedAction) (actionResponse, error) {
	var (
		resp   actionResponse
		assets *uint256.Int
		shares *uint256.Int
		err    error
	)
	dec := m.Decimals()
	switch name {
	case "deposit":
		if assets, err = a.amount(); err != nil {
			return resp, err
		}
		shares, err = m.Deposit(ctx, a.account, assets, a.receiver)
	case "withdraw":
		if assets, err = a.amount(); err != nil {
			return resp, err
		}
		shares, err = m.Withdraw(ctx, a.account, assets, a.receiver, a.owner)
	case "redeem":
		if shares, err = a.shares(); err != nil {
			return resp, err
		}
		assets, err = m.Redeem(ctx, a.account, shares, a.receiver, a.owner)
	case "borrow":
		if assets, err = a.amount(); err != nil {
			return resp, err
		}
		shares, err = m.Borrow(ctx, a.account, assets, a.receiver, a.borrower)
	case "repay":
		if assets, err = a.amount(); err != nil {
			return resp, err
		}
		assets, shares, err = m.Repay(ctx, a.account, assets, a.borrower)
	case "refund":
		if shares, err = a.shares(); err != nil {
			return resp, err
		}
		assets, shares, err = m.Refund(ctx, a.account, shares, a.borrower)
	case "deposit_at_maturity", "withdraw_at_maturity", "borrow_at_maturity", "repay_at_maturity":
		return s.dispatchFixed(ctx, m, name, a)
	case "liquidate":
		seize := m
		if strings.TrimSpace(a.req.SeizeMarket) != "" {
			if seize, err = s.market(a.req.SeizeMarket); err != nil {
				return resp, err
			}
		}
		maxAssets := new(uint256.Int).SetAllOne()
		if strings.TrimSpace(a.req.Amount) != "" {
			if maxAssets, err = a.amount(); err != nil {
				return resp, err
			}
		}
		assets, err = m.Liquidate(ctx, a.account, a.borrower, maxAssets, seize)
	case "enter":
		err = s.env.Auditor.EnterMarket(ctx, a.account, m)
	case "exit":
		err = s.env.Auditor.ExitMarket(ctx, a.account, m)
	default:
		return resp, fmt.Errorf("%w: unknown action %q", errBadRequest, name)
	}
	if err != nil {
		return resp, err
	}
	if assets != nil {
		resp.Assets = formatUnits(assets, dec)
	}
	if shares != nil {
		resp.Shares = formatUnits(shares, dec)
	}
	return resp, nil
}

func (s *Server) dispatchFixed(ctx context.Context, m *market.Market, name string, a resolvedAction) (actionResponse, error) {
	var resp actionResponse
	maturity, err := a.maturity()
	if err != nil {
		return resp, err
	}
	amount, err := a.amount()
	if err != nil {
		return resp, err
	}
	var assets *uint256.Int
	switch name {
	case "deposit_at_maturity":
		bound, err := a.limit(new(uint256.Int))
		if err != nil {
			return resp, err
		}
		assets, err = m.DepositAtMaturity(ctx, a.account, maturity, amount, bound, a.receiver)
		if err != nil {
			return resp, err
		}
	case "withdraw_at_maturity":
		bound, err := a.limit(new(uint256.Int))
		if err != nil {
			return resp, err
		}
		assets, err = m.WithdrawAtMaturity(ctx, a.account, maturity, amount, bound, a.receiver, a.owner)
		if err != nil {
			return resp, err
		}
	case "borrow_at_maturity":
		bound, err := a.limit(new(uint256.Int).SetAllOne())
		if err != nil {
			return resp, err
		}
		assets, err = m.BorrowAtMaturity(ctx, a.account, maturity, amount, bound, a.receiver, a.borrower)
		if err != nil {
			return resp, err
		}
	case "repay_at_maturity":
		bound, err := a.limit(new(uint256.Int).SetAllOne())
		if err != nil {
			return resp, err
		}
		assets, err = m.RepayAtMaturity(ctx, a.account, maturity, amount, bound, a.borrower)
		if err != nil {
			return resp, err
		}
	}
	resp.Assets = formatUnits(assets, m.Decimals())
	return resp, nil
}

type claimRequest struct {
	To string `json:"to,omitempty"`
}

func (s *Server) claimRewards(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.env.Rewards == nil {
		writeJSON(w, http.StatusOK, map[string]any{"claimed": map[string]string{}})
		return
	}
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	to := account
	if strings.TrimSpace(req.To) != "" {
		if to, err = parseAddress(req.To); err != nil {
			s.writeError(w, err)
			return
		}
	}
	claimed, err := s.env.Rewards.Claim(r.Context(), account, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make(map[string]string, len(claimed))
	for reward, amount := range claimed {
		out[reward] = formatUnits(amount, s.env.Ledgers[reward].Decimals())
	}
	writeJSON(w, http.StatusOK, map[string]any{"claimed": out})
}

type clockRequest struct {
	Advance   uint64 `json:"advance,omitempty"`
	Timestamp uint64 `json:"timestamp,omitempty"`
}

func (s *Server) advanceClock(w http.ResponseWriter, r *http.Request) {
	var req clockRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	switch {
	case req.Advance > 0 && req.Timestamp > 0:
		s.writeError(w, fmt.Errorf("%w: advance and timestamp are exclusive", errBadRequest))
		return
	case req.Advance > 0:
		s.env.Clock.Advance(req.Advance)
	case req.Timestamp > 0:
		if req.Timestamp < s.env.Clock.Now() {
			s.writeError(w, fmt.Errorf("%w: clock cannot move backwards", errBadRequest))
			return
		}
		s.env.Clock.Set(req.Timestamp)
	default:
		s.writeError(w, fmt.Errorf("%w: advance or timestamp required", errBadRequest))
		return
	}
	now := s.env.Clock.Now()
	s.logger.Info("clock moved", "request_id", RequestID(r.Context()), "timestamp", now)
	writeJSON(w, http.StatusOK, map[string]any{"timestamp": now})
}

type fundRequest struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

func (s *Server) fundAccount(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.IsPositive() {
		s.writeError(w, fmt.Errorf("%w: invalid amount %q", errBadRequest, req.Amount))
		return
	}
	var minted *uint256.Int
	err = s.env.Executor.Run(r.Context(), "faucet.fund", func(context.Context, *txn.Tx) error {
		var err error
		minted, err = s.env.Fund(account, req.Token, amount)
		return err
	})
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	token := strings.ToUpper(req.Token)
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account.Hex(),
		"token":   token,
		"minted":  formatUnits(minted, s.env.Ledgers[token].Decimals()),
		"balance": formatUnits(s.env.Ledgers[token].BalanceOf(account), s.env.Ledgers[token].Decimals()),
	})
}

type priceRequest struct {
	Price string `json:"price"`
}

func (s *Server) setPrice(w http.ResponseWriter, r *http.Request) {
	m, err := s.market(chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req priceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
	if err != nil || !price.IsPositive() {
		s.writeError(w, fmt.Errorf("%w: invalid price %q", errBadRequest, req.Price))
		return
	}
	feed := s.env.Feeds[m.Symbol()]
	now := s.env.Clock.Now()
	feed.SetPrice(price.Shift(int32(feed.Decimals())).Truncate(0).BigInt(), now)
	s.logger.Info("price set", "request_id", RequestID(r.Context()), "market", m.Symbol(), "price", price.String())
	writeJSON(w, http.StatusOK, map[string]any{"market": m.Symbol(), "price": price.String(), "timestamp": now})
}

type rateRequest struct {
	Rate string `json:"rate"`
}

func (s *Server) setPenaltyRate(w http.ResponseWriter, r *http.Request) {
	m, err := s.market(chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req rateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	rate, err := wad.Parse(strings.TrimSpace(req.Rate))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid rate %q", errBadRequest, req.Rate))
		return
	}
	if err := m.SetPenaltyRate(r.Context(), s.env.Capability, rate); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market": m.Symbol(), "penaltyRate": wad.Format(rate)})
}

func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, requestLimit+1))
	if err != nil {
		return fmt.Errorf("%w: read request body: %v", errBadRequest, err)
	}
	if len(data) > requestLimit {
		return fmt.Errorf("%w: request body too large", errBadRequest)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("%w: decode request: %v", errBadRequest, err)
	}
	return nil
}

// statusOf maps the lending error taxonomy onto HTTP statuses.
func statusOf(err error) int {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest
	}
	switch lending.Kind(err) {
	case "market_not_listed":
		return http.StatusNotFound
	case "unauthorized":
		return http.StatusForbidden
	case "invalid_parameter":
		return http.StatusBadRequest
	case "paused", "market_already_listed":
		return http.StatusConflict
	case "price_error":
		return http.StatusServiceUnavailable
	case "reentrancy", "internal":
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload := map[string]string{"error": strings.TrimSpace(err.Error())}
	if kind := lending.Kind(err); kind != "internal" {
		payload["kind"] = kind
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
