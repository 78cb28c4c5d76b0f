package withdrawqueue

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elys-network/cellar/internal/chain"
	"github.com/elys-network/cellar/internal/logger"
	"github.com/elys-network/cellar/internal/types"
)

var (
	ErrUnknownVault        = fmt.Errorf("%w: vault not known to the queue", types.ErrConfiguration)
	ErrNoRequest           = fmt.Errorf("%w: no withdraw request", types.ErrInvalidInput)
	ErrRequestExpired      = fmt.Errorf("%w: withdraw request deadline passed", types.ErrExpiry)
	ErrInvalidRequest      = fmt.Errorf("%w: invalid withdraw request", types.ErrInvalidInput)
	ErrRequestInSolve      = fmt.Errorf("%w: withdraw request is being solved", types.ErrReentrancy)
	ErrPriceBelowExecution = fmt.Errorf("%w: share price below execution price", types.ErrSlippage)
	ErrInsufficientShares  = fmt.Errorf("%w: user no longer holds or approved the shares", types.ErrLiquidity)
)

// Vault is the share surface the queue needs to settle requests.
type Vault interface {
	Address() common.Address
	Asset() types.Token
	BalanceOf(owner common.Address) sdkmath.Int
	Allowance(owner, spender common.Address) sdkmath.Int
	PreviewRedeem(shares sdkmath.Int) (sdkmath.Int, error)
	Transfer(caller, to common.Address, shares sdkmath.Int) error
	TransferFrom(spender, from, to common.Address, shares sdkmath.Int) error
	Withdraw(caller common.Address, assets sdkmath.Int, receiver, owner common.Address) (sdkmath.Int, error)
}

type Resolver interface {
	Resolve(addr common.Address) (Vault, bool)
}

// Request asks for SharesToWithdraw to be redeemed at no less than ExecutionSharePrice
// (assets per one whole share) before Deadline.
type Request struct {
	Deadline            time.Time   `json:"deadline"`
	ExecutionSharePrice sdkmath.Int `json:"execution_share_price"`
	SharesToWithdraw    sdkmath.Int `json:"shares_to_withdraw"`
	InSolve             bool        `json:"in_solve"`
}

type PendingRequest struct {
	User    common.Address `json:"user"`
	Request Request        `json:"request"`
}

type Fill struct {
	User   common.Address `json:"user"`
	Shares sdkmath.Int    `json:"shares"`
	Assets sdkmath.Int    `json:"assets"`
}

type Skip struct {
	User   common.Address `json:"user"`
	Reason string         `json:"reason"`
	Kind   string         `json:"kind"`
}

// SolveReport summarises one batch solve.
type SolveReport struct {
	ID           uuid.UUID      `json:"id"`
	Vault        common.Address `json:"vault"`
	Solver       common.Address `json:"solver"`
	Filled       []Fill         `json:"filled"`
	Skipped      []Skip         `json:"skipped"`
	SolverShares sdkmath.Int    `json:"solver_shares"`
}

type requestKey struct {
	vault common.Address
	user  common.Address
}

// Queue holds user withdraw requests that solvers fill once vault liquidity allows.
type Queue struct {
	address  common.Address
	vaults   Resolver
	journal  *chain.Journal
	clock    chain.Clock
	requests map[requestKey]Request
	logger   zerolog.Logger
}

func New(address common.Address, vaults Resolver, journal *chain.Journal, clock chain.Clock) *Queue {
	return &Queue{
		address:  address,
		vaults:   vaults,
		journal:  journal,
		clock:    clock,
		requests: make(map[requestKey]Request),
		logger:   logger.GetForComponent("withdraw_queue"),
	}
}

func (q *Queue) Address() common.Address { return q.address }

func (q *Queue) vault(addr common.Address) (Vault, error) {
	v, ok := q.vaults.Resolve(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVault, addr.Hex())
	}
	return v, nil
}

// UpdateWithdrawRequest replaces user's request on vault. Zero shares cancels it.
func (q *Queue) UpdateWithdrawRequest(vault, user common.Address, req Request) error {
	if _, err := q.vault(vault); err != nil {
		return err
	}
	key := requestKey{vault: vault, user: user}
	if existing, ok := q.requests[key]; ok && existing.InSolve {
		return ErrRequestInSolve
	}
	if req.SharesToWithdraw.IsNil() || req.SharesToWithdraw.IsZero() {
		delete(q.requests, key)
		q.logger.Info().Str("vault", vault.Hex()).Str("user", user.Hex()).Msg("Withdraw request cancelled")
		return nil
	}
	switch {
	case req.SharesToWithdraw.IsNegative():
		return fmt.Errorf("%w: negative shares", ErrInvalidRequest)
	case req.ExecutionSharePrice.IsNil() || !req.ExecutionSharePrice.IsPositive():
		return fmt.Errorf("%w: execution share price must be positive", ErrInvalidRequest)
	case !req.Deadline.After(q.clock.Now()):
		return fmt.Errorf("%w: deadline %s is not in the future", ErrInvalidRequest, req.Deadline.Format(time.RFC3339))
	}
	req.InSolve = false
	q.requests[key] = req

	q.logger.Info().
		Str("vault", vault.Hex()).
		Str("user", user.Hex()).
		Str("shares", req.SharesToWithdraw.String()).
		Str("execution_share_price", req.ExecutionSharePrice.String()).
		Time("deadline", req.Deadline).
		Msg("Withdraw request updated")
	return nil
}

func (q *Queue) CancelWithdrawRequest(vault, user common.Address) error {
	return q.UpdateWithdrawRequest(vault, user, Request{SharesToWithdraw: sdkmath.ZeroInt()})
}

func (q *Queue) GetUserWithdrawRequest(vault, user common.Address) (Request, bool) {
	req, ok := q.requests[requestKey{vault: vault, user: user}]
	return req, ok
}

// IsWithdrawRequestValid reports whether a solver could fill the request right now,
// and if not, why.
func (q *Queue) IsWithdrawRequestValid(vault, user common.Address) (bool, error) {
	v, err := q.vault(vault)
	if err != nil {
		return false, err
	}
	req, ok := q.requests[requestKey{vault: vault, user: user}]
	if !ok {
		return false, ErrNoRequest
	}
	if err := q.validate(v, user, req); err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queue) validate(v Vault, user common.Address, req Request) error {
	if !q.clock.Now().Before(req.Deadline) {
		return ErrRequestExpired
	}
	if req.InSolve {
		return ErrRequestInSolve
	}
	if v.BalanceOf(user).LT(req.SharesToWithdraw) || v.Allowance(user, q.address).LT(req.SharesToWithdraw) {
		return ErrInsufficientShares
	}
	live, err := v.PreviewRedeem(v.Asset().One())
	if err != nil {
		return err
	}
	if live.LT(req.ExecutionSharePrice) {
		return fmt.Errorf("%w: live %s < %s", ErrPriceBelowExecution, live, req.ExecutionSharePrice)
	}
	return nil
}

// fill settles one request: the queue takes the user's shares, withdraws the promised
// assets to the user, and returns the shares left over.
func (q *Queue) fill(v Vault, user common.Address) (Fill, sdkmath.Int, error) {
	key := requestKey{vault: v.Address(), user: user}
	req, ok := q.requests[key]
	if !ok {
		return Fill{}, sdkmath.ZeroInt(), ErrNoRequest
	}
	if err := q.validate(v, user, req); err != nil {
		return Fill{}, sdkmath.ZeroInt(), err
	}
	req.InSolve = true
	q.requests[key] = req

	shares := req.SharesToWithdraw
	assets := shares.Mul(req.ExecutionSharePrice).Quo(v.Asset().One())
	if !assets.IsPositive() {
		return Fill{}, sdkmath.ZeroInt(), fmt.Errorf("%w: request pays out nothing", ErrInvalidRequest)
	}
	if err := v.TransferFrom(q.address, user, q.address, shares); err != nil {
		return Fill{}, sdkmath.ZeroInt(), err
	}
	burned, err := v.Withdraw(q.address, assets, user, q.address)
	if err != nil {
		return Fill{}, sdkmath.ZeroInt(), err
	}
	delete(q.requests, key)
	return Fill{User: user, Shares: shares, Assets: assets}, shares.Sub(burned), nil
}

// SolveOne fills a single request and fails as a whole if it cannot.
func (q *Queue) SolveOne(solver, vault, user common.Address) (Fill, error) {
	v, err := q.vault(vault)
	if err != nil {
		return Fill{}, err
	}
	var fill Fill
	err = q.journal.Atomic(func() error {
		f, leftover, err := q.fill(v, user)
		if err != nil {
			return err
		}
		fill = f
		if leftover.IsPositive() {
			return v.Transfer(q.address, solver, leftover)
		}
		return nil
	})
	return fill, err
}

// Solve fills as many of users' requests as possible. A request that cannot be filled
// is rolled back on its own and reported as skipped. Leftover shares go to the solver.
func (q *Queue) Solve(solver, vault common.Address, users []common.Address) (SolveReport, error) {
	v, err := q.vault(vault)
	if err != nil {
		return SolveReport{}, err
	}
	report := SolveReport{ID: uuid.New(), Vault: vault, Solver: solver, SolverShares: sdkmath.ZeroInt()}
	seen := make(map[common.Address]bool, len(users))

	for _, user := range users {
		if seen[user] {
			report.Skipped = append(report.Skipped, Skip{User: user, Reason: ErrRequestInSolve.Error(), Kind: types.ErrorKind(ErrRequestInSolve)})
			continue
		}
		seen[user] = true

		var fill Fill
		var leftover sdkmath.Int
		err := q.journal.Atomic(func() error {
			var err error
			fill, leftover, err = q.fill(v, user)
			return err
		})
		if err != nil {
			report.Skipped = append(report.Skipped, Skip{User: user, Reason: err.Error(), Kind: types.ErrorKind(err)})
			q.logger.Debug().Err(err).Str("user", user.Hex()).Msg("Skipping withdraw request")
			continue
		}
		report.Filled = append(report.Filled, fill)
		report.SolverShares = report.SolverShares.Add(leftover)
	}

	if report.SolverShares.IsPositive() {
		if err := v.Transfer(q.address, solver, report.SolverShares); err != nil {
			return SolveReport{}, fmt.Errorf("pay solver: %w", err)
		}
	}

	q.logger.Info().
		Str("solve_id", report.ID.String()).
		Str("vault", vault.Hex()).
		Str("solver", solver.Hex()).
		Int("filled", len(report.Filled)).
		Int("skipped", len(report.Skipped)).
		Str("solver_shares", report.SolverShares.String()).
		Msg("Withdraw queue solved")
	return report, nil
}

// SweepExpired drops every request on vault whose deadline has passed.
func (q *Queue) SweepExpired(vault common.Address) int {
	now := q.clock.Now()
	n := 0
	for key, req := range q.requests {
		if key.vault == vault && !now.Before(req.Deadline) {
			delete(q.requests, key)
			n++
		}
	}
	if n > 0 {
		q.logger.Info().Str("vault", vault.Hex()).Int("removed", n).Msg("Expired withdraw requests swept")
	}
	return n
}

// PendingRequests lists vault's requests ordered by user address.
func (q *Queue) PendingRequests(vault common.Address) []PendingRequest {
	var out []PendingRequest
	for key, req := range q.requests {
		if key.vault == vault {
			out = append(out, PendingRequest{User: key.user, Request: req})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].User.Bytes(), out[j].User.Bytes()) < 0
	})
	return out
}

func (q *Queue) Snapshot() any {
	cp := make(map[requestKey]Request, len(q.requests))
	for k, v := range q.requests {
		cp[k] = v
	}
	return cp
}

func (q *Queue) Restore(snapshot any) {
	q.requests = snapshot.(map[requestKey]Request)
}

// IsExpired reports whether err means a request aged out.
func IsExpired(err error) bool {
	return errors.Is(err, types.ErrExpiry)
}
