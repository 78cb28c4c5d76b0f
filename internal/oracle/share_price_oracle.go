package oracle

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/cellar/internal/chain"
	"github.com/elys-network/cellar/internal/logger"
	"github.com/elys-network/cellar/internal/types"
	"github.com/elys-network/cellar/internal/utils"
)

var (
	ErrNotAutomation   = fmt.Errorf("%w: caller is not the automation keeper", types.ErrUnauthorized)
	ErrUpkeepNotNeeded = fmt.Errorf("%w: upkeep not needed", types.ErrInvalidInput)
	ErrInvalidConfig   = fmt.Errorf("%w: invalid share price oracle config", types.ErrConfiguration)
	ErrNoObservations  = errors.New("oracle has no observations")
	ErrZeroAnswer      = fmt.Errorf("%w: target share price is zero", types.ErrStaleness)
)

// Target is the vault whose share price is observed.
type Target interface {
	Address() common.Address
	Asset() types.Token
	PreviewRedeem(shares sdkmath.Int) (sdkmath.Int, error)
}

type Config struct {
	Heartbeat                   time.Duration
	DeviationTriggerBps         uint32
	GracePeriod                 time.Duration // observations younger than this are not trusted
	ObservationsToUse           int
	AllowedAnswerChangeLowerBps uint32 // e.g. 9_000 allows a 10% drop against the prior answer
	AllowedAnswerChangeUpperBps uint32
	Automation                  common.Address
}

func validateConfig(cfg Config) error {
	if cfg.Heartbeat <= 0 {
		return fmt.Errorf("%w: heartbeat must be positive", ErrInvalidConfig)
	}
	if cfg.ObservationsToUse < 1 {
		return fmt.Errorf("%w: observations to use must be at least 1", ErrInvalidConfig)
	}
	if cfg.GracePeriod < 0 || cfg.GracePeriod > cfg.Heartbeat {
		return fmt.Errorf("%w: grace period must be within [0, heartbeat]", ErrInvalidConfig)
	}
	if cfg.AllowedAnswerChangeLowerBps > utils.BpsDenominator || cfg.AllowedAnswerChangeUpperBps < utils.BpsDenominator {
		return fmt.Errorf("%w: answer change bounds must straddle 10000 bps", ErrInvalidConfig)
	}
	if cfg.DeviationTriggerBps == 0 || cfg.DeviationTriggerBps >= utils.BpsDenominator {
		return fmt.Errorf("%w: deviation trigger must be within (0, 10000) bps", ErrInvalidConfig)
	}
	if cfg.Automation == (common.Address{}) {
		return fmt.Errorf("%w: automation address is required", ErrInvalidConfig)
	}
	return nil
}

// Observation is one sample of the cumulative answer. Cumulative is the sum of
// answer * seconds since the first observation.
type Observation struct {
	Timestamp  time.Time   `json:"timestamp"`
	Cumulative sdkmath.Int `json:"cumulative"`
}

// SharePriceOracle keeps a ring of observations of a vault's share price and
// serves a time weighted average that a single block cannot move.
type SharePriceOracle struct {
	address        common.Address
	target         Target
	cfg            Config
	clock          chain.Clock
	ring           []Observation
	next           int
	count          int
	answer         sdkmath.Int
	previousAnswer sdkmath.Int
	logger         zerolog.Logger
}

func New(address common.Address, target Target, clock chain.Clock, cfg Config) (*SharePriceOracle, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("%w: target is required", ErrInvalidConfig)
	}
	return &SharePriceOracle{
		address:        address,
		target:         target,
		cfg:            cfg,
		clock:          clock,
		ring:           make([]Observation, cfg.ObservationsToUse),
		answer:         sdkmath.ZeroInt(),
		previousAnswer: sdkmath.ZeroInt(),
		logger:         logger.GetForComponent("share_price_oracle").With().Str("target", target.Address().Hex()).Logger(),
	}, nil
}

func (o *SharePriceOracle) Address() common.Address { return o.address }
func (o *SharePriceOracle) Target() common.Address  { return o.target.Address() }
func (o *SharePriceOracle) Config() Config          { return o.cfg }

// Asset and Decimals let the oracle back a share pricing extension.
func (o *SharePriceOracle) Asset() string    { return o.target.Asset().Denom }
func (o *SharePriceOracle) Decimals() uint32 { return o.target.Asset().Decimals }

func (o *SharePriceOracle) liveAnswer() (sdkmath.Int, error) {
	answer, err := o.target.PreviewRedeem(o.target.Asset().One())
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("read target share price: %w", err)
	}
	if !answer.IsPositive() {
		return sdkmath.ZeroInt(), ErrZeroAnswer
	}
	return answer, nil
}

func (o *SharePriceOracle) latest() Observation {
	return o.ring[(o.next-1+len(o.ring))%len(o.ring)]
}

func (o *SharePriceOracle) oldest() Observation {
	if o.count < len(o.ring) {
		return o.ring[0]
	}
	return o.ring[o.next]
}

// CheckUpkeep reports whether a new observation is due and the answer it would record.
func (o *SharePriceOracle) CheckUpkeep() (bool, sdkmath.Int, error) {
	live, err := o.liveAnswer()
	if err != nil {
		return false, sdkmath.ZeroInt(), err
	}
	if o.count == 0 {
		return true, live, nil
	}
	if o.clock.Now().Sub(o.latest().Timestamp) >= o.cfg.Heartbeat {
		return true, live, nil
	}
	// |live - answer| / answer > trigger
	diff := live.Sub(o.answer).Abs().MulRaw(utils.BpsDenominator)
	if diff.GT(o.answer.MulRaw(int64(o.cfg.DeviationTriggerBps))) {
		return true, live, nil
	}
	return false, live, nil
}

// PerformUpkeep records a new observation. Only the automation keeper may call it.
func (o *SharePriceOracle) PerformUpkeep(caller common.Address) error {
	if caller != o.cfg.Automation {
		return ErrNotAutomation
	}
	needed, live, err := o.CheckUpkeep()
	if err != nil {
		return err
	}
	if !needed {
		return ErrUpkeepNotNeeded
	}

	now := o.clock.Now()
	if o.count == 0 {
		o.push(Observation{Timestamp: now, Cumulative: sdkmath.ZeroInt()})
	} else {
		last := o.latest()
		elapsed := int64(now.Sub(last.Timestamp) / time.Second)
		if elapsed > 0 {
			o.push(Observation{Timestamp: now, Cumulative: last.Cumulative.Add(o.answer.MulRaw(elapsed))})
		}
	}
	o.previousAnswer = o.answer
	o.answer = live

	o.logger.Info().
		Str("answer", live.String()).
		Str("previous_answer", o.previousAnswer.String()).
		Int("observations", o.count).
		Msg("Share price observation recorded")
	return nil
}

func (o *SharePriceOracle) push(obs Observation) {
	o.ring[o.next] = obs
	o.next = (o.next + 1) % len(o.ring)
	if o.count < len(o.ring) {
		o.count++
	}
}

// GetLatest returns the latest answer, the time weighted average answer over the
// ring, and whether consumers must refuse to use them.
func (o *SharePriceOracle) GetLatest() (answer, twaa sdkmath.Int, notSafeToUse bool) {
	if o.count == 0 {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), true
	}
	now := o.clock.Now()
	last := o.latest()
	first := o.oldest()

	current := last.Cumulative.Add(o.answer.MulRaw(int64(now.Sub(last.Timestamp) / time.Second)))
	window := int64(now.Sub(first.Timestamp) / time.Second)
	twaa = o.answer
	if window > 0 {
		twaa = current.Sub(first.Cumulative).QuoRaw(window)
	}

	age := now.Sub(last.Timestamp)
	switch {
	case o.count < o.cfg.ObservationsToUse:
		notSafeToUse = true
	case age < o.cfg.GracePeriod:
		notSafeToUse = true
	case age > 2*o.cfg.Heartbeat:
		notSafeToUse = true
	case o.previousAnswer.IsPositive() && o.outsideBounds():
		notSafeToUse = true
	}
	return o.answer, twaa, notSafeToUse
}

// GetLatestAnswer returns only the latest answer, failing when it is not safe.
func (o *SharePriceOracle) GetLatestAnswer() (sdkmath.Int, error) {
	if o.count == 0 {
		return sdkmath.ZeroInt(), ErrNoObservations
	}
	answer, _, notSafe := o.GetLatest()
	if notSafe {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: share price oracle %s not safe", types.ErrStaleness, o.address.Hex())
	}
	return answer, nil
}

func (o *SharePriceOracle) outsideBounds() bool {
	lower := utils.ApplyBps(o.previousAnswer, o.cfg.AllowedAnswerChangeLowerBps)
	upper := utils.ApplyBps(o.previousAnswer, o.cfg.AllowedAnswerChangeUpperBps)
	return o.answer.LT(lower) || o.answer.GT(upper)
}

// Observations returns the stored observations, oldest first.
func (o *SharePriceOracle) Observations() []Observation {
	out := make([]Observation, 0, o.count)
	start := 0
	if o.count == len(o.ring) {
		start = o.next
	}
	for i := 0; i < o.count; i++ {
		out = append(out, o.ring[(start+i)%len(o.ring)])
	}
	return out
}

type oracleSnapshot struct {
	ring           []Observation
	next, count    int
	answer         sdkmath.Int
	previousAnswer sdkmath.Int
}

func (o *SharePriceOracle) Snapshot() any {
	ring := make([]Observation, len(o.ring))
	copy(ring, o.ring)
	return oracleSnapshot{ring: ring, next: o.next, count: o.count, answer: o.answer, previousAnswer: o.previousAnswer}
}

func (o *SharePriceOracle) Restore(snapshot any) {
	s := snapshot.(oracleSnapshot)
	o.ring, o.next, o.count, o.answer, o.previousAnswer = s.ring, s.next, s.count, s.answer, s.previousAnswer
}
