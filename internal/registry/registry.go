package registry

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/elys-network/cellar/internal/adaptor"
	"github.com/elys-network/cellar/internal/logger"
	"github.com/elys-network/cellar/internal/types"
)

// Well known address slots.
const (
	SlotFeeCollector    uint32 = 0 // platform fee shares are minted here for bridging
	SlotSwapRouter      uint32 = 1
	SlotPriceRouter     uint32 = 2
	SlotFeesAndReserves uint32 = 3
)

var (
	ErrNotOwner            = fmt.Errorf("%w: caller is not the registry owner", types.ErrUnauthorized)
	ErrAdaptorNotTrusted   = fmt.Errorf("%w: adaptor not trusted", types.ErrConfiguration)
	ErrAdaptorExists       = fmt.Errorf("%w: adaptor already trusted", types.ErrConfiguration)
	ErrPositionNotTrusted  = fmt.Errorf("%w: position not trusted", types.ErrConfiguration)
	ErrPositionExists      = fmt.Errorf("%w: position id already used", types.ErrConfiguration)
	ErrDuplicatePosition   = fmt.Errorf("%w: adaptor and data already bound to another position", types.ErrConfiguration)
	ErrPositionUnknown     = fmt.Errorf("%w: unknown position", types.ErrConfiguration)
	ErrAssetNotSupported   = fmt.Errorf("%w: position asset not supported by price router", types.ErrConfiguration)
	ErrDebtFlagMismatch    = fmt.Errorf("%w: position debt flag does not match adaptor", types.ErrConfiguration)
	ErrReservedPositionID  = fmt.Errorf("%w: position id 0 is reserved", types.ErrInvalidInput)
	ErrAddressSlotNotFound = fmt.Errorf("%w: address slot not set", types.ErrConfiguration)
)

// PriceChecker is the part of the price router the trust gate needs.
type PriceChecker interface {
	IsSupported(denom string) bool
}

type positionEntry struct {
	data    types.PositionData
	asset   string
	trusted bool
}

// Change is one versioned mutation of the registry.
type Change struct {
	Version uint64 `json:"version"`
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
}

// Registry is the global trust gate. It is passed to every cellar at construction;
// each mutation bumps Version so holders can tell configurations apart.
type Registry struct {
	owner           common.Address
	prices          PriceChecker
	adaptors        map[types.AdaptorID]adaptor.Adaptor
	trustedAdaptors map[types.AdaptorID]bool
	positions       map[types.PositionID]positionEntry
	identities      map[common.Hash]types.PositionID // keccak(adaptor, data), never released
	addresses       map[uint32]common.Address
	paused          map[common.Address]bool
	version         uint64
	changes         []Change
	logger          zerolog.Logger
}

func New(owner common.Address, prices PriceChecker) *Registry {
	return &Registry{
		owner:           owner,
		prices:          prices,
		adaptors:        make(map[types.AdaptorID]adaptor.Adaptor),
		trustedAdaptors: make(map[types.AdaptorID]bool),
		positions:       make(map[types.PositionID]positionEntry),
		identities:      make(map[common.Hash]types.PositionID),
		addresses:       make(map[uint32]common.Address),
		paused:          make(map[common.Address]bool),
		logger:          logger.GetForComponent("registry"),
	}
}

func (r *Registry) Owner() common.Address { return r.owner }

func (r *Registry) record(kind, subject string) {
	r.version++
	r.changes = append(r.changes, Change{Version: r.version, Kind: kind, Subject: subject})
	r.logger.Info().Uint64("version", r.version).Str("kind", kind).Str("subject", subject).Msg("Registry updated")
}

func (r *Registry) TrustAdaptor(caller common.Address, a adaptor.Adaptor) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	id := a.Identifier()
	if r.trustedAdaptors[id] {
		return fmt.Errorf("%w: %s", ErrAdaptorExists, id)
	}
	r.adaptors[id] = a
	r.trustedAdaptors[id] = true
	r.record("trust_adaptor", id.String())
	return nil
}

// DistrustAdaptor stops new catalogue additions and calls. Positions already using it stay valued.
func (r *Registry) DistrustAdaptor(caller common.Address, id types.AdaptorID) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	if !r.trustedAdaptors[id] {
		return fmt.Errorf("%w: %s", ErrAdaptorNotTrusted, id)
	}
	r.trustedAdaptors[id] = false
	r.record("distrust_adaptor", id.String())
	return nil
}

func (r *Registry) IsAdaptorTrusted(id types.AdaptorID) bool {
	return r.trustedAdaptors[id]
}

// Adaptor returns the implementation registered under id, trusted or not.
func (r *Registry) Adaptor(id types.AdaptorID) (adaptor.Adaptor, error) {
	a, ok := r.adaptors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdaptorNotTrusted, id)
	}
	return a, nil
}

// positionIdentity is what makes two positions the same holding, whatever their ids.
func positionIdentity(adaptorID types.AdaptorID, adaptorData []byte) common.Hash {
	return crypto.Keccak256Hash(adaptorID[:], adaptorData)
}

// TrustPosition binds id to an adaptor and its data. The adaptor must be trusted, the
// asset it reports must be priceable and no other id may hold the same adaptor and
// data, otherwise nothing is recorded.
func (r *Registry) TrustPosition(caller common.Address, id types.PositionID, adaptorID types.AdaptorID, adaptorData []byte, isDebt bool) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	if id == types.IdlePosition {
		return ErrReservedPositionID
	}
	if _, used := r.positions[id]; used {
		return fmt.Errorf("%w: %d", ErrPositionExists, id)
	}
	if !r.trustedAdaptors[adaptorID] {
		return fmt.Errorf("%w: %s", ErrAdaptorNotTrusted, adaptorID)
	}
	identity := positionIdentity(adaptorID, adaptorData)
	if existing, used := r.identities[identity]; used {
		return fmt.Errorf("%w: position %d duplicates %d", ErrDuplicatePosition, id, existing)
	}
	a := r.adaptors[adaptorID]
	if a.IsDebt() != isDebt {
		return fmt.Errorf("%w: position %d", ErrDebtFlagMismatch, id)
	}
	asset, err := a.AssetOf(adaptorData)
	if err != nil {
		return fmt.Errorf("position %d asset: %w", id, err)
	}
	if !r.prices.IsSupported(asset) {
		return fmt.Errorf("%w: position %d asset %s", ErrAssetNotSupported, id, asset)
	}

	r.positions[id] = positionEntry{
		data:    types.PositionData{IsDebt: isDebt, Adaptor: adaptorID, AdaptorData: adaptorData},
		asset:   asset,
		trusted: true,
	}
	r.identities[identity] = id
	r.record("trust_position", fmt.Sprintf("%d:%s", id, asset))
	return nil
}

// DistrustPosition revokes trust. Vaults already holding the position can still unwind it.
func (r *Registry) DistrustPosition(caller common.Address, id types.PositionID) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	entry, ok := r.positions[id]
	if !ok || !entry.trusted {
		return fmt.Errorf("%w: %d", ErrPositionNotTrusted, id)
	}
	entry.trusted = false
	r.positions[id] = entry
	r.record("distrust_position", fmt.Sprintf("%d", id))
	return nil
}

func (r *Registry) IsTrusted(id types.PositionID) bool {
	return r.positions[id].trusted
}

// GetPositionData returns the binding of a known position, trusted or not.
func (r *Registry) GetPositionData(id types.PositionID) (types.PositionData, error) {
	entry, ok := r.positions[id]
	if !ok {
		return types.PositionData{}, fmt.Errorf("%w: %d", ErrPositionUnknown, id)
	}
	return entry.data, nil
}

// PositionAsset is the asset recorded when the position was trusted.
func (r *Registry) PositionAsset(id types.PositionID) (string, error) {
	entry, ok := r.positions[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrPositionUnknown, id)
	}
	return entry.asset, nil
}

func (r *Registry) SetAddress(caller common.Address, slot uint32, addr common.Address) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	r.addresses[slot] = addr
	r.record("set_address", fmt.Sprintf("%d:%s", slot, addr.Hex()))
	return nil
}

func (r *Registry) GetAddress(slot uint32) (common.Address, error) {
	addr, ok := r.addresses[slot]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %d", ErrAddressSlotNotFound, slot)
	}
	return addr, nil
}

// PauseTarget halts every user entry point of target.
func (r *Registry) PauseTarget(caller, target common.Address) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	r.paused[target] = true
	r.record("pause", target.Hex())
	return nil
}

func (r *Registry) UnpauseTarget(caller, target common.Address) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	delete(r.paused, target)
	r.record("unpause", target.Hex())
	return nil
}

func (r *Registry) IsPaused(target common.Address) bool {
	return r.paused[target]
}

func (r *Registry) Version() uint64 { return r.version }

// Changes returns the mutation history, oldest first.
func (r *Registry) Changes() []Change {
	out := make([]Change, len(r.changes))
	copy(out, r.changes)
	return out
}

type registrySnapshot struct {
	adaptors        map[types.AdaptorID]adaptor.Adaptor
	trustedAdaptors map[types.AdaptorID]bool
	positions       map[types.PositionID]positionEntry
	identities      map[common.Hash]types.PositionID
	addresses       map[uint32]common.Address
	paused          map[common.Address]bool
	version         uint64
	changes         int
}

func (r *Registry) Snapshot() any {
	s := registrySnapshot{
		adaptors:        make(map[types.AdaptorID]adaptor.Adaptor, len(r.adaptors)),
		trustedAdaptors: make(map[types.AdaptorID]bool, len(r.trustedAdaptors)),
		positions:       make(map[types.PositionID]positionEntry, len(r.positions)),
		identities:      make(map[common.Hash]types.PositionID, len(r.identities)),
		addresses:       make(map[uint32]common.Address, len(r.addresses)),
		paused:          make(map[common.Address]bool, len(r.paused)),
		version:         r.version,
		changes:         len(r.changes),
	}
	for k, v := range r.adaptors {
		s.adaptors[k] = v
	}
	for k, v := range r.trustedAdaptors {
		s.trustedAdaptors[k] = v
	}
	for k, v := range r.positions {
		s.positions[k] = v
	}
	for k, v := range r.identities {
		s.identities[k] = v
	}
	for k, v := range r.addresses {
		s.addresses[k] = v
	}
	for k, v := range r.paused {
		s.paused[k] = v
	}
	return s
}

func (r *Registry) Restore(snapshot any) {
	s := snapshot.(registrySnapshot)
	r.adaptors, r.trustedAdaptors, r.positions = s.adaptors, s.trustedAdaptors, s.positions
	r.identities = s.identities
	r.addresses, r.paused, r.version = s.addresses, s.paused, s.version
	r.changes = r.changes[:s.changes]
}
