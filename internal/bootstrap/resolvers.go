package bootstrap

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/cellar/internal/adaptor"
	"github.com/elys-network/cellar/internal/pricerouter"
	"github.com/elys-network/cellar/internal/withdrawqueue"
)

// The engine packages resolve each other by address. These views look cellars and
// oracles up in the world so nothing has to be registered twice.

type shareVaults struct{ w *World }

func (r shareVaults) Resolve(addr common.Address) (adaptor.ShareVault, bool) {
	c, ok := r.w.Cellar(addr)
	if !ok {
		return nil, false
	}
	return c, true
}

type queueVaults struct{ w *World }

func (r queueVaults) Resolve(addr common.Address) (withdrawqueue.Vault, bool) {
	c, ok := r.w.Cellar(addr)
	if !ok {
		return nil, false
	}
	return c, true
}

type shareOracles struct{ w *World }

func (r shareOracles) Resolve(addr common.Address) (pricerouter.ShareOracle, bool) {
	for _, o := range r.w.Oracles {
		if o.Address() == addr {
			return o, true
		}
	}
	return nil, false
}
