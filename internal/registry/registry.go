package registry

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/types"
	"go.uber.org/zap"
)

var (
	ErrDuplicateVenue = errors.New("registry: duplicate venue")
	ErrUnknownVenue   = errors.New("registry: unknown venue")
)

// Registry is the authoritative catalogue of known venues. Mutations are
// immediately visible to subsequent settlements; an in-flight settlement
// works off an immutable Snapshot taken at validation time.
type Registry struct {
	mu     sync.RWMutex
	venues map[common.Address]types.VenueInfo
	order  []common.Address
	log    *zap.Logger
}

func New(log *zap.Logger) *Registry {
	return &Registry{
		venues: make(map[common.Address]types.VenueInfo, 8),
		log:    log,
	}
}

func (r *Registry) Add(router common.Address, vt types.VenueType, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.venues[router]; ok {
		return ErrDuplicateVenue
	}
	r.venues[router] = types.VenueInfo{Router: router, Type: vt, Name: name, Active: true}
	r.order = append(r.order, router)
	r.log.Info("venue registered",
		zap.String("router", router.Hex()),
		zap.String("type", string(vt)),
		zap.String("name", name),
	)
	return nil
}

func (r *Registry) Update(router common.Address, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.venues[router]
	if !ok {
		return ErrUnknownVenue
	}
	v.Active = active
	r.venues[router] = v
	r.log.Info("venue updated", zap.String("router", router.Hex()), zap.Bool("active", active))
	return nil
}

func (r *Registry) Remove(router common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.venues[router]; !ok {
		return ErrUnknownVenue
	}
	delete(r.venues, router)
	for i, a := range r.order {
		if a == router {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log.Info("venue removed", zap.String("router", router.Hex()))
	return nil
}

func (r *Registry) Get(router common.Address) (types.VenueInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[router]
	return v, ok
}

// List returns registered addresses in insertion order.
func (r *Registry) List() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, len(r.order))
	copy(out, r.order)
	return out
}

// Snapshot resolves every address in one consistent read. A later Remove
// cannot invalidate the returned slice.
func (r *Registry) Snapshot(routers []common.Address) ([]types.VenueInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.VenueInfo, 0, len(routers))
	for _, a := range routers {
		v, ok := r.venues[a]
		if !ok {
			return nil, ErrUnknownVenue
		}
		out = append(out, v)
	}
	return out, nil
}
