package kms

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/ruteri/identity-custody-backend/metrics"
	"go.uber.org/atomic"
)

// KeyPoolConfig configures root key discovery.
type KeyPoolConfig struct {
	// AliasPrefix names the root keys: <AliasPrefix>-1 .. <AliasPrefix>-<Size>.
	AliasPrefix string
	Size        int
	Rotation    interfaces.RotationPolicy
}

type poolEntry struct {
	rootKeyID string
	state     interfaces.RootKeyState
	createdAt time.Time
	lastUsed  *atomic.Time
}

// KeyPool holds the root keys discovered on the root key service and selects
// one per wrap operation. The entry list is replaced only by Initialize and Refresh;
// selections are concurrent reads.
type KeyPool struct {
	rks    interfaces.RootKeyService
	prefix string
	policy interfaces.RotationPolicy
	log    *slog.Logger

	mu      sync.RWMutex
	size    int
	entries []*poolEntry
}

func NewKeyPool(rks interfaces.RootKeyService, cfg KeyPoolConfig, log *slog.Logger) *KeyPool {
	return &KeyPool{
		rks:    rks,
		prefix: cfg.AliasPrefix,
		policy: cfg.Rotation,
		size:   cfg.Size,
		log:    log,
	}
}

// RootKeyAlias returns the root key id of pool slot n (1-based).
func RootKeyAlias(prefix string, n int) string {
	return fmt.Sprintf("%s-%d", prefix, n)
}

func (p *KeyPool) Alias(n int) string {
	return RootKeyAlias(p.prefix, n)
}

// Initialize probes size aliases. Unreachable aliases are logged and skipped.
// An empty result is not an error; SelectKey reports ErrNoActiveKeys instead.
func (p *KeyPool) Initialize(ctx context.Context, size int) error {
	if size < 1 {
		return fmt.Errorf("key pool size must be positive, got %d", size)
	}

	entries, err := p.probe(ctx, size)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.size = size
	p.entries = entries
	p.mu.Unlock()

	p.log.Info("Key pool initialized",
		"strategy", p.rks.Name(),
		"probed", size,
		"reachable", len(entries),
		"active", p.activeCount())
	return nil
}

// Refresh re-probes the same number of aliases and replaces the pool.
// When no alias is reachable the previous entries are kept.
func (p *KeyPool) Refresh(ctx context.Context) error {
	p.mu.RLock()
	size := p.size
	previous := len(p.entries)
	p.mu.RUnlock()

	if size < 1 {
		return fmt.Errorf("key pool size must be positive, got %d", size)
	}

	entries, err := p.probe(ctx, size)
	if err != nil {
		return err
	}
	if len(entries) == 0 && previous > 0 {
		p.log.Warn("No root key alias reachable, keeping previous key pool",
			"strategy", p.rks.Name(),
			"probed", size,
			"kept", previous)
		return nil
	}

	p.mu.Lock()
	p.entries = entries
	p.mu.Unlock()

	p.log.Info("Key pool refreshed",
		"strategy", p.rks.Name(),
		"probed", size,
		"reachable", len(entries),
		"active", p.activeCount())
	return nil
}

func (p *KeyPool) probe(ctx context.Context, size int) ([]*poolEntry, error) {
	entries := make([]*poolEntry, 0, size)
	for n := 1; n <= size; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		alias := p.Alias(n)
		meta, err := p.rks.DescribeKey(ctx, alias)
		if err != nil {
			p.log.Warn("Root key alias unreachable, skipping", "rootKeyId", alias, "err", err)
			metrics.KeyPoolProbes.WithLabelValues("unreachable").Inc()
			continue
		}

		metrics.KeyPoolProbes.WithLabelValues(string(meta.State)).Inc()
		entries = append(entries, &poolEntry{
			rootKeyID: alias,
			state:     meta.State,
			createdAt: meta.CreatedAt,
			lastUsed:  atomic.NewTime(time.Time{}),
		})
	}
	return entries, nil
}

// SelectKey returns the id of a uniformly random Active root key.
func (p *KeyPool) SelectKey() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	active := make([]*poolEntry, 0, len(p.entries))
	for _, e := range p.entries {
		if e.state == interfaces.RootKeyActive {
			active = append(active, e)
		}
	}
	if len(active) == 0 {
		return "", interfaces.ErrNoActiveKeys
	}

	selected := active[rand.IntN(len(active))]
	selected.lastUsed.Store(time.Now())
	metrics.KeyPoolSelections.WithLabelValues(selected.rootKeyID).Inc()
	return selected.rootKeyID, nil
}

// Entries returns a snapshot of the pool.
func (p *KeyPool) Entries() []interfaces.KeyPoolEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]interfaces.KeyPoolEntry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, interfaces.KeyPoolEntry{
			RootKeyID:    e.rootKeyID,
			State:        e.state,
			CreatedAt:    e.createdAt,
			LastUsedTime: e.lastUsed.Load(),
		})
	}
	return out
}

// RotationPolicy is reported for an external rotation job; the pool never rotates keys itself.
func (p *KeyPool) RotationPolicy() interfaces.RotationPolicy {
	return p.policy
}

func (p *KeyPool) activeCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, e := range p.entries {
		if e.state == interfaces.RootKeyActive {
			n++
		}
	}
	return n
}
