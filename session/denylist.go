package session

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Denylist is the in-memory fast path for blocked access tokens.
// Entries expire together with the token they block.
type Denylist struct {
	cache *ttlcache.Cache[string, struct{}]
}

func NewDenylist(capacity uint64) *Denylist {
	return &Denylist{
		cache: ttlcache.New[string, struct{}](
			ttlcache.WithCapacity[string, struct{}](capacity),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
	}
}

// Add blocks tokenID until expiresAt. Already expired tokens are ignored.
func (d *Denylist) Add(tokenID string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	d.cache.Set(tokenID, struct{}{}, ttl)
}

// Contains reports whether tokenID is blocked and not yet expired.
func (d *Denylist) Contains(tokenID string) bool {
	return d.cache.Get(tokenID) != nil
}

func (d *Denylist) Len() int {
	return d.cache.Len()
}

// Start runs the expiry loop until Stop is called.
func (d *Denylist) Start() {
	d.cache.Start()
}

func (d *Denylist) Stop() {
	d.cache.Stop()
}
