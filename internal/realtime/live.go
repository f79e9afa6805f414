package realtime

import (
	"sync"

	"fleetvision/internal/model"
)

// LiveCache keeps the latest fanned-out update per vehicle so newly opened
// dashboards can seed their map without replaying the stream.
type LiveCache struct {
	mu sync.Mutex
	// key: tenant|vehicleId
	m map[string]model.VehicleUpdate
	// byTenant tracks insertion order for stable listings
	byTenant map[string][]string
}

// NewLiveCache constructs a LiveCache.
func NewLiveCache() *LiveCache {
	return &LiveCache{m: map[string]model.VehicleUpdate{}, byTenant: map[string][]string{}}
}

func (c *LiveCache) key(tenant, vehicleID string) string { return tenant + "|" + vehicleID }

// Upsert stores or updates the latest update for a vehicle.
func (c *LiveCache) Upsert(tenant string, upd model.VehicleUpdate) {
	if tenant == "" || upd.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.key(tenant, upd.ID)
	if _, ok := c.m[k]; !ok {
		c.byTenant[tenant] = append(c.byTenant[tenant], k)
	}
	c.m[k] = upd
}

// ListByTenant returns the latest updates for a tenant's vehicles.
func (c *LiveCache) ListByTenant(tenant string) []model.VehicleUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.byTenant[tenant]
	out := make([]model.VehicleUpdate, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.m[k])
	}
	return out
}
