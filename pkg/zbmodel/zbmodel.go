package zbmodel

import (
	"sync"

	"github.com/urmzd/zgw/pkg/gwerr"
)

// MaxClustersPerList bounds each of an Endpoint's server/client cluster
// lists (§3 "Endpoint record").
const MaxClustersPerList = 16

// Endpoint is a Simple Descriptor: profile, device type, and bounded
// server ("in") / client ("out") cluster lists. Membership is the
// invariant; InClusters/OutClusters preserve insertion order for display
// only.
type Endpoint struct {
	UID         UID
	ShortAddr   uint16
	EndpointID  uint8
	ProfileID   uint16
	DeviceID    uint16
	InClusters  []uint16
	OutClusters []uint16
}

// HasInCluster reports whether cluster is present in the server list.
func (e Endpoint) HasInCluster(cluster uint16) bool {
	return contains(e.InClusters, cluster)
}

// HasOutCluster reports whether cluster is present in the client list.
func (e Endpoint) HasOutCluster(cluster uint16) bool {
	return contains(e.OutClusters, cluster)
}

func contains(list []uint16, v uint16) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

type endpointKey struct {
	uid UID
	ep  uint8
}

// Model is the volatile (UID, endpoint) -> Simple Descriptor table.
type Model struct {
	mu  sync.RWMutex
	eps map[endpointKey]*Endpoint
}

// NewModel returns an empty Model.
func NewModel() *Model {
	return &Model{eps: make(map[endpointKey]*Endpoint)}
}

// UpsertEndpoint replaces the endpoint record by (uid, endpoint id).
func (m *Model) UpsertEndpoint(ep Endpoint) error {
	if !ep.UID.Valid() || ep.EndpointID == 0 || ep.EndpointID > 240 {
		return gwerr.ErrInvalidArgs
	}
	if len(ep.InClusters) > MaxClustersPerList || len(ep.OutClusters) > MaxClustersPerList {
		return gwerr.ErrInvalidArgs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := ep
	m.eps[endpointKey{ep.UID, ep.EndpointID}] = &cp
	return nil
}

// GetEndpoint looks up a single endpoint by (uid, endpoint id).
func (m *Model) GetEndpoint(uid UID, endpointID uint8) (Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.eps[endpointKey{uid, endpointID}]
	if !ok {
		return Endpoint{}, gwerr.ErrNotFound
	}
	return *ep, nil
}

// ListEndpoints returns every endpoint known for uid, in no particular
// order (the map doesn't preserve insertion order; callers needing display
// order should sort by EndpointID, which matches original hardware
// enumeration order in practice).
func (m *Model) ListEndpoints(uid UID) []Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Endpoint
	for k, ep := range m.eps {
		if k.uid == uid {
			out = append(out, *ep)
		}
	}
	return out
}

// FindUIDByShort returns the first UID bearing the given short address.
func (m *Model) FindUIDByShort(short uint16) (UID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, ep := range m.eps {
		if ep.ShortAddr == short {
			return k.uid, nil
		}
	}
	return 0, gwerr.ErrNotFound
}

// RemoveDevice drops every endpoint belonging to uid (used on device
// leave/removal).
func (m *Model) RemoveDevice(uid UID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.eps {
		if k.uid == uid {
			delete(m.eps, k)
		}
	}
}
