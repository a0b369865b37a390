package zbmodel

import (
	"fmt"
	"strings"
	"sync"

	"github.com/urmzd/zgw/pkg/gwerr"
)

// ShortAddrUnknown and ShortAddrBroadcast are reserved short-address
// values per SPEC_FULL.md §3.
const (
	ShortAddrUnknown   uint16 = 0
	ShortAddrBroadcast uint16 = 0xFFFF
)

// MaxDevices bounds the Device Registry's capacity (§9 Open Question:
// default, promotable to config).
const MaxDevices = 64

// MaxEndpointsPerDevice bounds the endpoint table on a Device.
const MaxEndpointsPerDevice = 8

// Device is the authoritative device record (§3 "Device record").
type Device struct {
	UID         UID
	ShortAddr   uint16
	Name        string
	LastSeenMs  uint64
	HasOnOff    bool
	HasButton   bool
	Endpoints   []uint8 // endpoint ids known for this device, insertion order
}

// Registry is the persistent (mirrored via pkg/db) map from UID to Device,
// bounded to MaxDevices, with merge-on-duplicate-UID semantics on insert.
type Registry struct {
	mu      sync.RWMutex
	devices map[UID]*Device
	order   []UID // insertion order, for auto-naming and stable listing
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[UID]*Device)}
}

// Upsert inserts or merges d into the registry. On a duplicate UID, the
// existing slot is kept and merged: newer LastSeenMs wins, a non-empty Name
// wins over empty, and capability bits / endpoints are unioned.
func (r *Registry) Upsert(d Device) error {
	if !d.UID.Valid() {
		return gwerr.ErrInvalidArgs
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.devices[d.UID]
	if !ok {
		if len(r.devices) >= MaxDevices {
			return gwerr.ErrNoMem
		}
		cp := d
		r.devices[d.UID] = &cp
		r.order = append(r.order, d.UID)
		return nil
	}

	if d.LastSeenMs > existing.LastSeenMs {
		existing.LastSeenMs = d.LastSeenMs
	}
	if d.ShortAddr != ShortAddrUnknown {
		existing.ShortAddr = d.ShortAddr
	}
	if d.Name != "" {
		existing.Name = d.Name
	}
	existing.HasOnOff = existing.HasOnOff || d.HasOnOff
	existing.HasButton = existing.HasButton || d.HasButton
	existing.Endpoints = unionEndpoints(existing.Endpoints, d.Endpoints)
	return nil
}

func unionEndpoints(a, b []uint8) []uint8 {
	seen := make(map[uint8]bool, len(a))
	out := append([]uint8(nil), a...)
	for _, e := range a {
		seen[e] = true
	}
	for _, e := range b {
		if !seen[e] {
			out = append(out, e)
			seen[e] = true
		}
	}
	return out
}

// Get returns a copy of the device record for uid.
func (r *Registry) Get(uid UID) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[uid]
	if !ok {
		return Device{}, gwerr.ErrNotFound
	}
	return *d, nil
}

// SetName renames the device, subject to the ≤31-char limit of §3.
func (r *Registry) SetName(uid UID, name string) error {
	if len(name) > 31 {
		return gwerr.ErrInvalidArgs
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[uid]
	if !ok {
		return gwerr.ErrNotFound
	}
	d.Name = name
	return nil
}

// Remove deletes a device from the registry.
func (r *Registry) Remove(uid UID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[uid]; !ok {
		return gwerr.ErrNotFound
	}
	delete(r.devices, uid)
	for i, u := range r.order {
		if u == uid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns all devices in insertion order.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, 0, len(r.order))
	for _, uid := range r.order {
		out = append(out, *r.devices[uid])
	}
	return out
}

// AutoName assigns a default name of the form "<prefix><N>" where prefix is
// "switch" for button-capable devices, "relay" for on/off-capable devices,
// else "device", and N is one greater than the highest N already taken by
// devices sharing that prefix (§4.2).
func (r *Registry) AutoName(hasOnOff, hasButton bool) string {
	prefix := "device"
	switch {
	case hasButton:
		prefix = "switch"
	case hasOnOff:
		prefix = "relay"
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	maxN := 0
	for _, d := range r.devices {
		if !strings.HasPrefix(d.Name, prefix) || len(d.Name) <= len(prefix) {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(d.Name[len(prefix):], "%d", &n); err == nil && n > maxN {
			maxN = n
		}
	}
	return fmt.Sprintf("%s%d", prefix, maxN+1)
}
