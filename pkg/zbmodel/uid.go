// Package zbmodel holds the gateway's in-memory device model: the Device
// Registry, the volatile Zigbee Model (endpoint/Simple-Descriptor table),
// the bounded State Store, and the bounded Sensor Store. See SPEC_FULL.md
// §3 and §4.2. Grounded on original_source's device_registry.c,
// state_store.c and sensor_store.c, generalized from fixed C arrays under a
// critical section to Go maps under a sync.RWMutex.
package zbmodel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/urmzd/zgw/pkg/gwerr"
)

// UID is a stable 64-bit EUI-64 device identifier, formatted as "0x" plus
// 16 hex digits. Equality is numeric, not string: ParseUID normalizes case
// so two UIDs compare equal regardless of input case.
type UID uint64

// ParseUID validates and parses a device UID string of the form
// "0x"+16 hex digits (case-insensitive).
func ParseUID(s string) (UID, error) {
	if len(s) != 18 || !strings.HasPrefix(s, "0x") {
		return 0, fmt.Errorf("%w: uid must be 0x + 16 hex digits", gwerr.ErrInvalidArgs)
	}
	v, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", gwerr.ErrInvalidArgs, err)
	}
	return UID(v), nil
}

// String formats the UID as "0x" followed by 16 lowercase hex digits, per
// SPEC_FULL.md §6.
func (u UID) String() string {
	return fmt.Sprintf("0x%016x", uint64(u))
}

// Valid reports whether u is a plausible device UID (currently any
// non-zero 64-bit value is accepted as the data model doesn't reserve a
// sentinel UID value).
func (u UID) Valid() bool {
	return u != 0
}
