package dtvclient

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxOutlets is the number of outlet ports a single valve can drive
const MaxOutlets = 6

// Valve identifies one of the two independently plumbed shower zones
type Valve int

const (
	Valve1 Valve = 1
	Valve2 Valve = 2
)

// Other returns the valve that is not v
func (v Valve) Other() Valve {
	if v == Valve2 {
		return Valve1
	}
	return Valve2
}

// Valid reports whether v is 1 or 2
func (v Valve) Valid() bool {
	return v == Valve1 || v == Valve2
}

func (v Valve) String() string {
	return fmt.Sprintf("valve%d", int(v))
}

// OutletSelector is a set of outlet indices (1-6) on one valve.
// Bit n-1 is set when outlet n is selected.
type OutletSelector uint8

// NoOutlets is the empty selector; it serializes to "0"
const NoOutlets OutletSelector = 0

// NewOutletSelector builds a selector from outlet numbers.
// Duplicates collapse; numbers outside 1-6 are rejected.
func NewOutletSelector(outlets ...int) (OutletSelector, error) {
	var s OutletSelector
	for _, n := range outlets {
		if n < 1 || n > MaxOutlets {
			return NoOutlets, NewValidationError(fmt.Sprintf("outlet must be 1-%d, got %d", MaxOutlets, n))
		}
		s = s.With(n)
	}
	return s, nil
}

// AllOutlets returns the selector with outlets 1..ports selected.
// ports is clamped to 0-6.
func AllOutlets(ports int) OutletSelector {
	if ports > MaxOutlets {
		ports = MaxOutlets
	}
	var s OutletSelector
	for n := 1; n <= ports; n++ {
		s = s.With(n)
	}
	return s
}

// ParseOutletSelector parses the concatenated-digit wire form ("135").
// "0" and "" parse to the empty selector. Repeated digits are rejected.
func ParseOutletSelector(s string) (OutletSelector, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return NoOutlets, nil
	}

	var sel OutletSelector
	for _, r := range s {
		if r < '1' || r > '0'+MaxOutlets {
			return NoOutlets, NewValidationError(fmt.Sprintf("invalid outlet %q in %q", r, s))
		}
		n := int(r - '0')
		if sel.Has(n) {
			return NoOutlets, NewValidationError(fmt.Sprintf("outlet %d repeated in %q", n, s))
		}
		sel = sel.With(n)
	}
	return sel, nil
}

// With returns s with outlet n selected
func (s OutletSelector) With(n int) OutletSelector {
	if n < 1 || n > MaxOutlets {
		return s
	}
	return s | 1<<(n-1)
}

// Without returns s with outlet n cleared
func (s OutletSelector) Without(n int) OutletSelector {
	if n < 1 || n > MaxOutlets {
		return s
	}
	return s &^ (1 << (n - 1))
}

// Set returns s with outlet n selected or cleared
func (s OutletSelector) Set(n int, open bool) OutletSelector {
	if open {
		return s.With(n)
	}
	return s.Without(n)
}

// Has reports whether outlet n is selected
func (s OutletSelector) Has(n int) bool {
	if n < 1 || n > MaxOutlets {
		return false
	}
	return s&(1<<(n-1)) != 0
}

// IsEmpty reports whether no outlet is selected
func (s OutletSelector) IsEmpty() bool {
	return s&AllOutlets(MaxOutlets) == 0
}

// Outlets returns the selected outlet numbers in ascending order
func (s OutletSelector) Outlets() []int {
	outlets := []int{}
	for n := 1; n <= MaxOutlets; n++ {
		if s.Has(n) {
			outlets = append(outlets, n)
		}
	}
	return outlets
}

// Within reports whether every selected outlet exists on a valve with the
// given port count.
func (s OutletSelector) Within(ports int) bool {
	return s&^AllOutlets(ports) == 0
}

// String serializes the selector to its wire form: ascending unique digits,
// or "0" when empty.
func (s OutletSelector) String() string {
	if s.IsEmpty() {
		return "0"
	}
	var b strings.Builder
	for _, n := range s.Outlets() {
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// outletTypeNames maps the controller's outlet icon codes (0-23) to names
var outletTypeNames = []string{
	"Outlet",           // 0 blank / unassigned
	"Shower Head",      // 1
	"Shower Head",      // 2
	"Shower Head",      // 3
	"Shower Head",      // 4
	"Shower Head",      // 5
	"Shower Head",      // 6
	"Hand Shower",      // 7
	"Hand Shower",      // 8
	"Tub Spout",        // 9
	"Tub Filler",       // 10
	"Rain Head",        // 11
	"Body Spray",       // 12
	"Body Spray",       // 13
	"Body Spray",       // 14
	"Body Spray",       // 15
	"Body Spray Panel", // 16
	"Body Spray Panel", // 17
	"Multi Spray",      // 18
	"Rain Panel",       // 19
	"Spray Panel",      // 20
	"Spray Panel",      // 21
	"WaterTile",        // 22
	"Real Rain",        // 23
}

// OutletTypeNumber extracts the icon code from a type string like "outlet_23".
// Unparseable input yields 0.
func OutletTypeNumber(typeString string) int {
	n, ok := leadingInt(strings.TrimPrefix(typeString, "outlet_"))
	if !ok {
		return 0
	}
	return n
}

// OutletTypeName maps a type string like "outlet_23" to a display name
func OutletTypeName(typeString string) string {
	n, ok := leadingInt(strings.TrimPrefix(typeString, "outlet_"))
	if !ok || n < 0 || n >= len(outletTypeNames) {
		return outletTypeNames[0]
	}
	return outletTypeNames[n]
}
