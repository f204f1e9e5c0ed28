// Package pack defines the closed set of jurisdiction packs and the
// compatibility rule every other component consumes. A pack is a
// jurisdiction-scoped permission boundary: GLOBAL is compatible with every
// pack, all other packs are compatible only with themselves.
package pack

import (
	"github.com/cleargate-io/cleargate/pkg/errdefs"
)

// Pack identifies a jurisdiction pack.
type Pack string

const (
	Global   Pack = "GLOBAL"
	MTTax    Pack = "MT_TAX"
	MTCSP    Pack = "MT_CSP"
	RWTax    Pack = "RW_TAX"
	RWNotary Pack = "RW_NOTARY"
)

// All contains every known pack.
var All = []Pack{Global, MTTax, MTCSP, RWTax, RWNotary}

// Valid reports whether p is a member of the closed set.
func (p Pack) Valid() bool {
	for _, known := range All {
		if p == known {
			return true
		}
	}
	return false
}

func (p Pack) String() string { return string(p) }

// Parse converts a stored string into a Pack.
func Parse(s string) (Pack, error) {
	p := Pack(s)
	if !p.Valid() {
		return "", errdefs.Validation("jurisdiction_pack", "unknown pack "+s)
	}
	return p, nil
}

// Compatible reports whether an item bound to itemPack may be used under
// targetPack.
func Compatible(itemPack, targetPack Pack) bool {
	return itemPack == targetPack || itemPack == Global
}

// Enforce returns a PackMismatchError when itemPack is not usable under
// targetPack, nil otherwise.
func Enforce(itemPack, targetPack Pack) error {
	if Compatible(itemPack, targetPack) {
		return nil
	}
	return &errdefs.PackMismatchError{ItemPack: string(itemPack), TargetPack: string(targetPack)}
}
