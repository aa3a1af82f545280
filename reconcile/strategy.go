// Package reconcile - Wiederherstellung externer Referenzen nach dem Merge
//
// Modul: strategy.go - Die zwei Wege zur zusammengefuehrten Payload
// Enthaelt: Strategy (Aliased | Constructed), Placement, LinkKind
package reconcile

import (
	"fmt"

	"github.com/leks-forever/model-convert/onnx"
)

// Strategy beschreibt, wie die zusammengefuehrte Payload entstanden ist.
// Implementiert nur von Aliased und Constructed.
type Strategy interface {
	Name() string
	isStrategy()
}

// LinkKind unterscheidet Symlink und Hardlink beim Alias
type LinkKind int

const (
	LinkSymbolic LinkKind = iota
	LinkHard
)

func (k LinkKind) String() string {
	if k == LinkHard {
		return "hardlink"
	}
	return "symlink"
}

// Aliased: alle Tensoren sind geteilt, die Payload ist ein Verweis auf
// die Payload von Quelle A. Es werden keine Bytes kopiert.
type Aliased struct {
	// Target ist der Pfad der Payload von A
	Target string
	Link   LinkKind
}

func (Aliased) Name() string { return "aliased" }
func (Aliased) isStrategy()  {}

// Placement ist die neue Position eines Tensors, der nur in B existiert
type Placement struct {
	Name string
	Ref  onnx.ExternalRef
}

// Constructed: Payload von A als Praefix, dahinter die Fenster der
// Tensoren, die nur B kennt, in Deklarationsreihenfolge von B
type Constructed struct {
	BaseOffset uint64
	Appended   []Placement
}

func (Constructed) Name() string { return "constructed" }
func (Constructed) isStrategy()  {}

// Size gibt die erwartete Groesse der Payload zurueck
func (c Constructed) Size() uint64 {
	size := c.BaseOffset
	for _, p := range c.Appended {
		size += p.Ref.Length
	}
	return size
}

func describe(s Strategy) string {
	switch s := s.(type) {
	case Aliased:
		return fmt.Sprintf("%s -> %s (%s)", s.Name(), s.Target, s.Link)
	case Constructed:
		return fmt.Sprintf("%s base=%d appended=%d", s.Name(), s.BaseOffset, len(s.Appended))
	default:
		return "none"
	}
}
