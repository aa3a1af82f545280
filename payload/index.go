// Package payload - Index externer Tensoren einer Quell-Graphdatei
//
// Dieses Modul enthaelt:
// - Index: Geordnete Abbildung Tensor-Name -> ExternalRef
// - Build: Baut den Index nur aus den Metadaten der Strukturdatei
// - Shared/UniqueTo: Schnitt- und Differenzmengen zweier Indizes
//
// Der Index wird einmal pro Quellgraph gebaut und danach nur noch gelesen.
package payload

import (
	"fmt"
	"iter"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/leks-forever/model-convert/onnx"
)

// Index bildet Tensor-Namen in Deklarationsreihenfolge auf ihre Referenz ab
type Index struct {
	refs *orderedmap.OrderedMap[string, onnx.ExternalRef]
}

// Build sammelt alle externen Initializer. Inline-Tensoren fehlen im Index.
// Es werden keine Payload-Bytes gelesen.
func Build(m *onnx.Model) (*Index, error) {
	idx := &Index{refs: orderedmap.New[string, onnx.ExternalRef]()}
	for t := range m.Initializers() {
		if !t.IsExternal() {
			continue
		}
		ref, err := t.ExternalRef()
		if err != nil {
			return nil, err
		}
		if _, dup := idx.refs.Set(t.Name, ref); dup {
			return nil, fmt.Errorf("%w: tensor %q mehrfach deklariert", onnx.ErrMalformedGraph, t.Name)
		}
	}
	return idx, nil
}

// Get gibt die Referenz eines Tensors zurueck
func (i *Index) Get(name string) (onnx.ExternalRef, bool) {
	return i.refs.Get(name)
}

// Has prueft ob ein Tensor extern gespeichert ist
func (i *Index) Has(name string) bool {
	_, ok := i.refs.Get(name)
	return ok
}

// Len gibt die Anzahl externer Tensoren zurueck
func (i *Index) Len() int {
	return i.refs.Len()
}

// All iteriert in Deklarationsreihenfolge
func (i *Index) All() iter.Seq2[string, onnx.ExternalRef] {
	return func(yield func(string, onnx.ExternalRef) bool) {
		for p := i.refs.Oldest(); p != nil; p = p.Next() {
			if !yield(p.Key, p.Value) {
				return
			}
		}
	}
}

// Names gibt alle Namen in Deklarationsreihenfolge zurueck
func (i *Index) Names() []string {
	names := make([]string, 0, i.Len())
	for name := range i.All() {
		names = append(names, name)
	}
	return names
}

// TotalBytes summiert die Laengen aller Referenzen
func (i *Index) TotalBytes() (n uint64) {
	for _, ref := range i.All() {
		n += ref.Length
	}
	return n
}

// Files gibt die referenzierten Payload-Dateien in Reihenfolge des ersten Auftretens zurueck
func (i *Index) Files() []string {
	var files []string
	seen := make(map[string]bool)
	for _, ref := range i.All() {
		if !seen[ref.File] {
			seen[ref.File] = true
			files = append(files, ref.File)
		}
	}
	return files
}

// File gibt die einzige Payload-Datei des Index zurueck.
// Graphen mit mehreren Payload-Dateien werden abgelehnt.
func (i *Index) File() (string, error) {
	files := i.Files()
	switch len(files) {
	case 0:
		return "", fmt.Errorf("%w: keine externen tensoren", onnx.ErrMalformedGraph)
	case 1:
		return files[0], nil
	default:
		return "", fmt.Errorf("%w: mehrere payload-dateien %v", onnx.ErrMalformedGraph, files)
	}
}

// Shared gibt names(a) ∩ names(b) in der Reihenfolge von a zurueck
func Shared(a, b *Index) []string {
	var names []string
	for name := range a.All() {
		if b.Has(name) {
			names = append(names, name)
		}
	}
	return names
}

// UniqueTo gibt names(b) − names(a) in der Reihenfolge von b zurueck
func UniqueTo(b, a *Index) []string {
	var names []string
	for name := range b.All() {
		if !a.Has(name) {
			names = append(names, name)
		}
	}
	return names
}
