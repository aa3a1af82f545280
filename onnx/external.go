// Package onnx - External-Data Referenzen
//
// Dieses Modul enthaelt:
// - ExternalRef: Datei, Offset und Laenge eines ausgelagerten Tensors
// - Tensor.ExternalRef: Parst location/offset/length aus external_data
// - Tensor.SetExternalRef/SetLocation: Schreibt Referenzen um
package onnx

import (
	"fmt"
	"strconv"
)

// Schluessel in TensorProto.external_data
const (
	KeyLocation = "location"
	KeyOffset   = "offset"
	KeyLength   = "length"
)

// ExternalRef beschreibt, wo die Bytes eines Tensors in einer Payload-Datei liegen
type ExternalRef struct {
	File   string `json:"file"`
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// End gibt den ersten Offset hinter dem Tensor zurueck
func (r ExternalRef) End() uint64 {
	return r.Offset + r.Length
}

func (r ExternalRef) String() string {
	return fmt.Sprintf("%s[%d:%d]", r.File, r.Offset, r.End())
}

// IsExternal prueft ob die Bytes ausserhalb der Strukturdatei liegen
func (t *Tensor) IsExternal() bool {
	return t.DataLocation == StorageExternal
}

func (t *Tensor) entry(key string) (string, bool) {
	for _, kv := range t.ExternalData {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// ExternalRef parst die External-Data Eintraege. Alle drei Felder sind Pflicht.
func (t *Tensor) ExternalRef() (ExternalRef, error) {
	if !t.IsExternal() {
		return ExternalRef{}, fmt.Errorf("%w: tensor %q ist nicht extern", ErrMalformedGraph, t.Name)
	}

	location, ok := t.entry(KeyLocation)
	if !ok || location == "" {
		return ExternalRef{}, fmt.Errorf("%w: tensor %q: feld %q fehlt", ErrMalformedGraph, t.Name, KeyLocation)
	}

	var ref ExternalRef
	ref.File = location
	for _, f := range []struct {
		key string
		dst *uint64
	}{
		{KeyOffset, &ref.Offset},
		{KeyLength, &ref.Length},
	} {
		s, ok := t.entry(f.key)
		if !ok {
			return ExternalRef{}, fmt.Errorf("%w: tensor %q: feld %q fehlt", ErrMalformedGraph, t.Name, f.key)
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return ExternalRef{}, fmt.Errorf("%w: tensor %q: feld %q ungueltig: %q", ErrMalformedGraph, t.Name, f.key, s)
		}
		*f.dst = n
	}
	if ref.End() < ref.Offset {
		return ExternalRef{}, fmt.Errorf("%w: tensor %q: offset+length ueberlaeuft", ErrMalformedGraph, t.Name)
	}
	return ref, nil
}

func (t *Tensor) setEntry(key, value string) {
	for i := range t.ExternalData {
		if t.ExternalData[i].Key == key {
			t.ExternalData[i].Value = value
			return
		}
	}
	t.ExternalData = append(t.ExternalData, KeyValue{Key: key, Value: value})
}

// SetExternalRef markiert den Tensor als extern und setzt location, offset
// und length. Weitere Schluessel (z.B. checksum) bleiben erhalten.
func (t *Tensor) SetExternalRef(ref ExternalRef) {
	t.DataLocation = StorageExternal
	t.RawData = nil
	t.setEntry(KeyLocation, ref.File)
	t.setEntry(KeyOffset, strconv.FormatUint(ref.Offset, 10))
	t.setEntry(KeyLength, strconv.FormatUint(ref.Length, 10))
}

// SetLocation ersetzt nur den Dateinamen einer externen Referenz
func (t *Tensor) SetLocation(file string) {
	t.setEntry(KeyLocation, file)
}
