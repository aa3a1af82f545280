// Package onnx - Kodierung des ONNX Wire-Formats
//
// Dieses Modul enthaelt die Gegenstuecke zu decode.go:
// - Marshal: ModelProto in Bytes
// - appendGraph/appendNode/appendAttribute/appendTensor/appendValueInfo
// - NewTensorValueInfo: ValueInfoProto fuer einen Tensor-Typ
//
// Die Ausgabe ist deterministisch: bekannte Felder in Feldnummer-Reihenfolge,
// danach die Rohbytes nicht interpretierter Felder.
package onnx

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal kodiert ein Modell
func Marshal(m *Model) []byte {
	var b []byte
	if m.IRVersion != 0 {
		b = protowire.AppendTag(b, modelIRVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.IRVersion))
	}
	b = appendString(b, modelProducerName, m.ProducerName)
	b = appendString(b, modelProducerVersion, m.ProducerVersion)
	if m.Graph != nil {
		b = appendMessage(b, modelGraph, appendGraph(nil, m.Graph))
	}
	for _, o := range m.OpsetImports {
		var ob []byte
		ob = appendString(ob, opsetDomain, o.Domain)
		ob = protowire.AppendTag(ob, opsetVersion, protowire.VarintType)
		ob = protowire.AppendVarint(ob, uint64(o.Version))
		b = appendMessage(b, modelOpsetImport, ob)
	}
	return append(b, m.unknown...)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendGraph(b []byte, g *Graph) []byte {
	for _, n := range g.Nodes {
		b = appendMessage(b, graphNode, appendNode(nil, n))
	}
	b = appendString(b, graphName, g.Name)
	for _, t := range g.Initializers {
		b = appendMessage(b, graphInitializer, appendTensor(nil, t))
	}
	for _, vi := range g.Inputs {
		b = appendMessage(b, graphInput, appendValueInfo(nil, vi))
	}
	for _, vi := range g.Outputs {
		b = appendMessage(b, graphOutput, appendValueInfo(nil, vi))
	}
	for _, vi := range g.ValueInfo {
		b = appendMessage(b, graphValueInfo, appendValueInfo(nil, vi))
	}
	return append(b, g.unknown...)
}

func appendNode(b []byte, n *Node) []byte {
	for _, in := range n.Inputs {
		// leere Namen markieren ausgelassene optionale Eingaben
		b = protowire.AppendTag(b, nodeInput, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, nodeOutput, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendString(b, nodeName, n.Name)
	b = appendString(b, nodeOpType, n.OpType)
	for _, a := range n.Attributes {
		b = appendMessage(b, nodeAttribute, appendAttribute(nil, a))
	}
	b = appendString(b, nodeDomain, n.Domain)
	return append(b, n.unknown...)
}

func appendAttribute(b []byte, a *Attribute) []byte {
	b = appendString(b, attrName, a.Name)
	if a.Type == AttributeInt {
		b = protowire.AppendTag(b, attrInt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Int))
	}
	if a.Tensor != nil {
		b = appendMessage(b, attrTensor, appendTensor(nil, a.Tensor))
	}
	if a.Graph != nil {
		b = appendMessage(b, attrGraph, appendGraph(nil, a.Graph))
	}
	for _, g := range a.Graphs {
		b = appendMessage(b, attrGraphs, appendGraph(nil, g))
	}
	if a.Type != AttributeUndefined {
		b = protowire.AppendTag(b, attrType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Type))
	}
	return append(b, a.unknown...)
}

func appendTensor(b []byte, t *Tensor) []byte {
	if len(t.Dims) > 0 {
		var packed []byte
		for _, d := range t.Dims {
			packed = protowire.AppendVarint(packed, uint64(d))
		}
		b = appendMessage(b, tensorDims, packed)
	}
	if t.DataType != DataTypeUndefined {
		b = protowire.AppendTag(b, tensorDataType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t.DataType))
	}
	b = appendString(b, tensorName, t.Name)
	if len(t.RawData) > 0 {
		b = appendMessage(b, tensorRawData, t.RawData)
	}
	for _, kv := range t.ExternalData {
		var eb []byte
		eb = appendString(eb, entryKey, kv.Key)
		eb = appendString(eb, entryValue, kv.Value)
		b = appendMessage(b, tensorExternalData, eb)
	}
	if t.DataLocation != StorageInline {
		b = protowire.AppendTag(b, tensorDataLocation, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t.DataLocation))
	}
	return append(b, t.unknown...)
}

func appendValueInfo(b []byte, vi *ValueInfo) []byte {
	b = appendString(b, valueInfoName, vi.Name)
	return append(b, vi.rest...)
}

// Feldnummern aus TypeProto
const (
	valueInfoType  protowire.Number = 2
	typeTensorType protowire.Number = 1
	tensorElemType protowire.Number = 1
	tensorShape    protowire.Number = 2
	shapeDim       protowire.Number = 1
	dimValue       protowire.Number = 1
	dimParam       protowire.Number = 2
)

const unknownDimParam = "?"

// NewTensorValueInfo baut ein ValueInfoProto fuer einen Tensor.
// Negative Dimensionen werden als symbolische Dimension kodiert.
func NewTensorValueInfo(name string, elem DataType, dims []int64) *ValueInfo {
	var shape []byte
	for _, d := range dims {
		var db []byte
		if d < 0 {
			db = appendString(db, dimParam, unknownDimParam)
		} else {
			db = protowire.AppendTag(db, dimValue, protowire.VarintType)
			db = protowire.AppendVarint(db, uint64(d))
		}
		shape = appendMessage(shape, shapeDim, db)
	}

	var tt []byte
	tt = protowire.AppendTag(tt, tensorElemType, protowire.VarintType)
	tt = protowire.AppendVarint(tt, uint64(elem))
	tt = appendMessage(tt, tensorShape, shape)

	return &ValueInfo{
		Name: name,
		rest: appendMessage(nil, valueInfoType, appendMessage(nil, typeTensorType, tt)),
	}
}

// Renamed gibt eine Kopie mit neuem Namen zurueck, der Typ bleibt erhalten
func (vi *ValueInfo) Renamed(name string) *ValueInfo {
	return &ValueInfo{Name: name, rest: vi.rest}
}

// ElemType liest den Elementtyp aus dem TypeProto; Undefined wenn unbekannt
func (vi *ValueInfo) ElemType() DataType {
	elem := DataTypeUndefined
	walkFields(vi.rest, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) { //nolint:errcheck
		if num != valueInfoType || typ != protowire.BytesType {
			return true, nil
		}
		tp, err := consumeBytes(val)
		if err != nil {
			return true, err
		}
		return true, scanMessage(tp, typeTensorType, func(tt []byte) error {
			return scanVarint(tt, tensorElemType, func(v uint64) { elem = DataType(int32(v)) })
		})
	})
	return elem
}

func scanMessage(b []byte, want protowire.Number, fn func([]byte) error) error {
	_, err := walkFields(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		if num != want || typ != protowire.BytesType {
			return true, nil
		}
		v, err := consumeBytes(val)
		if err != nil {
			return true, err
		}
		return true, fn(v)
	})
	return err
}

func scanVarint(b []byte, want protowire.Number, fn func(uint64)) error {
	_, err := walkFields(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		if num != want || typ != protowire.VarintType {
			return true, nil
		}
		v, err := consumeVarint(val)
		if err == nil {
			fn(v)
		}
		return true, err
	})
	return err
}
