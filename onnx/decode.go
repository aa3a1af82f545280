// Package onnx - Dekodierung des ONNX Wire-Formats
//
// Dieses Modul enthaelt die protowire-basierten Leser:
// - Unmarshal: ModelProto aus Bytes
// - walkFields: Iteration ueber Tag/Wert-Paare einer Nachricht
// - decodeGraph/decodeNode/decodeAttribute/decodeTensor/decodeValueInfo
package onnx

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Feldnummern aus onnx.proto
const (
	modelIRVersion       protowire.Number = 1
	modelProducerName    protowire.Number = 2
	modelProducerVersion protowire.Number = 3
	modelGraph           protowire.Number = 7
	modelOpsetImport     protowire.Number = 8

	opsetDomain  protowire.Number = 1
	opsetVersion protowire.Number = 2

	graphNode        protowire.Number = 1
	graphName        protowire.Number = 2
	graphInitializer protowire.Number = 5
	graphInput       protowire.Number = 11
	graphOutput      protowire.Number = 12
	graphValueInfo   protowire.Number = 13

	nodeInput     protowire.Number = 1
	nodeOutput    protowire.Number = 2
	nodeName      protowire.Number = 3
	nodeOpType    protowire.Number = 4
	nodeAttribute protowire.Number = 5
	nodeDomain    protowire.Number = 7

	attrName   protowire.Number = 1
	attrInt    protowire.Number = 3
	attrTensor protowire.Number = 5
	attrGraph  protowire.Number = 6
	attrGraphs protowire.Number = 11
	attrType   protowire.Number = 20

	tensorDims         protowire.Number = 1
	tensorDataType     protowire.Number = 2
	tensorName         protowire.Number = 8
	tensorRawData      protowire.Number = 9
	tensorExternalData protowire.Number = 13
	tensorDataLocation protowire.Number = 14

	entryKey   protowire.Number = 1
	entryValue protowire.Number = 2

	valueInfoName protowire.Number = 1
)

// fieldFunc verarbeitet ein Feld; handled=false legt es als Rohbytes ab
type fieldFunc func(num protowire.Number, typ protowire.Type, val []byte) (handled bool, err error)

// walkFields iteriert ueber alle Felder einer Nachricht und gibt die nicht
// behandelten Felder (inklusive Tag) zurueck
func walkFields(b []byte, fn fieldFunc) (unknown []byte, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, wireError(protowire.ParseError(n))
		}
		m := protowire.ConsumeFieldValue(num, typ, b[n:])
		if m < 0 {
			return nil, wireError(protowire.ParseError(m))
		}

		handled, err := fn(num, typ, b[n:n+m])
		if err != nil {
			return nil, err
		}
		if !handled {
			unknown = append(unknown, b[:n+m]...)
		}
		b = b[n+m:]
	}
	return unknown, nil
}

func wireError(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedGraph, err)
}

func consumeBytes(val []byte) ([]byte, error) {
	v, n := protowire.ConsumeBytes(val)
	if n < 0 {
		return nil, wireError(protowire.ParseError(n))
	}
	return v, nil
}

func consumeVarint(val []byte) (uint64, error) {
	v, n := protowire.ConsumeVarint(val)
	if n < 0 {
		return 0, wireError(protowire.ParseError(n))
	}
	return v, nil
}

func consumeString(val []byte) (string, error) {
	v, err := consumeBytes(val)
	return string(v), err
}

// Unmarshal dekodiert ein ModelProto
func Unmarshal(b []byte) (*Model, error) {
	var m Model
	var err error
	m.unknown, err = walkFields(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		switch {
		case num == modelIRVersion && typ == protowire.VarintType:
			v, err := consumeVarint(val)
			m.IRVersion = int64(v)
			return true, err
		case num == modelProducerName && typ == protowire.BytesType:
			v, err := consumeString(val)
			m.ProducerName = v
			return true, err
		case num == modelProducerVersion && typ == protowire.BytesType:
			v, err := consumeString(val)
			m.ProducerVersion = v
			return true, err
		case num == modelOpsetImport && typ == protowire.BytesType:
			v, err := consumeBytes(val)
			if err != nil {
				return true, err
			}
			o, err := decodeOpset(v)
			m.OpsetImports = append(m.OpsetImports, o)
			return true, err
		case num == modelGraph && typ == protowire.BytesType:
			v, err := consumeBytes(val)
			if err != nil {
				return true, err
			}
			m.Graph, err = decodeGraph(v)
			return true, err
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if m.Graph == nil {
		return nil, fmt.Errorf("%w: modell ohne graph", ErrMalformedGraph)
	}
	return &m, nil
}

func decodeOpset(b []byte) (OperatorSetID, error) {
	var o OperatorSetID
	_, err := walkFields(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		switch {
		case num == opsetDomain && typ == protowire.BytesType:
			v, err := consumeString(val)
			o.Domain = v
			return true, err
		case num == opsetVersion && typ == protowire.VarintType:
			v, err := consumeVarint(val)
			o.Version = int64(v)
			return true, err
		}
		return true, nil
	})
	return o, err
}

func decodeGraph(b []byte) (*Graph, error) {
	g := &Graph{}
	var err error
	g.unknown, err = walkFields(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		if typ != protowire.BytesType {
			return false, nil
		}
		switch num {
		case graphName:
			v, err := consumeString(val)
			g.Name = v
			return true, err
		case graphNode:
			v, err := consumeBytes(val)
			if err != nil {
				return true, err
			}
			n, err := decodeNode(v)
			g.Nodes = append(g.Nodes, n)
			return true, err
		case graphInitializer:
			v, err := consumeBytes(val)
			if err != nil {
				return true, err
			}
			t, err := decodeTensor(v)
			g.Initializers = append(g.Initializers, t)
			return true, err
		case graphInput, graphOutput, graphValueInfo:
			v, err := consumeBytes(val)
			if err != nil {
				return true, err
			}
			vi, err := decodeValueInfo(v)
			if err != nil {
				return true, err
			}
			switch num {
			case graphInput:
				g.Inputs = append(g.Inputs, vi)
			case graphOutput:
				g.Outputs = append(g.Outputs, vi)
			default:
				g.ValueInfo = append(g.ValueInfo, vi)
			}
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func decodeNode(b []byte) (*Node, error) {
	n := &Node{}
	var err error
	n.unknown, err = walkFields(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		if typ != protowire.BytesType {
			return false, nil
		}
		switch num {
		case nodeInput:
			v, err := consumeString(val)
			n.Inputs = append(n.Inputs, v)
			return true, err
		case nodeOutput:
			v, err := consumeString(val)
			n.Outputs = append(n.Outputs, v)
			return true, err
		case nodeName:
			v, err := consumeString(val)
			n.Name = v
			return true, err
		case nodeOpType:
			v, err := consumeString(val)
			n.OpType = v
			return true, err
		case nodeDomain:
			v, err := consumeString(val)
			n.Domain = v
			return true, err
		case nodeAttribute:
			v, err := consumeBytes(val)
			if err != nil {
				return true, err
			}
			a, err := decodeAttribute(v)
			n.Attributes = append(n.Attributes, a)
			return true, err
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func decodeAttribute(b []byte) (*Attribute, error) {
	a := &Attribute{}
	var err error
	a.unknown, err = walkFields(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		switch {
		case num == attrName && typ == protowire.BytesType:
			v, err := consumeString(val)
			a.Name = v
			return true, err
		case num == attrType && typ == protowire.VarintType:
			v, err := consumeVarint(val)
			a.Type = AttributeType(int32(v))
			return true, err
		case num == attrInt && typ == protowire.VarintType:
			v, err := consumeVarint(val)
			a.Int = int64(v)
			return true, err
		case num == attrTensor && typ == protowire.BytesType:
			v, err := consumeBytes(val)
			if err != nil {
				return true, err
			}
			a.Tensor, err = decodeTensor(v)
			return true, err
		case num == attrGraph && typ == protowire.BytesType:
			v, err := consumeBytes(val)
			if err != nil {
				return true, err
			}
			a.Graph, err = decodeGraph(v)
			return true, err
		case num == attrGraphs && typ == protowire.BytesType:
			v, err := consumeBytes(val)
			if err != nil {
				return true, err
			}
			g, err := decodeGraph(v)
			a.Graphs = append(a.Graphs, g)
			return true, err
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func decodeTensor(b []byte) (*Tensor, error) {
	t := &Tensor{}
	var err error
	t.unknown, err = walkFields(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		switch {
		case num == tensorName && typ == protowire.BytesType:
			v, err := consumeString(val)
			t.Name = v
			return true, err
		case num == tensorDims && typ == protowire.VarintType:
			v, err := consumeVarint(val)
			t.Dims = append(t.Dims, int64(v))
			return true, err
		case num == tensorDims && typ == protowire.BytesType:
			// packed
			v, err := consumeBytes(val)
			for err == nil && len(v) > 0 {
				d, n := protowire.ConsumeVarint(v)
				if n < 0 {
					return true, wireError(protowire.ParseError(n))
				}
				t.Dims = append(t.Dims, int64(d))
				v = v[n:]
			}
			return true, err
		case num == tensorDataType && typ == protowire.VarintType:
			v, err := consumeVarint(val)
			t.DataType = DataType(int32(v))
			return true, err
		case num == tensorRawData && typ == protowire.BytesType:
			v, err := consumeBytes(val)
			t.RawData = v
			return true, err
		case num == tensorDataLocation && typ == protowire.VarintType:
			v, err := consumeVarint(val)
			t.DataLocation = DataLocation(int32(v))
			return true, err
		case num == tensorExternalData && typ == protowire.BytesType:
			v, err := consumeBytes(val)
			if err != nil {
				return true, err
			}
			kv, err := decodeEntry(v)
			t.ExternalData = append(t.ExternalData, kv)
			return true, err
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func decodeEntry(b []byte) (KeyValue, error) {
	var kv KeyValue
	_, err := walkFields(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		if typ != protowire.BytesType {
			return true, nil
		}
		var err error
		switch num {
		case entryKey:
			kv.Key, err = consumeString(val)
		case entryValue:
			kv.Value, err = consumeString(val)
		}
		return true, err
	})
	return kv, err
}

func decodeValueInfo(b []byte) (*ValueInfo, error) {
	vi := &ValueInfo{}
	var err error
	vi.rest, err = walkFields(b, func(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
		if num == valueInfoName && typ == protowire.BytesType {
			v, err := consumeString(val)
			vi.Name = v
			return true, err
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return vi, nil
}
