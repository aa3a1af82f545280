// Package onnx - Strukturmodell fuer ONNX-Dateien ohne Gewichte
//
// Dieses Modul enthaelt die Typen, die aus einer ModelProto-Datei dekodiert werden:
// - Model: ModelProto mit Opset-Imports und Hauptgraph
// - Graph: GraphProto mit Knoten, Initializern und Ein-/Ausgaben
// - Node/Attribute: NodeProto und AttributeProto (Subgraphen rekursiv)
// - Tensor: TensorProto, inline oder mit externer Datenreferenz
// - ValueInfo: ValueInfoProto, der Typ bleibt als Rohbytes erhalten
//
// Felder, die hier nicht interpretiert werden, bleiben als Rohbytes erhalten
// und werden beim Speichern unveraendert wieder ausgegeben.
package onnx

import (
	"errors"
	"iter"
)

// ErrMalformedGraph wird bei kaputtem Wire-Format oder ungueltigen
// External-Data-Referenzen zurueckgegeben
var ErrMalformedGraph = errors.New("onnx: ungueltiger graph")

// DataLocation entspricht TensorProto.DataLocation
type DataLocation int32

const (
	StorageInline   DataLocation = 0
	StorageExternal DataLocation = 1
)

func (l DataLocation) String() string {
	if l == StorageExternal {
		return "external"
	}
	return "inline"
}

// DataType entspricht TensorProto.DataType
type DataType int32

const (
	DataTypeUndefined DataType = iota
	DataTypeFloat
	DataTypeUint8
	DataTypeInt8
	DataTypeUint16
	DataTypeInt16
	DataTypeInt32
	DataTypeInt64
	DataTypeString
	DataTypeBool
	DataTypeFloat16
	DataTypeDouble
	DataTypeUint32
	DataTypeUint64
	DataTypeComplex64
	DataTypeComplex128
	DataTypeBFloat16
)

var dataTypeNames = map[DataType]string{
	DataTypeFloat:      "float32",
	DataTypeUint8:      "uint8",
	DataTypeInt8:       "int8",
	DataTypeUint16:     "uint16",
	DataTypeInt16:      "int16",
	DataTypeInt32:      "int32",
	DataTypeInt64:      "int64",
	DataTypeString:     "string",
	DataTypeBool:       "bool",
	DataTypeFloat16:    "float16",
	DataTypeDouble:     "float64",
	DataTypeUint32:     "uint32",
	DataTypeUint64:     "uint64",
	DataTypeComplex64:  "complex64",
	DataTypeComplex128: "complex128",
	DataTypeBFloat16:   "bfloat16",
}

func (t DataType) String() string {
	if s, ok := dataTypeNames[t]; ok {
		return s
	}
	return "undefined"
}

// Size gibt die Byte-Groesse eines Elements zurueck, 0 fuer variable Typen
func (t DataType) Size() uint64 {
	switch t {
	case DataTypeUint8, DataTypeInt8, DataTypeBool:
		return 1
	case DataTypeUint16, DataTypeInt16, DataTypeFloat16, DataTypeBFloat16:
		return 2
	case DataTypeFloat, DataTypeInt32, DataTypeUint32:
		return 4
	case DataTypeInt64, DataTypeUint64, DataTypeDouble, DataTypeComplex64:
		return 8
	case DataTypeComplex128:
		return 16
	default:
		return 0
	}
}

// AttributeType entspricht AttributeProto.AttributeType
type AttributeType int32

const (
	AttributeUndefined AttributeType = 0
	AttributeFloat     AttributeType = 1
	AttributeInt       AttributeType = 2
	AttributeString    AttributeType = 3
	AttributeTensor    AttributeType = 4
	AttributeGraph     AttributeType = 5
	AttributeGraphs    AttributeType = 10
)

// OperatorSetID ist ein Eintrag aus ModelProto.opset_import
type OperatorSetID struct {
	Domain  string
	Version int64
}

// Model ist ein dekodiertes ModelProto
type Model struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	OpsetImports    []OperatorSetID
	Graph           *Graph

	unknown []byte
}

// Graph ist ein dekodiertes GraphProto
type Graph struct {
	Name         string
	Nodes        []*Node
	Initializers []*Tensor
	Inputs       []*ValueInfo
	Outputs      []*ValueInfo
	ValueInfo    []*ValueInfo

	unknown []byte
}

// Node ist ein dekodiertes NodeProto
type Node struct {
	Name       string
	OpType     string
	Domain     string
	Inputs     []string
	Outputs    []string
	Attributes []*Attribute

	unknown []byte
}

// Attribute ist ein dekodiertes AttributeProto.
// Nur Int-, Tensor- und Graph-Werte werden interpretiert.
type Attribute struct {
	Name   string
	Type   AttributeType
	Int    int64
	Tensor *Tensor
	Graph  *Graph
	Graphs []*Graph

	unknown []byte
}

// ValueInfo ist ein ValueInfoProto; Typ und doc_string bleiben roh
type ValueInfo struct {
	Name string

	rest []byte
}

// KeyValue ist ein StringStringEntryProto
type KeyValue struct {
	Key   string
	Value string
}

// Tensor ist ein dekodiertes TensorProto (ein Initializer)
type Tensor struct {
	Name         string
	Dims         []int64
	DataType     DataType
	RawData      []byte
	ExternalData []KeyValue
	DataLocation DataLocation

	// typisierte Datenfelder (float_data, int64_data, ...), doc_string usw.
	unknown []byte
}

// Elements gibt die Anzahl der Elemente zurueck
func (t *Tensor) Elements() uint64 {
	n := uint64(1)
	for _, d := range t.Dims {
		n *= uint64(max(d, 0))
	}
	return n
}

// ByteSize gibt die erwartete Byte-Laenge zurueck; false bei variablen Typen
func (t *Tensor) ByteSize() (uint64, bool) {
	size := t.DataType.Size()
	if size == 0 {
		return 0, false
	}
	return t.Elements() * size, true
}

// InlineContent gibt die eingebetteten Bytes eines Inline-Tensors zurueck.
// Ohne raw_data werden die typisierten Felder in Wire-Form geliefert.
func (t *Tensor) InlineContent() []byte {
	if len(t.RawData) > 0 {
		return t.RawData
	}
	return t.unknown
}

// Clone erstellt eine tiefe Kopie der Metadaten. RawData wird geteilt.
func (t *Tensor) Clone() *Tensor {
	c := *t
	c.Dims = append([]int64(nil), t.Dims...)
	c.ExternalData = append([]KeyValue(nil), t.ExternalData...)
	return &c
}

// Initializers liefert alle Initializer des Hauptgraphen und aller
// Subgraphen in Deklarationsreihenfolge
func (m *Model) Initializers() iter.Seq[*Tensor] {
	return func(yield func(*Tensor) bool) {
		if m.Graph != nil {
			m.Graph.walkInitializers(yield)
		}
	}
}

func (g *Graph) walkInitializers(yield func(*Tensor) bool) bool {
	for _, t := range g.Initializers {
		if !yield(t) {
			return false
		}
	}
	for _, n := range g.Nodes {
		for _, a := range n.Attributes {
			for _, sub := range a.subgraphs() {
				if !sub.walkInitializers(yield) {
					return false
				}
			}
		}
	}
	return true
}

func (a *Attribute) subgraphs() []*Graph {
	if a.Graph == nil {
		return a.Graphs
	}
	return append([]*Graph{a.Graph}, a.Graphs...)
}

// NodeCount zaehlt die Knoten inklusive Subgraphen
func (m *Model) NodeCount() int {
	if m.Graph == nil {
		return 0
	}
	return m.Graph.nodeCount()
}

func (g *Graph) nodeCount() int {
	n := len(g.Nodes)
	for _, node := range g.Nodes {
		for _, a := range node.Attributes {
			for _, sub := range a.subgraphs() {
				n += sub.nodeCount()
			}
		}
	}
	return n
}

// Opset gibt die Version eines Opset-Imports zurueck
func (m *Model) Opset(domain string) (int64, bool) {
	for _, o := range m.OpsetImports {
		if o.Domain == domain {
			return o.Version, true
		}
	}
	return 0, false
}

// CloneHeader kopiert alles ausser dem Graphen, inklusive nicht
// interpretierter Felder wie metadata_props
func (m *Model) CloneHeader() *Model {
	return &Model{
		IRVersion:       m.IRVersion,
		ProducerName:    m.ProducerName,
		ProducerVersion: m.ProducerVersion,
		OpsetImports:    append([]OperatorSetID(nil), m.OpsetImports...),
		unknown:         m.unknown,
	}
}
