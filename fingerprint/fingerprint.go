// MODUL: fingerprint
// ZWECK: Ersatzwerte fuer externe Tensoren waehrend des strukturellen Merges
// INPUT: Echter Dereferencer (payload.Reader), Tensor-Metadaten
// OUTPUT: 8-Byte xxhash64 des Tensor-Namens statt der Payload-Bytes
// NEBENEFFEKTE: Keine; die Substitution ist ein Wert, kein globaler Zustand
// ABHAENGIGKEITEN: payload, metrics, cespare/xxhash
// HINWEISE: Release() MUSS nach dem Merge aufgerufen werden (defer)

package fingerprint

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/leks-forever/model-convert/metrics"
	"github.com/leks-forever/model-convert/onnx"
	"github.com/leks-forever/model-convert/payload"
)

// Size ist die Laenge eines Ersatzwerts in Bytes
const Size = 8

// Substitution ersetzt die Dereferenzierung externer Tensoren durch einen
// Namens-Hash. Inline-Tensoren werden immer echt gelesen.
type Substitution struct {
	real    payload.Dereferencer
	metrics *metrics.Metrics

	released atomic.Bool
	served   atomic.Int64
}

// New aktiviert eine Substitution ueber real
func New(real payload.Dereferencer, m *metrics.Metrics) *Substitution {
	return &Substitution{real: real, metrics: m}
}

// Bytes liefert fuer externe Tensoren den Ersatzwert, solange aktiv
func (s *Substitution) Bytes(t *onnx.Tensor) ([]byte, error) {
	if s.released.Load() || !t.IsExternal() {
		return s.real.Bytes(t)
	}

	s.served.Add(1)
	s.metrics.IncSurrogates()
	return Surrogate(t.Name), nil
}

// Release stellt die echte Dereferenzierung wieder her. Mehrfacher Aufruf ist erlaubt.
func (s *Substitution) Release() {
	s.released.Store(true)
}

// Active prueft ob noch Ersatzwerte ausgeliefert werden
func (s *Substitution) Active() bool {
	return !s.released.Load()
}

// Surrogates gibt die Anzahl ausgelieferter Ersatzwerte zurueck
func (s *Substitution) Surrogates() int64 {
	return s.served.Load()
}

// Surrogate berechnet den Ersatzwert nur aus dem Namen
func Surrogate(name string) []byte {
	return binary.LittleEndian.AppendUint64(make([]byte, 0, Size), xxhash.Sum64String(name))
}
