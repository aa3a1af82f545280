// config_features.go - Schalter fuer Kopie, Quantisierung und Upload
//
// Dieses Modul enthaelt:
// - Puffergroesse der Streaming-Kopie
// - Quantisierungs-Kommando
// - Metrik-Export und Upload-Parallelitaet
package envconfig

// =============================================================================
// Payload-Kopie
// =============================================================================

var (
	// CopyBuffer ist die Puffergroesse der Payload-Kopie in Bytes
	// Konfigurierbar via MODELCONVERT_COPY_BUFFER
	CopyBuffer = Uint64("MODELCONVERT_COPY_BUFFER", 4<<20)
)

// =============================================================================
// Pipeline-Stufen
// =============================================================================

var (
	// QuantizeCmd ersetzt das Standard-Kommando der Quantisierung
	QuantizeCmd = String("MODELCONVERT_QUANTIZE_CMD")

	// NoQuantize deaktiviert die Quantisierungs-Stufe
	NoQuantize = Bool("MODELCONVERT_NO_QUANTIZE")

	// NoUpload deaktiviert die Upload-Stufe
	NoUpload = Bool("MODELCONVERT_NO_UPLOAD")
)

// =============================================================================
// Hub und Metriken
// =============================================================================

var (
	// MetricsFile schreibt Metriken im Textfile-Format nach jedem Lauf
	MetricsFile = String("MODELCONVERT_METRICS_FILE")

	// Concurrency begrenzt parallele Hub-Anfragen
	// Konfigurierbar via MODELCONVERT_CONCURRENCY
	Concurrency = Uint("MODELCONVERT_CONCURRENCY", 4)
)
