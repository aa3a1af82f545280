// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint/Uint64: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Uint64 gibt eine Funktion zurueck, die einen uint64 mit Default-Wert liest
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	ret := map[string]EnvVar{
		"MODELCONVERT_DEBUG":        {"MODELCONVERT_DEBUG", LogLevel(), "Show additional debug information (e.g. MODELCONVERT_DEBUG=1)"},
		"MODELCONVERT_DIR":          {"MODELCONVERT_DIR", Dir(), "Working directory for graph and payload files (default \"onnx_export/onnx\")"},
		"MODELCONVERT_REPO":         {"MODELCONVERT_REPO", Repo(), "Hub repository holding the decoder files"},
		"MODELCONVERT_REVISION":     {"MODELCONVERT_REVISION", Revision(), "Hub revision (default \"main\")"},
		"MODELCONVERT_COPY_BUFFER":  {"MODELCONVERT_COPY_BUFFER", CopyBuffer(), "Buffer size for payload copies in bytes (default 4 MiB)"},
		"MODELCONVERT_QUANTIZE_CMD": {"MODELCONVERT_QUANTIZE_CMD", QuantizeCmd(), "Command used to quantize a graph ({src} and {dst} are replaced)"},
		"MODELCONVERT_NO_QUANTIZE":  {"MODELCONVERT_NO_QUANTIZE", NoQuantize(), "Skip the quantize stage"},
		"MODELCONVERT_NO_UPLOAD":    {"MODELCONVERT_NO_UPLOAD", NoUpload(), "Skip the upload stage"},
		"MODELCONVERT_METRICS_FILE": {"MODELCONVERT_METRICS_FILE", MetricsFile(), "Write metrics in textfile format to this path"},
		"MODELCONVERT_CONCURRENCY":  {"MODELCONVERT_CONCURRENCY", Concurrency(), "Maximum number of parallel hub requests (default 4)"},
		"HF_ENDPOINT":               {"HF_ENDPOINT", HFEndpoint(), "Hub endpoint (default https://huggingface.co)"},
		"HF_HOME":                   {"HF_HOME", HFHome(), "Hub cache directory, token is read from $HF_HOME/token"},
		"HF_TOKEN":                  {"HF_TOKEN", redact(Var("HF_TOKEN")), "Hub access token"},

		// Proxy-Einstellungen
		"HTTP_PROXY":  {"HTTP_PROXY", String("HTTP_PROXY")(), "HTTP proxy"},
		"HTTPS_PROXY": {"HTTPS_PROXY", String("HTTPS_PROXY")(), "HTTPS proxy"},
		"NO_PROXY":    {"NO_PROXY", String("NO_PROXY")(), "No proxy"},
	}

	// Nicht-Windows: Case-sensitive Proxy-Variablen
	if runtime.GOOS != "windows" {
		ret["http_proxy"] = EnvVar{"http_proxy", String("http_proxy")(), "HTTP proxy"}
		ret["https_proxy"] = EnvVar{"https_proxy", String("https_proxy")(), "HTTPS proxy"}
		ret["no_proxy"] = EnvVar{"no_proxy", String("no_proxy")(), "No proxy"}
	}

	return ret
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
