// config.go - Konfiguration eines Pipeline-Laufs
//
// Dieses Modul enthaelt:
// - Config: Dateinamen, Hub-Ziel und Stufen-Schalter
// - DefaultConfig: Defaults aus den Umgebungsvariablen
// - LoadConfig: Optionale YAML-Datei (strikt) ueber den Defaults
package pipeline

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leks-forever/model-convert/envconfig"
)

// Config beschreibt Artefakte und Stufen eines Laufs
type Config struct {
	Dir string `yaml:"dir"`

	// Quell- und Zielnamen relativ zu Dir
	Decoder  string `yaml:"decoder"`
	WithPast string `yaml:"with_past"`
	Merged   string `yaml:"merged"`

	// Repo ist das Upload-Ziel, SourceRepo die Quelle fehlender Dateien
	Repo         string `yaml:"repo"`
	SourceRepo   string `yaml:"source_repo"`
	Revision     string `yaml:"revision"`
	RemotePrefix string `yaml:"remote_prefix"`

	CopyBuffer  uint64 `yaml:"copy_buffer"`
	Strict      bool   `yaml:"strict"`
	Download    bool   `yaml:"download"`
	Quantize    bool   `yaml:"quantize"`
	QuantizeCmd string `yaml:"quantize_cmd"`
	Upload      bool   `yaml:"upload"`
	MetricsFile string `yaml:"metrics_file"`
}

// DefaultConfig liest die Defaults aus der Umgebung
func DefaultConfig() Config {
	return Config{
		Dir:          envconfig.Dir(),
		Decoder:      "decoder_model.onnx",
		WithPast:     "decoder_with_past_model.onnx",
		Merged:       "decoder_model_merged.onnx",
		Repo:         envconfig.Repo(),
		Revision:     envconfig.Revision(),
		RemotePrefix: "onnx",
		CopyBuffer:   envconfig.CopyBuffer(),
		Download:     true,
		Quantize:     !envconfig.NoQuantize(),
		QuantizeCmd:  envconfig.QuantizeCmd(),
		Upload:       !envconfig.NoUpload(),
		MetricsFile:  envconfig.MetricsFile(),
	}
}

// LoadConfig liest path strikt: unbekannte Felder sind ein Fehler.
// Ein leerer Pfad liefert DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("konfiguration oeffnen fehlgeschlagen: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("konfiguration %s: %w", filepath.Base(path), err)
	}
	return cfg, cfg.Validate()
}

// Validate prueft Pflichtfelder und Namenskonflikte
func (c Config) Validate() error {
	for field, v := range map[string]string{"dir": c.Dir, "decoder": c.Decoder, "with_past": c.WithPast, "merged": c.Merged} {
		if v == "" {
			return fmt.Errorf("konfiguration: %s fehlt", field)
		}
	}
	if c.Decoder == c.WithPast || c.Merged == c.Decoder || c.Merged == c.WithPast {
		return fmt.Errorf("konfiguration: quell- und zielnamen muessen verschieden sein")
	}
	if c.Upload && c.Repo == "" {
		return fmt.Errorf("konfiguration: repo fehlt fuer upload")
	}
	return nil
}

// MergedPayload ist der Dateiname der zusammengefuehrten Payload
func (c Config) MergedPayload() string {
	return c.Merged + "_data"
}

// Path liefert name innerhalb von Dir
func (c Config) Path(name string) string {
	return filepath.Join(c.Dir, name)
}

// RemotePath liefert den Hub-Pfad einer lokalen Datei
func (c Config) RemotePath(name string) string {
	return path.Join(c.RemotePrefix, filepath.Base(name))
}

func (c Config) sourceRepo() string {
	if c.SourceRepo != "" {
		return c.SourceRepo
	}
	return c.Repo
}

// UploadFiles sucht alle Artefakte des zusammengefuehrten Graphen in Dir,
// sortiert. Zwischenstaende und "inferred"-Varianten werden ausgelassen.
func (c Config) UploadFiles() ([]string, error) {
	stem := strings.TrimSuffix(c.Merged, filepath.Ext(c.Merged))
	var out []string
	for _, pattern := range []string{stem + "*.onnx", stem + "*.onnx_data"} {
		matches, err := filepath.Glob(filepath.Join(c.Dir, pattern))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			base := filepath.Base(m)
			if strings.Contains(base, "inferred") || strings.Contains(base, ".partial.") {
				continue
			}
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return out, nil
}
