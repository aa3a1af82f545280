// config.go - Haupt-Konfigurationsfunktionen fuer model-convert
//
// Dieses Modul enthaelt:
// - Dir: Arbeitsverzeichnis der Artefakte (MODELCONVERT_DIR)
// - Repo/Revision: Hub-Repository und Revision (MODELCONVERT_REPO, MODELCONVERT_REVISION)
// - HFEndpoint/HFHome/HFToken: Hub-Zugang (HF_ENDPOINT, HF_HOME, HF_TOKEN)
// - LogLevel: Gibt Log-Level zurueck (MODELCONVERT_DEBUG)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Kopierpuffer, Quantisierung, Metriken
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Dir gibt das Arbeitsverzeichnis zurueck
// Konfigurierbar via MODELCONVERT_DIR
// Default: ./onnx_export/onnx
func Dir() string {
	if s := Var("MODELCONVERT_DIR"); s != "" {
		return s
	}
	return filepath.Join("onnx_export", "onnx")
}

// Repo gibt das Hub-Repository zurueck
// Konfigurierbar via MODELCONVERT_REPO
// Default: leks-forever/nllb-200-distilled-600M-v1
func Repo() string {
	if s := Var("MODELCONVERT_REPO"); s != "" {
		return s
	}
	return "leks-forever/nllb-200-distilled-600M-v1"
}

// Revision gibt die Hub-Revision zurueck
// Konfigurierbar via MODELCONVERT_REVISION
// Default: main
func Revision() string {
	if s := Var("MODELCONVERT_REVISION"); s != "" {
		return s
	}
	return "main"
}

// HFEndpoint gibt die Basis-URL des Hubs zurueck
// Konfigurierbar via HF_ENDPOINT
// Default: https://huggingface.co
func HFEndpoint() *url.URL {
	raw := strings.TrimRight(Var("HF_ENDPOINT"), "/")
	if raw == "" {
		raw = "https://huggingface.co"
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		slog.Warn("invalid HF_ENDPOINT, using default", "value", raw)
		return &url.URL{Scheme: "https", Host: "huggingface.co"}
	}
	return u
}

// HFHome gibt das Cache-Verzeichnis des Hubs zurueck
// Konfigurierbar via HF_HOME
// Default: $HOME/.cache/huggingface
func HFHome() string {
	if s := Var("HF_HOME"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cache", "huggingface")
	}
	return filepath.Join(home, ".cache", "huggingface")
}

// HFToken gibt das Zugangs-Token zurueck
// Reihenfolge: HF_TOKEN, dann $HF_HOME/token
func HFToken() string {
	if s := Var("HF_TOKEN"); s != "" {
		return s
	}

	b, err := os.ReadFile(filepath.Join(HFHome(), "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via MODELCONVERT_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("MODELCONVERT_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
