// Package onnx - Laden und Speichern von Strukturdateien
//
// Dieses Modul enthaelt:
// - Load: Liest nur die .onnx Strukturdatei, niemals Payload-Dateien
// - Save: Schreibt atomisch ueber eine Temp-Datei im Zielverzeichnis
package onnx

import (
	"fmt"
	"os"
	"path/filepath"
)

// Load liest eine Strukturdatei. Externe Gewichte werden nicht geladen.
func Load(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	m, err := Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return m, nil
}

// Save schreibt das Modell atomisch. Ein Abbruch hinterlaesst keine
// halb geschriebene Datei unter dem Zielnamen.
func Save(path string, m *Model) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".onnx-*")
	if err != nil {
		return fmt.Errorf("temp-datei erstellen fehlgeschlagen: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(Marshal(m)); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("datei schliessen fehlgeschlagen: %w", err)
	}
	tmpFile = nil

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("datei umbenennen fehlgeschlagen: %w", err)
	}
	return nil
}
