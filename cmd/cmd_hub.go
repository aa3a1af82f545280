// cmd_hub.go - Quantize, Download und Upload Commands
// Hauptfunktionen: QuantizeHandler, DownloadHandler, UploadHandler
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leks-forever/model-convert/envconfig"
	"github.com/leks-forever/model-convert/format"
	"github.com/leks-forever/model-convert/hub"
	"github.com/leks-forever/model-convert/quantize"
)

// QuantizeHandler - Quantisiert beliebige Strukturdateien
func QuantizeHandler(cmd *cobra.Command, args []string) error {
	command, err := cmd.Flags().GetString("quantize-cmd")
	if err != nil {
		return err
	}
	if command == "" {
		command = envconfig.QuantizeCmd()
	}

	q := &quantize.Exec{Command: quantize.ParseCommand(command)}
	for _, src := range args {
		dst, err := q.Quantize(cmd.Context(), quantize.Job{Graph: src})
		if err != nil {
			return fmt.Errorf("%s: %w", src, err)
		}
		printFileSize(cmd.OutOrStdout(), src)
		printFileSize(cmd.OutOrStdout(), dst.Graph)
	}
	return nil
}

// DownloadHandler - Laedt Quelldateien aus dem Hub in das Arbeitsverzeichnis
func DownloadHandler(cmd *cobra.Command, args []string) error {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}

	names := args
	if len(names) == 0 {
		names = []string{cfg.Decoder, cfg.Decoder + "_data", cfg.WithPast, cfg.WithPast + "_data"}
	}
	files := make([]hub.File, len(names))
	for i, n := range names {
		files[i] = hub.File{Remote: cfg.RemotePath(n), Local: cfg.Path(n)}
	}

	repo := cfg.SourceRepo
	if repo == "" {
		repo = cfg.Repo
	}
	results, err := newHubClient(cmd, cfg).DownloadAll(cmd.Context(), repo, files)
	if err != nil {
		return err
	}
	for _, r := range results {
		state := "downloaded"
		if r.FromCache {
			state = "present"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", r.Remote, format.HumanBytes(r.Size), state)
	}
	return nil
}

// UploadHandler - Laedt Artefakte hoch, die im Hub fehlen
func UploadHandler(cmd *cobra.Command, args []string) error {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}
	if cfg.Repo == "" {
		return errors.New("kein repository angegeben")
	}

	locals := args
	if len(locals) == 0 {
		if locals, err = cfg.UploadFiles(); err != nil {
			return err
		}
	}
	if len(locals) == 0 {
		return fmt.Errorf("keine dateien in %s", cfg.Dir)
	}

	files := make([]hub.File, len(locals))
	for i, l := range locals {
		files[i] = hub.File{Local: l, Remote: cfg.RemotePath(l)}
	}

	n, err := newHubClient(cmd, cfg).UploadAll(cmd.Context(), cfg.Repo, files)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d files uploaded to %s\n", n, len(files), cfg.Repo)
	return nil
}
