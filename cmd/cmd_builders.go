// cmd_builders.go - Command-Builder Funktionen
// Hauptfunktionen: newRunCmd, newMergeCmd, newInspectCmd, etc.
package cmd

import (
	"github.com/spf13/cobra"
)

// addConfigFlags - Flags, die Config-Felder ueberschreiben
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "YAML configuration file")
	cmd.Flags().String("dir", "", "Working directory for graph and payload files")
	cmd.Flags().String("decoder", "", "File name of the decoder graph")
	cmd.Flags().String("with-past", "", "File name of the decoder_with_past graph")
	cmd.Flags().String("merged", "", "File name of the merged graph")
	cmd.Flags().Uint64("copy-buffer", 0, "Buffer size for payload copies in bytes")
	cmd.Flags().Bool("strict", false, "Require identical outputs in both decoders")
	cmd.Flags().String("metrics-file", "", "Write metrics in textfile format to this path")
}

// addHubFlags - Flags fuer Hub-Zugriffe
func addHubFlags(cmd *cobra.Command) {
	cmd.Flags().String("repo", "", "Hub repository for uploads")
	cmd.Flags().String("source-repo", "", "Hub repository for missing source files (default: --repo)")
	cmd.Flags().String("revision", "", "Hub revision")
}

// newRunCmd - Erstellt den run Command
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: load, merge, reconcile, quantize, upload",
		Args:  cobra.NoArgs,
		RunE:  RunHandler,
	}

	addConfigFlags(runCmd)
	addHubFlags(runCmd)
	runCmd.Flags().Bool("no-download", false, "Fail instead of downloading missing source files")
	runCmd.Flags().Bool("no-quantize", false, "Skip the quantize stage")
	runCmd.Flags().Bool("no-upload", false, "Skip the upload stage")
	runCmd.Flags().String("quantize-cmd", "", "Command used to quantize a graph ({src} and {dst} are replaced)")

	return runCmd
}

// newMergeCmd - Erstellt den merge Command
func newMergeCmd() *cobra.Command {
	mergeCmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge and reconcile local decoder graphs",
		Args:  cobra.NoArgs,
		RunE:  MergeHandler,
	}

	addConfigFlags(mergeCmd)

	return mergeCmd
}

// newInspectCmd - Erstellt den inspect Command
func newInspectCmd() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "List the initializers of a graph file",
		Args:  cobra.ExactArgs(1),
		RunE:  InspectHandler,
	}

	inspectCmd.Flags().Bool("external", false, "Only list externally stored initializers")

	return inspectCmd
}

// newVerifyCmd - Erstellt den verify Command
func newVerifyCmd() *cobra.Command {
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that every external reference of the merged graph is valid",
		Args:  cobra.NoArgs,
		RunE:  VerifyHandler,
	}

	addConfigFlags(verifyCmd)
	verifyCmd.Flags().Bool("compare-shared", false, "Compare the bytes of tensors present in both sources")

	return verifyCmd
}

// newQuantizeCmd - Erstellt den quantize Command
func newQuantizeCmd() *cobra.Command {
	quantizeCmd := &cobra.Command{
		Use:   "quantize FILE...",
		Short: "Quantize graph files to uint8 weights",
		Args:  cobra.MinimumNArgs(1),
		RunE:  QuantizeHandler,
	}

	quantizeCmd.Flags().String("quantize-cmd", "", "Command used to quantize a graph ({src} and {dst} are replaced)")

	return quantizeCmd
}

// newDownloadCmd - Erstellt den download Command
func newDownloadCmd() *cobra.Command {
	downloadCmd := &cobra.Command{
		Use:   "download [REMOTE...]",
		Short: "Download source files from the hub",
		RunE:  DownloadHandler,
	}

	addConfigFlags(downloadCmd)
	addHubFlags(downloadCmd)

	return downloadCmd
}

// newUploadCmd - Erstellt den upload Command
func newUploadCmd() *cobra.Command {
	uploadCmd := &cobra.Command{
		Use:   "upload [FILE...]",
		Short: "Upload merged artifacts to the hub",
		RunE:  UploadHandler,
	}

	addConfigFlags(uploadCmd)
	addHubFlags(uploadCmd)

	return uploadCmd
}
