// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leks-forever/model-convert/envconfig"
	"github.com/leks-forever/model-convert/logutil"
)

// Version wird beim Build per -ldflags gesetzt
var Version = "0.0.0"

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-26s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// initLogging - Setzt den Default-Logger nach MODELCONVERT_DEBUG
func initLogging(cmd *cobra.Command, _ []string) error {
	slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
	return nil
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:               "model-convert",
		Short:             "Merge ONNX decoder graphs without loading their weights",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initLogging,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				fmt.Fprintf(cmd.OutOrStdout(), "model-convert version is %s\n", Version)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	// Commands erstellen
	runCmd := newRunCmd()
	mergeCmd := newMergeCmd()
	inspectCmd := newInspectCmd()
	verifyCmd := newVerifyCmd()
	quantizeCmd := newQuantizeCmd()
	downloadCmd := newDownloadCmd()
	uploadCmd := newUploadCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["MODELCONVERT_DEBUG"], envVars["MODELCONVERT_DIR"]}
	hubEnvs := []envconfig.EnvVar{
		envVars["MODELCONVERT_DEBUG"],
		envVars["MODELCONVERT_DIR"],
		envVars["MODELCONVERT_REPO"],
		envVars["MODELCONVERT_REVISION"],
		envVars["MODELCONVERT_CONCURRENCY"],
		envVars["HF_ENDPOINT"],
		envVars["HF_HOME"],
		envVars["HF_TOKEN"],
	}

	for _, cmd := range []*cobra.Command{
		runCmd,
		mergeCmd,
		inspectCmd,
		verifyCmd,
		quantizeCmd,
		downloadCmd,
		uploadCmd,
	} {
		switch cmd {
		case runCmd:
			appendEnvDocs(cmd, append(hubEnvs,
				envVars["MODELCONVERT_COPY_BUFFER"],
				envVars["MODELCONVERT_QUANTIZE_CMD"],
				envVars["MODELCONVERT_NO_QUANTIZE"],
				envVars["MODELCONVERT_NO_UPLOAD"],
				envVars["MODELCONVERT_METRICS_FILE"],
			))
		case mergeCmd:
			appendEnvDocs(cmd, append(envs, envVars["MODELCONVERT_COPY_BUFFER"], envVars["MODELCONVERT_METRICS_FILE"]))
		case quantizeCmd:
			appendEnvDocs(cmd, append(envs, envVars["MODELCONVERT_QUANTIZE_CMD"]))
		case downloadCmd, uploadCmd:
			appendEnvDocs(cmd, hubEnvs)
		default:
			appendEnvDocs(cmd, envs)
		}
	}

	rootCmd.AddCommand(
		runCmd,
		mergeCmd,
		inspectCmd,
		verifyCmd,
		quantizeCmd,
		downloadCmd,
		uploadCmd,
	)

	return rootCmd
}

// Execute - Fuehrt das CLI aus; Fehler werden auf stderr ausgegeben
func Execute(ctx context.Context, cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}
