// cmd_inspect.go - Inspect und Verify Commands
// Hauptfunktionen: InspectHandler, VerifyHandler
package cmd

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/leks-forever/model-convert/format"
	"github.com/leks-forever/model-convert/onnx"
	"github.com/leks-forever/model-convert/payload"
	"github.com/leks-forever/model-convert/reconcile"
)

// InspectHandler - Listet die Initializer einer Strukturdatei
func InspectHandler(cmd *cobra.Command, args []string) error {
	externalOnly, err := cmd.Flags().GetBool("external")
	if err != nil {
		return err
	}

	m, err := onnx.Load(args[0])
	if err != nil {
		return err
	}

	var data [][]string
	var total, external int
	var payloadBytes uint64
	for t := range m.Initializers() {
		total++
		location, offset, length := "inline", "-", strconv.Itoa(len(t.InlineContent()))
		if t.IsExternal() {
			ref, err := t.ExternalRef()
			if err != nil {
				return fmt.Errorf("%s: %w", t.Name, err)
			}
			external++
			payloadBytes += ref.Length
			location, offset, length = ref.File, strconv.FormatUint(ref.Offset, 10), strconv.FormatUint(ref.Length, 10)
		} else if externalOnly {
			continue
		}
		data = append(data, []string{t.Name, t.DataType.String(), fmt.Sprint(t.Dims), location, offset, length})
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"NAME", "TYPE", "SHAPE", "LOCATION", "OFFSET", "LENGTH"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoWrapText(false)
	table.AppendBulk(data)
	table.Render()

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d nodes, %d initializers, %d external (%s)\n",
		m.NodeCount(), total, external, format.HumanBytes2(payloadBytes))
	return nil
}

// VerifyHandler - Prueft die Referenzen des zusammengefuehrten Graphen
func VerifyHandler(cmd *cobra.Command, args []string) error {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}
	compare, err := cmd.Flags().GetBool("compare-shared")
	if err != nil {
		return err
	}

	merged, err := onnx.Load(cfg.Path(cfg.Merged))
	if err != nil {
		return err
	}
	if err := reconcile.Verify(merged, cfg.Dir, cfg.MergedPayload()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: all external references valid\n", cfg.Merged)

	if !compare {
		return nil
	}

	var idx [2]*payload.Index
	for i, name := range []string{cfg.Decoder, cfg.WithPast} {
		m, err := onnx.Load(cfg.Path(name))
		if err != nil {
			return err
		}
		if idx[i], err = payload.Build(m); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	mismatches, err := reconcile.CompareShared(cmd.Context(), cfg.Dir, idx[0], cfg.Dir, idx[1])
	if err != nil {
		return err
	}
	shared := len(payload.Shared(idx[0], idx[1]))
	if len(mismatches) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%d shared tensors identical\n", shared)
		return nil
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"NAME", cfg.Decoder, cfg.WithPast})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, mm := range mismatches {
		if mm.LengthsDiffer {
			table.Append([]string{mm.Name, "length differs", ""})
			continue
		}
		table.Append([]string{mm.Name, mm.DigestA, mm.DigestB})
	}
	table.Render()

	return fmt.Errorf("%d von %d geteilten tensoren unterscheiden sich", len(mismatches), shared)
}
