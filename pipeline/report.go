package pipeline

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/leks-forever/model-convert/format"
	"github.com/leks-forever/model-convert/reconcile"
)

// uniquePreview begrenzt die Liste eindeutiger Tensoren im Bericht
const uniquePreview = 5

// StageResult ist eine Zeile des Berichts
type StageResult struct {
	Stage    State
	Outcome  Outcome
	Duration time.Duration
	Detail   string
	Err      error
}

// SourceSummary beschreibt einen geladenen Quellgraphen
type SourceSummary struct {
	Name         string
	Nodes        int
	External     int
	PayloadBytes uint64
}

// FileSummary ist eine geschriebene Datei mit ihrer Groesse
type FileSummary struct {
	Name string
	Size int64
}

// Report sammelt Stufen und Zusammenfassung eines Laufs
type Report struct {
	RunID  string
	Stages []StageResult

	Sources    []SourceSummary
	Unique     []string
	UniqueFrom string
	Reconcile  *reconcile.Result
	Files      []FileSummary
}

// Outcome liefert das Ergebnis einer Stufe, OutcomePending wenn sie fehlt
func (r *Report) Outcome(s State) Outcome {
	for _, st := range r.Stages {
		if st.Stage == s {
			return st.Outcome
		}
	}
	return OutcomePending
}

// Outcomes liefert alle Ergebnisse in Stufenreihenfolge
func (r *Report) Outcomes() []Outcome {
	out := make([]Outcome, len(r.Stages))
	for i, st := range r.Stages {
		out[i] = st.Outcome
	}
	return out
}

// Render schreibt den Bericht als Tabellen nach w
func (r *Report) Render(w io.Writer) {
	table := newTable(w, []string{"STAGE", "OUTCOME", "DURATION", "DETAIL"})
	for _, st := range r.Stages {
		detail := st.Detail
		if st.Err != nil {
			detail = st.Err.Error()
		}
		dur := ""
		if st.Outcome == OutcomeDone || st.Outcome == OutcomeFailed {
			dur = st.Duration.Round(time.Millisecond).String()
		}
		table.Append([]string{st.Stage.String(), string(st.Outcome), dur, detail})
	}
	table.Render()

	if len(r.Sources) > 0 {
		fmt.Fprintln(w)
		table = newTable(w, []string{"SOURCE", "NODES", "EXTERNAL", "PAYLOAD"})
		for _, s := range r.Sources {
			table.Append([]string{s.Name, strconv.Itoa(s.Nodes), strconv.Itoa(s.External), format.HumanBytes2(s.PayloadBytes)})
		}
		table.Render()
	}

	if len(r.Unique) > 0 {
		preview := r.Unique
		if len(preview) > uniquePreview {
			preview = preview[:uniquePreview]
		}
		fmt.Fprintf(w, "\n%d tensors only in %s, first: %v\n", len(r.Unique), r.UniqueFrom, preview)
	}

	if r.Reconcile != nil {
		res := r.Reconcile
		fmt.Fprintf(w, "\npayload %s: %s (from a %d, from b %d, inline %d, unresolved %d)\n",
			filepath.Base(res.Payload), describeStrategy(res), res.FromA, res.FromB, res.Inline, len(res.Unresolved))
	}

	if len(r.Files) > 0 {
		fmt.Fprintln(w)
		table = newTable(w, []string{"FILE", "SIZE"})
		for _, f := range r.Files {
			table.Append([]string{f.Name, format.HumanBytes(f.Size)})
		}
		table.Render()
	}
}

func describeStrategy(res *reconcile.Result) string {
	s := "none"
	switch st := res.Strategy.(type) {
	case reconcile.Aliased:
		s = "alias (" + st.Link.String() + ")"
	case reconcile.Constructed:
		s = fmt.Sprintf("constructed, base %d, %d appended", st.BaseOffset, len(st.Appended))
	}
	if res.Reused {
		s += ", reused"
	}
	return s
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoWrapText(false)
	return table
}
