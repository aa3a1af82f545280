package pipeline

import (
	"errors"
	"fmt"
)

// State ist der Zustand des Orchestrators. Jeder Zustand ausser Idle und
// Done ist zugleich die Stufe, die ihn erreicht.
type State int

const (
	Idle State = iota
	Loaded
	Merged
	Reconciled
	Quantized
	Uploaded
	Done
)

var stateNames = [...]string{"idle", "loaded", "merged", "reconciled", "quantized", "uploaded", "done"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Outcome ist das Ergebnis einer Stufe im Bericht
type Outcome string

const (
	OutcomeDone     Outcome = "done"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeDisabled Outcome = "disabled"
	OutcomeFailed   Outcome = "failed"
	OutcomePending  Outcome = "pending"
)

// ErrMissingSource kennzeichnet fehlende Quelldateien ohne Download-Moeglichkeit
var ErrMissingSource = errors.New("pipeline: quelldatei fehlt")

// StageError benennt die Stufe, an der ein Lauf angehalten hat
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stufe %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
