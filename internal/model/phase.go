package model

import "fmt"

// Phase is one stage of the epistemic cascade.
type Phase string

const (
	PhasePreflight  Phase = "PREFLIGHT"
	PhaseCheck      Phase = "CHECK"
	PhaseAct        Phase = "ACT"
	PhasePostflight Phase = "POSTFLIGHT"
)

var phaseOrder = map[Phase]int{
	PhasePreflight:  0,
	PhaseCheck:      1,
	PhaseAct:        2,
	PhasePostflight: 3,
}

// Order returns the phase's position in the cascade, or -1 for unknown phases.
func (p Phase) Order() int {
	if o, ok := phaseOrder[p]; ok {
		return o
	}
	return -1
}

// ParsePhase validates a phase name.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if _, ok := phaseOrder[p]; !ok {
		return "", fmt.Errorf("unknown phase %q: %w", s, ErrBadInput)
	}
	return p, nil
}

// Decision is the outcome of a CHECK gate evaluation.
type Decision string

const (
	DecisionProceed     Decision = "proceed"
	DecisionCaveat      Decision = "proceed_with_caveat"
	DecisionInvestigate Decision = "investigate"
	DecisionEscalate    Decision = "escalate"
)

// CalibrationVerdict classifies the POSTFLIGHT self-assessment delta.
type CalibrationVerdict string

const (
	VerdictWellCalibrated CalibrationVerdict = "well_calibrated"
	VerdictOverconfident  CalibrationVerdict = "overconfident"
	VerdictUnderconfident CalibrationVerdict = "underconfident"
)
