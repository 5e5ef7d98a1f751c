// Package model holds the kernel's domain types: epistemic vectors, phases,
// sessions, goals, artifacts, events, context items, budgets, and beliefs.
// Types carry both json and db tags so the same structs flow through the
// store, the bus, and the git-notes codec.
package model

import (
	"fmt"
	"math"
	"time"
)

// VectorName identifies one of the thirteen epistemic dimensions.
type VectorName string

const (
	VectorKnow        VectorName = "know"
	VectorUncertainty VectorName = "uncertainty"
	VectorDo          VectorName = "do"
	VectorContext     VectorName = "context"
	VectorClarity     VectorName = "clarity"
	VectorCoherence   VectorName = "coherence"
	VectorSignal      VectorName = "signal"
	VectorDensity     VectorName = "density"
	VectorState       VectorName = "state"
	VectorChange      VectorName = "change"
	VectorCompletion  VectorName = "completion"
	VectorImpact      VectorName = "impact"
	VectorEngagement  VectorName = "engagement"
)

// VectorNames lists every dimension in canonical order.
var VectorNames = []VectorName{
	VectorKnow, VectorUncertainty, VectorDo, VectorContext, VectorClarity,
	VectorCoherence, VectorSignal, VectorDensity, VectorState, VectorChange,
	VectorCompletion, VectorImpact, VectorEngagement,
}

// IsValidVector reports whether name is one of the thirteen dimensions.
func IsValidVector(name VectorName) bool {
	for _, v := range VectorNames {
		if v == name {
			return true
		}
	}
	return false
}

// VectorSet is a complete thirteen-dimensional epistemic self-assessment.
// All values live in [0,1].
type VectorSet struct {
	Know        float64 `json:"know"`
	Uncertainty float64 `json:"uncertainty"`
	Do          float64 `json:"do"`
	Context     float64 `json:"context"`
	Clarity     float64 `json:"clarity"`
	Coherence   float64 `json:"coherence"`
	Signal      float64 `json:"signal"`
	Density     float64 `json:"density"`
	State       float64 `json:"state"`
	Change      float64 `json:"change"`
	Completion  float64 `json:"completion"`
	Impact      float64 `json:"impact"`
	Engagement  float64 `json:"engagement"`
}

// DefaultVectors returns the neutral assessment: every dimension at 0.5.
func DefaultVectors() VectorSet {
	v := VectorSet{}
	for _, name := range VectorNames {
		v.mustSet(name, 0.5)
	}
	return v
}

// Clamp01 bounds x to [0,1].
func Clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Get returns the value of the named dimension, or 0 for an unknown name.
func (v VectorSet) Get(name VectorName) float64 {
	switch name {
	case VectorKnow:
		return v.Know
	case VectorUncertainty:
		return v.Uncertainty
	case VectorDo:
		return v.Do
	case VectorContext:
		return v.Context
	case VectorClarity:
		return v.Clarity
	case VectorCoherence:
		return v.Coherence
	case VectorSignal:
		return v.Signal
	case VectorDensity:
		return v.Density
	case VectorState:
		return v.State
	case VectorChange:
		return v.Change
	case VectorCompletion:
		return v.Completion
	case VectorImpact:
		return v.Impact
	case VectorEngagement:
		return v.Engagement
	}
	return 0
}

// Set assigns the named dimension, clamping to [0,1]. Unknown names and NaN
// values are rejected with ErrBadInput.
func (v *VectorSet) Set(name VectorName, value float64) error {
	if !IsValidVector(name) {
		return fmt.Errorf("unknown vector %q: %w", name, ErrBadInput)
	}
	if math.IsNaN(value) {
		return fmt.Errorf("vector %s is NaN: %w", name, ErrBadInput)
	}
	v.mustSet(name, Clamp01(value))
	return nil
}

func (v *VectorSet) mustSet(name VectorName, value float64) {
	switch name {
	case VectorKnow:
		v.Know = value
	case VectorUncertainty:
		v.Uncertainty = value
	case VectorDo:
		v.Do = value
	case VectorContext:
		v.Context = value
	case VectorClarity:
		v.Clarity = value
	case VectorCoherence:
		v.Coherence = value
	case VectorSignal:
		v.Signal = value
	case VectorDensity:
		v.Density = value
	case VectorState:
		v.State = value
	case VectorChange:
		v.Change = value
	case VectorCompletion:
		v.Completion = value
	case VectorImpact:
		v.Impact = value
	case VectorEngagement:
		v.Engagement = value
	}
}

// ToMap renders the set as a name→value map with all thirteen keys.
func (v VectorSet) ToMap() map[string]float64 {
	m := make(map[string]float64, len(VectorNames))
	for _, name := range VectorNames {
		m[string(name)] = v.Get(name)
	}
	return m
}

// VectorsFromMap builds a set from a partial map. Missing dimensions default
// to 0.5; unknown keys are rejected with ErrBadInput.
func VectorsFromMap(m map[string]float64) (VectorSet, error) {
	v := DefaultVectors()
	for k, val := range m {
		if err := v.Set(VectorName(k), val); err != nil {
			return VectorSet{}, err
		}
	}
	return v, nil
}

// Delta returns per-dimension post − pre differences.
func (v VectorSet) Delta(pre VectorSet) map[string]float64 {
	d := make(map[string]float64, len(VectorNames))
	for _, name := range VectorNames {
		d[string(name)] = v.Get(name) - pre.Get(name)
	}
	return d
}

// VectorSnapshot pairs a vector set with its submission context.
type VectorSnapshot struct {
	Vectors   VectorSet `json:"vectors"`
	Reasoning string    `json:"reasoning,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
