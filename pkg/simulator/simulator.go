// Package simulator derives additional virtual meter readings from the
// single physical meter, for deployments that want more than one feed
// on the dashboard. Derivation is a pure transform of the input Reading
// and never touches the decode pipeline.
package simulator

import (
	"math/rand"

	"github.com/pescampus/campus_energy_meter/pkg/energy"
	"github.com/pescampus/campus_energy_meter/pkg/types"
)

// VirtualMeter describes one derived feed: the real reading scaled by
// ScaleFactor with a bounded random jitter applied on top.
type VirtualMeter struct {
	MeterID     int
	ScaleFactor float64
	// JitterPct is the half-width of the jitter band, e.g. 0.05 for ±5%.
	JitterPct float64
}

// Derive produces this virtual meter's reading from a real one. Current,
// power and interval energy are scaled and jittered together so the
// derived row stays internally consistent; voltage, power factor and
// frequency are grid-side quantities and pass through unchanged.
func (vm VirtualMeter) Derive(r types.Reading, rng *rand.Rand) types.Reading {
	jitter := 1 + (rng.Float64()*2-1)*vm.JitterPct
	factor := vm.ScaleFactor * jitter

	out := r
	out.MeterID = vm.MeterID
	out.CurrentA = energy.RoundPlaces(r.CurrentA*factor, 2)
	out.ActivePowerW = energy.RoundPlaces(r.ActivePowerW*factor, 2)
	out.EnergyWhInterval = energy.RoundPlaces(r.EnergyWhInterval*factor, 4)
	out.EnergyKwhTotal = 0
	return out
}
