package types

import "time"

// Reading is the complete output of one successful poll cycle.
// A Reading is only produced when every required register decoded;
// partial cycles are dropped by the poller.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	MeterID   int       `json:"meter_id"`

	VoltageV     float64 `json:"voltage_v1"`
	CurrentA     float64 `json:"current_a1"`
	ActivePowerW float64 `json:"active_power_w1"`
	PowerFactor  float64 `json:"power_factor_pf1"`
	FrequencyHz  float64 `json:"frequency_hz"`

	// EnergyKwhTotal is the meter's own cumulative counter register.
	EnergyKwhTotal float64 `json:"energy_kwh"`

	// EnergyWhInterval is derived from ActivePowerW over one poll
	// interval, not read from the device.
	EnergyWhInterval float64 `json:"energy_wh_interval"`
}
