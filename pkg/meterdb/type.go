package meterdb

// ReadingRow mirrors one row of the readings table.
type ReadingRow struct {
	MeterID          int     `db:"meter_id" json:"meter_id"`
	Timestamp        int64   `db:"timestamp" json:"timestamp"`
	VoltageV         float64 `db:"voltage_v1" json:"voltage_v1"`
	CurrentA         float64 `db:"current_a1" json:"current_a1"`
	ActivePowerW     float64 `db:"active_power_w1" json:"active_power_w1"`
	PowerFactor      float64 `db:"power_factor_pf1" json:"power_factor_pf1"`
	FrequencyHz      float64 `db:"frequency_hz" json:"frequency_hz"`
	EnergyKwhTotal   float64 `db:"energy_kwh" json:"energy_kwh"`
	EnergyWhInterval float64 `db:"energy_wh_interval" json:"energy_wh_interval"`
}

// MeterInfo is one node of the campus meter hierarchy.
type MeterInfo struct {
	MeterID   int    `db:"meter_id" json:"meter_id"`
	BlockName string `db:"block_name" json:"block_name"`
	LabName   string `db:"lab_name" json:"lab_name"`
}
