package meterdb

import (
	"github.com/pescampus/campus_energy_meter/pkg/types"
)

func InsertReading(reading types.Reading) error {
	db := GetDB()

	_, err := db.Exec(
		"INSERT OR REPLACE INTO readings "+
			"(meter_id, timestamp, voltage_v1, current_a1, active_power_w1, "+
			"power_factor_pf1, frequency_hz, energy_kwh, energy_wh_interval) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		reading.MeterID,
		reading.Timestamp.UnixMilli(),
		reading.VoltageV,
		reading.CurrentA,
		reading.ActivePowerW,
		reading.PowerFactor,
		reading.FrequencyHz,
		reading.EnergyKwhTotal,
		reading.EnergyWhInterval,
	)
	if err != nil {
		return err
	}
	return nil
}

// BackfillIntervalEnergy fills in energy_wh_interval for rows logged
// before the column existed, recomputing it from the stored power and
// the poll interval that was in force at the time. Returns the number
// of repaired rows.
func BackfillIntervalEnergy(intervalSeconds float64) (int64, error) {
	db := GetDB()

	res, err := db.Exec(
		"UPDATE readings "+
			"SET energy_wh_interval = ROUND(active_power_w1 * ? / 3600.0, 5) "+
			"WHERE energy_wh_interval IS NULL AND active_power_w1 IS NOT NULL",
		intervalSeconds,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetRecentReadings returns the newest limit readings for one meter,
// newest first.
func GetRecentReadings(meterID int, limit int) ([]ReadingRow, error) {
	db := GetDB()

	rows, err := db.Query(
		"SELECT meter_id, timestamp, voltage_v1, current_a1, active_power_w1, "+
			"power_factor_pf1, frequency_hz, energy_kwh, energy_wh_interval "+
			"FROM readings WHERE meter_id = ? ORDER BY timestamp DESC LIMIT ?",
		meterID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []ReadingRow
	for rows.Next() {
		var r ReadingRow
		if err := rows.Scan(
			&r.MeterID, &r.Timestamp, &r.VoltageV, &r.CurrentA, &r.ActivePowerW,
			&r.PowerFactor, &r.FrequencyHz, &r.EnergyKwhTotal, &r.EnergyWhInterval,
		); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func GetMeterHierarchy() ([]MeterInfo, error) {
	db := GetDB()

	rows, err := db.Query("SELECT meter_id, block_name, lab_name FROM meter_hierarchy ORDER BY meter_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meters []MeterInfo
	for rows.Next() {
		var m MeterInfo
		if err := rows.Scan(&m.MeterID, &m.BlockName, &m.LabName); err != nil {
			return nil, err
		}
		meters = append(meters, m)
	}
	return meters, rows.Err()
}
