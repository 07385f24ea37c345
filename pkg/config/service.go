package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pescampus/campus_energy_meter/pkg/pathing"
)

var ActiveMeterLoggerConfig *MeterLoggerConfig

// DefaultMeterLoggerConfig matches the reference deployment: one meter
// on unit id 1 with the register layout found by the scanner, plus two
// virtual meters derived from it.
func DefaultMeterLoggerConfig() *MeterLoggerConfig {
	return &MeterLoggerConfig{
		SerialPortPatterns: []string{"/dev/ttyUSB*", "/dev/tty.usbserial*"},
		Baudrate:           9600,
		UnitID:             1,
		PollIntervalSec:    5,
		ResponseTimeoutMs:  1000,
		MeterID:            1,
		Building:           "Block A",
		Floor:              "Lab 1",
		ListenAddress:      "0.0.0.0",
		ListenPort:         9041,
		MqttBroker:         "tcp://localhost:1883",
		MqttTopic:          "pes/campus/energy/meter/reading",
		MqttClientID:       "campus_meter_logger",
		ReadBlocks:         [][]int{{6, 6}, {34, 2}, {54, 4}},
		Registers: map[string]RegisterEntry{
			"voltage_v1":       {Addr: 6, WordOrder: "ABCD", Scale: 1.0},
			"current_a1":       {Addr: 8, WordOrder: "ABCD", Scale: 1.0},
			"active_power_w1":  {Addr: 10, WordOrder: "ABCD", Scale: -1000.0},
			"power_factor_pf1": {Addr: 34, WordOrder: "ABCD", Scale: 1.0},
			"frequency_hz":     {Addr: 54, WordOrder: "ABCD", Scale: 1.0},
			"energy_kwh":       {Addr: 56, WordOrder: "ABCD", Scale: 0.01},
		},
		VirtualMeters: []VirtualMeterEntry{
			{MeterID: 2, ScaleFactor: 0.8, JitterPct: 0.05},
			{MeterID: 3, ScaleFactor: 1.2, JitterPct: 0.05},
		},
	}
}

func LoadMeterLoggerConfig() error {
	configPath := filepath.Join(pathing.GetConfigDir(), "meter_logger.toml")

	// Create default if not exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultMeterLoggerConfig()
		// Create file
		cfgFile, err := os.Create(configPath)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		toml.NewEncoder(cfgFile).Encode(cfg)
		ActiveMeterLoggerConfig = cfg
		return nil
	}

	// Load existing config
	var config MeterLoggerConfig
	_, err := toml.DecodeFile(configPath, &config)
	if err != nil {
		return err
	}
	ActiveMeterLoggerConfig = &config
	return nil
}
