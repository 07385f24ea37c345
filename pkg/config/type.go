package config

type MeterLoggerConfig struct {
	// Leave empty to auto-discover the first matching USB serial device.
	SerialPortPatterns []string `toml:"serial_port_patterns"`
	Baudrate           uint     `toml:"baudrate"`
	UnitID             int      `toml:"unit_id"`
	PollIntervalSec    int      `toml:"poll_interval_sec"`
	ResponseTimeoutMs  int      `toml:"response_timeout_ms"`

	// Identity attached to published readings
	MeterID  int    `toml:"meter_id"`
	Building string `toml:"building"`
	Floor    string `toml:"floor"`

	// Live API
	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`

	// MQTT publishing; empty broker disables the publisher
	MqttBroker   string `toml:"mqtt_broker"`
	MqttTopic    string `toml:"mqtt_topic"`
	MqttClientID string `toml:"mqtt_client_id"`

	ReadBlocks    [][]int                  `toml:"read_blocks"`
	Registers     map[string]RegisterEntry `toml:"registers"`
	VirtualMeters []VirtualMeterEntry      `toml:"virtual_meters"`
}

type RegisterEntry struct {
	Addr      int     `toml:"addr"`
	WordOrder string  `toml:"word_order"`
	Scale     float64 `toml:"scale"`
}

type VirtualMeterEntry struct {
	MeterID     int     `toml:"meter_id"`
	ScaleFactor float64 `toml:"scale_factor"`
	JitterPct   float64 `toml:"jitter_pct"`
}
