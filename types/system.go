package types

// ResetConfig is published retained on config/reset.
type ResetConfig struct {
	Button         string `json:"button" yaml:"button"` // button capability name (domain io)
	FactoryResetMs uint32 `json:"factory_reset_ms" yaml:"factory_reset_ms"`
}

// RebootRequest is published on system/reboot.
type RebootRequest struct {
	Reason string `json:"reason"`
}

// HeartbeatConfig is published retained on config/heartbeat.
type HeartbeatConfig struct {
	IntervalS int `json:"interval_s" yaml:"interval_s"`
}

// Heartbeat is published retained on system/heartbeat.
type Heartbeat struct {
	UptimeS int64 `json:"uptime_s"`
	TS      int64 `json:"ts_ns"`
}

// ServiceState is the retained <service>/state payload.
type ServiceState struct {
	Level  string `json:"level"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	TS     int64  `json:"ts_ns"`
}

// BridgeConfig is published retained on config/bridge.
type BridgeConfig struct {
	Transport string `json:"transport" yaml:"transport"` // "serial", "uart" or a registered name

	// serial (host)
	Port string `json:"port,omitempty" yaml:"port"`
	Baud int    `json:"baud" yaml:"baud"`

	// uart (TinyGo)
	UART  int `json:"uart,omitempty" yaml:"uart"`
	TxPin int `json:"tx_pin,omitempty" yaml:"tx_pin"`
	RxPin int `json:"rx_pin,omitempty" yaml:"rx_pin"`

	ReadTimeoutMs int     `json:"read_timeout_ms,omitempty" yaml:"read_timeout_ms"`
	PingMs        int     `json:"ping_ms,omitempty" yaml:"ping_ms"`
	UpRatePerS    float64 `json:"up_rate_per_s,omitempty" yaml:"up_rate_per_s"` // upstream frames per second
	UpBurst       int     `json:"up_burst,omitempty" yaml:"up_burst"`
}
