package thermal

import "time"

// Snapshot is the outcome of one control loop iteration.
type Snapshot struct {
	Timestamp          time.Time     `json:"timestamp"`
	TemperatureC       float64       `json:"temperature_c"`
	TargetDutyCycle    float64       `json:"target_duty_cycle"`
	AppliedDutyCycle   float64       `json:"applied_duty_cycle"`
	Actuated           bool          `json:"actuated"`
	ActuationFailed    bool          `json:"actuation_failed"`
	SensorFailed       bool          `json:"sensor_failed"`
	Interval           time.Duration `json:"interval"`
	Mode               Mode          `json:"mode"`
	EmergencyActive    bool          `json:"emergency_active"`
	SleepModeActive    bool          `json:"sleep_mode_active"`
	StableReadingCount uint32        `json:"stable_reading_count"`
}
