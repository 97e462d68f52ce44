// internal/device/logs.go
package device

import (
	"fmt"
	"time"
)

// Category identifies one time series inside a Classic log file.
type Category int

// Daily log categories (file DailyLogFile).
const (
	KWHourDaily          Category = 0
	FloatTimeDaily       Category = 1
	HighPowerDaily       Category = 2
	HighTempDaily        Category = 3
	HighPVVoltDaily      Category = 4
	HighBatteryVoltDaily Category = 5
)

// Minute log categories (file MinuteLogFile).
const (
	PowerMinute          Category = 10
	InputVoltageMinute   Category = 11
	BatteryVoltageMinute Category = 12
	OutputCurrentMinute  Category = 13
	EnergyMinute         Category = 14
	ChargeStateMinute    Category = 15
	TimestampHighMinute  Category = 16
)

// Log file numbers served by function 0x14.
const (
	DailyLogFile  = 1
	MinuteLogFile = 2
)

const (
	DayLogCapacity    = 365
	MinuteLogCapacity = 1440
)

var categoryInfo = map[Category]struct {
	name    string
	divisor float64
}{
	KWHourDaily:          {"kwhour_daily", 10},
	FloatTimeDaily:       {"float_time_daily", 1},
	HighPowerDaily:       {"high_power_daily", 1},
	HighTempDaily:        {"high_temp_daily", 10},
	HighPVVoltDaily:      {"high_pv_volt_daily", 10},
	HighBatteryVoltDaily: {"high_battery_volt_daily", 10},

	PowerMinute:          {"power_minute", 1},
	InputVoltageMinute:   {"input_voltage_minute", 10},
	BatteryVoltageMinute: {"battery_voltage_minute", 10},
	OutputCurrentMinute:  {"output_current_minute", 10},
	EnergyMinute:         {"energy_minute", 10},
	ChargeStateMinute:    {"charge_state_minute", 256},
	TimestampHighMinute:  {"timestamp_high_minute", 1},
}

func (c Category) String() string {
	if ci, ok := categoryInfo[c]; ok {
		return ci.name
	}
	return fmt.Sprintf("category_%d", int(c))
}

// Divisor converts a raw sample of this category to its unit.
func (c Category) Divisor() float64 {
	if ci, ok := categoryInfo[c]; ok {
		return ci.divisor
	}
	return 1
}

// Scale converts a raw sample.
func (c Category) Scale(raw int16) float64 {
	return float64(raw) / c.Divisor()
}

// LogKind selects one of the two Classic logs.
type LogKind int

const (
	DayLog LogKind = iota
	MinuteLog
)

var (
	dailyCategories = []Category{
		KWHourDaily, FloatTimeDaily, HighPowerDaily,
		HighTempDaily, HighPVVoltDaily, HighBatteryVoltDaily,
	}
	minuteCategories = []Category{
		PowerMinute, InputVoltageMinute, BatteryVoltageMinute,
		OutputCurrentMinute, EnergyMinute, ChargeStateMinute,
	}
)

func (k LogKind) String() string {
	if k == MinuteLog {
		return "minute"
	}
	return "day"
}

func (k LogKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Categories returns the value categories of the log. The minute log's
// timestamp category is read separately and is not part of this set.
func (k LogKind) Categories() []Category {
	if k == MinuteLog {
		return append([]Category(nil), minuteCategories...)
	}
	return append([]Category(nil), dailyCategories...)
}

// File returns the file number the log is served from.
func (k LogKind) File() uint16 {
	if k == MinuteLog {
		return MinuteLogFile
	}
	return DailyLogFile
}

// CacheKey is the log cache key for this controller and log.
func (k LogKind) CacheKey(ep Endpoint) string {
	return ep.CacheName() + "/" + k.String()
}

// ---- log entry ----

// LogEntry holds the sample arrays of one log, stamped with the time they
// were read from the controller.
type LogEntry struct {
	Date    time.Time              `json:"date"`
	Samples map[Category][]float64 `json:"samples"`
}

// NewLogEntry returns an empty entry.
func NewLogEntry() *LogEntry {
	return &LogEntry{Samples: make(map[Category][]float64)}
}

// Set stores the samples of category c.
func (e *LogEntry) Set(c Category, samples []float64) {
	if e.Samples == nil {
		e.Samples = make(map[Category][]float64)
	}
	e.Samples[c] = samples
}

// Get returns the samples of category c.
func (e *LogEntry) Get(c Category) []float64 {
	if e == nil {
		return nil
	}
	return e.Samples[c]
}

// IsEmpty reports whether the entry holds no samples.
func (e *LogEntry) IsEmpty() bool {
	if e == nil {
		return true
	}
	for _, s := range e.Samples {
		if len(s) > 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (e *LogEntry) Clone() *LogEntry {
	if e == nil {
		return nil
	}
	out := &LogEntry{Date: e.Date, Samples: make(map[Category][]float64, len(e.Samples))}
	for c, s := range e.Samples {
		out.Samples[c] = append([]float64(nil), s...)
	}
	return out
}
