package configs

import (
	"sync"
	"time"

	"github.com/magiconair/properties"
)

var propLock = sync.Mutex{}

// LoadProperties reads the machine properties file and overrides the runtime
// parameters it names. Keys absent from the file keep their current values.
func LoadProperties(path string) error {
	propLock.Lock()
	defer propLock.Unlock()
	if path == "" {
		path = ConfigFileLocation
	}
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return err
	}
	PLCAddress = p.GetString("plc.address", PLCAddress)
	PLCUnitID = byte(p.GetInt("plc.unit_id", int(PLCUnitID)))
	ModbusTimeout = p.GetParsedDuration("plc.timeout", ModbusTimeout)
	PreflightTimeout = p.GetParsedDuration("plc.preflight_timeout", PreflightTimeout)
	AnalysisBaseURL = p.GetString("analysis.base_url", AnalysisBaseURL)
	AnalysisTimeout = p.GetParsedDuration("analysis.timeout", AnalysisTimeout)
	StarvationThreshold = p.GetFloat64("monitor.starvation_threshold", StarvationThreshold)
	StoreType = p.GetString("store.type", StoreType)
	UseJournal = p.GetBool("journal.enabled", UseJournal)
	JournalDirectory = p.GetString("journal.directory", JournalDirectory)
	DefaultCoarseSpeed = p.GetFloat64("defaults.coarse_speed", DefaultCoarseSpeed)
	DefaultFineSpeed = p.GetFloat64("defaults.fine_speed", DefaultFineSpeed)
	DefaultFallValue = p.GetFloat64("defaults.fall_value", DefaultFallValue)
	return nil
}

// SetStore selects the learned-parameter store backend from a flag value.
func SetStore(store string) {
	switch store {
	case "memory":
		StoreType = MemoryStore
	case "sql", "postgres":
		StoreType = PostgreSQL
	case "mongo":
		StoreType = MongoDB
	default:
		panic("incorrect store flag: shall be memory, sql, or mongo")
	}
}

// SetStarvationThreshold tunes the minimum weight gain expected over the
// starvation window, in grams.
func SetStarvationThreshold(th float64) {
	if th > 0 {
		StarvationThreshold = th
	}
}

// SetTimeouts overrides the per-operation Modbus timeout and the analysis
// HTTP timeout, zero keeps the current value.
func SetTimeouts(modbus time.Duration, analysis time.Duration) {
	if modbus > 0 {
		ModbusTimeout = modbus
	}
	if analysis > 0 {
		AnalysisTimeout = analysis
	}
}
