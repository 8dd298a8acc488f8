package ir

// Version constants for records and the RNG engine.
const (
	// RecordVersion is the event/trace/audit record schema version.
	RecordVersion = "1"

	// EngineVersion is the mlrng engine version.
	EngineVersion = "0.3.0"

	// Algorithm names the counter-based generator recorded in audit rows.
	Algorithm = "philox2x64-10"
)
