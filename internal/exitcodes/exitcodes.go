package exitcodes

// Exit codes for jpegsweep
// These codes form the operational contract with scripts and operators
const (
	Success         = 0 // Every matched file processed without error
	InvalidConfig   = 2 // Missing argument, bad root directory or invalid config file
	SafetyViolation = 3 // Safety validator blocked a write or delete
	RuntimeError    = 4 // Run could not proceed (walk failed, tool missing, database failure)
	FileFailures    = 5 // Run completed but one or more files failed
)
