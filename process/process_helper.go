package process

// ProcessHelper ties discovery and attachment together for one backend:
// find a target by PID or name, then open it as a Process ready for a read
// session.
type ProcessHelper interface {
	// New creates an unopened Process instance.
	New() Process

	// NewWithPID creates a Process attached to pid.
	NewWithPID(pid ProcessID) (Process, error)

	// OpenProcessByName opens the first process whose short name matches
	// exactly.
	OpenProcessByName(name string) (Process, error)

	// OpenProcessByPattern opens the first process whose short name matches
	// the regular expression pattern.
	OpenProcessByPattern(pattern string) (Process, error)
}
