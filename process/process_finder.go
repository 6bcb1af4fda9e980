package process

// ProcessFinder discovers candidate target processes on the local machine.
// Selection by executable identity (matching a build id against the schema's
// symbol table) lives in the backend packages, which know how to compute an
// identity for their platform.
type ProcessFinder interface {
	// FindProcessByPID returns the info for one PID, or an error if it is
	// not running.
	FindProcessByPID(pid ProcessID) (*ProcessInfo, error)

	// FindProcessByName returns every process whose short name matches
	// exactly.
	FindProcessByName(name string) ([]ProcessInfo, error)

	// FindProcessByNamePattern returns every process whose short name
	// matches the regular expression pattern.
	FindProcessByNamePattern(pattern string) ([]ProcessInfo, error)

	// FindAllProcesses returns every process visible to the caller.
	FindAllProcesses() ([]ProcessInfo, error)
}
