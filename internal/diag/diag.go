// Package diag is a shared error-aggregation and logging helper: collect
// every problem found during a pass, log each one as it's found, and report
// a single joined failure at the end. NewLogger names a logger instance per
// subsystem (the process backends use "process-<pid>"); schema loading
// takes its own log callback and does not use this package.
package diag

import (
	"errors"
	"sort"
	"sync"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// NewLogger returns a gologger instance labeled and colored by name.
func NewLogger(name string) *logger.Logger {
	return logger.NewLogger(coloransi.Color(coloransi.ColorBlue, coloransi.ColorOrange, name))
}

// Collector accumulates errors from a multi-step pass (schema import,
// reference resolution) logging each one through log as it is added, then
// joins them into one error, sorted for determinism.
type Collector struct {
	log  *logger.Logger
	mu   sync.Mutex
	errs []error
}

// NewCollector builds a Collector that logs through log. log is typically
// the result of NewLogger, but any *logger.Logger works (tests can pass a
// discarding one).
func NewCollector(log *logger.Logger) *Collector {
	return &Collector{log: log}
}

// Add records err, logging it immediately. A nil err is ignored so callers
// can pass through the result of a fallible step without a branch.
func (c *Collector) Add(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
	if c.log != nil {
		c.log.Errorln(err.Error())
	}
}

// Log adapts Collector to the `func(string)` logging hook schema's importer
// and resolver already take, so a Collector can be threaded through as the
// log callback while a caller separately decides which problems also
// constitute hard failures via Add.
func (c *Collector) Log(msg string) {
	if c.log != nil {
		c.log.Infoln(msg)
	}
}

// Err returns the joined set of collected errors, or nil if none were
// added. Errors are sorted by message first for reproducible output across
// runs, since map iteration order elsewhere in schema loading is not
// otherwise stable.
func (c *Collector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) == 0 {
		return nil
	}
	sorted := make([]error, len(c.errs))
	copy(sorted, c.errs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Error() < sorted[j].Error() })
	return errors.Join(sorted...)
}

// Len reports how many errors have been collected so far.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}
