package engine

import "sync"

// Result is one task's outcome within a (connection, stage) pass
type Result struct {
	Connection string
	Stage      string
	Task       string
	Value      interface{}
	SoftFailed bool
}

// Output is the ordered, append-only result log for one run. It is the
// authoritative summary returned to the caller; soft failures appear in
// it as the recorded sentinel value.
type Output struct {
	RunID string

	mu      sync.Mutex
	entries []Result
}

// Append records one task result
func (o *Output) Append(r Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, r)
}

// Entries returns a snapshot of the recorded results in order
func (o *Output) Entries() []Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Result, len(o.entries))
	copy(out, o.entries)
	return out
}

// Values returns just the result values in order
func (o *Output) Values() []interface{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	values := make([]interface{}, len(o.entries))
	for i, e := range o.entries {
		values[i] = e.Value
	}
	return values
}

// Len returns the number of recorded results
func (o *Output) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// Failed reports whether any pass soft-failed
func (o *Output) Failed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range o.entries {
		if e.SoftFailed {
			return true
		}
	}
	return false
}

// IsSoftFailure reports whether a task result value is the failure
// sentinel: the literal boolean false.
func IsSoftFailure(value interface{}) bool {
	b, ok := value.(bool)
	return ok && !b
}
