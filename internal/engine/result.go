package engine

// Summary counts record-level outcomes across one engine operation
type Summary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}

func (s *Summary) add(other Summary) {
	s.Created += other.Created
	s.Updated += other.Updated
	s.Skipped += other.Skipped
	s.Deleted += other.Deleted
	s.Errors += other.Errors
}

// Result is the uniform outcome of every engine entry point. Partial success
// is a successful result with a non-zero Summary.Errors; total failure carries
// Err and Success false.
type Result struct {
	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`
	Data    any     `json:"data,omitempty"`
	Err     *Error  `json:"error,omitempty"`
	Summary Summary `json:"summary"`
}

// ok builds a successful result
func ok(message string, summary Summary) Result {
	return Result{Success: true, Message: message, Summary: summary}
}

// skipped builds a successful no-op result for a guarded record
func skipped(message string) Result {
	return Result{Success: true, Message: message, Summary: Summary{Skipped: 1}}
}

// failed builds a failure result with a taxonomy-classified error
func failed(op, tenantID, message string, err error, summary Summary) Result {
	summary.Errors++
	return Result{
		Success: false,
		Message: message,
		Err:     newError(op, tenantID, message, err),
		Summary: summary,
	}
}
