package chat

// ValidationError rejects a command synchronously; it is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}
