package enums

// DLQErrorReason records why a drained event was given up on.
type DLQErrorReason string

const (
	DLQReasonMaxAttempts  DLQErrorReason = "max_attempts"
	DLQReasonNonRetryable DLQErrorReason = "non_retryable"
)

var validDLQErrorReasons = []DLQErrorReason{
	DLQReasonMaxAttempts,
	DLQReasonNonRetryable,
}

func (r DLQErrorReason) IsValid() bool {
	for _, candidate := range validDLQErrorReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
