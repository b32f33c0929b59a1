package transport

// Status tags a delivery outcome. Unreachable is an expected condition
// when the archive device is offline, not an error: the record already
// has durable local existence and delivery is retried later.
type Status string

const (
	StatusAcked       Status = "acked"
	StatusUnreachable Status = "unreachable"
	StatusFailed      Status = "failed"
)

// Outcome is the result of one delivery attempt. Callers branch on
// Status rather than unwrapping errors.
type Outcome struct {
	Status    Status
	Duplicate bool
	Reason    string
}

func Acked(duplicate bool) Outcome {
	return Outcome{Status: StatusAcked, Duplicate: duplicate}
}

func Unreachable(reason string) Outcome {
	return Outcome{Status: StatusUnreachable, Reason: reason}
}

func Failed(reason string) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason}
}
