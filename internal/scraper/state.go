package scraper

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// Terminal reports whether no further transitions are possible from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning:
		return true
	}
	return s.Terminal()
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CancellableStatuses lists the statuses from which a job may be cancelled.
func CancellableStatuses() []JobStatus {
	return []JobStatus{JobStatusPending, JobStatusRunning}
}

var recordTransitions = map[RecordStatus]RecordStatus{
	RecordStatusRaw:       RecordStatusProcessed,
	RecordStatusProcessed: RecordStatusArchived,
}

// PreviousRecordStatus returns the only status a record can advance to s from.
func PreviousRecordStatus(s RecordStatus) (RecordStatus, bool) {
	for from, to := range recordTransitions {
		if to == s {
			return from, true
		}
	}
	return "", false
}

// Valid reports whether k is a known rule kind.
func (k RuleKind) Valid() bool {
	switch k {
	case RuleKindSelector, RuleKindXPath, RuleKindPattern, RuleKindPath:
		return true
	}
	return false
}

// Valid reports whether k is a known value kind. The empty kind means text.
func (k ValueKind) Valid() bool {
	switch k {
	case "", ValueKindText, ValueKindNumber, ValueKindDate, ValueKindURL:
		return true
	}
	return false
}

// Valid reports whether l is a known log level.
func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelCritical:
		return true
	}
	return false
}
