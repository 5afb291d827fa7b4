package archive

// State is the lifecycle state of an archive actor.
type State int32

const (
	// StateAccumulating means the actor is writing records into the open archive.
	StateAccumulating State = iota
	// StateRotating means the open archive is being swapped for a fresh one.
	StateRotating
	// StateDraining means Finish was received and the final commits are running.
	StateDraining
	// StateTerminated means the actor has exited; the sink rejects all messages.
	StateTerminated
)

// String returns the string representation of a state.
func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateRotating:
		return "rotating"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats is a point-in-time snapshot of an actor's counters.
type Stats struct {
	State             State `json:"state"`
	RecordsWritten    int64 `json:"records_written"`
	Revisits          int64 `json:"revisits"`
	EncodeFailures    int64 `json:"encode_failures"`
	Dropped           int64 `json:"dropped"`
	Rotations         int64 `json:"rotations"`
	ArchivesCommitted int64 `json:"archives_committed"`
	CommitFailures    int64 `json:"commit_failures"`
	OpenArchiveBytes  int64 `json:"open_archive_bytes"`
}
