package ingest

// Event is emitted by the Monitor to its OnEvent subscriber.
type Event interface {
	event()
}

// NewIncoming is emitted the first time an incoming message is stored.
type NewIncoming struct {
	Sender     string
	Timestamp  string
	Text       string
	TodayCount int // incoming messages stored today, -1 if the count failed
}

// Outgoing is emitted for every outgoing message observed for the first time
// in this run, whether or not it was already stored. New tells which.
type Outgoing struct {
	Sender    string
	Timestamp string
	Text      string
	New       bool
}

// SourceUnavailable is emitted when listing elements hit a transient failure.
type SourceUnavailable struct {
	Phase string
	Err   error
}

// StorageFailure is emitted on every failed store call. Consecutive counts
// failures since the last successful store call, for alerting.
type StorageFailure struct {
	Err         error
	Consecutive int
}

// CycleFailure is emitted for anything unexpected inside a cycle, panics included.
type CycleFailure struct {
	Err error
}

func (NewIncoming) event()       {}
func (Outgoing) event()          {}
func (SourceUnavailable) event() {}
func (StorageFailure) event()    {}
func (CycleFailure) event()      {}
