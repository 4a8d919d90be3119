package engine

import "fmt"

// State is the lifecycle position of a transfer.
type State int

const (
	Idle State = iota
	SessionOpen
	Streaming
	Suspended // data channel lost, recovery in progress
	Completed
	Aborted
	Failed
)

var stateNames = [...]string{"idle", "open", "streaming", "suspended", "completed", "aborted", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session tracks the progress of one install or download in 2048-byte
// sectors. Offset+Remaining == Total holds between chunks, so a resumed
// transfer asks for exactly {Remaining, Offset}.
type Session struct {
	ID         string
	Total      uint32
	Remaining  uint32
	Offset     uint32
	ChunkUnits uint32
}

func newSession(id string, total, chunk uint32) *Session {
	return &Session{ID: id, Total: total, Remaining: total, ChunkUnits: chunk}
}

// Valid reports whether the offset/remaining pair still adds up.
func (s Session) Valid() bool {
	return s.Offset+s.Remaining == s.Total && s.Offset <= s.Total
}

// NextChunk returns the sectors the next chunk should move.
func (s Session) NextChunk() uint32 {
	return min(s.ChunkUnits, s.Remaining)
}

// Advance records n sectors as transferred.
func (s *Session) Advance(n uint32) {
	s.Offset += n
	s.Remaining -= n
}
