package protocol

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the client. Callers wrap them with context and test
// them with errors.Is.
var (
	ErrUnresolvedHost         = errors.New("unresolved host")
	ErrConnectionLost         = errors.New("connection lost")
	ErrVersionMismatch        = errors.New("server version mismatch")
	ErrBindFailed             = errors.New("cannot bind data port")
	ErrAborted                = errors.New("aborted by user")
	ErrPartitionAttrCorrupted = errors.New("partition attribute area corrupted")
	ErrGameExists             = errors.New("game already installed")
	ErrGameNotFound           = errors.New("game not found")
	ErrIconLoad               = errors.New("cannot load icon")
	ErrIO                     = errors.New("i/o error")
	ErrOutOfMemory            = errors.New("out of memory")

	// ErrStalled means a bounded wait on the data socket expired while the
	// socket itself is still healthy. It is retried in place and never
	// returned to the user.
	ErrStalled = errors.New("data channel stalled")
)

// RemoteError carries a non-success result reported by the server.
type RemoteError struct {
	Command Command
	Result  int32
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed on server: result %d", e.Command, e.Result)
}

// CheckResult converts a negative server result into a *RemoteError.
func CheckResult(cmd Command, result int32) error {
	if result < 0 {
		return &RemoteError{Command: cmd, Result: result}
	}
	return nil
}

// Exit codes. The small values follow the numbering the console tooling has
// always used for these kinds.
const (
	ExitOK                = 0
	ExitUsage             = 1
	ExitConnectionLost    = 2
	ExitAborted           = 3
	ExitVersionMismatch   = 4
	ExitIconLoad          = 5
	ExitPartAttrCorrupted = 6
	ExitGameExists        = 7
	ExitBindFailed        = 8
	ExitUnresolvedHost    = 9
	ExitGameNotFound      = 10
	ExitIO                = 11
	ExitOutOfMemory       = 12
	ExitRemote            = 13
)

var kinds = []struct {
	err  error
	code int
	msg  string
}{
	{ErrAborted, ExitAborted, "Operation aborted by user."},
	{ErrConnectionLost, ExitConnectionLost, "The connection to the server was lost."},
	{ErrVersionMismatch, ExitVersionMismatch, "The server runs a different protocol version than this client."},
	{ErrIconLoad, ExitIconLoad, "Unable to load the requested icon."},
	{ErrPartitionAttrCorrupted, ExitPartAttrCorrupted, "The partition attribute area of this game is corrupted."},
	{ErrGameExists, ExitGameExists, "This game is already installed. Use --overwrite to replace it."},
	{ErrBindFailed, ExitBindFailed, "Unable to listen on the data port. Is another client running?"},
	{ErrUnresolvedHost, ExitUnresolvedHost, "Unable to resolve the server address."},
	{ErrGameNotFound, ExitGameNotFound, "No installed game matches the given title or disc ID."},
	{ErrIO, ExitIO, "An I/O error occurred."},
	{ErrOutOfMemory, ExitOutOfMemory, "Out of memory."},
}

// ExitCode maps an error to the process exit status. Kinds not known to this
// package yield ExitUsage and ok=false so the caller can refine them.
func ExitCode(err error) (code int, ok bool) {
	if err == nil {
		return ExitOK, true
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code, true
		}
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return ExitRemote, true
	}
	return ExitUsage, false
}

// Describe returns a one-line message for the user. Unknown kinds fall back
// to the error text.
func Describe(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.msg
		}
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return fmt.Sprintf("The server reported an error (%d) for %s.", remote.Result, remote.Command)
	}
	return err.Error()
}
