// Package engine moves whole game images over the data channel. A transfer
// is a sequence of fixed-size chunks; when the data socket breaks, the engine
// probes the command channel, reconnects if needed and resumes at the first
// sector the server has not yet acknowledged.
package engine

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/1ureka/hdlgi/internal/protocol"
	"github.com/1ureka/hdlgi/internal/transport"
	"github.com/1ureka/hdlgi/internal/util"
)

// Commander is the command channel. *transport.Conn implements it.
type Commander interface {
	Exchange(cmd protocol.Command, payload []byte, max int) (int32, []byte, error)
	Redial() error
}

// DataStream is one accepted data connection.
type DataStream interface {
	ReadFull(buf []byte) (int, error)
	WriteFull(buf []byte) (int, error)
	Close() error
}

// Acceptor hands out data connections once the server has been told to open
// one.
type Acceptor interface {
	Accept() (DataStream, error)
	Abandon()
}

// SectorSource yields the image to install, len(buf)/2048 sectors at a time.
type SectorSource interface {
	ReadNext(buf []byte) (int, error)
}

// Reporter receives one call per finished chunk. It must not block.
type Reporter interface {
	Report(n int, elapsed time.Duration)
}

type listenerAcceptor struct{ l *transport.DataListener }

func (a listenerAcceptor) Accept() (DataStream, error) {
	dc, err := a.l.Accept()
	if err != nil {
		return nil, err
	}
	return dc, nil
}

func (a listenerAcceptor) Abandon() { a.l.Abandon() }

// FromListener adapts a DataListener to the Acceptor interface.
func FromListener(l *transport.DataListener) Acceptor {
	return listenerAcceptor{l: l}
}

// Options bounds the failure ladder.
type Options struct {
	RetryCount     int    // in-place stall retries, recovery rounds per chunk, CLOSE_GAME tries
	ReconnectCount int    // redials and re-init attempts per recovery
	ChunkSectors   uint32 // sectors per chunk
}

// DefaultOptions returns the limits the console tooling has always used.
func DefaultOptions() Options {
	return Options{RetryCount: 3, ReconnectCount: 5, ChunkSectors: 2048}
}

// Engine runs one transfer at a time over a command channel and a data
// listener it does not own.
type Engine struct {
	cmd    Commander
	data   Acceptor
	cancel *Canceller
	opts   Options

	// Reporter, when set, is told about every finished chunk.
	Reporter Reporter

	state State
	log   util.Scoped
}

// New creates an engine. A nil cancel disables user aborts.
func New(cmd Commander, data Acceptor, cancel *Canceller, opts Options) *Engine {
	def := DefaultOptions()
	if opts.RetryCount <= 0 {
		opts.RetryCount = def.RetryCount
	}
	if opts.ReconnectCount <= 0 {
		opts.ReconnectCount = def.ReconnectCount
	}
	if opts.ChunkSectors == 0 {
		opts.ChunkSectors = def.ChunkSectors
	}
	return &Engine{cmd: cmd, data: data, cancel: cancel, opts: opts}
}

// State returns where the last transfer ended up.
func (e *Engine) State() State { return e.state }

// direction captures what differs between an install and a download.
type direction struct {
	// begin asks the server to open the data channel for s. resume is false
	// only for the very first request of the session.
	begin func(s Session, resume bool) error
	// started runs once, after the first data connection was accepted.
	started func() error
	// fill prepares the next chunk and returns the sectors it holds.
	fill func(chunk []byte) (uint32, error)
	// move pushes or pulls the chunk over the data connection.
	move func(dc DataStream, chunk []byte) (int, error)
	// commit consumes a chunk that crossed the wire completely.
	commit func(chunk []byte) error
}

// Install streams an image to the console. The partition is created by
// PREP_GAME_INST from info.
func (e *Engine) Install(info protocol.GameInfo, src SectorSource) error {
	total := info.Layer0Sectors + info.Layer1Sectors
	d := direction{
		begin: func(s Session, resume bool) error {
			if !resume {
				payload, err := info.MarshalBinary()
				if err != nil {
					return err
				}
				return e.simple(protocol.CmdPrepGameInstall, payload)
			}
			partition, err := LookupPartition(e.cmd, info.DiscID)
			if err != nil {
				return err
			}
			return e.initIO(protocol.CmdInitGameWrite, s, partition)
		},
		fill: func(chunk []byte) (uint32, error) {
			n, err := src.ReadNext(chunk)
			if err != nil {
				return 0, fmt.Errorf("read image: %w: %w", protocol.ErrIO, err)
			}
			if n == 0 {
				return 0, fmt.Errorf("image ended early: %w", protocol.ErrIO)
			}
			return uint32(n), nil
		},
		move: func(dc DataStream, chunk []byte) (int, error) { return dc.WriteFull(chunk) },
	}
	return e.run(total, d)
}

// Download copies partition into a new file at path. The file is removed
// unless the whole transfer and its close succeed.
func (e *Engine) Download(partition string, sectors uint32, path string) (err error) {
	var out *os.File
	defer func() {
		if out == nil {
			return
		}
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w: %w", path, protocol.ErrIO, cerr)
		}
		if err != nil {
			if rerr := os.Remove(path); rerr != nil {
				util.LogWarning("could not remove partial file %s: %v", path, rerr)
			}
		}
	}()

	d := direction{
		begin: func(s Session, _ bool) error {
			return e.initIO(protocol.CmdInitGameRead, s, partition)
		},
		started: func() error {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create output: %w: %w", protocol.ErrIO, err)
			}
			out = f
			return nil
		},
		fill: func(chunk []byte) (uint32, error) {
			return uint32(len(chunk) / protocol.SectorSize), nil
		},
		move: func(dc DataStream, chunk []byte) (int, error) { return dc.ReadFull(chunk) },
		commit: func(chunk []byte) error {
			if _, err := out.Write(chunk); err != nil {
				return fmt.Errorf("write output: %w: %w", protocol.ErrIO, err)
			}
			return nil
		},
	}
	return e.run(sectors, d)
}

func (e *Engine) run(total uint32, d direction) error {
	sess := newSession(util.NewSessionID(), total, e.opts.ChunkSectors)
	e.log = util.Scope("session", sess.ID)
	e.state = SessionOpen
	e.log.Debug("opening transfer of %d sectors", total)

	dc, err := e.open(*sess, d, false)
	if err != nil {
		e.state = Failed
		return err
	}
	e.state = Streaming

	var loopErr error
	if d.started != nil {
		loopErr = d.started()
	}

	buf := make([]byte, int(e.opts.ChunkSectors)*protocol.SectorSize)
	for loopErr == nil && sess.Remaining > 0 {
		if e.cancel.Observe() {
			e.log.Warning("transfer aborted at sector %d", sess.Offset)
			loopErr = protocol.ErrAborted
			break
		}

		want := sess.NextChunk()
		n, err := d.fill(buf[:want*protocol.SectorSize])
		if err != nil {
			loopErr = err
			break
		}
		n = min(n, want)
		chunk := buf[:n*protocol.SectorSize]

		start := time.Now()
		if dc, err = e.transfer(sess, d, dc, chunk); err != nil {
			loopErr = err
			break
		}
		if d.commit != nil {
			if err := d.commit(chunk); err != nil {
				loopErr = err
				break
			}
		}
		sess.Advance(n)
		if e.Reporter != nil {
			e.Reporter.Report(len(chunk), time.Since(start))
		}
	}

	if dc != nil {
		dc.Close()
	}
	err = e.closeGame(loopErr)
	switch {
	case err == nil:
		e.state = Completed
	case errors.Is(err, protocol.ErrAborted):
		e.state = Aborted
	default:
		e.state = Failed
	}
	return err
}

// transfer moves one chunk, recovering the data channel as often as the
// limits allow. The chunk is sent again from its start after every recovery
// since the server resumes at the session offset.
func (e *Engine) transfer(sess *Session, d direction, dc DataStream, chunk []byte) (DataStream, error) {
	done, stalls, rounds := 0, 0, 0
	for {
		k, err := d.move(dc, chunk[done:])
		done += k
		if err == nil {
			return dc, nil
		}
		if errors.Is(err, protocol.ErrStalled) && stalls < e.opts.RetryCount {
			stalls++
			e.log.Debug("data channel stalled at sector %d, retry %d/%d", sess.Offset, stalls, e.opts.RetryCount)
			continue
		}

		e.log.Warning("chunk at sector %d failed: %v", sess.Offset, err)
		dc.Close()
		if rounds == e.opts.RetryCount {
			return nil, fmt.Errorf("sector %d: %w", sess.Offset, protocol.ErrConnectionLost)
		}
		rounds++

		e.state = Suspended
		if dc, err = e.recover(*sess, d); err != nil {
			return nil, err
		}
		e.state = Streaming
		done, stalls = 0, 0
	}
}

// recover probes the server after the data channel broke and reopens it at
// the session offset.
func (e *Engine) recover(s Session, d direction) (DataStream, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("session out of step (offset %d, remaining %d, total %d): %w",
			s.Offset, s.Remaining, s.Total, protocol.ErrIO)
	}

	result, _, err := e.cmd.Exchange(protocol.CmdIOStatus, nil, 0)
	switch {
	case errors.Is(err, protocol.ErrConnectionLost):
		e.log.Warning("command connection lost, reconnecting")
		if err := e.redial(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("io status: %w: %w", protocol.ErrIO, err)
	case result != 0:
		return nil, fmt.Errorf("io status: %w: %w", protocol.ErrIO,
			&protocol.RemoteError{Command: protocol.CmdIOStatus, Result: result})
	}

	e.log.Info("command connection is fine, reopening data connection at sector %d", s.Offset)
	for attempt := 1; attempt <= e.opts.ReconnectCount; attempt++ {
		if err := d.begin(s, true); err != nil {
			e.data.Abandon()
			e.log.Warning("resume attempt %d/%d failed: %v", attempt, e.opts.ReconnectCount, err)
			if errors.Is(err, protocol.ErrConnectionLost) {
				e.log.Warning("command connection lost, reconnecting")
				if err := e.redial(); err != nil {
					return nil, err
				}
			}
			continue
		}
		dc, err := e.data.Accept()
		if err == nil {
			e.log.Info("data connection re-established, resuming")
			return dc, nil
		}
		e.log.Warning("resume attempt %d/%d failed: %v", attempt, e.opts.ReconnectCount, err)
	}
	return nil, fmt.Errorf("resume at sector %d: %w", s.Offset, protocol.ErrConnectionLost)
}

// open asks the server for a data connection and accepts it. A rejected
// request releases the prepared listener.
func (e *Engine) open(s Session, d direction, resume bool) (DataStream, error) {
	if err := d.begin(s, resume); err != nil {
		e.data.Abandon()
		return nil, err
	}
	return e.data.Accept()
}

// closeGame ends the session on the server. It is skipped when the command
// channel is already gone, and its failure only replaces a success.
func (e *Engine) closeGame(outcome error) error {
	if errors.Is(outcome, protocol.ErrConnectionLost) {
		return outcome
	}

	var err error
	for try := 1; try <= e.opts.RetryCount; try++ {
		var result int32
		result, _, err = e.cmd.Exchange(protocol.CmdCloseGame, nil, 0)
		if err == nil {
			err = protocol.CheckResult(protocol.CmdCloseGame, result)
			break
		}
		if !errors.Is(err, protocol.ErrConnectionLost) {
			break
		}
		e.log.Warning("command connection lost while closing, reconnecting")
		if rerr := e.redial(); rerr != nil {
			err = rerr
			break
		}
	}
	if err != nil {
		e.log.Error("closing game failed: %v", err)
	}

	if outcome != nil {
		return outcome
	}
	return err
}

func (e *Engine) redial() error {
	for attempt := 1; attempt <= e.opts.ReconnectCount; attempt++ {
		err := e.cmd.Redial()
		if err == nil {
			return nil
		}
		e.log.Warning("reconnect %d/%d failed: %v", attempt, e.opts.ReconnectCount, err)
	}
	return fmt.Errorf("reconnect: %w", protocol.ErrConnectionLost)
}

func (e *Engine) initIO(cmd protocol.Command, s Session, partition string) error {
	payload, err := protocol.IOInitRequest{
		Sectors:   s.Remaining,
		Offset:    s.Offset,
		Partition: partition,
	}.MarshalBinary()
	if err != nil {
		return err
	}
	return e.simple(cmd, payload)
}

func (e *Engine) simple(cmd protocol.Command, payload []byte) error {
	result, _, err := e.cmd.Exchange(cmd, payload, 0)
	if err != nil {
		return err
	}
	return protocol.CheckResult(cmd, result)
}

// LookupPartition asks the server which partition holds discID.
func LookupPartition(c Commander, discID string) (string, error) {
	result, payload, err := c.Exchange(protocol.CmdGetGamePartName,
		protocol.EncodeCString(discID), protocol.PartitionLength+1)
	if err != nil {
		return "", err
	}
	if result != 0 {
		return "", fmt.Errorf("%s: %w", discID, protocol.ErrGameNotFound)
	}
	return protocol.DecodeCString(payload), nil
}
