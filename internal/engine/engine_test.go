package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/1ureka/hdlgi/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChunk     = 4
	testPartition = "PP.SLUS-12345..TEST"
)

// fakeConsole plays the server side of both channels. Data moves through
// pos, which every init request resets to the requested offset.
type fakeConsole struct {
	image []byte // received (install) or served (download)
	pos   int

	// one-shot faults keyed by the sector the stream is positioned at
	breaks map[int]bool
	stalls map[int]bool

	cmdDown      bool // IO_STATUS finds the command socket gone
	dropOnInit   bool // the next init request takes the command socket down
	redialFails  bool
	acceptFails  bool
	ioStatus     int32
	closeResult  int32
	prepResult   int32
	partNotFound bool

	commands  []protocol.Command
	inits     []protocol.IOInitRequest
	redials   int
	accepts   int
	abandons  int
	streams   int
	closedDCs int
}

func newFakeConsole(size int) *fakeConsole {
	return &fakeConsole{
		image:  make([]byte, size),
		breaks: map[int]bool{},
		stalls: map[int]bool{},
	}
}

func (c *fakeConsole) Exchange(cmd protocol.Command, payload []byte, max int) (int32, []byte, error) {
	c.commands = append(c.commands, cmd)
	switch cmd {
	case protocol.CmdPrepGameInstall:
		c.pos = 0
		return c.prepResult, nil, nil
	case protocol.CmdInitGameWrite, protocol.CmdInitGameRead:
		var req protocol.IOInitRequest
		if err := req.UnmarshalBinary(payload); err != nil {
			return 0, nil, err
		}
		if c.dropOnInit {
			c.dropOnInit = false
			c.cmdDown = true
		}
		if c.cmdDown {
			return 0, nil, protocol.ErrConnectionLost
		}
		c.inits = append(c.inits, req)
		c.pos = int(req.Offset) * protocol.SectorSize
		return 0, nil, nil
	case protocol.CmdGetGamePartName:
		if c.partNotFound {
			return -1, nil, nil
		}
		return 0, protocol.EncodeCString(testPartition), nil
	case protocol.CmdIOStatus:
		if c.cmdDown {
			return 0, nil, protocol.ErrConnectionLost
		}
		return c.ioStatus, nil, nil
	case protocol.CmdCloseGame:
		return c.closeResult, nil, nil
	}
	return 0, nil, nil
}

func (c *fakeConsole) Redial() error {
	c.redials++
	if c.redialFails {
		return protocol.ErrConnectionLost
	}
	c.cmdDown = false
	return nil
}

func (c *fakeConsole) Accept() (DataStream, error) {
	c.accepts++
	if c.acceptFails {
		return nil, protocol.ErrConnectionLost
	}
	c.streams++
	return &fakeStream{c: c}, nil
}

func (c *fakeConsole) Abandon() { c.abandons++ }

func (c *fakeConsole) count(cmd protocol.Command) int {
	n := 0
	for _, got := range c.commands {
		if got == cmd {
			n++
		}
	}
	return n
}

type fakeStream struct {
	c      *fakeConsole
	closed bool
}

// fault reports the one-shot fault armed at the current position.
func (s *fakeStream) fault() error {
	sector := s.c.pos / protocol.SectorSize
	if s.c.breaks[sector] {
		delete(s.c.breaks, sector)
		return protocol.ErrConnectionLost
	}
	if s.c.stalls[sector] {
		delete(s.c.stalls, sector)
		return protocol.ErrStalled
	}
	return nil
}

func (s *fakeStream) WriteFull(buf []byte) (int, error) {
	if err := s.fault(); err != nil {
		n := len(buf) / 2
		s.c.pos += copy(s.c.image[s.c.pos:], buf[:n])
		return n, err
	}
	s.c.pos += copy(s.c.image[s.c.pos:], buf)
	return len(buf), nil
}

func (s *fakeStream) ReadFull(buf []byte) (int, error) {
	if err := s.fault(); err != nil {
		n := copy(buf[:len(buf)/2], s.c.image[s.c.pos:])
		s.c.pos += n
		return n, err
	}
	n := copy(buf, s.c.image[s.c.pos:])
	s.c.pos += n
	return n, nil
}

func (s *fakeStream) Close() error {
	if !s.closed {
		s.closed = true
		s.c.closedDCs++
	}
	return nil
}

type sliceSource struct {
	data []byte
	pos  int
}

func (s *sliceSource) ReadNext(buf []byte) (int, error) {
	n := copy(buf, s.data[s.pos:]) / protocol.SectorSize
	s.pos += n * protocol.SectorSize
	return n, nil
}

type countingReporter struct {
	bytes, calls int
}

func (r *countingReporter) Report(n int, _ time.Duration) {
	r.bytes += n
	r.calls++
}

func testImage(sectors int) []byte {
	data := make([]byte, sectors*protocol.SectorSize)
	for i := range data {
		data[i] = byte(i*7 + i/protocol.SectorSize)
	}
	return data
}

func testInfo(sectors uint32) protocol.GameInfo {
	return protocol.GameInfo{
		Title:           "Test Game",
		DiscID:          "SLUS-12345",
		StartupFilename: "SLUS_123.45",
		DiscType:        protocol.DiscPS2DVD,
		Layer0Sectors:   sectors,
	}
}

func newTestEngine(c *fakeConsole, cancel *Canceller) *Engine {
	return New(c, c, cancel, Options{ChunkSectors: testChunk})
}

func TestInstallStreamsWholeImage(t *testing.T) {
	const sectors = 10
	src := testImage(sectors)
	c := newFakeConsole(len(src))
	rep := &countingReporter{}
	e := newTestEngine(c, nil)
	e.Reporter = rep

	require.NoError(t, e.Install(testInfo(sectors), &sliceSource{data: src}))

	assert.Equal(t, src, c.image)
	assert.Equal(t, Completed, e.State())
	assert.Equal(t, len(src), rep.bytes)
	assert.Equal(t, 3, rep.calls) // 4 + 4 + 2 sectors
	assert.Equal(t, []protocol.Command{protocol.CmdPrepGameInstall, protocol.CmdCloseGame}, c.commands)
	assert.Equal(t, 1, c.closedDCs)
}

func TestInstallResumesAtFailedChunk(t *testing.T) {
	const sectors = 10
	src := testImage(sectors)

	for k := 0; k < sectors; k += testChunk {
		c := newFakeConsole(len(src))
		c.breaks[k] = true
		e := newTestEngine(c, nil)

		require.NoError(t, e.Install(testInfo(sectors), &sliceSource{data: src}), "break at %d", k)

		assert.Equal(t, src, c.image, "break at %d", k)
		require.Len(t, c.inits, 1, "break at %d", k)
		assert.Equal(t, protocol.IOInitRequest{
			Sectors:   uint32(sectors - k),
			Offset:    uint32(k),
			Partition: testPartition,
		}, c.inits[0])
		assert.Equal(t, 1, c.count(protocol.CmdIOStatus))
		assert.Equal(t, 1, c.count(protocol.CmdGetGamePartName))
		assert.Equal(t, 2, c.closedDCs)
	}
}

func TestDownloadResumesAtFailedChunk(t *testing.T) {
	const sectors = 9
	src := testImage(sectors)

	for k := 0; k < sectors; k += testChunk {
		c := newFakeConsole(0)
		c.image = src
		c.breaks[k] = true
		path := filepath.Join(t.TempDir(), "out.iso")

		require.NoError(t, newTestEngine(c, nil).Download(testPartition, sectors, path))

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(src, got), "break at %d", k)
		require.Len(t, c.inits, 2)
		assert.Equal(t, protocol.IOInitRequest{Sectors: sectors, Offset: 0, Partition: testPartition}, c.inits[0])
		assert.Equal(t, protocol.IOInitRequest{Sectors: uint32(sectors - k), Offset: uint32(k), Partition: testPartition}, c.inits[1])
	}
}

func TestStallRetriedInPlace(t *testing.T) {
	const sectors = 8
	src := testImage(sectors)
	c := newFakeConsole(len(src))
	c.stalls[0] = true
	c.stalls[4] = true

	require.NoError(t, newTestEngine(c, nil).Install(testInfo(sectors), &sliceSource{data: src}))

	assert.Equal(t, src, c.image)
	assert.Zero(t, c.count(protocol.CmdIOStatus))
	assert.Equal(t, 1, c.streams)
}

func TestCommandChannelRedialedDuringRecovery(t *testing.T) {
	const sectors = 8
	src := testImage(sectors)
	c := newFakeConsole(len(src))
	c.breaks[4] = true
	c.cmdDown = true

	require.NoError(t, newTestEngine(c, nil).Install(testInfo(sectors), &sliceSource{data: src}))

	assert.Equal(t, src, c.image)
	assert.Equal(t, 1, c.redials)
}

func TestCommandChannelRedialedWhenResumeInitFails(t *testing.T) {
	const sectors = 8
	src := testImage(sectors)
	c := newFakeConsole(len(src))
	c.breaks[4] = true
	c.dropOnInit = true

	require.NoError(t, newTestEngine(c, nil).Install(testInfo(sectors), &sliceSource{data: src}))

	assert.Equal(t, src, c.image)
	assert.Equal(t, 1, c.redials)
	assert.Equal(t, 1, c.abandons)
	require.Len(t, c.inits, 1)
	assert.EqualValues(t, 4, c.inits[0].Offset)
}

func TestReconnectBudgetExhausted(t *testing.T) {
	const sectors = 8
	c := newFakeConsole(sectors * protocol.SectorSize)
	c.breaks[4] = true
	c.cmdDown = true
	c.redialFails = true
	e := newTestEngine(c, nil)

	err := e.Install(testInfo(sectors), &sliceSource{data: testImage(sectors)})

	assert.ErrorIs(t, err, protocol.ErrConnectionLost)
	assert.Equal(t, Failed, e.State())
	assert.Equal(t, DefaultOptions().ReconnectCount, c.redials)
	assert.Zero(t, c.count(protocol.CmdCloseGame), "no CLOSE_GAME over a dead socket")
}

func TestResumeAttemptsExhausted(t *testing.T) {
	const sectors = 8
	c := newFakeConsole(sectors * protocol.SectorSize)
	c.breaks[0] = true
	e := newTestEngine(c, nil)
	e.data = &failingAfterFirstAccept{fakeConsole: c}

	err := e.Install(testInfo(sectors), &sliceSource{data: testImage(sectors)})

	assert.ErrorIs(t, err, protocol.ErrConnectionLost)
	assert.Equal(t, 1+DefaultOptions().ReconnectCount, c.accepts)
	assert.Len(t, c.inits, DefaultOptions().ReconnectCount)
}

// failingAfterFirstAccept lets the session open, then refuses every reopen.
type failingAfterFirstAccept struct {
	*fakeConsole
}

func (f *failingAfterFirstAccept) Accept() (DataStream, error) {
	if f.accepts > 0 {
		f.accepts++
		return nil, protocol.ErrConnectionLost
	}
	return f.fakeConsole.Accept()
}

func TestRecoveryRoundsBounded(t *testing.T) {
	const sectors = 4
	c := newFakeConsole(sectors * protocol.SectorSize)
	e := newTestEngine(c, nil)
	e.data = &alwaysBroken{c}

	err := e.Install(testInfo(sectors), &sliceSource{data: testImage(sectors)})

	assert.ErrorIs(t, err, protocol.ErrConnectionLost)
	assert.Equal(t, DefaultOptions().RetryCount, c.count(protocol.CmdIOStatus))
}

type alwaysBroken struct{ c *fakeConsole }

func (a *alwaysBroken) Accept() (DataStream, error) {
	a.c.accepts++
	return &brokenStream{}, nil
}
func (a *alwaysBroken) Abandon() {}

type brokenStream struct{}

func (brokenStream) ReadFull([]byte) (int, error)  { return 0, protocol.ErrConnectionLost }
func (brokenStream) WriteFull([]byte) (int, error) { return 0, protocol.ErrConnectionLost }
func (brokenStream) Close() error                  { return nil }

func TestIOStatusErrorFailsWithEIO(t *testing.T) {
	const sectors = 8
	c := newFakeConsole(sectors * protocol.SectorSize)
	c.breaks[4] = true
	c.ioStatus = -5

	err := newTestEngine(c, nil).Install(testInfo(sectors), &sliceSource{data: testImage(sectors)})

	assert.ErrorIs(t, err, protocol.ErrIO)
	assert.Equal(t, 1, c.count(protocol.CmdCloseGame))
}

func TestAbort(t *testing.T) {
	const sectors = 8
	c := newFakeConsole(sectors * protocol.SectorSize)
	cancel := &Canceller{}
	cancel.Set()
	e := newTestEngine(c, cancel)

	err := e.Install(testInfo(sectors), &sliceSource{data: testImage(sectors)})

	assert.ErrorIs(t, err, protocol.ErrAborted)
	assert.Equal(t, Aborted, e.State())
	assert.Equal(t, 1, c.count(protocol.CmdCloseGame))
	assert.False(t, cancel.Observe(), "observing clears the request")
}

func TestCloseGameFailure(t *testing.T) {
	const sectors = 4

	t.Run("overrides success", func(t *testing.T) {
		c := newFakeConsole(sectors * protocol.SectorSize)
		c.closeResult = -5
		err := newTestEngine(c, nil).Install(testInfo(sectors), &sliceSource{data: testImage(sectors)})

		var remote *protocol.RemoteError
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, protocol.CmdCloseGame, remote.Command)
	})

	t.Run("keeps prior failure", func(t *testing.T) {
		c := newFakeConsole(sectors * protocol.SectorSize)
		c.closeResult = -5
		cancel := &Canceller{}
		cancel.Set()
		err := newTestEngine(c, cancel).Install(testInfo(sectors), &sliceSource{data: testImage(sectors)})

		assert.ErrorIs(t, err, protocol.ErrAborted)
	})
}

func TestPrepRejected(t *testing.T) {
	c := newFakeConsole(0)
	c.prepResult = -17
	e := newTestEngine(c, nil)

	err := e.Install(testInfo(4), &sliceSource{})

	var remote *protocol.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, int32(-17), remote.Result)
	assert.Equal(t, 1, c.abandons)
	assert.Zero(t, c.accepts)
	assert.Zero(t, c.count(protocol.CmdCloseGame))
}

func TestTruncatedSource(t *testing.T) {
	c := newFakeConsole(8 * protocol.SectorSize)
	e := newTestEngine(c, nil)

	err := e.Install(testInfo(8), &sliceSource{data: testImage(5)})

	assert.ErrorIs(t, err, protocol.ErrIO)
	assert.Equal(t, Failed, e.State())
	assert.Equal(t, 1, c.count(protocol.CmdCloseGame))
}

func TestDownloadFailureRemovesFile(t *testing.T) {
	c := newFakeConsole(0)
	c.image = testImage(8)
	c.breaks[4] = true
	c.ioStatus = -1
	path := filepath.Join(t.TempDir(), "out.iso")

	err := newTestEngine(c, nil).Download(testPartition, 8, path)

	assert.ErrorIs(t, err, protocol.ErrIO)
	assert.NoFileExists(t, path)
}

func TestLookupPartition(t *testing.T) {
	c := newFakeConsole(0)
	got, err := LookupPartition(c, "SLUS-12345")
	require.NoError(t, err)
	assert.Equal(t, testPartition, got)

	c.partNotFound = true
	_, err = LookupPartition(c, "SLUS-12345")
	assert.ErrorIs(t, err, protocol.ErrGameNotFound)
}

func TestSession(t *testing.T) {
	s := newSession("id", 10, 4)
	assert.True(t, s.Valid())
	assert.Equal(t, uint32(4), s.NextChunk())
	s.Advance(4)
	s.Advance(4)
	assert.Equal(t, uint32(2), s.NextChunk())
	assert.True(t, s.Valid())
	assert.Equal(t, "suspended", Suspended.String())
}
