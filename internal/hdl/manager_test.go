package hdl

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/1ureka/hdlgi/internal/engine"
	"github.com/1ureka/hdlgi/internal/osd"
	"github.com/1ureka/hdlgi/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPartition = "PP.SLUS-12345..TEST"

type handler func(payload []byte) (int32, []byte, error)

type exchange struct {
	cmd     protocol.Command
	payload []byte
}

// fakeConn answers commands from handlers; unhandled commands succeed with
// result 0.
type fakeConn struct {
	handlers map[protocol.Command]handler
	calls    []exchange
	raw      [][]byte
	sent     []protocol.Command
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: map[protocol.Command]handler{}}
}

func (c *fakeConn) Exchange(cmd protocol.Command, payload []byte, max int) (int32, []byte, error) {
	c.calls = append(c.calls, exchange{cmd, append([]byte(nil), payload...)})
	if h := c.handlers[cmd]; h != nil {
		return h(payload)
	}
	return 0, nil, nil
}

func (c *fakeConn) Redial() error { return nil }

func (c *fakeConn) SendCommand(cmd protocol.Command, payload []byte) error {
	c.sent = append(c.sent, cmd)
	return nil
}

func (c *fakeConn) ReceiveRaw(n int) ([]byte, error) {
	if len(c.raw) == 0 {
		return nil, protocol.ErrConnectionLost
	}
	next := c.raw[0]
	c.raw = c.raw[1:]
	return next[:n], nil
}

func (c *fakeConn) commands() []protocol.Command {
	out := make([]protocol.Command, len(c.calls))
	for i, x := range c.calls {
		out[i] = x.cmd
	}
	return out
}

func (c *fakeConn) payloads(cmd protocol.Command) [][]byte {
	var out [][]byte
	for _, x := range c.calls {
		if x.cmd == cmd {
			out = append(out, x.payload)
		}
	}
	return out
}

// sink accepts data connections and counts what is written to them.
type sink struct{ bytes int }

func (s *sink) Accept() (engine.DataStream, error) { return sinkStream{s}, nil }
func (s *sink) Abandon()                          {}

type sinkStream struct{ s *sink }

func (st sinkStream) WriteFull(b []byte) (int, error) { st.s.bytes += len(b); return len(b), nil }
func (st sinkStream) ReadFull(b []byte) (int, error)  { return len(b), nil }
func (st sinkStream) Close() error                    { return nil }

func newTestManager(c *fakeConn) (*Manager, *sink) {
	data := &sink{}
	eng := engine.New(c, data, nil, engine.Options{ChunkSectors: 8})
	return New(c, eng), data
}

func entry(discID, title string) protocol.GameEntry {
	return protocol.GameEntry{
		Partition:   "PP." + discID + "..X",
		Title:       title,
		DiscID:      discID,
		XferType:    protocol.XferModeUDMA,
		XferMode:    4,
		DiscType:    protocol.DiscPS2DVD,
		Sectors:     1000,
		CompatFlags: protocol.CompatDisableIGR,
	}
}

func marshal(t *testing.T, v interface{ MarshalBinary() ([]byte, error) }) []byte {
	t.Helper()
	b, err := v.MarshalBinary()
	require.NoError(t, err)
	return b
}

func TestGames(t *testing.T) {
	c := newFakeConn()
	c.handlers[protocol.CmdLoadGameList] = func([]byte) (int32, []byte, error) { return 2, nil, nil }
	a, b := entry("SLUS-12345", "First"), entry("SCES-50000", "Second")
	c.raw = [][]byte{marshal(t, a), marshal(t, b)}
	m, _ := newTestManager(c)

	games, err := m.Games()
	require.NoError(t, err)
	assert.Equal(t, []protocol.GameEntry{a, b}, games)
	assert.Equal(t, []protocol.Command{protocol.CmdLoadGameList, protocol.CmdReadGameList}, c.commands())
}

func TestGamesEmpty(t *testing.T) {
	c := newFakeConn()
	m, _ := newTestManager(c)

	games, err := m.Games()
	require.NoError(t, err)
	assert.Empty(t, games)
	assert.Equal(t, []protocol.Command{protocol.CmdLoadGameList}, c.commands())
}

func TestFreeSpace(t *testing.T) {
	c := newFakeConn()
	c.handlers[protocol.CmdGetFreeSpace] = func([]byte) (int32, []byte, error) {
		return 0, protocol.EncodeInt32(2048 * 150), nil
	}
	m, _ := newTestManager(c)

	mib, err := m.FreeSpace()
	require.NoError(t, err)
	assert.Equal(t, uint32(150), mib)
}

func TestFind(t *testing.T) {
	games := []protocol.GameEntry{entry("SLUS-12345", "First"), entry("SCES-50000", "Second")}
	newConn := func() *fakeConn {
		c := newFakeConn()
		c.handlers[protocol.CmdLoadGameList] = func([]byte) (int32, []byte, error) { return 2, nil, nil }
		c.raw = [][]byte{marshal(t, games[0]), marshal(t, games[1])}
		return c
	}

	m, _ := newTestManager(newConn())
	g, err := m.Find("SCES-50000")
	require.NoError(t, err)
	assert.Equal(t, "Second", g.Title)

	m, _ = newTestManager(newConn())
	g, err = m.Find("First")
	require.NoError(t, err)
	assert.Equal(t, "SLUS-12345", g.DiscID)

	m, _ = newTestManager(newConn())
	_, err = m.Find("Third")
	assert.ErrorIs(t, err, protocol.ErrGameNotFound)
}

func TestParams(t *testing.T) {
	c := newFakeConn()
	c.handlers[protocol.CmdOSDResReadTitles] = func(p []byte) (int32, []byte, error) {
		assert.Equal(t, testPartition, protocol.DecodeCString(p))
		return 0, marshal(t, protocol.OSDTitles{Line1: "Line one", Line2: "Line two"}), nil
	}
	m, _ := newTestManager(c)
	g := entry("SLUS-12345", "First")
	g.Partition = testPartition
	g.XferType, g.XferMode = protocol.XferModeMDMA, 0

	p, err := m.Params(g)
	require.NoError(t, err)
	assert.Equal(t, "Line one", p.OSD1)
	assert.Equal(t, "Line two", p.OSD2)
	assert.True(t, p.UseMDMA0)
	assert.Equal(t, protocol.CompatDisableIGR, p.CompatFlags)
}

func TestDelete(t *testing.T) {
	c := newFakeConn()
	m, _ := newTestManager(c)
	g := entry("SLUS-12345", "First")

	require.NoError(t, m.Delete(g))
	require.Len(t, c.calls, 1)
	assert.Equal(t, protocol.CmdDelGameEntry, c.calls[0].cmd)
	assert.Equal(t, g.Partition, protocol.DecodeCString(c.calls[0].payload))
}

// serveResources makes the fake answer GET_OSD_RES_STAT and OSD_RES_READ
// from files, and records uploads.
func serveResources(t *testing.T, c *fakeConn, files map[int32][]byte) map[int32][]byte {
	uploaded := map[int32][]byte{}
	var pending protocol.OSDWriteRequest

	c.handlers[protocol.CmdGetOSDResStat] = func([]byte) (int32, []byte, error) {
		var stat protocol.OSDStat
		for i, f := range files {
			stat.Lengths[i] = uint32(len(f))
		}
		return 0, marshal(t, stat), nil
	}
	c.handlers[protocol.CmdOSDResRead] = func(p []byte) (int32, []byte, error) {
		var req protocol.OSDReadRequest
		require.NoError(t, req.UnmarshalBinary(p))
		return 0, files[req.Index], nil
	}
	c.handlers[protocol.CmdOSDResLoadInit] = func(p []byte) (int32, []byte, error) {
		require.NoError(t, pending.UnmarshalBinary(p))
		return 0, nil, nil
	}
	c.handlers[protocol.CmdOSDResLoad] = func(p []byte) (int32, []byte, error) {
		assert.Len(t, p, int(pending.Length))
		uploaded[pending.Index] = append([]byte(nil), p...)
		return 0, nil, nil
	}
	return uploaded
}

func sampleIcon(t *testing.T) []byte {
	var s osd.IconSys
	s.SetTitles("Old line", "Old two")
	s.UninstallMes[0] = "bye"
	b, err := s.MarshalText()
	require.NoError(t, err)
	return b
}

func TestEditUpdatesTitles(t *testing.T) {
	c := newFakeConn()
	uploaded := serveResources(t, c, map[int32][]byte{
		protocol.OSDSystemCNF: []byte("BOOT2 = pfs:/EXECUTE.KELF\n"),
		protocol.OSDIconSys:   sampleIcon(t),
		protocol.OSDViewIcon:  []byte("icon"),
	})
	m, _ := newTestManager(c)
	g := entry("SLUS-12345", "Old")

	err := m.Edit(g, GameParams{
		Title:       "New title",
		OSD1:        "New line",
		OSD2:        "Second",
		DiscType:    protocol.DiscTypeNone,
		CompatFlags: protocol.CompatAlternateEECore,
		UseMDMA0:    true,
	}, false)
	require.NoError(t, err)

	upd := c.payloads(protocol.CmdUpdGameEntry)
	require.Len(t, upd, 1)
	var got protocol.GameEntry
	require.NoError(t, got.UnmarshalBinary(upd[0]))
	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, protocol.CompatAlternateEECore, got.CompatFlags)
	assert.Equal(t, protocol.DiscPS2DVD, got.DiscType, "disc type kept")
	assert.True(t, got.UsesMDMA0())

	require.Len(t, uploaded, 3)
	assert.Equal(t, []byte("icon"), uploaded[protocol.OSDViewIcon])
	icon, err := osd.ParseIconSys(uploaded[protocol.OSDIconSys])
	require.NoError(t, err)
	assert.Equal(t, "New line", icon.Title0)
	assert.Equal(t, "Second", icon.Title1)
	assert.Equal(t, "bye", icon.UninstallMes[0])

	cmds := c.commands()
	assert.Equal(t, protocol.CmdInitDefaultOSDResources, cmds[len(cmds)-8])
	assert.Equal(t, protocol.CmdWriteOSDResources, cmds[len(cmds)-1])
}

func TestEditWithoutIconSys(t *testing.T) {
	c := newFakeConn()
	serveResources(t, c, map[int32][]byte{protocol.OSDViewIcon: []byte("icon")})
	m, _ := newTestManager(c)

	err := m.Edit(entry("SLUS-12345", "Old"), GameParams{Title: "x", OSD1: "x"}, false)
	assert.ErrorIs(t, err, protocol.ErrPartitionAttrCorrupted)
}

func TestEditOversizedResource(t *testing.T) {
	c := newFakeConn()
	c.handlers[protocol.CmdGetOSDResStat] = func([]byte) (int32, []byte, error) {
		return 0, marshal(t, protocol.OSDStat{Lengths: [protocol.OSDResourceCount]uint32{0, 1 << 30}}), nil
	}
	m, _ := newTestManager(c)

	err := m.Edit(entry("SLUS-12345", "Old"), GameParams{Title: "x"}, false)
	assert.ErrorIs(t, err, protocol.ErrOutOfMemory)
}

// writeISO builds a minimal playable image: a PVD, a root directory and
// SYSTEM.CNF.
func writeISO(t *testing.T, sectors int) string {
	t.Helper()
	le := binary.LittleEndian
	img := make([]byte, sectors*protocol.SectorSize)
	at := func(lsn int) []byte { return img[lsn*protocol.SectorSize:] }

	record := func(name string, extent, size uint32) []byte {
		n := 33 + len(name)
		n += n % 2
		r := make([]byte, n)
		r[0] = byte(n)
		le.PutUint32(r[2:], extent)
		le.PutUint32(r[10:], size)
		r[32] = byte(len(name))
		copy(r[33:], name)
		return r
	}

	cnf := "BOOT2 = cdrom0:\\SLUS_123.45;1\r\nVER = 1.00\r\nVMODE = NTSC\r\n"
	pvd := at(16)
	pvd[0] = 1
	copy(pvd[1:], "CD001")
	le.PutUint32(pvd[80:], uint32(sectors))
	copy(pvd[156:], record("\x00", 18, protocol.SectorSize))
	root := append(record("\x00", 18, protocol.SectorSize), record("SYSTEM.CNF;1", 19, uint32(len(cnf)))...)
	copy(at(18), root)
	copy(at(19), cnf)

	path := filepath.Join(t.TempDir(), "game.iso")
	require.NoError(t, os.WriteFile(path, img, 0o644))
	return path
}

// installConsole answers GET_GAME_PART_NAME with not-found until the game
// was prepared.
func installConsole(installed bool) *fakeConn {
	c := newFakeConn()
	c.handlers[protocol.CmdPrepGameInstall] = func([]byte) (int32, []byte, error) {
		installed = true
		return 0, nil, nil
	}
	c.handlers[protocol.CmdGetGamePartName] = func([]byte) (int32, []byte, error) {
		if !installed {
			return -2, nil, nil
		}
		return 0, protocol.EncodeCString(testPartition), nil
	}
	c.handlers[protocol.CmdDelGameEntry] = func([]byte) (int32, []byte, error) {
		installed = false
		return 0, nil, nil
	}
	return c
}

func installParams() GameParams {
	return GameParams{
		Title:    "Test Game",
		OSD1:     "Test",
		DiscType: protocol.DiscTypeNone,
		Icon:     IconDefault,
	}
}

func TestInstall(t *testing.T) {
	const sectors = 24
	path := writeISO(t, sectors)
	c := installConsole(false)
	m, data := newTestManager(c)

	xfer, err := m.Install(path, installParams(), false)
	require.NoError(t, err)
	require.NotNil(t, xfer)
	assert.Equal(t, int64(sectors*protocol.SectorSize), xfer.Stats.Bytes)
	assert.Equal(t, sectors*protocol.SectorSize, data.bytes)

	assert.Equal(t, []protocol.Command{
		protocol.CmdGetGamePartName,
		protocol.CmdPrepGameInstall,
		protocol.CmdCloseGame,
		protocol.CmdGetGamePartName,
		protocol.CmdInitOSDResources,
		protocol.CmdWriteOSDResources,
	}, c.commands())

	var info protocol.GameInfo
	require.NoError(t, info.UnmarshalBinary(c.payloads(protocol.CmdPrepGameInstall)[0]))
	assert.Equal(t, "SLUS-12345", info.DiscID)
	assert.Equal(t, "SLUS_123.45", info.StartupFilename)
	assert.Equal(t, uint32(sectors), info.Layer0Sectors)
	assert.Equal(t, protocol.DiscPS2CD, info.DiscType)
	assert.Equal(t, protocol.XferModeUDMA, info.XferType)
	assert.Equal(t, uint8(4), info.XferMode)

	var req protocol.OSDInitRequest
	require.NoError(t, req.UnmarshalBinary(c.payloads(protocol.CmdInitOSDResources)[0]))
	assert.False(t, req.UseSaveData)
	assert.Equal(t, testPartition, req.Partition)
	assert.Equal(t, "Test", req.Line1)
}

func TestInstallExisting(t *testing.T) {
	path := writeISO(t, 24)

	m, _ := newTestManager(installConsole(true))
	_, err := m.Install(path, installParams(), false)
	assert.ErrorIs(t, err, protocol.ErrGameExists)

	c := installConsole(true)
	m, _ = newTestManager(c)
	_, err = m.Install(path, installParams(), true)
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdDelGameEntry, c.commands()[1])
}

func TestInstallGameSaveFallsBackToDefault(t *testing.T) {
	c := installConsole(false)
	c.handlers[protocol.CmdInitOSDResources] = func(p []byte) (int32, []byte, error) {
		return 0, nil, nil // no save data found
	}
	m, _ := newTestManager(c)
	p := installParams()
	p.Icon = IconGameSave

	_, err := m.Install(writeISO(t, 24), p, false)
	require.NoError(t, err)

	inits := c.payloads(protocol.CmdInitOSDResources)
	require.Len(t, inits, 2)
	var first, second protocol.OSDInitRequest
	require.NoError(t, first.UnmarshalBinary(inits[0]))
	require.NoError(t, second.UnmarshalBinary(inits[1]))
	assert.True(t, first.UseSaveData)
	assert.False(t, second.UseSaveData)
	assert.Len(t, c.payloads(protocol.CmdOSDResWriteCancel), 1)
}

func TestInstallExternalIcon(t *testing.T) {
	c := installConsole(false)
	uploaded := serveResources(t, c, nil)
	m, _ := newTestManager(c)
	p := installParams()
	p.Icon = IconExternal
	p.IconPath = t.TempDir() // no icon.sys: falls back before talking to the server

	_, err := m.Install(writeISO(t, 24), p, false)
	require.NoError(t, err)
	assert.Empty(t, uploaded)
	assert.Len(t, c.payloads(protocol.CmdInitOSDResources), 1)
}

func TestInstallIconFailureRemovesGame(t *testing.T) {
	c := installConsole(false)
	c.handlers[protocol.CmdInitOSDResources] = func([]byte) (int32, []byte, error) { return -5, nil, nil }
	m, _ := newTestManager(c)

	_, err := m.Install(writeISO(t, 24), installParams(), false)
	var remote *protocol.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, protocol.CmdInitOSDResources, remote.Command)
	assert.Len(t, c.payloads(protocol.CmdDelGameEntry), 1)
}

func TestInstallFailedTransferRemovesPartition(t *testing.T) {
	c := installConsole(false)
	c.handlers[protocol.CmdCloseGame] = func([]byte) (int32, []byte, error) { return -5, nil, nil }
	m, _ := newTestManager(c)

	xfer, err := m.Install(writeISO(t, 24), installParams(), false)
	require.Error(t, err)
	require.NotNil(t, xfer)
	assert.Len(t, c.payloads(protocol.CmdDelGameEntry), 1)
	assert.Empty(t, c.payloads(protocol.CmdInitOSDResources))
}

func TestInstallRejectsNonPlayable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.iso")
	require.NoError(t, os.WriteFile(path, make([]byte, 40*protocol.SectorSize), 0o644))
	m, _ := newTestManager(newFakeConn())

	_, err := m.Install(path, installParams(), false)
	assert.Error(t, err)
}

func TestDownloadRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.iso")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	c := newFakeConn()
	m, _ := newTestManager(c)

	_, err := m.Download(entry("SLUS-12345", "x"), path)
	assert.ErrorIs(t, err, os.ErrExist)
	assert.Empty(t, c.calls)
}

func TestDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.iso")
	c := newFakeConn()
	m, _ := newTestManager(c)
	g := entry("SLUS-12345", "x")
	g.Sectors = 20

	xfer, err := m.Download(g, path)
	require.NoError(t, err)
	assert.Equal(t, int64(20*protocol.SectorSize), xfer.Stats.Bytes)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(20*protocol.SectorSize), fi.Size())
}

func TestShutdown(t *testing.T) {
	c := newFakeConn()
	m, _ := newTestManager(c)
	require.NoError(t, m.Shutdown())
	assert.Equal(t, []protocol.Command{protocol.CmdShutdown}, c.sent)
	assert.Empty(t, c.calls)
}
