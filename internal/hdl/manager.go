// Package hdl drives the games stored on the console: listing, editing,
// removing, and the install and download sessions built on the engine.
package hdl

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/1ureka/hdlgi/internal/engine"
	"github.com/1ureka/hdlgi/internal/iso"
	"github.com/1ureka/hdlgi/internal/protocol"
	"github.com/1ureka/hdlgi/internal/util"
)

// Conn is the command channel as the manager uses it. *transport.Conn
// implements it.
type Conn interface {
	engine.Commander
	SendCommand(cmd protocol.Command, payload []byte) error
	ReceiveRaw(n int) ([]byte, error)
}

// Transfer summarizes a finished install or download.
type Transfer struct {
	Took  time.Duration
	Stats util.Stats
}

// Manager issues single request/response operations and runs transfers.
type Manager struct {
	conn Conn
	eng  *engine.Engine

	// ShowProgress renders a progress bar during transfers.
	ShowProgress bool
}

func New(conn Conn, eng *engine.Engine) *Manager {
	return &Manager{conn: conn, eng: eng}
}

// Games lists the installed games. The server answers LOAD_GAME_LIST with
// the entry count and streams the entries without headers after
// READ_GAME_LIST.
func (m *Manager) Games() ([]protocol.GameEntry, error) {
	count, _, err := m.conn.Exchange(protocol.CmdLoadGameList, nil, 0)
	if err != nil {
		return nil, err
	}
	if err := protocol.CheckResult(protocol.CmdLoadGameList, count); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	if err := m.call(protocol.CmdReadGameList, nil); err != nil {
		return nil, err
	}

	games := make([]protocol.GameEntry, 0, count)
	for i := int32(0); i < count; i++ {
		raw, err := m.conn.ReceiveRaw(protocol.GameEntrySize)
		if err != nil {
			return nil, fmt.Errorf("game %d of %d: %w", i+1, count, err)
		}
		var g protocol.GameEntry
		if err := g.UnmarshalBinary(raw); err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, nil
}

// FreeSpace returns the unallocated space on the drive in MiB.
func (m *Manager) FreeSpace() (uint32, error) {
	result, payload, err := m.conn.Exchange(protocol.CmdGetFreeSpace, nil, 4)
	if err != nil {
		return 0, err
	}
	if err := protocol.CheckResult(protocol.CmdGetFreeSpace, result); err != nil {
		return 0, err
	}
	v, err := protocol.DecodeInt32(payload)
	if err != nil {
		return 0, fmt.Errorf("free space: %w: %v", protocol.ErrIO, err)
	}
	return uint32(v) / 2048, nil
}

// Find returns the installed game whose disc ID or title equals identifier.
func (m *Manager) Find(identifier string) (protocol.GameEntry, error) {
	games, err := m.Games()
	if err != nil {
		return protocol.GameEntry{}, err
	}
	for _, g := range games {
		if g.DiscID == identifier || g.Title == identifier {
			return g, nil
		}
	}
	return protocol.GameEntry{}, fmt.Errorf("%q: %w", identifier, protocol.ErrGameNotFound)
}

// Params reads back the settings of an installed game, OSD lines included.
func (m *Manager) Params(g protocol.GameEntry) (GameParams, error) {
	p := GameParams{
		Title:       g.Title,
		DiscType:    g.DiscType,
		CompatFlags: g.CompatFlags,
		UseMDMA0:    g.UsesMDMA0(),
	}
	result, payload, err := m.conn.Exchange(protocol.CmdOSDResReadTitles,
		protocol.EncodeCString(g.Partition), protocol.OSDTitlesSize)
	if err != nil {
		return p, err
	}
	if result != 0 {
		util.LogWarning("no OSD titles for %s (result %d)", g.Partition, result)
		return p, nil
	}
	var titles protocol.OSDTitles
	if err := titles.UnmarshalBinary(payload); err != nil {
		return p, fmt.Errorf("osd titles: %w: %v", protocol.ErrIO, err)
	}
	p.OSD1, p.OSD2 = titles.Line1, titles.Line2
	return p, nil
}

// Delete removes a game and its partition.
func (m *Manager) Delete(g protocol.GameEntry) error {
	return m.call(protocol.CmdDelGameEntry, protocol.EncodeCString(g.Partition))
}

// Edit rewrites a game's entry. With updateIcon the browser resources are
// installed afresh from p.Icon; otherwise only the OSD lines of the existing
// icon.sys change.
func (m *Manager) Edit(g protocol.GameEntry, p GameParams, updateIcon bool) error {
	g.Title = protocol.TruncateUTF8(p.Title, protocol.TitleMaxBytes)
	g.CompatFlags = p.CompatFlags
	g.XferType, g.XferMode = p.transferMode()
	if p.DiscType != protocol.DiscTypeNone {
		g.DiscType = p.DiscType
	}

	payload, err := g.MarshalBinary()
	if err != nil {
		return err
	}
	if err := m.call(protocol.CmdUpdGameEntry, payload); err != nil {
		return err
	}

	if updateIcon {
		return m.installIcon(g.Partition, g.DiscID, p)
	}
	line1, line2 := p.osdLines()
	return m.updateTitles(g.Partition, line1, line2)
}

// Install copies the image at path to the console as a new game. A failed
// copy leaves no partition behind, and neither does a failed icon install.
// The returned Transfer is nil when the copy never started.
func (m *Manager) Install(path string, p GameParams, overwrite bool) (*Transfer, error) {
	img, err := iso.Open(path)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	id, err := img.Identify()
	if err != nil {
		return nil, err
	}
	log := util.Scope("game", id.DiscID)

	switch partition, err := engine.LookupPartition(m.conn, id.DiscID); {
	case err == nil:
		if !overwrite {
			return nil, fmt.Errorf("%s: %w", id.DiscID, protocol.ErrGameExists)
		}
		log.Info("replacing existing installation in %s", partition)
		m.deletePartition(partition)
	case !errors.Is(err, protocol.ErrGameNotFound):
		return nil, err
	}

	layout := img.Layout()
	if p.DiscType == protocol.DiscTypeNone {
		p.DiscType = layout.DiscType()
		log.Info("disc type not given, using %s", DiscTypeName(p.DiscType))
	}
	typ, mode := p.transferMode()
	info := protocol.GameInfo{
		Title:           protocol.TruncateUTF8(p.Title, protocol.TitleMaxBytes),
		DiscID:          id.DiscID,
		StartupFilename: id.StartupFilename,
		DiscType:        p.DiscType,
		Layer0Sectors:   layout.Layer0Sectors,
		Layer1Sectors:   layout.Layer1Sectors,
		CompatFlags:     p.CompatFlags,
		XferType:        typ,
		XferMode:        mode,
	}

	xfer, err := m.transfer(p.Title, img.Sectors(), func() error {
		return m.eng.Install(info, img)
	})
	if err != nil {
		if partition, lerr := engine.LookupPartition(m.conn, id.DiscID); lerr == nil {
			m.deletePartition(partition)
		}
		return xfer, err
	}

	partition, err := engine.LookupPartition(m.conn, id.DiscID)
	if err != nil {
		return xfer, fmt.Errorf("installed game has no partition: %w", err)
	}
	if err := m.installIcon(partition, id.DiscID, p); err != nil {
		m.deletePartition(partition)
		return xfer, err
	}
	log.Debug("installed into %s", partition)
	return xfer, nil
}

// Download copies an installed game into a new image file at path.
func (m *Manager) Download(g protocol.GameEntry, path string) (*Transfer, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%s: %w", path, os.ErrExist)
	}
	return m.transfer(g.Title, g.Sectors, func() error {
		return m.eng.Download(g.Partition, g.Sectors, path)
	})
}

// Shutdown powers the console off. The server does not answer.
func (m *Manager) Shutdown() error {
	return m.conn.SendCommand(protocol.CmdShutdown, nil)
}

func (m *Manager) transfer(title string, sectors uint32, run func() error) (*Transfer, error) {
	p := util.NewProgress(title, int64(sectors)*protocol.SectorSize)
	if m.ShowProgress {
		p.Start()
	}
	m.eng.Reporter = p
	defer func() { m.eng.Reporter = nil }()

	start := time.Now()
	err := run()
	p.Finish()
	return &Transfer{Took: time.Since(start), Stats: p.Stats}, err
}

// deletePartition is the best-effort cleanup after a failed install.
func (m *Manager) deletePartition(partition string) {
	if err := m.call(protocol.CmdDelGameEntry, protocol.EncodeCString(partition)); err != nil {
		util.LogWarning("could not remove %s: %v", partition, err)
	}
}

// call sends a command whose only answer is a result code.
func (m *Manager) call(cmd protocol.Command, payload []byte) error {
	result, _, err := m.conn.Exchange(cmd, payload, 0)
	if err != nil {
		return err
	}
	return protocol.CheckResult(cmd, result)
}
