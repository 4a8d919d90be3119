package hdl

import (
	"errors"
	"fmt"

	"github.com/1ureka/hdlgi/internal/osd"
	"github.com/1ureka/hdlgi/internal/protocol"
	"github.com/1ureka/hdlgi/internal/util"
)

// maxResourceSize caps a single OSD resource reported by the server. Icons
// and KELFs stay well below it.
const maxResourceSize = 8 << 20

// installIcon sets up the browser resources of a freshly written partition.
// A non-default source that fails is retried once with the default icon.
func (m *Manager) installIcon(partition, discID string, p GameParams) error {
	src := p.Icon
	var res *osd.Resources
	if src == IconExternal {
		var err error
		if res, err = osd.LoadMcSave(p.IconPath, p.OSD1, p.OSD2); err != nil {
			util.LogWarning("cannot load icon from %s (%v), using the default icon", p.IconPath, err)
			src = IconDefault
		}
	}

	err := m.installResources(partition, discID, p, src, res)
	if err != nil && src != IconDefault && !errors.Is(err, protocol.ErrConnectionLost) {
		util.LogWarning("installing the %s icon failed (%v), using the default icon", src, err)
		err = m.installResources(partition, discID, p, IconDefault, nil)
	}
	return err
}

func (m *Manager) installResources(partition, discID string, p GameParams, src IconSource, res *osd.Resources) error {
	line1, line2 := p.osdLines()
	req := protocol.OSDInitRequest{
		UseSaveData: src == IconGameSave,
		Line1:       osd.TruncateTitle(line1),
		Line2:       osd.TruncateTitle(line2),
		DiscID:      discID,
		Partition:   partition,
	}
	payload, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	result, _, err := m.conn.Exchange(protocol.CmdInitOSDResources, payload, 0)
	if err != nil {
		return err
	}

	switch src {
	case IconGameSave:
		// The server answers with a positive result once it found the save
		// data icon on the disc.
		if result != protocol.ResultInstallSuccess {
			if cerr := m.call(protocol.CmdOSDResWriteCancel, nil); cerr != nil {
				util.LogDebug("cancelling OSD write: %v", cerr)
			}
			return fmt.Errorf("no save data icon (result %d): %w", result, protocol.ErrIconLoad)
		}
	case IconExternal:
		if err := protocol.CheckResult(protocol.CmdInitOSDResources, result); err != nil {
			return err
		}
		if err := m.loadResource(protocol.OSDIconSys, res.IconSys); err != nil {
			return err
		}
		if err := m.loadResource(protocol.OSDViewIcon, res.ViewIcon); err != nil {
			return err
		}
		if res.DeleteIcon != nil {
			if err := m.loadResource(protocol.OSDDeleteIcon, res.DeleteIcon); err != nil {
				return err
			}
		}
	default:
		if err := protocol.CheckResult(protocol.CmdInitOSDResources, result); err != nil {
			return err
		}
	}
	return m.call(protocol.CmdWriteOSDResources, nil)
}

// updateTitles rewrites the OSD lines inside the existing icon.sys and
// uploads every resource of the partition again.
func (m *Manager) updateTitles(partition, line1, line2 string) error {
	files, err := m.readResources(partition)
	if err != nil {
		return err
	}
	if files[protocol.OSDIconSys] == nil {
		return fmt.Errorf("%s has no icon.sys: %w", partition, protocol.ErrPartitionAttrCorrupted)
	}

	icon, err := osd.ParseIconSys(files[protocol.OSDIconSys])
	if err != nil {
		return fmt.Errorf("%s: %w: %v", partition, protocol.ErrPartitionAttrCorrupted, err)
	}
	icon.SetTitles(line1, line2)
	if files[protocol.OSDIconSys], err = icon.MarshalText(); err != nil {
		return err
	}

	if err := m.call(protocol.CmdInitDefaultOSDResources, protocol.EncodeCString(partition)); err != nil {
		return err
	}
	for i, data := range files {
		if data == nil {
			continue
		}
		if err := m.loadResource(int32(i), data); err != nil {
			return err
		}
	}
	return m.call(protocol.CmdWriteOSDResources, nil)
}

// readResources fetches every OSD resource of partition. Missing ones are
// nil.
func (m *Manager) readResources(partition string) ([protocol.OSDResourceCount][]byte, error) {
	var files [protocol.OSDResourceCount][]byte

	payload, err := protocol.OSDStatRequest{Partition: partition}.MarshalBinary()
	if err != nil {
		return files, err
	}
	result, raw, err := m.conn.Exchange(protocol.CmdGetOSDResStat, payload, protocol.OSDStatSize)
	if err != nil {
		return files, err
	}
	if result != 0 {
		return files, &protocol.RemoteError{Command: protocol.CmdGetOSDResStat, Result: result}
	}
	var stat protocol.OSDStat
	if err := stat.UnmarshalBinary(raw); err != nil {
		return files, fmt.Errorf("%w: %v", protocol.ErrIO, err)
	}

	for i, n := range stat.Lengths {
		if n == 0 {
			continue
		}
		if n > maxResourceSize {
			return files, fmt.Errorf("resource %d is %d bytes: %w", i, n, protocol.ErrOutOfMemory)
		}
		payload, err := protocol.OSDReadRequest{Partition: partition, Index: int32(i)}.MarshalBinary()
		if err != nil {
			return files, err
		}
		result, data, err := m.conn.Exchange(protocol.CmdOSDResRead, payload, int(n))
		if err != nil {
			return files, err
		}
		if result != 0 {
			return files, &protocol.RemoteError{Command: protocol.CmdOSDResRead, Result: result}
		}
		if len(data) != int(n) {
			return files, fmt.Errorf("resource %d: got %d of %d bytes: %w", i, len(data), n, protocol.ErrIO)
		}
		files[i] = data
	}
	return files, nil
}

// loadResource uploads one resource into the server's pending set.
func (m *Manager) loadResource(index int32, data []byte) error {
	payload, err := protocol.OSDWriteRequest{Index: index, Length: uint32(len(data))}.MarshalBinary()
	if err != nil {
		return err
	}
	if err := m.exact(protocol.CmdOSDResLoadInit, payload); err != nil {
		return err
	}
	return m.exact(protocol.CmdOSDResLoad, data)
}

// exact is call for commands that only succeed with result 0.
func (m *Manager) exact(cmd protocol.Command, payload []byte) error {
	result, _, err := m.conn.Exchange(cmd, payload, 0)
	if err != nil {
		return err
	}
	if result != 0 {
		return &protocol.RemoteError{Command: cmd, Result: result}
	}
	return nil
}
