package osd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/japanese"
)

var ErrInvalidSave = errors.New("invalid memory card save")

// Memory card icon.sys layout ("PS2D"), 964 bytes.
const (
	mcIconSize     = 964
	mcMagic        = "PS2D"
	mcNewline      = 6   // u16 byte offset of the second title line
	mcTrans        = 12  // u32
	mcBgCol        = 16  // 4 x 4 x i32
	mcLightDir     = 80  // 3 x 4 x f32
	mcLightCol     = 128 // 3 x 4 x f32
	mcLightAmbient = 176 // 4 x f32
	mcTitle        = 192 // 68 bytes Shift-JIS
	mcTitleSize    = 68
	mcViewIcon     = 260 // 64 bytes
	mcCopyIcon     = 324
	mcDeleteIcon   = 388
	mcNameSize     = 64
)

const uninstallMessage = "This will delete the game"

// McIcon is the part of a memory card icon.sys the HDD browser can use.
type McIcon struct {
	Title      [2]string // decoded from Shift-JIS, split at the newline offset
	Trans      uint32
	BgCol      [4][4]int32
	LightDir   [3][4]float32
	LightCol   [3][4]float32
	Ambient    [4]float32
	ViewIcon   string
	CopyIcon   string
	DeleteIcon string
}

// ParseMcIcon decodes a memory card icon.sys.
func ParseMcIcon(data []byte) (McIcon, error) {
	var ic McIcon
	if len(data) < mcIconSize {
		return ic, fmt.Errorf("%w: icon.sys is %d bytes", ErrInvalidSave, len(data))
	}
	if string(data[:4]) != mcMagic {
		return ic, fmt.Errorf("%w: missing %s header", ErrInvalidSave, mcMagic)
	}

	le := binary.LittleEndian
	f32 := func(off int) float32 { return math.Float32frombits(le.Uint32(data[off:])) }

	ic.Trans = le.Uint32(data[mcTrans:])
	for i := range ic.BgCol {
		for j := range ic.BgCol[i] {
			ic.BgCol[i][j] = int32(le.Uint32(data[mcBgCol+16*i+4*j:]))
		}
	}
	for i := range ic.LightDir {
		for j := range ic.LightDir[i] {
			ic.LightDir[i][j] = f32(mcLightDir + 16*i + 4*j)
			ic.LightCol[i][j] = f32(mcLightCol + 16*i + 4*j)
		}
	}
	for j := range ic.Ambient {
		ic.Ambient[j] = f32(mcLightAmbient + 4*j)
	}

	title := cstring(data[mcTitle : mcTitle+mcTitleSize])
	split := min(int(le.Uint16(data[mcNewline:])), len(title))
	for i, part := range [][]byte{title[:split], title[split:]} {
		s, err := japanese.ShiftJIS.NewDecoder().Bytes(part)
		if err != nil {
			return ic, fmt.Errorf("%w: title: %v", ErrInvalidSave, err)
		}
		ic.Title[i] = strings.TrimSpace(string(s))
	}

	ic.ViewIcon = string(cstring(data[mcViewIcon : mcViewIcon+mcNameSize]))
	ic.CopyIcon = string(cstring(data[mcCopyIcon : mcCopyIcon+mcNameSize]))
	ic.DeleteIcon = string(cstring(data[mcDeleteIcon : mcDeleteIcon+mcNameSize]))
	return ic, nil
}

// IconSys converts the memory card parameters to the HDD format. Colours
// are halved and light intensities scaled from [0,1] to [0,128].
func (ic McIcon) IconSys(line1, line2 string) IconSys {
	s := IconSys{BgColA: uint8(ic.Trans)}
	s.SetTitles(line1, line2)
	for i := range ic.BgCol {
		for j := 0; j < 3; j++ {
			s.BgCol[i][j] = uint8(ic.BgCol[i][j] / 2)
		}
	}
	for i := range ic.LightDir {
		for j := 0; j < 3; j++ {
			s.LightDir[i][j] = ic.LightDir[i][j]
			s.LightCol[i][j] = uint8(ic.LightCol[i][j] * 128)
		}
	}
	for j := 0; j < 3; j++ {
		s.LightColAmb[j] = uint8(ic.Ambient[j] * 128)
	}
	s.UninstallMes[0] = uninstallMessage
	return s
}

// Resources are the files uploaded for a game's browser entry.
type Resources struct {
	IconSys    []byte
	ViewIcon   []byte
	DeleteIcon []byte // nil when the view icon doubles as the delete icon
}

// LoadMcSave converts a memory card save folder into HDD resources. An empty
// line1 falls back to the save's own title.
func LoadMcSave(dir, line1, line2 string) (*Resources, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "icon.sys"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSave, err)
	}
	ic, err := ParseMcIcon(raw)
	if err != nil {
		return nil, err
	}
	if ic.ViewIcon == "" {
		return nil, fmt.Errorf("%w: no list icon", ErrInvalidSave)
	}
	if line1 == "" {
		line1, line2 = ic.Title[0], ic.Title[1]
	}

	res := &Resources{}
	if res.ViewIcon, err = readIcon(dir, ic.ViewIcon); err != nil {
		return nil, err
	}
	if ic.DeleteIcon != "" && ic.DeleteIcon != ic.ViewIcon {
		if res.DeleteIcon, err = readIcon(dir, ic.DeleteIcon); err != nil {
			return nil, err
		}
	}
	if res.IconSys, err = ic.IconSys(line1, line2).MarshalText(); err != nil {
		return nil, err
	}
	return res, nil
}

func readIcon(dir, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, filepath.Base(name)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSave, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidSave, name)
	}
	return data, nil
}

func cstring(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}
