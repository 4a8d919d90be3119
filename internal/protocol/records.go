package protocol

import "unicode/utf8"

// Compatibility mode flags stored in GameInfo/GameEntry.
const (
	CompatAlternateEECore     uint8 = 0x01 // mode 1
	CompatAlternateReading    uint8 = 0x02 // mode 2
	CompatUnhookSyscalls      uint8 = 0x04 // mode 3
	CompatDisablePSSVideos    uint8 = 0x08 // mode 4
	CompatDisableDVD9         uint8 = 0x10 // mode 5
	CompatDisableIGR          uint8 = 0x20 // mode 6
	CompatUnused              uint8 = 0x40 // mode 7
	CompatHideDEV9            uint8 = 0x80 // mode 8
	CompatModeCount                 = 8
)

// ATA transfer modes.
const (
	XferModePIO  uint8 = 0x08
	XferModeMDMA uint8 = 0x20
	XferModeUDMA uint8 = 0x40
)

// Disc types.
const (
	DiscPSCD     uint8 = 0x10
	DiscPSCDDA   uint8 = 0x11
	DiscPS2CD    uint8 = 0x12
	DiscPS2CDDA  uint8 = 0x13
	DiscPS2DVD   uint8 = 0x14
	DiscTypeNone uint8 = 0xFF
)

// OSD resource file indexes.
const (
	OSDSystemCNF = iota
	OSDIconSys
	OSDViewIcon
	OSDDeleteIcon
	OSDBootKELF
	OSDResourceCount
)

// Packed record sizes.
const (
	IOInitRequestSize   = 4 + 4 + PartitionLength + 1
	GameInfoSize        = TitleMaxBytes + 1 + DiscIDLength + 1 + FilenameLength + 1 + 1 + 4 + 4 + 3
	GameEntrySize       = PartitionLength + 1 + TitleMaxBytes + 1 + DiscIDLength + 1 + 4 + 4
	OSDTitlesSize       = 2 * (OSDTitleMaxBytes + 1)
	OSDInitRequestSize  = 4 + 2*(OSDTitleMaxBytes+1) + DiscIDLength + 1 + PartitionLength + 1
	OSDWriteRequestSize = 8
	OSDStatSize         = 4 * OSDResourceCount
	OSDStatRequestSize  = PartitionLength + 1
	OSDReadRequestSize  = PartitionLength + 1 + 4
)

// TruncateUTF8 shortens s to at most n bytes without splitting a rune.
func TruncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ---------------------------------------------------------------------------
// IOInitRequest
// ---------------------------------------------------------------------------

// IOInitRequest opens a partition for a sequential read or write starting at
// Offset and spanning Sectors.
type IOInitRequest struct {
	Sectors   uint32
	Offset    uint32
	Partition string
}

func (q IOInitRequest) MarshalBinary() ([]byte, error) {
	r := record{buf: make([]byte, IOInitRequestSize)}
	putU32(r.u32(), q.Sectors)
	putU32(r.u32(), q.Offset)
	putString(r.str(PartitionLength+1), q.Partition)
	return r.buf, nil
}

func (q *IOInitRequest) UnmarshalBinary(data []byte) error {
	if err := checkSize("IOInitRequest", data, IOInitRequestSize); err != nil {
		return err
	}
	r := record{buf: data}
	q.Sectors = getU32(r.u32())
	q.Offset = getU32(r.u32())
	q.Partition = DecodeCString(r.str(PartitionLength + 1))
	return nil
}

// ---------------------------------------------------------------------------
// GameInfo
// ---------------------------------------------------------------------------

// GameInfo describes a game about to be installed (CmdPrepGameInstall).
type GameInfo struct {
	Title           string
	DiscID          string
	StartupFilename string
	DiscType        uint8
	Layer0Sectors   uint32
	Layer1Sectors   uint32
	CompatFlags     uint8
	XferType        uint8
	XferMode        uint8
}

func (g GameInfo) MarshalBinary() ([]byte, error) {
	r := record{buf: make([]byte, GameInfoSize)}
	putString(r.str(TitleMaxBytes+1), TruncateUTF8(g.Title, TitleMaxBytes))
	putString(r.str(DiscIDLength+1), g.DiscID)
	putString(r.str(FilenameLength+1), g.StartupFilename)
	*r.u8() = g.DiscType
	putU32(r.u32(), g.Layer0Sectors)
	putU32(r.u32(), g.Layer1Sectors)
	*r.u8() = g.CompatFlags
	*r.u8() = g.XferType
	*r.u8() = g.XferMode
	return r.buf, nil
}

func (g *GameInfo) UnmarshalBinary(data []byte) error {
	if err := checkSize("GameInfo", data, GameInfoSize); err != nil {
		return err
	}
	r := record{buf: data}
	g.Title = DecodeCString(r.str(TitleMaxBytes + 1))
	g.DiscID = DecodeCString(r.str(DiscIDLength + 1))
	g.StartupFilename = DecodeCString(r.str(FilenameLength + 1))
	g.DiscType = *r.u8()
	g.Layer0Sectors = getU32(r.u32())
	g.Layer1Sectors = getU32(r.u32())
	g.CompatFlags = *r.u8()
	g.XferType = *r.u8()
	g.XferMode = *r.u8()
	return nil
}

// ---------------------------------------------------------------------------
// GameEntry
// ---------------------------------------------------------------------------

// GameEntry is one installed game as listed by the server.
type GameEntry struct {
	Partition   string
	Title       string
	DiscID      string
	CompatFlags uint8
	XferType    uint8
	XferMode    uint8
	DiscType    uint8
	Sectors     uint32 // in SectorSize units
}

func (e GameEntry) MarshalBinary() ([]byte, error) {
	r := record{buf: make([]byte, GameEntrySize)}
	putString(r.str(PartitionLength+1), e.Partition)
	putString(r.str(TitleMaxBytes+1), TruncateUTF8(e.Title, TitleMaxBytes))
	putString(r.str(DiscIDLength+1), e.DiscID)
	*r.u8() = e.CompatFlags
	*r.u8() = e.XferType
	*r.u8() = e.XferMode
	*r.u8() = e.DiscType
	putU32(r.u32(), e.Sectors)
	return r.buf, nil
}

func (e *GameEntry) UnmarshalBinary(data []byte) error {
	if err := checkSize("GameEntry", data, GameEntrySize); err != nil {
		return err
	}
	r := record{buf: data}
	e.Partition = DecodeCString(r.str(PartitionLength + 1))
	e.Title = DecodeCString(r.str(TitleMaxBytes + 1))
	e.DiscID = DecodeCString(r.str(DiscIDLength + 1))
	e.CompatFlags = *r.u8()
	e.XferType = *r.u8()
	e.XferMode = *r.u8()
	e.DiscType = *r.u8()
	e.Sectors = getU32(r.u32())
	return nil
}

// UsesMDMA0 reports whether the entry is set to the MDMA mode 0 transfer mode.
func (e GameEntry) UsesMDMA0() bool {
	return e.XferType == XferModeMDMA && e.XferMode == 0
}

// ---------------------------------------------------------------------------
// OSD records
// ---------------------------------------------------------------------------

// OSDTitles holds the two OSD title lines of an installed game.
type OSDTitles struct {
	Line1 string
	Line2 string
}

func (t OSDTitles) MarshalBinary() ([]byte, error) {
	r := record{buf: make([]byte, OSDTitlesSize)}
	putString(r.str(OSDTitleMaxBytes+1), TruncateUTF8(t.Line1, OSDTitleMaxBytes))
	putString(r.str(OSDTitleMaxBytes+1), TruncateUTF8(t.Line2, OSDTitleMaxBytes))
	return r.buf, nil
}

func (t *OSDTitles) UnmarshalBinary(data []byte) error {
	if err := checkSize("OSDTitles", data, OSDTitlesSize); err != nil {
		return err
	}
	r := record{buf: data}
	t.Line1 = DecodeCString(r.str(OSDTitleMaxBytes + 1))
	t.Line2 = DecodeCString(r.str(OSDTitleMaxBytes + 1))
	return nil
}

// OSDInitRequest starts an OSD resource upload for a partition.
type OSDInitRequest struct {
	UseSaveData bool
	Line1       string
	Line2       string
	DiscID      string
	Partition   string
}

func (q OSDInitRequest) MarshalBinary() ([]byte, error) {
	r := record{buf: make([]byte, OSDInitRequestSize)}
	var save uint32
	if q.UseSaveData {
		save = 1
	}
	putU32(r.u32(), save)
	putString(r.str(OSDTitleMaxBytes+1), TruncateUTF8(q.Line1, OSDTitleMaxBytes))
	putString(r.str(OSDTitleMaxBytes+1), TruncateUTF8(q.Line2, OSDTitleMaxBytes))
	putString(r.str(DiscIDLength+1), q.DiscID)
	putString(r.str(PartitionLength+1), q.Partition)
	return r.buf, nil
}

func (q *OSDInitRequest) UnmarshalBinary(data []byte) error {
	if err := checkSize("OSDInitRequest", data, OSDInitRequestSize); err != nil {
		return err
	}
	r := record{buf: data}
	q.UseSaveData = getU32(r.u32()) != 0
	q.Line1 = DecodeCString(r.str(OSDTitleMaxBytes + 1))
	q.Line2 = DecodeCString(r.str(OSDTitleMaxBytes + 1))
	q.DiscID = DecodeCString(r.str(DiscIDLength + 1))
	q.Partition = DecodeCString(r.str(PartitionLength + 1))
	return nil
}

// OSDWriteRequest announces the upload of one OSD resource file.
type OSDWriteRequest struct {
	Index  int32
	Length uint32
}

func (q OSDWriteRequest) MarshalBinary() ([]byte, error) {
	r := record{buf: make([]byte, OSDWriteRequestSize)}
	putU32(r.u32(), uint32(q.Index))
	putU32(r.u32(), q.Length)
	return r.buf, nil
}

func (q *OSDWriteRequest) UnmarshalBinary(data []byte) error {
	if err := checkSize("OSDWriteRequest", data, OSDWriteRequestSize); err != nil {
		return err
	}
	r := record{buf: data}
	q.Index = int32(getU32(r.u32()))
	q.Length = getU32(r.u32())
	return nil
}

// OSDStat lists the length of every OSD resource file of a partition.
type OSDStat struct {
	Lengths [OSDResourceCount]uint32
}

func (s OSDStat) MarshalBinary() ([]byte, error) {
	r := record{buf: make([]byte, OSDStatSize)}
	for _, l := range s.Lengths {
		putU32(r.u32(), l)
	}
	return r.buf, nil
}

func (s *OSDStat) UnmarshalBinary(data []byte) error {
	if err := checkSize("OSDStat", data, OSDStatSize); err != nil {
		return err
	}
	r := record{buf: data}
	for i := range s.Lengths {
		s.Lengths[i] = getU32(r.u32())
	}
	return nil
}

// OSDStatRequest asks for the OSDStat of a partition.
type OSDStatRequest struct {
	Partition string
}

func (q OSDStatRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, OSDStatRequestSize)
	putString(buf, q.Partition)
	return buf, nil
}

// OSDReadRequest asks for one OSD resource file of a partition.
type OSDReadRequest struct {
	Partition string
	Index     int32
}

func (q OSDReadRequest) MarshalBinary() ([]byte, error) {
	r := record{buf: make([]byte, OSDReadRequestSize)}
	putString(r.str(PartitionLength+1), q.Partition)
	putU32(r.u32(), uint32(q.Index))
	return r.buf, nil
}

func (q *OSDReadRequest) UnmarshalBinary(data []byte) error {
	if err := checkSize("OSDReadRequest", data, OSDReadRequestSize); err != nil {
		return err
	}
	r := record{buf: data}
	q.Partition = DecodeCString(r.str(PartitionLength + 1))
	q.Index = int32(getU32(r.u32()))
	return nil
}
