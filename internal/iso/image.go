// Package iso reads PlayStation 2 disc images: ISO9660 over headerless
// 2048-byte sectors or raw 2352-byte Mode 1 / Mode 2 XA sectors, including
// dual-layer DVD9 dumps.
package iso

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru"

	"github.com/1ureka/hdlgi/internal/protocol"
	"github.com/1ureka/hdlgi/internal/util"
)

const (
	SectorSize    = protocol.SectorSize // logical sector, the data region of every layout
	RawSectorSize = 2352

	pvdSector      = 16
	metaCacheSize  = 64 // metadata sectors kept for path walks
	cdMaxSectors   = 360000
	syncPatternLen = 12
)

var (
	ErrNotISO9660       = errors.New("not an ISO9660 image")
	ErrNotAPlayableDisc = errors.New("not a PlayStation 2 game disc")
	ErrPathNotFound     = errors.New("path not found in image")
)

var syncPattern = []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}

var le = binary.LittleEndian

// Layout describes how logical sectors map onto the image file.
type Layout struct {
	PhysicalSectorSize int // 2048 or 2352
	HeaderOffset       int // 0, 16 (Mode 1) or 24 (Mode 2 XA Form 1)
	Layer0Sectors      uint32
	Layer1Sectors      uint32 // non-zero only for dual-layer images
}

// DualLayer reports whether a second layer was detected.
func (l Layout) DualLayer() bool { return l.Layer1Sectors > 0 }

// DiscType guesses the disc type the console should emulate: raw sector
// dumps and anything fitting on a CD are CDs, the rest DVDs.
func (l Layout) DiscType() uint8 {
	if l.PhysicalSectorSize == RawSectorSize || (!l.DualLayer() && l.Layer0Sectors <= cdMaxSectors) {
		return protocol.DiscPS2CD
	}
	return protocol.DiscPS2DVD
}

// Image is an opened disc image. It is not safe for concurrent use.
type Image struct {
	f      *os.File
	size   int64
	layout Layout
	cursor uint32 // next sector returned by ReadNext

	meta *lru.Cache // lsn -> []byte, metadata sectors only
	raw  []byte     // one physical sector
}

// Open detects the sector layout of the image at path and validates its
// primary volume descriptor.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	img, err := newImage(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func newImage(f *os.File) (*Image, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	cache, err := lru.New(metaCacheSize)
	if err != nil {
		return nil, err
	}
	img := &Image{
		f:    f,
		size: fi.Size(),
		meta: cache,
		raw:  make([]byte, RawSectorSize),
	}

	if err := img.detectLayout(); err != nil {
		return nil, err
	}

	pvd, err := img.sector(pvdSector)
	if err != nil || !isPVD(pvd) {
		return nil, ErrNotISO9660
	}
	img.layout.Layer0Sectors = le.Uint32(pvd[80:84])

	img.probeSecondLayer()
	return img, nil
}

// detectLayout inspects the sync pattern and mode byte of the first sector.
func (img *Image) detectLayout() error {
	head := make([]byte, 16)
	if _, err := img.f.ReadAt(head, 0); err != nil {
		return ErrNotISO9660
	}

	if !bytes.Equal(head[:syncPatternLen], syncPattern) {
		img.layout = Layout{PhysicalSectorSize: SectorSize}
		return nil
	}

	switch mode := head[15]; mode {
	case 1:
		img.layout = Layout{PhysicalSectorSize: RawSectorSize, HeaderOffset: 16}
	case 2:
		img.layout = Layout{PhysicalSectorSize: RawSectorSize, HeaderOffset: 24}
	default:
		return fmt.Errorf("%w: unsupported sector mode %d", ErrNotISO9660, mode)
	}
	return nil
}

// probeSecondLayer reads the sector right after layer 0. On a DVD9 dump that
// is layer 1's volume descriptor.
func (img *Image) probeSecondLayer() {
	probe := make([]byte, SectorSize)
	n, err := img.ReadSectors(img.layout.Layer0Sectors, 1, probe)
	if err != nil || n != 1 {
		return // declared count stands
	}

	if isPVD(probe) {
		img.layout.Layer1Sectors = le.Uint32(probe[80:84])
		util.LogDebug("dual-layer image: %d + %d sectors", img.layout.Layer0Sectors, img.layout.Layer1Sectors)
		return
	}

	// Trailing data: trust the file size over the filesystem.
	actual := uint32(img.size / int64(img.layout.PhysicalSectorSize))
	if actual != img.layout.Layer0Sectors {
		util.LogWarning("volume declares %d sectors but the image holds %d; using the image size",
			img.layout.Layer0Sectors, actual)
		img.layout.Layer0Sectors = actual
	}
}

func isPVD(s []byte) bool {
	return len(s) >= 6 && s[0] == 0x01 && string(s[1:6]) == "CD001"
}

// ---------------------------------------------------------------------------
// Sector access
// ---------------------------------------------------------------------------

// ReadSectors copies the data regions of n logical sectors starting at lsn
// into buf, which must hold n*SectorSize bytes. It returns how many sectors
// were extracted; a short count without error means end of file.
func (img *Image) ReadSectors(lsn uint32, n int, buf []byte) (int, error) {
	if len(buf) < n*SectorSize {
		return 0, fmt.Errorf("buffer too small for %d sectors", n)
	}
	phys := int64(img.layout.PhysicalSectorSize)

	if img.layout.HeaderOffset == 0 {
		got, err := img.f.ReadAt(buf[:n*SectorSize], int64(lsn)*phys)
		if err != nil && !errors.Is(err, io.EOF) {
			return got / SectorSize, fmt.Errorf("read sector %d: %w", lsn, err)
		}
		return got / SectorSize, nil
	}

	for i := 0; i < n; i++ {
		_, err := img.f.ReadAt(img.raw, (int64(lsn)+int64(i))*phys)
		if errors.Is(err, io.EOF) {
			return i, nil
		}
		if err != nil {
			return i, fmt.Errorf("read sector %d: %w", int64(lsn)+int64(i), err)
		}
		off := img.layout.HeaderOffset
		copy(buf[i*SectorSize:(i+1)*SectorSize], img.raw[off:off+SectorSize])
	}
	return n, nil
}

// sector returns one metadata sector through the LRU cache. The returned
// slice must not be modified.
func (img *Image) sector(lsn uint32) ([]byte, error) {
	if v, ok := img.meta.Get(lsn); ok {
		return v.([]byte), nil
	}
	buf := make([]byte, SectorSize)
	n, err := img.ReadSectors(lsn, 1, buf)
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, fmt.Errorf("sector %d: %w", lsn, io.ErrUnexpectedEOF)
	}
	img.meta.Add(lsn, buf)
	return buf, nil
}

// ReadNext reads up to len(buf)/SectorSize sectors at the internal cursor,
// treating both layers as one address space, and advances the cursor. It
// returns 0 once every sector has been read.
func (img *Image) ReadNext(buf []byte) (int, error) {
	left := img.Sectors() - img.cursor
	n := min(uint32(len(buf)/SectorSize), left)
	if n == 0 {
		return 0, nil
	}
	got, err := img.ReadSectors(img.cursor, int(n), buf)
	img.cursor += uint32(got)
	return got, err
}

// Layout returns the detected layout.
func (img *Image) Layout() Layout { return img.layout }

// Sectors returns the total logical sectors across both layers.
func (img *Image) Sectors() uint32 {
	return img.layout.Layer0Sectors + img.layout.Layer1Sectors
}

// Close releases the image file.
func (img *Image) Close() error {
	return img.f.Close()
}
