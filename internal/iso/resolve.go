package iso

import (
	"fmt"
	"strings"
)

// Volume descriptor and record field offsets.
const (
	pvdPathTableSize = 132
	pvdPathTableLSN  = 140 // type-L path table
	pvdRootRecord    = 156

	drLength     = 0
	drExtent     = 2
	drDataLength = 10
	drNameLength = 32
	drName       = 33

	ptNameLength = 0
	ptExtent     = 2
	ptParent     = 6
	ptName       = 8

	rootDirNumber = 1
)

// Extent locates a file or directory inside the image.
type Extent struct {
	Sector uint32
	Length uint32 // bytes
}

// Resolve looks up a backslash-separated path such as `A\B\C.BIN;1`.
// Directories are walked through the path table, the final component through
// its parent's directory records. Names compare byte for byte, so files
// carry their ";1" version suffix.
func (img *Image) Resolve(path string) (Extent, error) {
	segs := strings.Split(strings.TrimLeft(path, `\`), `\`)
	name := segs[len(segs)-1]
	dirs := segs[:len(segs)-1]
	if name == "" {
		return Extent{}, fmt.Errorf("%q: %w", path, ErrPathNotFound)
	}

	pvd, err := img.sector(pvdSector)
	if err != nil {
		return Extent{}, err
	}
	dir := Extent{
		Sector: le.Uint32(pvd[pvdRootRecord+drExtent:]),
		Length: le.Uint32(pvd[pvdRootRecord+drDataLength:]),
	}

	if len(dirs) > 0 {
		ptSize := le.Uint32(pvd[pvdPathTableSize:])
		if ptSize > 0 {
			dir.Sector, err = img.walkPathTable(le.Uint32(pvd[pvdPathTableLSN:]), ptSize, dirs)
		} else {
			for _, d := range dirs {
				if dir, err = img.lookup(dir.Sector, d); err != nil {
					break
				}
			}
		}
		if err != nil {
			return Extent{}, fmt.Errorf("%q: %w", path, err)
		}
	}

	ext, err := img.lookup(dir.Sector, name)
	if err != nil {
		return Extent{}, fmt.Errorf("%q: %w", path, err)
	}
	return ext, nil
}

// walkPathTable returns the extent of the directory named by dirs. Records
// are numbered from 1 (the root) in table order, and a child always follows
// its parent, so one forward pass resolves the whole chain.
func (img *Image) walkPathTable(lsn, size uint32, dirs []string) (uint32, error) {
	table, err := img.readMeta(lsn, size)
	if err != nil {
		return 0, err
	}

	parent := uint16(rootDirNumber)
	number := uint16(0)
	depth := 0
	for off := 0; off+ptName <= len(table); {
		n := int(table[off+ptNameLength])
		if n == 0 {
			// no record crosses a sector boundary
			off = (off/SectorSize + 1) * SectorSize
			continue
		}
		if off+ptName+n > len(table) {
			break
		}
		number++

		if number != rootDirNumber &&
			le.Uint16(table[off+ptParent:]) == parent &&
			string(table[off+ptName:off+ptName+n]) == dirs[depth] {
			depth++
			if depth == len(dirs) {
				return le.Uint32(table[off+ptExtent:]), nil
			}
			parent = number
		}

		off += ptName + n + n%2
	}
	return 0, ErrPathNotFound
}

// lookup scans the directory starting at lsn for name. The directory's size
// comes from its own "." record.
func (img *Image) lookup(lsn uint32, name string) (Extent, error) {
	first, err := img.sector(lsn)
	if err != nil {
		return Extent{}, err
	}
	size := le.Uint32(first[drDataLength:])

	for pos := uint32(0); pos < size; {
		s, err := img.sector(lsn + pos/SectorSize)
		if err != nil {
			return Extent{}, err
		}
		off := int(pos % SectorSize)
		n := int(s[off+drLength])
		if n == 0 || off+n > SectorSize || n < drName {
			pos = (pos/SectorSize + 1) * SectorSize
			continue
		}

		nameLen := int(s[off+drNameLength])
		if drName+nameLen <= n && string(s[off+drName:off+drName+nameLen]) == name {
			return Extent{
				Sector: le.Uint32(s[off+drExtent:]),
				Length: le.Uint32(s[off+drDataLength:]),
			}, nil
		}
		pos += uint32(n)
	}
	return Extent{}, ErrPathNotFound
}

// readMeta reads size bytes of metadata starting at lsn into one contiguous
// buffer.
func (img *Image) readMeta(lsn, size uint32) ([]byte, error) {
	count, err := img.span(lsn, size)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, count*SectorSize)
	for i := 0; i < count; i++ {
		s, err := img.sector(lsn + uint32(i))
		if err != nil {
			return nil, err
		}
		buf = append(buf, s...)
	}
	return buf[:size], nil
}

// ReadFile returns the contents of ext.
func (img *Image) ReadFile(ext Extent) ([]byte, error) {
	count, err := img.span(ext.Sector, ext.Length)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, count*SectorSize)
	n, err := img.ReadSectors(ext.Sector, count, buf)
	if err != nil {
		return nil, err
	}
	if n != count {
		return nil, fmt.Errorf("extent at sector %d truncated", ext.Sector)
	}
	return buf[:ext.Length], nil
}

// span returns how many sectors hold size bytes at lsn. Sizes read from the
// image are untrusted, so a span reaching past the end of the file is
// rejected before anything is allocated.
func (img *Image) span(lsn, size uint32) (int, error) {
	count := (int64(size) + SectorSize - 1) / SectorSize
	if int64(lsn)+count > img.size/int64(img.layout.PhysicalSectorSize) {
		return 0, fmt.Errorf("%d bytes at sector %d run past the end of the image: %w",
			size, lsn, ErrNotISO9660)
	}
	return int(count), nil
}
