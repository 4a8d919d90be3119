package iso

import (
	"errors"
	"fmt"
	"regexp"
)

const maxSystemCNF = 64 * 1024

// boot2 matches the boot executable line of SYSTEM.CNF, e.g.
// "BOOT2 = cdrom0:\SLUS_123.45;1".
var boot2 = regexp.MustCompile(`(?m)^\s*BOOT2\s*=\s*cdrom0:\\(\w{4}_\w{3}\.\w{2});1`)

// Identity names a game by its boot executable.
type Identity struct {
	DiscID          string // "SLUS-12345"
	StartupFilename string // "SLUS_123.45"
}

// Identify reads SYSTEM.CNF and derives the disc ID from its BOOT2 line.
func (img *Image) Identify() (Identity, error) {
	ext, err := img.Resolve(`SYSTEM.CNF;1`)
	if errors.Is(err, ErrPathNotFound) {
		return Identity{}, fmt.Errorf("no SYSTEM.CNF: %w", ErrNotAPlayableDisc)
	}
	if err != nil {
		return Identity{}, err
	}
	if ext.Length > maxSystemCNF {
		return Identity{}, fmt.Errorf("SYSTEM.CNF is %d bytes: %w", ext.Length, ErrNotAPlayableDisc)
	}

	cnf, err := img.ReadFile(ext)
	if err != nil {
		return Identity{}, fmt.Errorf("read SYSTEM.CNF: %w", err)
	}
	return ParseSystemCNF(cnf)
}

// ParseSystemCNF extracts the identity from the contents of SYSTEM.CNF.
func ParseSystemCNF(cnf []byte) (Identity, error) {
	m := boot2.FindSubmatch(cnf)
	if m == nil {
		return Identity{}, fmt.Errorf("no BOOT2 line: %w", ErrNotAPlayableDisc)
	}
	f := string(m[1])
	return Identity{
		DiscID:          f[0:4] + "-" + f[5:8] + f[9:11],
		StartupFilename: f,
	}, nil
}
