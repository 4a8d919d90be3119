// Package osd builds the resources the console's browser shows for an
// installed game: the PS2X icon.sys text file and the list/delete icons,
// optionally converted from a memory card save.
package osd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/1ureka/hdlgi/internal/protocol"
)

var ErrInvalidIconSys = errors.New("invalid icon.sys")

const iconSysMagic = "PS2X"

// IconSys is the HDD flavour of icon.sys, a UTF-8 key = value file.
type IconSys struct {
	Title0       string
	Title1       string
	BgColA       uint8
	BgCol        [4][3]uint8
	LightDir     [3][3]float32
	LightColAmb  [3]uint8
	LightCol     [3][3]uint8
	UninstallMes [3]string
}

// SetTitles replaces both OSD lines, cut to what the browser can show.
func (s *IconSys) SetTitles(line1, line2 string) {
	s.Title0 = TruncateTitle(line1)
	s.Title1 = TruncateTitle(line2)
}

// TruncateTitle shortens an OSD line to 16 characters.
func TruncateTitle(s string) string {
	if utf8.RuneCountInString(s) <= protocol.OSDTitleMaxChars {
		return s
	}
	return string([]rune(s)[:protocol.OSDTitleMaxChars])
}

// ParseIconSys reads an icon.sys file. Every line after the magic must be a
// known key.
func ParseIconSys(data []byte) (IconSys, error) {
	var s IconSys
	sc := bufio.NewScanner(bytes.NewReader(bytes.TrimRight(data, "\x00")))
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != iconSysMagic {
		return s, fmt.Errorf("%w: missing %s header", ErrInvalidIconSys, iconSysMagic)
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return s, fmt.Errorf("%w: %q", ErrInvalidIconSys, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimLeft(value, " \t")

		var err error
		switch key {
		case "title0":
			s.Title0 = value
		case "title1":
			s.Title1 = value
		case "bgcola":
			s.BgColA, err = parseByte(value)
		case "bgcol0", "bgcol1", "bgcol2", "bgcol3":
			s.BgCol[key[5]-'0'], err = parseColor(value)
		case "lightdir0", "lightdir1", "lightdir2":
			s.LightDir[key[8]-'0'], err = parseVector(value)
		case "lightcolamb":
			s.LightColAmb, err = parseColor(value)
		case "lightcol0", "lightcol1", "lightcol2":
			s.LightCol[key[8]-'0'], err = parseColor(value)
		case "uninstallmes0", "uninstallmes1", "uninstallmes2":
			s.UninstallMes[key[12]-'0'] = value
		default:
			err = errors.New("unknown key")
		}
		if err != nil {
			return s, fmt.Errorf("%w: %s: %v", ErrInvalidIconSys, key, err)
		}
	}
	return s, sc.Err()
}

// MarshalText renders the file in the field order the browser expects.
func (s IconSys) MarshalText() ([]byte, error) {
	var b bytes.Buffer
	color := func(c [3]uint8) string { return fmt.Sprintf("%d,%d,%d", c[0], c[1], c[2]) }
	vector := func(v [3]float32) string { return fmt.Sprintf("%.4f,%.4f,%.4f", v[0], v[1], v[2]) }

	fmt.Fprintln(&b, iconSysMagic)
	fmt.Fprintf(&b, "title0 = %s\n", s.Title0)
	fmt.Fprintf(&b, "title1 = %s\n", s.Title1)
	fmt.Fprintf(&b, "bgcola = %d\n", s.BgColA)
	for i, c := range s.BgCol {
		fmt.Fprintf(&b, "bgcol%d = %s\n", i, color(c))
	}
	for i, v := range s.LightDir {
		fmt.Fprintf(&b, "lightdir%d = %s\n", i, vector(v))
	}
	fmt.Fprintf(&b, "lightcolamb = %s\n", color(s.LightColAmb))
	for i, c := range s.LightCol {
		fmt.Fprintf(&b, "lightcol%d = %s\n", i, color(c))
	}
	for i, m := range s.UninstallMes {
		fmt.Fprintf(&b, "uninstallmes%d = %s\n", i, m)
	}
	return b.Bytes(), nil
}

func parseByte(v string) (uint8, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
	return uint8(n), err
}

func parseColor(v string) ([3]uint8, error) {
	var c [3]uint8
	parts := strings.Split(v, ",")
	if len(parts) != 3 {
		return c, fmt.Errorf("want 3 components, got %d", len(parts))
	}
	for i, p := range parts {
		n, err := parseByte(p)
		if err != nil {
			return c, err
		}
		c[i] = n
	}
	return c, nil
}

func parseVector(v string) ([3]float32, error) {
	var f [3]float32
	parts := strings.Split(v, ",")
	if len(parts) != 3 {
		return f, fmt.Errorf("want 3 components, got %d", len(parts))
	}
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return f, err
		}
		f[i] = float32(n)
	}
	return f, nil
}
