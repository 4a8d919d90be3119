package hdl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/1ureka/hdlgi/internal/protocol"
)

// IconSource selects where a game's browser icon comes from.
type IconSource int

const (
	IconDefault  IconSource = iota // the server's built-in icon
	IconGameSave                   // the save data icon on the disc, resolved by the server
	IconExternal                   // a memory card save folder on this machine
)

var iconSourceNames = [...]string{"default", "gamesave", "external"}

func (s IconSource) String() string {
	if int(s) < len(iconSourceNames) {
		return iconSourceNames[s]
	}
	return "unknown"
}

// ParseIconSource accepts default, gamesave or external.
func ParseIconSource(v string) (IconSource, error) {
	for i, name := range iconSourceNames {
		if v == name {
			return IconSource(i), nil
		}
	}
	return 0, fmt.Errorf("invalid icon source %q", v)
}

// ParseDiscType accepts CD or DVD.
func ParseDiscType(v string) (uint8, error) {
	switch v {
	case "CD":
		return protocol.DiscPS2CD, nil
	case "DVD":
		return protocol.DiscPS2DVD, nil
	}
	return 0, fmt.Errorf("invalid disc type %q", v)
}

// DiscTypeName renders a disc type for display.
func DiscTypeName(t uint8) string {
	if t == protocol.DiscPS2DVD {
		return "DVD"
	}
	return "CD"
}

// ParseCompat turns a mode list such as "1,2,8" into compatibility flags.
// Mode 7 is unused and rejected.
func ParseCompat(v string) (uint8, error) {
	var flags uint8
	if v == "" {
		return 0, nil
	}
	for _, part := range strings.Split(v, ",") {
		mode, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || mode < 1 || mode > protocol.CompatModeCount || mode == 7 {
			return 0, fmt.Errorf("invalid compatibility mode %q", part)
		}
		flags |= 1 << (mode - 1)
	}
	return flags, nil
}

// CompatModes lists the modes shown to users with their flag names.
var CompatModes = []struct {
	Mode int
	Flag uint8
	Name string
}{
	{1, protocol.CompatAlternateEECore, "ALTERNATE_EE_CORE"},
	{2, protocol.CompatAlternateReading, "ALTERNATE_READING_METHOD"},
	{3, protocol.CompatUnhookSyscalls, "UNHOOK_SYSCALLS"},
	{4, protocol.CompatDisablePSSVideos, "DISABLE_PSS_VIDEOS"},
	{5, protocol.CompatDisableDVD9, "DISABLE_DVD9_SUPPORT"},
	{6, protocol.CompatDisableIGR, "DISABLE_IGR"},
	{8, protocol.CompatHideDEV9, "HIDE_DEV9_MODULE"},
}

// GameParams are the user-editable settings of an installed game.
type GameParams struct {
	Title       string
	OSD1        string
	OSD2        string
	DiscType    uint8 // protocol.DiscTypeNone lets Install guess from the image
	CompatFlags uint8
	UseMDMA0    bool
	Icon        IconSource
	IconPath    string // save folder for IconExternal
}

// transferMode returns the ATA mode the game should run with: UDMA4 unless
// MDMA0 was requested.
func (p GameParams) transferMode() (typ, mode uint8) {
	if p.UseMDMA0 {
		return protocol.XferModeMDMA, 0
	}
	return protocol.XferModeUDMA, 4
}

// osdLines falls back to the game title for an empty first line.
func (p GameParams) osdLines() (string, string) {
	if p.OSD1 == "" {
		return p.Title, p.OSD2
	}
	return p.OSD1, p.OSD2
}
