package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/1ureka/hdlgi/internal/hdl"
	"github.com/1ureka/hdlgi/internal/protocol"
)

// paramFlags are the game settings shared by install and edit.
type paramFlags struct {
	title    string
	osd1     string
	osd2     string
	discType string
	compat   string
	iconSrc  string
	iconPath string
	useMDMA0 bool
}

func (f *paramFlags) register(cmd *cobra.Command, titleFlag string) {
	fs := cmd.Flags()
	fs.StringVar(&f.title, titleFlag, "", "game title shown in the game list")
	fs.StringVar(&f.osd1, "osd1", "", "first line of the browser title (defaults to the title)")
	fs.StringVar(&f.osd2, "osd2", "", "second line of the browser title")
	fs.StringVar(&f.discType, "type", "", "disc type, CD or DVD (guessed from the image when omitted)")
	fs.StringVar(&f.compat, "compat", "", "comma separated compatibility modes, e.g. 1,3")
	fs.StringVar(&f.iconSrc, "icon-src", "", "icon source: default, gamesave or external")
	fs.StringVar(&f.iconPath, "icon-path", "", "memory card save folder for --icon-src external")
	fs.BoolVar(&f.useMDMA0, "use-mdma0", false, "run the game with the MDMA mode 0 transfer mode")
}

// apply overlays the flags that were set on p.
func (f *paramFlags) apply(cmd *cobra.Command, titleFlag string, p *hdl.GameParams) error {
	fs := cmd.Flags()
	if fs.Changed(titleFlag) {
		p.Title = f.title
	}
	if fs.Changed("osd1") {
		p.OSD1 = f.osd1
	}
	if fs.Changed("osd2") {
		p.OSD2 = f.osd2
	}
	if f.discType != "" {
		t, err := hdl.ParseDiscType(f.discType)
		if err != nil {
			return usageError{err}
		}
		p.DiscType = t
	}
	if fs.Changed("compat") {
		flags, err := hdl.ParseCompat(f.compat)
		if err != nil {
			return usageError{err}
		}
		p.CompatFlags = flags
	}
	if fs.Changed("use-mdma0") {
		p.UseMDMA0 = f.useMDMA0
	}

	p.Icon = hdl.IconDefault
	if f.iconSrc != "" {
		src, err := hdl.ParseIconSource(f.iconSrc)
		if err != nil {
			return usageError{err}
		}
		p.Icon = src
	}
	switch {
	case p.Icon == hdl.IconExternal && f.iconPath == "":
		return usageError{errors.New("--icon-src external requires --icon-path")}
	case p.Icon != hdl.IconExternal && f.iconPath != "":
		return usageError{errors.New("--icon-path is only valid with --icon-src external")}
	}
	p.IconPath = f.iconPath
	return nil
}

// gameSelector identifies an installed game by title or disc ID.
type gameSelector struct {
	title  string
	discID string
}

func (g *gameSelector) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&g.title, "title", "", "title of the installed game")
	cmd.Flags().StringVar(&g.discID, "discid", "", "disc ID of the installed game, e.g. SLUS-21115")
	cmd.MarkFlagsMutuallyExclusive("title", "discid")
	cmd.MarkFlagsOneRequired("title", "discid")
}

func (g *gameSelector) find(m *hdl.Manager) (protocol.GameEntry, error) {
	if g.discID != "" {
		return m.Find(g.discID)
	}
	return m.Find(g.title)
}
