package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	editGame   gameSelector
	editParams paramFlags
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Change the settings of an installed game",
	Long: `Edit rewrites the entry of an installed game. Settings not given on the
command line keep their current value. The browser icon is only replaced
when --icon-src is set; otherwise just its title lines change.

Examples:
  hdlgi edit -H ps2 --discid SLUS-21115 --newtitle "Okami (USA)"
  hdlgi edit -H ps2 --title Okami --compat 3 --use-mdma0`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			g, err := editGame.find(s.mgr)
			if err != nil {
				return err
			}
			p, err := s.mgr.Params(g)
			if err != nil {
				return err
			}
			if err := editParams.apply(cmd, "newtitle", &p); err != nil {
				return err
			}
			if err := s.mgr.Edit(g, p, editParams.iconSrc != ""); err != nil {
				return err
			}
			pterm.Success.Printfln("Updated %s", p.Title)
			return nil
		})
	},
}

func init() {
	editGame.register(editCmd)
	editParams.register(editCmd, "newtitle")
	rootCmd.AddCommand(editCmd)
}
