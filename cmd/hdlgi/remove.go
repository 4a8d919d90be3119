package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var removeGame gameSelector

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Delete an installed game",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			g, err := removeGame.find(s.mgr)
			if err != nil {
				return err
			}
			if err := s.mgr.Delete(g); err != nil {
				return err
			}
			pterm.Success.Printfln("Removed %s (%s)", g.Title, g.DiscID)
			return nil
		})
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Power the console off",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			return s.mgr.Shutdown()
		})
	},
}

func init() {
	removeGame.register(removeCmd)
	rootCmd.AddCommand(removeCmd, shutdownCmd)
}
