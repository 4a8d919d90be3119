// Command hdlgi is the CLI entry point.
//
// Connects to a PlayStation 2 running HDLGameInstaller to install, download,
// list, edit and remove games on the console's hard drive.
package main

import (
	"errors"
	"os"

	"github.com/1ureka/hdlgi/internal/iso"
	"github.com/1ureka/hdlgi/internal/protocol"
	"github.com/1ureka/hdlgi/internal/util"
)

var version = "dev"

// exitInvalidImage is returned for images that are not a playable PS2 disc.
const exitInvalidImage = 22

func main() {
	if err := rootCmd.Execute(); err != nil {
		util.LogError("%s", protocol.Describe(err))
		util.LogDebug("%v", err)
		os.Exit(exitCode(err))
	}
}

// usageError marks errors in the command line itself.
type usageError struct{ error }

func (e usageError) Unwrap() error { return e.error }

func exitCode(err error) int {
	var usage usageError
	if errors.As(err, &usage) {
		return protocol.ExitUsage
	}
	if code, ok := protocol.ExitCode(err); ok {
		return code
	}
	if errors.Is(err, iso.ErrNotISO9660) || errors.Is(err, iso.ErrNotAPlayableDisc) ||
		errors.Is(err, iso.ErrPathNotFound) {
		return exitInvalidImage
	}
	return protocol.ExitUsage
}
