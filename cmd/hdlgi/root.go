package main

import (
	"errors"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/hdlgi/internal/config"
	"github.com/1ureka/hdlgi/internal/engine"
	"github.com/1ureka/hdlgi/internal/hdl"
	"github.com/1ureka/hdlgi/internal/transport"
	"github.com/1ureka/hdlgi/internal/util"
)

var (
	hostFlag   string
	configPath string
	debugFlag  bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hdlgi",
	Short: "Manage games on a PlayStation 2 running HDLGameInstaller",
	Long: `hdlgi connects to a PlayStation 2 running HDLGameInstaller to install
games from disc images, download them back, and list, edit or remove them.

Compat modes:
  1 ALTERNATE_EE_CORE         4 DISABLE_PSS_VIDEOS     8 HIDE_DEV9_MODULE
  2 ALTERNATE_READING_METHOD  5 DISABLE_DVD9_SUPPORT
  3 UNHOOK_SYSCALLS           6 DISABLE_IGR

Examples:
  hdlgi list -H 192.168.1.20
  hdlgi install -H ps2 --title "Okami" --compat 1,3 --image okami.iso
  hdlgi download -H ps2 --discid SLUS-21115 --output okami.iso`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return usageError{err}
		}
		if debugFlag || cfg.Debug {
			util.EnableDebug()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&hostFlag, "host", "H", "", "hostname or IP address of the console")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "config file")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
}

// session is one connection to the console: the command socket, the data
// listener and the manager running on top of them.
type session struct {
	conn   *transport.Conn
	data   *transport.DataListener
	mgr    *hdl.Manager
	cancel *engine.Canceller
	sigs   chan os.Signal
}

func openSession() (*session, error) {
	host := hostFlag
	if host == "" {
		host = cfg.Host
	}
	if host == "" {
		return nil, usageError{errors.New("no host specified (use --host)")}
	}

	opts := transport.Options{
		CommandPort:   cfg.CommandPort,
		DataPort:      cfg.DataPort,
		RecvTimeout:   cfg.RecvTimeout,
		AcceptTimeout: cfg.AcceptTimeout,
	}
	spinner, _ := pterm.DefaultSpinner.Start("Connecting to " + host)
	conn, err := transport.Dial(host, opts)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return nil, err
	}
	data, err := transport.Listen(opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	util.LogDebug("connected to %s, data port %d", host, data.Port())

	s := &session{conn: conn, data: data, cancel: &engine.Canceller{}}
	eng := engine.New(conn, engine.FromListener(data), s.cancel, engine.Options{
		RetryCount:     cfg.RetryCount,
		ReconnectCount: cfg.ReconnectCount,
		ChunkSectors:   uint32(cfg.ChunkSectors),
	})
	s.mgr = hdl.New(conn, eng)
	s.mgr.ShowProgress = true

	s.sigs = make(chan os.Signal, 1)
	signal.Notify(s.sigs, os.Interrupt)
	go func() {
		for range s.sigs {
			s.cancel.Set()
			util.LogWarning("abort requested, stopping after the current chunk")
		}
	}()
	return s, nil
}

func (s *session) Close() {
	signal.Stop(s.sigs)
	close(s.sigs)
	s.data.Close()
	s.conn.Close()
}

// withSession runs fn against a fresh session.
func withSession(fn func(s *session) error) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}
