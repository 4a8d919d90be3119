// Package transport owns the two TCP sockets spoken with the console: the
// command connection the client dials, and the data connection the console
// opens back to a listener on the client.
package transport

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/1ureka/hdlgi/internal/protocol"
	"github.com/1ureka/hdlgi/internal/util"
)

// recvBufferSize matches one full transfer chunk (2048 sectors of 2048 bytes).
const recvBufferSize = 2048 * protocol.SectorSize

// Options tunes ports and bounded waits. Zero timeouts and a zero command
// port are replaced by the protocol defaults; a zero data port binds an
// ephemeral port.
type Options struct {
	CommandPort   int
	DataPort      int
	RecvTimeout   time.Duration
	AcceptTimeout time.Duration
}

// DefaultOptions returns the ports and timeouts the console expects.
func DefaultOptions() Options {
	return Options{CommandPort: protocol.CommandPort, DataPort: protocol.DataPort}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.CommandPort == 0 {
		o.CommandPort = protocol.CommandPort
	}
	if o.RecvTimeout == 0 {
		o.RecvTimeout = 30 * time.Second
	}
	if o.AcceptTimeout == 0 {
		o.AcceptTimeout = 80 * time.Second
	}
	return o
}

// Conn is the command connection. It is used from a single goroutine.
type Conn struct {
	host string
	opts Options
	nc   net.Conn // nil once closed
}

// Dial resolves host, connects to the command port and performs the version
// handshake.
func Dial(host string, opts Options) (*Conn, error) {
	c := &Conn{host: host, opts: opts.withDefaults()}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// Host returns the host name the connection was dialed with.
func (c *Conn) Host() string { return c.host }

// Redial drops the current socket (if any) and connects again, handshake
// included.
func (c *Conn) Redial() error {
	c.Close()
	return c.connect()
}

func (c *Conn) connect() error {
	addrs, err := net.LookupHost(c.host)
	if err != nil || len(addrs) == 0 {
		return fmt.Errorf("%w: %s", protocol.ErrUnresolvedHost, c.host)
	}

	addr := net.JoinHostPort(addrs[0], strconv.Itoa(c.opts.CommandPort))
	nc, err := net.DialTimeout("tcp", addr, c.opts.RecvTimeout)
	if err != nil {
		return fmt.Errorf("%w: connect %s: %v", protocol.ErrConnectionLost, addr, err)
	}
	if tcp, ok := nc.(*net.TCPConn); ok {
		_ = tcp.SetReadBuffer(recvBufferSize)
	}
	c.nc = nc

	if err := c.handshake(); err != nil {
		c.Close()
		return err
	}

	util.LogDebug("command connection to %s established", addr)
	return nil
}

func (c *Conn) handshake() error {
	result, payload, err := c.Exchange(protocol.CmdGetVersion, nil, 4)
	if err != nil {
		return err
	}
	if err := protocol.CheckResult(protocol.CmdGetVersion, result); err != nil {
		return err
	}

	version, err := protocol.DecodeInt32(payload)
	if err != nil || version != protocol.Version {
		return fmt.Errorf("%w: server %#x, client %#x", protocol.ErrVersionMismatch, version, protocol.Version)
	}

	result, _, err = c.Exchange(protocol.CmdSendVersion, protocol.EncodeInt32(protocol.Version), 0)
	if err != nil {
		return err
	}
	return protocol.CheckResult(protocol.CmdSendVersion, result)
}

// ---------------------------------------------------------------------------
// Framing
// ---------------------------------------------------------------------------

// SendCommand writes a header and the whole payload. A failed write is
// reported as connection loss; the frame is never retried here.
func (c *Conn) SendCommand(cmd protocol.Command, payload []byte) error {
	if c.nc == nil {
		return fmt.Errorf("send %s: %w", cmd, protocol.ErrConnectionLost)
	}
	frame := protocol.EncodeFrame(cmd, payload)
	if _, err := writeFull(c.nc, frame, c.opts.RecvTimeout); err != nil {
		return fmt.Errorf("send %s: %w", cmd, protocol.ErrConnectionLost)
	}
	return nil
}

// ReceiveResponse reads one header and at most max payload bytes. The
// header's result is returned even when the payload was truncated; bytes
// beyond max stay on the wire for ReceiveRaw.
func (c *Conn) ReceiveResponse(max int) (int32, []byte, error) {
	buf, err := c.ReceiveRaw(protocol.HeaderSize)
	if err != nil {
		return 0, nil, err
	}
	h, err := protocol.DecodeHeader(buf)
	if err != nil {
		return 0, nil, err
	}

	if max <= 0 || h.PayloadLength == 0 {
		return h.Result, nil, nil
	}
	n := min(int(h.PayloadLength), max)
	payload, err := c.ReceiveRaw(n)
	if err != nil {
		return 0, nil, err
	}
	return h.Result, payload, nil
}

// ReceiveRaw reads exactly n bytes with no framing. A bounded wait that
// expires closes the command socket.
func (c *Conn) ReceiveRaw(n int) ([]byte, error) {
	if c.nc == nil {
		return nil, fmt.Errorf("receive: %w", protocol.ErrConnectionLost)
	}
	buf := make([]byte, n)
	if _, err := readFull(c.nc, buf, c.opts.RecvTimeout); err != nil {
		if isTimeout(err) {
			util.LogWarning("command connection timed out after %s", c.opts.RecvTimeout)
			c.Close()
		}
		return nil, fmt.Errorf("receive: %w", protocol.ErrConnectionLost)
	}
	return buf, nil
}

// Exchange sends a command and reads its response.
func (c *Conn) Exchange(cmd protocol.Command, payload []byte, max int) (int32, []byte, error) {
	if err := c.SendCommand(cmd, payload); err != nil {
		return 0, nil, err
	}
	return c.ReceiveResponse(max)
}

// Close closes the command socket. Safe to call more than once.
func (c *Conn) Close() error {
	if c.nc == nil {
		return nil
	}
	err := c.nc.Close()
	c.nc = nil
	return err
}
