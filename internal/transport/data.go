package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/1ureka/hdlgi/internal/protocol"
	"github.com/1ureka/hdlgi/internal/util"
)

// ---------------------------------------------------------------------------
// DataListener
// ---------------------------------------------------------------------------

// DataListener is the listening socket the console connects back to for bulk
// transfers. It is prepared once and may be abandoned and re-prepared many
// times over a session.
type DataListener struct {
	port          int
	acceptTimeout time.Duration
	recvTimeout   time.Duration
	ln            *net.TCPListener // nil while abandoned
}

// Listen prepares the data listener on opts.DataPort.
func Listen(opts Options) (*DataListener, error) {
	opts = opts.withDefaults()
	l := &DataListener{
		port:          opts.DataPort,
		acceptTimeout: opts.AcceptTimeout,
		recvTimeout:   opts.RecvTimeout,
	}
	if err := l.prepare(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *DataListener) prepare() error {
	// Go listeners set SO_REUSEADDR, so a port left in TIME_WAIT by the
	// previous data connection can be bound again right away.
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{Port: l.port})
	if err != nil {
		return fmt.Errorf("%w: port %d: %v", protocol.ErrBindFailed, l.port, err)
	}
	l.ln = ln
	l.port = ln.Addr().(*net.TCPAddr).Port
	return nil
}

// Port returns the bound port.
func (l *DataListener) Port() int { return l.port }

// Accept waits for the console to open the data connection.
func (l *DataListener) Accept() (*DataConn, error) {
	if l.ln == nil {
		if err := l.prepare(); err != nil {
			return nil, err
		}
	}

	if err := l.ln.SetDeadline(time.Now().Add(l.acceptTimeout)); err != nil {
		return nil, fmt.Errorf("accept: %w", protocol.ErrConnectionLost)
	}
	nc, err := l.ln.AcceptTCP()
	if err != nil {
		if isTimeout(err) {
			util.LogWarning("no data connection within %s", l.acceptTimeout)
		}
		return nil, fmt.Errorf("accept: %w", protocol.ErrConnectionLost)
	}

	_ = nc.SetReadBuffer(recvBufferSize)
	return &DataConn{nc: nc, timeout: l.recvTimeout}, nil
}

// Abandon closes a prepared listener that will not be accepted on, e.g.
// after the console refused to open a transfer. The next Accept prepares a
// new one.
func (l *DataListener) Abandon() {
	if l.ln != nil {
		l.ln.Close()
		l.ln = nil
	}
}

// Close releases the listener.
func (l *DataListener) Close() error {
	if l.ln == nil {
		return nil
	}
	err := l.ln.Close()
	l.ln = nil
	return err
}

// ---------------------------------------------------------------------------
// DataConn
// ---------------------------------------------------------------------------

// DataConn is one accepted data connection.
//
// A bounded wait that expires while the socket is otherwise healthy is
// reported as protocol.ErrStalled together with the number of bytes already
// moved, so the caller can continue the same buffer. Every other failure is
// protocol.ErrConnectionLost.
type DataConn struct {
	nc        *net.TCPConn
	timeout   time.Duration
	closeOnce sync.Once
}

// ReadFull fills buf from the console.
func (d *DataConn) ReadFull(buf []byte) (int, error) {
	n, err := readFull(d.nc, buf, d.timeout)
	return n, classify("read", err)
}

// WriteFull sends the whole of buf to the console.
func (d *DataConn) WriteFull(buf []byte) (int, error) {
	n, err := writeFull(d.nc, buf, d.timeout)
	return n, classify("write", err)
}

// Close shuts down the write half, drains whatever the console still sends
// until it closes its side (bounded by the receive timeout), then closes the
// socket. Only the first call has an effect.
func (d *DataConn) Close() error {
	var err error
	d.closeOnce.Do(func() {
		_ = d.nc.CloseWrite()
		_ = d.nc.SetReadDeadline(time.Now().Add(d.timeout))
		_, _ = io.Copy(io.Discard, d.nc)
		err = d.nc.Close()
	})
	return err
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isTimeout(err):
		return fmt.Errorf("data %s: %w", op, protocol.ErrStalled)
	default:
		return fmt.Errorf("data %s: %w", op, protocol.ErrConnectionLost)
	}
}

// ---------------------------------------------------------------------------
// Bounded I/O
// ---------------------------------------------------------------------------

// readFull reads len(buf) bytes. Each read gets its own deadline, so the
// timeout bounds every wait for readiness rather than the whole transfer.
func readFull(nc net.Conn, buf []byte, timeout time.Duration) (int, error) {
	off := 0
	for off < len(buf) {
		if err := nc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return off, err
		}
		n, err := nc.Read(buf[off:])
		off += n
		if err != nil {
			if errors.Is(err, io.EOF) && off < len(buf) {
				return off, io.ErrUnexpectedEOF
			}
			if off == len(buf) {
				return off, nil
			}
			return off, err
		}
	}
	return off, nil
}

// writeFull writes the whole of buf, giving each write its own deadline.
func writeFull(nc net.Conn, buf []byte, timeout time.Duration) (int, error) {
	off := 0
	for off < len(buf) {
		if err := nc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return off, err
		}
		n, err := nc.Write(buf[off:])
		off += n
		if err != nil {
			return off, err
		}
	}
	return off, nil
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
