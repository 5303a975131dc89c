package smtppool

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Conn is one pooled SMTP connection. A fresh connection still needs its
// banner read and greeting sent; a reused one is mid-session and wants RSET
// before the next MAIL FROM. Banner is whatever the caller stored after the
// greeting, so reused sessions keep their anti-spam evidence.
type Conn struct {
	Banner string

	key        string
	host       string
	port       int
	netConn    net.Conn
	reader     *bufio.Reader
	writer     *bufio.Writer
	cmdTimeout time.Duration
	tlsTimeout time.Duration
	lastUsed   time.Time
	fresh      bool
}

func newConn(key, host string, port int, netConn net.Conn, cmdTimeout, tlsTimeout time.Duration) *Conn {
	return &Conn{
		key:        key,
		host:       host,
		port:       port,
		netConn:    netConn,
		reader:     bufio.NewReader(netConn),
		writer:     bufio.NewWriter(netConn),
		cmdTimeout: cmdTimeout,
		tlsTimeout: tlsTimeout,
		lastUsed:   time.Now(),
		fresh:      true,
	}
}

// Fresh reports whether this connection has never been through a probe
// session, meaning the banner is still unread.
func (c *Conn) Fresh() bool { return c.fresh }

// Host returns the endpoint hostname.
func (c *Conn) Host() string { return c.host }

// Port returns the endpoint port.
func (c *Conn) Port() int { return c.port }

// Cmd sends one SMTP command line and reads the response.
func (c *Conn) Cmd(format string, args ...interface{}) (int, string, error) {
	if err := c.netConn.SetDeadline(time.Now().Add(c.cmdTimeout)); err != nil {
		return 0, "", fmt.Errorf("set deadline: %w", err)
	}
	if _, err := fmt.Fprintf(c.writer, format+"\r\n", args...); err != nil {
		return 0, "", err
	}
	if err := c.writer.Flush(); err != nil {
		return 0, "", err
	}
	return c.readResponse()
}

// ReadResponse reads one (possibly multi-line) reply without sending
// anything first. Used for the 220 banner on fresh connections.
func (c *Conn) ReadResponse() (int, string, error) {
	if err := c.netConn.SetReadDeadline(time.Now().Add(c.cmdTimeout)); err != nil {
		return 0, "", fmt.Errorf("set deadline: %w", err)
	}
	return c.readResponse()
}

// UpgradeTLS wraps the session in TLS after a 220 reply to STARTTLS.
func (c *Conn) UpgradeTLS(serverName string) error {
	tlsConn := tls.Client(c.netConn, &tls.Config{ServerName: serverName})
	_ = tlsConn.SetDeadline(time.Now().Add(c.tlsTimeout))
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("starttls handshake: %w", err)
	}
	_ = tlsConn.SetDeadline(time.Time{})

	c.netConn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
	c.writer = bufio.NewWriter(tlsConn)
	return nil
}

// sendQuit is best-effort; eviction must not block on a dead peer.
func (c *Conn) sendQuit() {
	_ = c.netConn.SetDeadline(time.Now().Add(2 * time.Second))
	_, _ = c.writer.WriteString("QUIT\r\n")
	_ = c.writer.Flush()
}

// readResponse parses an SMTP reply, following "250-..." continuation lines
// until the final "250 " form. Lines are joined with " | ".
func (c *Conn) readResponse() (int, string, error) {
	var lines []string
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return 0, "", fmt.Errorf("read SMTP response: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 3 {
			return 0, "", errors.New("SMTP response line too short")
		}
		lines = append(lines, line)
		if len(line) < 4 || line[3] != '-' {
			break
		}
	}

	last := lines[len(lines)-1]
	var code int
	if _, err := fmt.Sscanf(last[:3], "%d", &code); err != nil {
		return 0, "", fmt.Errorf("invalid SMTP response code %q: %w", last[:3], err)
	}
	return code, strings.Join(lines, " | "), nil
}
