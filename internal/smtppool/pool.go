// Package smtppool provides a thread-safe SMTP connection pool that reuses
// TCP connections across mailbox probes. The pool only manages transport:
// dialing, implicit TLS on port 465, idle tracking, and QUIT on eviction.
// The probe state machine lives in the caller.
package smtppool

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	defaultConnectTimeout = 4 * time.Second
	defaultCommandTimeout = 10 * time.Second
	defaultTLSTimeout     = 3 * time.Second
	defaultMaxPerHost     = 3
	defaultIdleTimeout    = 60 * time.Second
)

// DialFunc creates the underlying TCP connection. Injectable for tests and
// for SOCKS5 tunneling.
type DialFunc func(network, address string, timeout time.Duration) (net.Conn, error)

// Config configures the pool.
type Config struct {
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	TLSTimeout     time.Duration
	MaxPerHost     int           // max idle connections per host:port
	IdleTimeout    time.Duration // idle connections older than this are pruned
	Dial           DialFunc
}

func (c *Config) withDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	if c.TLSTimeout <= 0 {
		c.TLSTimeout = defaultTLSTimeout
	}
	if c.MaxPerHost <= 0 {
		c.MaxPerHost = defaultMaxPerHost
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.Dial == nil {
		c.Dial = net.DialTimeout
	}
}

// Pool manages idle SMTP connections keyed by host:port.
type Pool struct {
	cfg    Config
	mu     sync.Mutex
	hosts  map[string]*hostPool
	closed bool
}

// hostPool holds the idle FIFO for one endpoint. Its mutex also serialises
// dialing, so a burst of probes to one host creates connections one at a
// time instead of stampeding.
type hostPool struct {
	mu   sync.Mutex
	idle []*Conn
}

// New creates a pool.
func New(cfg Config) *Pool {
	cfg.withDefaults()
	return &Pool{
		cfg:   cfg,
		hosts: make(map[string]*hostPool),
	}
}

// Acquire returns a connection to host:port, reusing the oldest fresh idle
// entry or dialing a new one. useTLS wraps the dial in implicit TLS (port
// 465). The caller owns the connection exclusively until Release or Discard.
func (p *Pool) Acquire(host string, port int, useTLS bool) (*Conn, error) {
	key := net.JoinHostPort(host, strconv.Itoa(port))

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("smtppool: pool is closed")
	}
	hp := p.hosts[key]
	if hp == nil {
		hp = &hostPool{}
		p.hosts[key] = hp
	}
	p.mu.Unlock()

	hp.mu.Lock()
	defer hp.mu.Unlock()

	now := time.Now()
	for len(hp.idle) > 0 {
		c := hp.idle[0]
		hp.idle = hp.idle[1:]
		if now.Sub(c.lastUsed) > p.cfg.IdleTimeout {
			c.sendQuit()
			_ = c.netConn.Close()
			continue
		}
		return c, nil
	}

	return p.newConn(key, host, port, useTLS)
}

// Release returns a healthy connection to the pool. When the idle list for
// its endpoint is full the connection is QUIT and closed instead.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}
	c.lastUsed = time.Now()
	c.fresh = false

	p.mu.Lock()
	hp := p.hosts[c.key]
	closed := p.closed
	p.mu.Unlock()

	if closed || hp == nil {
		c.sendQuit()
		_ = c.netConn.Close()
		return
	}

	hp.mu.Lock()
	defer hp.mu.Unlock()
	if len(hp.idle) >= p.cfg.MaxPerHost {
		c.sendQuit()
		_ = c.netConn.Close()
		return
	}
	hp.idle = append(hp.idle, c)
}

// Discard closes a broken connection without returning it to the pool.
func (p *Pool) Discard(c *Conn) {
	if c == nil {
		return
	}
	_ = c.netConn.Close()
}

// Close QUITs and closes every idle connection and rejects further Acquires.
// Connections currently held by callers are untouched; they are closed when
// released.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for key, hp := range p.hosts {
		hp.mu.Lock()
		for _, c := range hp.idle {
			c.sendQuit()
			_ = c.netConn.Close()
		}
		hp.idle = nil
		hp.mu.Unlock()
		delete(p.hosts, key)
	}
	return nil
}

func (p *Pool) newConn(key, host string, port int, useTLS bool) (*Conn, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	netConn, err := p.cfg.Dial("tcp", address, p.cfg.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", address, err)
	}

	if useTLS {
		tlsConn := tls.Client(netConn, &tls.Config{ServerName: host})
		_ = tlsConn.SetDeadline(time.Now().Add(p.cfg.TLSTimeout))
		if err := tlsConn.Handshake(); err != nil {
			_ = netConn.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", address, err)
		}
		_ = tlsConn.SetDeadline(time.Time{})
		netConn = tlsConn
	}

	return newConn(key, host, port, netConn, p.cfg.CommandTimeout, p.cfg.TLSTimeout), nil
}
