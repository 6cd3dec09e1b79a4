package logging

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// SyslogConfig holds remote syslog settings.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // udp or tcp
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns sensible defaults.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Port:     514,
		Protocol: "udp",
		Tag:      "ddnsfw",
		Facility: 1, // LOG_USER
	}
}

// SyslogWriter implements io.Writer and sends each write to a remote syslog
// server as one RFC 3164 message.
type SyslogWriter struct {
	mu       sync.Mutex
	conn     net.Conn
	config   SyslogConfig
	hostname string
	dial     func(network, addr string) (net.Conn, error)
}

// NewSyslogWriter creates a new syslog writer.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	return newSyslogWriter(cfg, func(network, addr string) (net.Conn, error) {
		return net.DialTimeout(network, addr, 5*time.Second)
	})
}

func newSyslogWriter(cfg SyslogConfig, dial func(network, addr string) (net.Conn, error)) (*SyslogWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("syslog host is required")
	}
	defaults := DefaultSyslogConfig()
	if cfg.Port == 0 {
		cfg.Port = defaults.Port
	}
	if cfg.Protocol == "" {
		cfg.Protocol = defaults.Protocol
	}
	if cfg.Tag == "" {
		cfg.Tag = defaults.Tag
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	conn, err := dial(cfg.Protocol, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog server %s: %w", addr, err)
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}

	return &SyslogWriter{
		conn:     conn,
		config:   cfg,
		hostname: hostname,
		dial:     dial,
	}, nil
}

// Write implements io.Writer for syslog.
// Format: <priority>timestamp hostname tag: message
func (w *SyslogWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		if err := w.reconnect(); err != nil {
			return 0, err
		}
	}

	// Priority = facility * 8 + severity (INFO)
	priority := w.config.Facility*8 + 6
	msg := fmt.Sprintf("<%d>%s %s %s: %s", priority, time.Now().Format(time.Stamp), w.hostname, w.config.Tag, string(p))

	if _, err := w.conn.Write([]byte(msg)); err != nil {
		w.conn.Close()
		w.conn = nil
		return 0, err
	}
	return len(p), nil
}

func (w *SyslogWriter) reconnect() error {
	addr := net.JoinHostPort(w.config.Host, fmt.Sprint(w.config.Port))
	conn, err := w.dial(w.config.Protocol, addr)
	if err != nil {
		return fmt.Errorf("syslog reconnect %s: %w", addr, err)
	}
	w.conn = conn
	return nil
}

// Close closes the syslog connection.
func (w *SyslogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

// MultiWriter combines multiple io.Writers (e.g., stderr + syslog).
func MultiWriter(writers ...io.Writer) io.Writer {
	return io.MultiWriter(writers...)
}
