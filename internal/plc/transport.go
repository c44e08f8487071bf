package plc

import (
	"fmt"
	"net"
	"time"

	"github.com/goburrow/modbus"
	probing "github.com/prometheus-community/pro-bing"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/pulsegate/internal/models"
)

const DefaultTimeout = 2 * time.Second

// Transport is a field-bus connection that can be (re)opened.
type Transport interface {
	Connect() error
	Close() error
	Connected() bool
	Client() Client
}

// TCPConfig configures a Modbus TCP connection to the PLC.
type TCPConfig struct {
	Address           string
	SlaveID           byte
	Timeout           time.Duration
	PingBeforeConnect bool
}

// TCPTransport is a Transport over goburrow's Modbus TCP handler. It is not safe for
// concurrent use; the poller serializes access.
type TCPTransport struct {
	cfg       TCPConfig
	logger    *logrus.Logger
	handler   *modbus.TCPClientHandler
	client    modbus.Client
	connected bool
}

func NewTCPTransport(cfg TCPConfig, logger *logrus.Logger) *TCPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &TCPTransport{cfg: cfg, logger: logger}
}

// Connect opens a fresh connection, closing any previous one. Both the dial and
// every later request are bounded by the configured timeout.
func (t *TCPTransport) Connect() error {
	t.Close()

	if t.cfg.PingBeforeConnect {
		if err := ping(t.cfg.Address, t.cfg.Timeout); err != nil {
			return fmt.Errorf("%w: %s unreachable: %v", models.ErrTransport, t.cfg.Address, err)
		}
	}

	handler := modbus.NewTCPClientHandler(t.cfg.Address)
	handler.Timeout = t.cfg.Timeout
	handler.SlaveId = t.cfg.SlaveID

	if err := handler.Connect(); err != nil {
		handler.Close()
		return fmt.Errorf("%w: connect %s: %v", models.ErrTransport, t.cfg.Address, err)
	}

	t.handler = handler
	t.client = modbus.NewClient(handler)
	t.connected = true
	t.logger.WithField("address", t.cfg.Address).Info("Connected to PLC")
	return nil
}

// Close drops the connection. Safe to call when not connected.
func (t *TCPTransport) Close() error {
	if t.handler == nil {
		return nil
	}
	err := t.handler.Close()
	t.handler = nil
	t.client = nil
	t.connected = false
	return err
}

func (t *TCPTransport) Connected() bool {
	return t.connected
}

func (t *TCPTransport) Client() Client {
	return t.client
}

// ping sends a single unprivileged ICMP echo to the host part of address.
func ping(address string, timeout time.Duration) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}

	pinger, err := probing.NewPinger(host)
	if err != nil {
		return err
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		return err
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("no response")
	}
	return nil
}

var _ Transport = (*TCPTransport)(nil)
