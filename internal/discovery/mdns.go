// ABOUTME: mDNS advertisement of listeners and browsing by streamers
// ABOUTME: TXT records carry the audio format the listener expects
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
	"github.com/hashicorp/mdns"
	"github.com/sirupsen/logrus"
)

// ServiceType is the DNS-SD service advertised by listeners
const ServiceType = "_pcmlink._udp"

// ErrNoListener is returned when browsing finds nothing in time
var ErrNoListener = errors.New("no listener found")

// Config holds discovery configuration
type Config struct {
	// Instance is the advertised instance name, usually the hostname
	Instance string
	Port     int
	Format   audio.Format
	Session  string
}

// Listener describes a discovered listener
type Listener struct {
	Name       string
	Host       string
	Port       int
	BitDepth   int
	SampleRate int
	Session    string
}

// Addr returns host:port for the sender
func (l *Listener) Addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// Matches reports whether the listener advertised format f. Listeners that
// did not advertise a format match anything.
func (l *Listener) Matches(f audio.Format) bool {
	if l.BitDepth == 0 && l.SampleRate == 0 {
		return true
	}
	return l.BitDepth == f.BitDepth && l.SampleRate == f.SampleRate
}

// Manager handles mDNS operations
type Manager struct {
	config    Config
	ctx       context.Context
	cancel    context.CancelFunc
	listeners chan *Listener
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(chan *Listener, 10),
	}
}

// Advertise announces this listener until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.Instance,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		txtRecords(m.config),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Advertise",
		"instance": m.config.Instance,
		"port":     m.config.Port,
		"service":  ServiceType,
	}).Info("Advertising listener over mDNS")

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for listeners until Stop, queueing them for Find
func (m *Manager) Browse() {
	go m.browseLoop()
}

// browseLoop repeats short queries so late listeners are still found
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				listener, ok := parseEntry(entry)
				if !ok {
					continue
				}

				logrus.WithFields(logrus.Fields{
					"function": "Manager.browseLoop",
					"name":     listener.Name,
					"addr":     listener.Addr(),
				}).Debug("Discovered listener")

				select {
				case m.listeners <- listener:
				case <-m.ctx.Done():
				}
			}
		}()

		params := mdns.DefaultParams(ServiceType)
		params.Timeout = 2 * time.Second
		params.Entries = entries
		params.DisableIPv6 = true

		err := mdns.Query(params)
		close(entries)
		<-done

		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.browseLoop",
				"error":    err,
			}).Warn("mDNS query failed")
			select {
			case <-time.After(time.Second):
			case <-m.ctx.Done():
				return
			}
		}
	}
}

// Find browses until a listener advertising format f appears or ctx ends
func (m *Manager) Find(ctx context.Context, f audio.Format) (*Listener, error) {
	m.Browse()
	for {
		select {
		case l := <-m.listeners:
			if l.Matches(f) {
				return l, nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "Manager.Find",
				"name":     l.Name,
				"bits":     l.BitDepth,
				"rate":     l.SampleRate,
			}).Info("Skipping listener with a different format")
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNoListener, ctx.Err())
		}
	}
}

// Stop ends advertising and browsing
func (m *Manager) Stop() {
	m.cancel()
}

// txtRecords encodes the listener format as key=value pairs
func txtRecords(c Config) []string {
	txt := []string{
		"bits=" + strconv.Itoa(c.Format.BitDepth),
		"rate=" + strconv.Itoa(c.Format.SampleRate),
		"channels=" + strconv.Itoa(audio.Channels),
	}
	if c.Session != "" {
		txt = append(txt, "session="+c.Session)
	}
	return txt
}

// parseEntry converts a query result into a Listener
func parseEntry(entry *mdns.ServiceEntry) (*Listener, bool) {
	if entry == nil || entry.AddrV4 == nil || entry.Port == 0 {
		return nil, false
	}

	l := &Listener{
		Name: entry.Name,
		Host: entry.AddrV4.String(),
		Port: entry.Port,
	}
	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "bits":
			l.BitDepth, _ = strconv.Atoi(value)
		case "rate":
			l.SampleRate, _ = strconv.Atoi(value)
		case "session":
			l.Session = value
		}
	}
	return l, true
}

// getLocalIPs returns the IPv4 addresses of every up, non-loopback interface
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
