// Package discovery advertises whiteboard servers on the local network over
// mDNS and finds the ones other hosts advertise.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	// DefaultService is the mDNS service type of a whiteboard server.
	DefaultService = "_whiteboard._tcp"

	// DefaultTimeout bounds a Browse call when the context has no deadline.
	DefaultTimeout = 2 * time.Second
)

// Peer is a server found on the network.
type Peer struct {
	Instance string   `json:"instance"`
	Host     string   `json:"host"`
	IP       net.IP   `json:"ip"`
	Port     int      `json:"port"`
	Info     []string `json:"info,omitempty"`
}

// Address returns host:port for dialing the peer.
func (p Peer) Address() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(p.Port))
}

// WebSocketURL returns the peer's websocket endpoint.
func (p Peer) WebSocketURL() string {
	return "ws://" + p.Address() + "/ws"
}

// AdvertiseConfig describes the service to announce.
type AdvertiseConfig struct {
	// Instance is the service instance name. Default: the hostname.
	Instance string

	// Service is the service type. Default: DefaultService.
	Service string

	// Domain is the mDNS domain. Default: "local.".
	Domain string

	// Port is the port the server listens on. Required.
	Port int

	// Info is published as TXT records.
	Info []string
}

// Advertiser announces one service until Shutdown.
type Advertiser struct {
	server *mdns.Server
	config AdvertiseConfig
	logger *slog.Logger
}

// Advertise starts answering mDNS queries for the service.
func Advertise(config AdvertiseConfig, logger *slog.Logger) (*Advertiser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Port <= 0 {
		return nil, fmt.Errorf("discovery: invalid port %d", config.Port)
	}
	if config.Service == "" {
		config.Service = DefaultService
	}
	if config.Instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("discovery: hostname: %w", err)
		}
		config.Instance = host
	}

	service, err := mdns.NewMDNSService(
		config.Instance,
		config.Service,
		config.Domain,
		"",
		config.Port,
		nil,
		config.Info,
	)
	if err != nil {
		return nil, fmt.Errorf("discovery: create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("discovery: start responder: %w", err)
	}

	logger = logger.With("component", "discovery")
	logger.Info("advertising",
		"instance", config.Instance,
		"service", config.Service,
		"port", config.Port)

	return &Advertiser{server: server, config: config, logger: logger}, nil
}

// Shutdown stops answering queries.
func (a *Advertiser) Shutdown() error {
	a.logger.Debug("advertisement stopped", "instance", a.config.Instance)
	return a.server.Shutdown()
}

// Browse queries the network for servers of the given service type and
// returns the ones that answered before ctx's deadline (or DefaultTimeout),
// sorted by address.
func Browse(ctx context.Context, service, domain string) ([]Peer, error) {
	if service == "" {
		service = DefaultService
	}
	timeout := DefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, ctx.Err()
		}
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	collected := make(chan []Peer, 1)
	go func() {
		seen := make(map[string]Peer)
		for e := range entries {
			p, ok := peerFromEntry(e)
			if !ok {
				continue
			}
			seen[p.Address()] = p
		}
		out := make([]Peer, 0, len(seen))
		for _, p := range seen {
			out = append(out, p)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Address() < out[j].Address() })
		collected <- out
	}()

	params := mdns.DefaultParams(service)
	params.Domain = strings.TrimSuffix(domain, ".")
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	err := mdns.Query(params)
	// Query does not close the channel; nothing sends after it returns.
	close(entries)
	peers := <-collected

	if err != nil {
		return peers, fmt.Errorf("discovery: query %s: %w", service, err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return peers, ctx.Err()
	}
	return peers, nil
}

// peerFromEntry keeps entries that can be dialed over IPv4.
func peerFromEntry(e *mdns.ServiceEntry) (Peer, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return Peer{}, false
	}
	return Peer{
		Instance: instanceName(e.Name),
		Host:     strings.TrimSuffix(e.Host, "."),
		IP:       e.AddrV4,
		Port:     e.Port,
		Info:     e.InfoFields,
	}, true
}

// instanceName strips the service and domain labels from a full service
// instance name ("board-1._whiteboard._tcp.local." -> "board-1").
func instanceName(full string) string {
	if i := strings.Index(full, "._"); i > 0 {
		return strings.ReplaceAll(full[:i], `\ `, " ")
	}
	return strings.TrimSuffix(full, ".")
}

// PortFromAddress extracts the port of a listen address such as ":8080".
func PortFromAddress(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("discovery: %w", err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("discovery: invalid port %q", port)
	}
	return n, nil
}
