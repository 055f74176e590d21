package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

const (
	DefaultMulticastGroup    = "239.255.42.42"
	DefaultMulticastPort     = 9901
	DefaultAnnounceInterval  = 5 * time.Second
	DefaultMulticastHops     = 4
	multicastReadDeadline    = 500 * time.Millisecond
	multicastMaxDatagramSize = 2048
)

// Datagram types of the multicast beacon protocol.
const (
	beaconAnnounce = "AN"
	beaconQuery    = "QR"
	beaconGoodbye  = "BY"
)

type beacon struct {
	Type    string `json:"t"`
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Port    int    `json:"port,omitempty"`
	Version int    `json:"v,omitempty"`
}

// MulticastConfig controls the UDP multicast beacon.
type MulticastConfig struct {
	Group            string
	Port             int
	AnnounceInterval time.Duration
	Hops             int

	SelfDeviceID  string
	DeviceName    string
	ListeningPort int

	Now func() time.Time
}

func (c MulticastConfig) withDefaults() MulticastConfig {
	out := c
	if out.Group == "" {
		out.Group = DefaultMulticastGroup
	}
	if out.Port <= 0 {
		out.Port = DefaultMulticastPort
	}
	if out.AnnounceInterval <= 0 {
		out.AnnounceInterval = DefaultAnnounceInterval
	}
	if out.Hops <= 0 {
		out.Hops = DefaultMulticastHops
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// Multicast announces the local share and listens for other devices on an IPv4
// multicast group. Announcing is skipped when ListeningPort is zero.
type Multicast struct {
	cfg   MulticastConfig
	group *net.UDPAddr

	conn *net.UDPConn
	pc   *ipv4.PacketConn

	events   chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// StartMulticast joins the group, announces once and queries for peers.
func StartMulticast(config MulticastConfig) (*Multicast, error) {
	cfg := config.withDefaults()
	if strings.TrimSpace(cfg.SelfDeviceID) == "" {
		return nil, errors.New("self device ID is required")
	}
	groupIP := net.ParseIP(cfg.Group)
	if groupIP == nil || groupIP.To4() == nil || !groupIP.IsMulticast() {
		return nil, fmt.Errorf("invalid IPv4 multicast group %q", cfg.Group)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("listen multicast port: %w", err)
	}

	group := &net.UDPAddr{IP: groupIP, Port: cfg.Port}
	pc := ipv4.NewPacketConn(conn)
	joined := 0
	ifaces, _ := net.Interfaces()
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if pc.JoinGroup(&iface, &net.UDPAddr{IP: groupIP}) == nil {
			joined++
		}
	}
	if joined == 0 {
		if err := pc.JoinGroup(nil, &net.UDPAddr{IP: groupIP}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("join multicast group: %w", err)
		}
	}
	_ = pc.SetMulticastTTL(cfg.Hops)
	_ = pc.SetMulticastLoopback(true)

	m := &Multicast{
		cfg:    cfg,
		group:  group,
		conn:   conn,
		pc:     pc,
		events: make(chan Event, 128),
		stopCh: make(chan struct{}),
	}

	m.wg.Add(1)
	go m.loop()
	return m, nil
}

// Events provides asynchronous discovery updates.
func (m *Multicast) Events() <-chan Event {
	return m.events
}

// Query asks every device on the group to announce itself.
func (m *Multicast) Query() {
	m.send(beacon{Type: beaconQuery, ID: m.cfg.SelfDeviceID, Name: m.cfg.DeviceName, Port: m.cfg.ListeningPort, Version: DefaultVersion})
}

// Stop sends a goodbye, leaves the group and closes the event channel.
func (m *Multicast) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		if m.cfg.ListeningPort > 0 {
			m.send(beacon{Type: beaconGoodbye, ID: m.cfg.SelfDeviceID})
		}
		m.conn.Close()
		m.wg.Wait()
		close(m.events)
	})
}

func (m *Multicast) announce() {
	if m.cfg.ListeningPort <= 0 {
		return
	}
	m.send(beacon{Type: beaconAnnounce, ID: m.cfg.SelfDeviceID, Name: m.cfg.DeviceName, Port: m.cfg.ListeningPort, Version: DefaultVersion})
}

func (m *Multicast) send(msg beacon) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_, _ = m.conn.WriteToUDP(data, m.group)
}

func (m *Multicast) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.AnnounceInterval)
	defer ticker.Stop()

	m.announce()
	m.Query()

	buf := make([]byte, multicastMaxDatagramSize)
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.announce()
		default:
		}

		_ = m.conn.SetReadDeadline(time.Now().Add(multicastReadDeadline))
		n, src, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return
		}
		event, reply, ok := m.handle(buf[:n], src)
		if reply {
			m.announce()
		}
		if ok {
			select {
			case m.events <- event:
			default:
			}
		}
	}
}

// handle decodes one datagram. reply is set when the sender asked for announcements.
func (m *Multicast) handle(payload []byte, src *net.UDPAddr) (event Event, reply bool, ok bool) {
	var msg beacon
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Event{}, false, false
	}
	msg.ID = strings.TrimSpace(msg.ID)
	if msg.ID == "" || msg.ID == m.cfg.SelfDeviceID {
		return Event{}, false, false
	}

	peer := DiscoveredPeer{
		DeviceID:   msg.ID,
		DeviceName: strings.TrimSpace(msg.Name),
		Version:    msg.Version,
		Port:       msg.Port,
		LastSeen:   m.cfg.Now(),
	}
	if src != nil && src.IP != nil {
		peer.Addresses = []string{src.IP.String()}
	}
	if peer.DeviceName == "" && len(peer.Addresses) > 0 {
		peer.DeviceName = peer.Addresses[0]
	}

	switch msg.Type {
	case beaconGoodbye:
		return Event{Type: EventPeerLost, Peer: peer}, false, true
	case beaconAnnounce, beaconQuery:
		reply = msg.Type == beaconQuery
		// A query from a device without a share still deserves an answer, but is not a peer.
		if peer.Port <= 0 {
			return Event{}, reply, false
		}
		return Event{Type: EventPeerFound, Peer: peer}, reply, true
	default:
		return Event{}, false, false
	}
}
