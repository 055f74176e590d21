package discovery

import (
	"context"
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestStartBroadcasterBuildsExpectedTXTRecords(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotDomain   string
		gotPort     int
		gotTXT      []string
	)

	cfg := Config{
		SelfDeviceID:  "device-123",
		DeviceName:    "Alice Laptop",
		ListeningPort: 8080,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance = instance
			gotService = service
			gotDomain = domain
			gotPort = port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
	}

	broadcaster, err := StartBroadcaster(cfg)
	if err != nil {
		t.Fatalf("StartBroadcaster failed: %v", err)
	}
	if broadcaster == nil {
		t.Fatalf("expected broadcaster instance")
	}

	if gotInstance != "Alice Laptop" {
		t.Fatalf("unexpected instance name: %q", gotInstance)
	}
	if gotService != "_webdav._tcp" {
		t.Fatalf("unexpected service: %q", gotService)
	}
	if gotDomain != DefaultDomain {
		t.Fatalf("unexpected domain: %q", gotDomain)
	}
	if gotPort != 8080 {
		t.Fatalf("unexpected port: %d", gotPort)
	}

	assertContainsTXT(t, gotTXT, "device_id=device-123")
	assertContainsTXT(t, gotTXT, "version=1")
	assertContainsTXT(t, gotTXT, "path=/")
	assertContainsTXT(t, gotTXT, "app=lanpull")
}

func TestStartBroadcasterValidatesConfig(t *testing.T) {
	register := func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
		return nil, nil
	}
	cases := []Config{
		{DeviceName: "A", ListeningPort: 1, registerFn: register},
		{SelfDeviceID: "a", ListeningPort: 1, registerFn: register},
		{SelfDeviceID: "a", DeviceName: "A", registerFn: register},
	}
	for i, cfg := range cases {
		if _, err := StartBroadcaster(cfg); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestServiceStartAndStop(t *testing.T) {
	cfg := Config{
		SelfDeviceID:  "self",
		DeviceName:    "Self",
		ListeningPort: 8080,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			return nil, nil
		},
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			<-ctx.Done()
			return nil
		},
	}

	svc, err := Start(cfg)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if svc.Broadcaster == nil || svc.Scanner == nil {
		t.Fatalf("expected broadcaster and scanner")
	}
	var source Source = svc
	if source.Events() == nil {
		t.Fatalf("expected event channel")
	}
	svc.Stop()
}

func TestServiceScanOnlyWithoutPort(t *testing.T) {
	svc, err := Start(Config{
		SelfDeviceID: "self",
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			<-ctx.Done()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()
	if svc.Broadcaster != nil {
		t.Fatalf("expected no broadcaster without a listening port")
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Service != DefaultService || cfg.Domain != DefaultDomain {
		t.Fatalf("unexpected service defaults: %q %q", cfg.Service, cfg.Domain)
	}
	if cfg.TTL != DefaultTTL || cfg.SharePath != "/" {
		t.Fatalf("unexpected defaults: ttl=%d path=%q", cfg.TTL, cfg.SharePath)
	}
	if cfg.RefreshInterval != DefaultRefreshInterval || cfg.ScanTimeout != DefaultScanTimeout {
		t.Fatalf("unexpected intervals: %s %s", cfg.RefreshInterval, cfg.ScanTimeout)
	}
	if cfg.Now == nil {
		t.Fatalf("expected clock default")
	}
}

func assertContainsTXT(t *testing.T, txt []string, expected string) {
	t.Helper()
	for _, v := range txt {
		if v == expected {
			return
		}
	}
	t.Fatalf("missing TXT record %q in %v", expected, txt)
}
