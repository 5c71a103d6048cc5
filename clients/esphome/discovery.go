package esphome

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsService = "_esphomelib._tcp"
	mdnsDomain  = "local."
)

// Discover browses mDNS for ESPHome nodes and returns the base URL of
// the first one found. Used when no node address is configured.
func Discover(ctx context.Context, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("creating mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, mdnsService, mdnsDomain, entries); err != nil {
		return "", fmt.Errorf("browsing mDNS: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("no ESPHome node found via mDNS within %s", timeout)
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("mDNS browse ended without results")
			}
			if entry == nil || len(entry.AddrIPv4) == 0 {
				continue
			}
			addr := fmt.Sprintf("http://%s:%d", entry.AddrIPv4[0], entry.Port)
			slog.Info("discovered ESPHome node via mDNS",
				"instance", entry.Instance, "addr", addr)
			return addr, nil
		}
	}
}
