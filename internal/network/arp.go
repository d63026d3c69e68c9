// Package network finds guests on the host network.
package network

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/jeeftor/vmcap/internal/logging"
)

// DefaultARPInterval is the pause between two ARP table reads.
const DefaultARPInterval = 200 * time.Millisecond

var ipv4InParens = regexp.MustCompile(`\((\d+\.\d+\.\d+\.\d+)\)`)

// SimplifyMAC strips leading zeros from every octet, which is how BSD arp
// prints addresses ("0a:00:01" becomes "a:0:1").
func SimplifyMAC(mac string) string {
	parts := strings.Split(strings.ToLower(mac), ":")
	for i, p := range parts {
		t := strings.TrimLeft(p, "0")
		if t == "" && p != "" {
			t = "0"
		}
		parts[i] = t
	}
	return strings.Join(parts, ":")
}

// ParseARPOutput returns the IPv4 address of the first line of `arp -a`
// output that mentions mac, in either its full or simplified form.
func ParseARPOutput(out, mac string) (string, bool) {
	full := strings.ToLower(mac)
	simple := SimplifyMAC(mac)
	for _, line := range strings.Split(out, "\n") {
		l := strings.ToLower(line)
		if !containsMAC(l, full) && !containsMAC(l, simple) {
			continue
		}
		m := ipv4InParens.FindStringSubmatch(line)
		if m == nil {
			return "", false
		}
		return m[1], true
	}
	return "", false
}

// containsMAC matches mac as a whole token so "a:0:1" does not match
// inside "1a:0:11".
func containsMAC(line, mac string) bool {
	for _, f := range strings.Fields(line) {
		if f == mac {
			return true
		}
	}
	return false
}

// ARPResolver polls the host ARP table for a MAC address.
type ARPResolver struct {
	// Run returns the ARP table. It runs `arp -a` when nil.
	Run      func(ctx context.Context) (string, error)
	Interval time.Duration
}

func runARP(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "arp", "-a").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("arp -a: %w", err)
	}
	return string(out), nil
}

// Resolve blocks until mac shows up in the ARP table or ctx is done.
func (r *ARPResolver) Resolve(ctx context.Context, mac string) (string, error) {
	run := r.Run
	if run == nil {
		run = runARP
	}
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultARPInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		out, err := run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			logging.Debug("ARP lookup failed", "error", err)
		} else if ip, ok := ParseARPOutput(out, mac); ok {
			logging.Debug("Resolved guest address", "mac", mac, "ip", ip)
			return ip, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// GenerateMAC returns a random locally administered unicast address.
func GenerateMAC() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	b[0] = (b[0] | 0x02) &^ 0x01
	return net.HardwareAddr(b).String(), nil
}
