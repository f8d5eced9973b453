// Package visitor normalizes the ids that key filter and rule records.
package visitor

import (
	"fmt"
	"net"
	"strings"

	"github.com/developingchet/shieldon-filestore/internal/storage"
)

// Canonical parses a visitor IP and returns its canonical form, so that one
// visitor never gets two records. IPv4-mapped IPv6 (::ffff:1.2.3.4) becomes
// IPv4; IPv6 is compressed. CIDRs are rejected: records are per address.
func Canonical(value string) (string, error) {
	value = strings.TrimSpace(value)
	if strings.Contains(value, "/") {
		return "", fmt.Errorf("invalid visitor IP %q: ranges are not stored per record", value)
	}
	ip := net.ParseIP(value)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address %q", value)
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String(), nil
	}
	return ip.String(), nil
}

// Key returns the record id for table t. Filter and rule ids are visitor
// IPs and are canonicalized; session ids pass through unchanged.
func Key(t storage.TableType, id string) (string, error) {
	switch t {
	case storage.TableFilter, storage.TableRule:
		return Canonical(id)
	case storage.TableSession:
		if id == "" {
			return "", fmt.Errorf("session id is required")
		}
		return id, nil
	}
	return "", fmt.Errorf("%w: %q", storage.ErrInvalidTable, t)
}

// IsIPv6 returns true if the string is an IPv6 address.
func IsIPv6(value string) bool {
	ip := net.ParseIP(value)
	if ip == nil {
		return false
	}
	return ip.To4() == nil
}

// IsPrivate returns true if the IP is RFC1918, loopback, link-local, or ULA.
func IsPrivate(value string) bool {
	ip := net.ParseIP(strings.TrimSpace(value))
	if ip == nil {
		return false
	}

	// Normalize to 16-byte form for consistent checking
	ip16 := ip.To16()

	for _, block := range privateBlocks {
		if block.Contains(ip16) {
			return true
		}
	}
	return false
}

// privateBlocks contains all RFC-private, loopback, link-local, and ULA ranges.
var privateBlocks = func() []*net.IPNet {
	cidrs := []string{
		// IPv4
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"100.64.0.0/10", // CGNAT (RFC 6598)
		// IPv6
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	blocks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid private CIDR: " + cidr)
		}
		blocks = append(blocks, block)
	}
	return blocks
}()
