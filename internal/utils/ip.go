package utils

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// AllowList is a parsed set of CIDR blocks.
type AllowList []*net.IPNet

// ParseAllowList accepts CIDRs and bare addresses. A bare address is treated
// as a single-host block.
func ParseAllowList(entries []string) (AllowList, error) {
	var out AllowList
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid address %q", entry)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			entry = fmt.Sprintf("%s/%d", entry, bits)
		}
		_, block, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid cidr %q: %w", entry, err)
		}
		out = append(out, block)
	}
	return out, nil
}

// Contains reports whether ip falls inside one of the blocks.
func (l AllowList) Contains(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, block := range l {
		if block.Contains(parsed) {
			return true
		}
	}
	return false
}

// RemoteIP returns the peer address of r without the port.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
