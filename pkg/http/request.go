package http

import (
	"net"
	"net/http"
	"strings"
)

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies

	nets []*net.IPNet
}

// NewIPConfig parses the trusted proxy CIDRs once. Invalid ranges are skipped.
func NewIPConfig(trustedProxies []string) *IPConfig {
	return &IPConfig{
		TrustedProxies: trustedProxies,
		nets:           parseCIDRs(trustedProxies),
	}
}

func (c *IPConfig) trusted(ip net.IP) bool {
	if c == nil || ip == nil {
		return false
	}
	nets := c.nets
	if nets == nil {
		nets = parseCIDRs(c.TrustedProxies)
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ExtractClientIP extracts the real client IP address from the request.
// Forwarding headers are honoured only when the direct peer is a trusted proxy,
// so clients cannot spoof their address to dodge per-IP limits. X-Forwarded-For is
// walked from the right and the first hop that is not itself a trusted proxy wins;
// X-Real-IP and then RemoteAddr are the fallbacks.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	if !config.trusted(net.ParseIP(remoteIP)) {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := net.ParseIP(strings.TrimSpace(hops[i]))
			if hop == nil {
				// A malformed entry ends the trustworthy part of the chain
				break
			}
			if !config.trusted(hop) {
				return hop.String()
			}
		}
	}

	if xri := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); xri != nil {
		return xri.String()
	}

	return remoteIP
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr != "" {
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return ip
		}
		return r.RemoteAddr
	}
	return "unknown"
}

func parseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}
