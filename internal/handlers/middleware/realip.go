package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type ctxKey string

const clientIPKey ctxKey = "clientIP"

// Proxies allowed to report client address in X-Forwarded-For and X-Real-IP
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// ParseTrustedProxies accepts CIDRs and bare addresses
// Empty list trusts nobody, so forwarding headers are ignored
func ParseTrustedProxies(cidrs []string) (TrustedProxies, error) {
	var tp TrustedProxies

	for _, s := range cidrs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}

		if !strings.Contains(s, "/") {
			addr, err := netip.ParseAddr(s)
			if err != nil {
				return tp, fmt.Errorf("invalid trusted proxy %q. Err: %w", s, err)
			}
			tp.prefixes = append(tp.prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}

		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return tp, fmt.Errorf("invalid trusted proxy %q. Err: %w", s, err)
		}
		tp.prefixes = append(tp.prefixes, prefix.Masked())
	}

	return tp, nil
}

func (tp TrustedProxies) trusts(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, p := range tp.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolve client address of the request
// Forwarding headers are read only when the peer is trusted proxy
// X-Forwarded-For is walked from the right, first untrusted hop is the client
func (tp TrustedProxies) resolve(r *http.Request) string {
	peer := peerIP(r)
	if !tp.trusts(peer) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				break
			}
			if !tp.trusts(hop) {
				return hop
			}
			peer = hop
		}
		return peer
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		if _, err := netip.ParseAddr(ip); err == nil {
			return ip
		}
	}

	return peer
}

// RealIP resolves client address once and puts it to request context
// Rate limiting and request logging read it with ClientIP
func RealIP(tp TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientIPKey, tp.resolve(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns address resolved by RealIP or the connection peer address
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey).(string); ok {
		return ip
	}
	return peerIP(r)
}

func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
