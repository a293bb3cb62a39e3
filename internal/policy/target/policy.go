// Package target decides which hosts the renderer is allowed to visit.
package target

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

// Policy blocks hosts by exact name, by suffix wildcard ("*.internal" or ".internal")
// and optionally every loopback, private, link-local or unspecified IP literal.
// Hostnames are not resolved.
type Policy struct {
	exact        map[string]struct{}
	suffixes     []string
	blockPrivate bool
}

// New builds a Policy from host patterns.
func New(patterns []string, blockPrivate bool) *Policy {
	p := &Policy{
		exact:        make(map[string]struct{}),
		blockPrivate: blockPrivate,
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			p.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			p.addSuffix(strings.TrimPrefix(value, "."))
		default:
			p.exact[value] = struct{}{}
		}
	}
	return p
}

func (p *Policy) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range p.suffixes {
		if existing == suffix {
			return
		}
	}
	p.suffixes = append(p.suffixes, suffix)
}

// Check returns an InvalidInput error when u's host is blocked.
func (p *Policy) Check(u *url.URL) error {
	if p == nil || u == nil {
		return nil
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if p.IsBlocked(host) {
		return thumbnail.Errorf(thumbnail.KindInvalidInput, "target policy", "host %q is not allowed", host)
	}
	return nil
}

// IsBlocked reports whether host matches a pattern or a blocked address range.
func (p *Policy) IsBlocked(host string) bool {
	if p == nil || host == "" {
		return false
	}
	if _, exact := p.exact[host]; exact {
		return true
	}
	for _, suffix := range p.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	if !p.blockPrivate {
		return false
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified()
}
