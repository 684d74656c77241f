package server

import (
	"net"
	"net/http"
	"strings"
)

// cidrHeader is one ordered row of a ProxyPolicy table: a trusted network and
// the header it is allowed to supply.
type cidrHeader struct {
	network *net.IPNet
	header  string
}

// ProxyPolicy holds two ordered CIDR-to-header-name mappings: one supplying
// client addresses for logging, the other the user-facing URL used
// when issuing redirects. A request matches a row iff its transport peer
// address is contained in the CIDR; rows are tried in configured order and
// the first match wins.
type ProxyPolicy struct {
	Proxies     []cidrHeader
	ProxyRedirs []cidrHeader
}

// AddProxy appends a (network, header) row to the logging-address table. An
// invalid CIDR is silently ignored; the caller is expected to validate
// configuration before calling this.
func (p *ProxyPolicy) AddProxy(cidr, header string) {
	if _, network, err := net.ParseCIDR(cidr); err == nil {
		p.Proxies = append(p.Proxies, cidrHeader{network, header})
	}
}

// AddProxyRedir appends a (network, header) row to the redirect-URL table.
func (p *ProxyPolicy) AddProxyRedir(cidr, header string) {
	if _, network, err := net.ParseCIDR(cidr); err == nil {
		p.ProxyRedirs = append(p.ProxyRedirs, cidrHeader{network, header})
	}
}

// peerIP extracts the transport peer address from r.RemoteAddr, stripping
// the port if present.
func peerIP(r *http.Request) net.IP {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	return net.ParseIP(host)
}

// RemoteAddresses renders the client-identification string for logging:
// the transport peer address, followed by " for <addr>" for every value of
// every proxy header whose network contains the peer.
func (p *ProxyPolicy) RemoteAddresses(r *http.Request) string {
	var b strings.Builder
	b.WriteString(r.RemoteAddr)

	peer := peerIP(r)
	if peer == nil {
		return b.String()
	}
	for _, row := range p.Proxies {
		if !row.network.Contains(peer) {
			continue
		}
		for _, v := range r.Header.Values(row.header) {
			b.WriteString(" for ")
			b.WriteString(v)
		}
	}
	return b.String()
}

// UserFacingURL resolves the URL the client actually requested, honoring a
// configured proxy-redir header (e.g. X-Original-URL) when the peer is a
// trusted reverse proxy; falls back to the raw request URL otherwise.
func (p *ProxyPolicy) UserFacingURL(r *http.Request) string {
	peer := peerIP(r)
	if peer != nil {
		for _, row := range p.ProxyRedirs {
			if !row.network.Contains(peer) {
				continue
			}
			if v := r.Header.Get(row.header); v != "" {
				return v
			}
		}
	}
	return r.URL.String()
}
