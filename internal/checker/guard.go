package checker

import (
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"time"
)

// reserved lists address ranges a measurement may never connect to unless
// private targets are explicitly allowed.
var reserved = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, len(cidrs))
	for i, c := range cidrs {
		out[i] = netip.MustParsePrefix(c)
	}
	return out
}

// isReserved reports whether addr falls in a private or reserved range.
// IPv4-mapped IPv6 addresses are checked as IPv4.
func isReserved(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range reserved {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// guardControl runs after name resolution and before connect, so it sees
// the address actually dialled.
func guardControl(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("blocked: unparseable address %q", address)
	}
	if isReserved(ap.Addr()) {
		return fmt.Errorf("blocked: %s is a private or reserved address", ap.Addr())
	}
	return nil
}

func newDialer(timeout time.Duration, allowPrivate bool) *net.Dialer {
	d := &net.Dialer{Timeout: timeout}
	if !allowPrivate {
		d.Control = guardControl
	}
	return d
}
