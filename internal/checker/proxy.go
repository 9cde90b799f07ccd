package checker

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"golang.org/x/net/proxy"
)

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// transportProxy splits a proxy URL into what http.Transport needs: an HTTP
// proxy URL for Transport.Proxy, or a SOCKS5 dialer wrapping base. Both are
// nil for an empty proxyURL.
func transportProxy(proxyURL string, base dialFunc) (*url.URL, dialFunc, error) {
	if proxyURL == "" {
		return nil, nil, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse proxy url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return u, nil, nil
	case "socks5":
		dial, err := socks5Dialer(u, base)
		if err != nil {
			return nil, nil, err
		}
		return nil, dial, nil
	default:
		return nil, nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
}

func socks5Dialer(u *url.URL, base dialFunc) (dialFunc, error) {
	var auth *proxy.Auth
	if u.User != nil {
		auth = &proxy.Auth{User: u.User.Username()}
		if p, ok := u.User.Password(); ok {
			auth.Password = p
		}
	}

	dialer, err := proxy.SOCKS5("tcp", u.Host, auth, &contextDialer{dial: base})
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}, nil
}

// contextDialer adapts a DialContext func to proxy.Dialer.
type contextDialer struct {
	dial dialFunc
}

func (d *contextDialer) Dial(network, addr string) (net.Conn, error) {
	return d.dial(context.Background(), network, addr)
}

func (d *contextDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.dial(ctx, network, addr)
}
