// ABOUTME: SSH+SOCKS5 dialer for reaching an upstream behind a jump host
// ABOUTME: Parses UPSTREAM_ALL_PROXY and lazily creates the tunnel on first dial

package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cloudfoundry/socks5-proxy"
)

// socks5ProxyConfig is the parsed form of an ssh+socks5:// proxy URL
type socks5ProxyConfig struct {
	username   string
	host       string
	privateKey string
}

// parseSOCKS5ProxyURL parses ssh+socks5://user@host:port?private-key=/path/to/key
func parseSOCKS5ProxyURL(allProxy string) (*socks5ProxyConfig, error) {
	allProxy = strings.TrimPrefix(allProxy, "ssh+")

	proxyURL, err := url.Parse(allProxy)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy URL: %w", err)
	}
	if proxyURL.Scheme != "socks5" {
		return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
	}
	if proxyURL.Host == "" {
		return nil, errors.New("proxy URL has no host")
	}

	keyPath := proxyURL.Query().Get("private-key")
	if keyPath == "" {
		return nil, errors.New("proxy URL missing required 'private-key' query param")
	}

	pc := &socks5ProxyConfig{host: proxyURL.Host, privateKey: keyPath}
	if proxyURL.User != nil {
		pc.username = proxyURL.User.Username()
	}
	return pc, nil
}

// newSOCKS5DialContextFunc creates a dial function that tunnels through the
// jump host. The SSH connection is opened on first use and then reused.
func newSOCKS5DialContextFunc(allProxy string) (func(ctx context.Context, network, address string) (net.Conn, error), error) {
	pc, err := parseSOCKS5ProxyURL(allProxy)
	if err != nil {
		return nil, err
	}

	key, err := os.ReadFile(pc.privateKey)
	if err != nil {
		return nil, fmt.Errorf("reading SSH private key: %w", err)
	}

	socks5Proxy := proxy.NewSocks5Proxy(proxy.NewHostKey(), log.Default(), 1*time.Minute)

	var (
		dialer proxy.DialFunc
		mut    sync.Mutex
	)

	return func(ctx context.Context, network, address string) (net.Conn, error) {
		mut.Lock()
		if dialer == nil {
			d, err := socks5Proxy.Dialer(pc.username, string(key), pc.host)
			if err != nil {
				mut.Unlock()
				return nil, fmt.Errorf("creating SOCKS5 dialer: %w", err)
			}
			dialer = d
		}
		dial := dialer
		mut.Unlock()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return dial(network, address)
	}, nil
}
