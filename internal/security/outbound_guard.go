package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// OutboundGuard は運用者が設定するWebhook URLへの送信を内部ネットワークから隔離する。
type OutboundGuard interface {
	// NewClient はHTTPSの443番ポートのみに接続し、
	// 名前解決後のIPがプライベート・ループバック・リンクローカルの場合は接続を拒否するクライアントを返す。
	NewClient(timeout time.Duration) *http.Client

	// ValidateWebhookURL は名前解決を伴わない静的な検証を行う。起動時の設定チェックに使う。
	ValidateWebhookURL(rawURL string) error
}

var blockedNetworks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"100.64.0.0/10",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	} {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, network)
	}
}

type outboundGuard struct{}

// NewOutboundGuard はOutboundGuardを生成する。
func NewOutboundGuard() OutboundGuard {
	return &outboundGuard{}
}

// NewClient はsafeurlでラップしたHTTPクライアントを返す。
// 検証はDialerのControlフックで行われるため、DNS再バインディングにも効く。
func (g *outboundGuard) NewClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateWebhookURL はWebhook URLを検証する。
func (g *outboundGuard) ValidateWebhookURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("webhook URL must use https, got %q", parsed.Scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("webhook URL must not carry credentials")
	}
	if p := parsed.Port(); p != "" && p != "443" {
		return fmt.Errorf("webhook URL must use port 443, got %s", p)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip)
			}
		}
		return nil
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}
