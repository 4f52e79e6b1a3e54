package security

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService は出品者が登録した外部URL（カタログフィード、ショップページ）へ
// 安全にアクセスするための機能を定義する。
// カタログフィード登録時の自動検出と、ワーカーによる定期取込の両方で使用される。
type SSRFGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// safeurlがDNS解決後のIPアドレスを検証し、プライベートIP、ループバック、
	// リンクローカル、メタデータIPへの接続を拒否する。
	// レスポンスボディはmaxResponseSizeバイトで打ち切られる。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL はURLの安全性をDNS解決前に静的に検証する。
	ValidateURL(rawURL string) error
}

// allowedSchemes は外部アクセスで許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// allowedPorts は外部アクセスで許可されるポート。
var allowedPorts = []int{80, 443}

// blockedNetworks は外部アクセスでブロックされるネットワーク範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",     // RFC 1918
	"172.16.0.0/12",  // RFC 1918
	"192.168.0.0/16", // RFC 1918
	"100.64.0.0/10",  // キャリアグレードNAT
	"127.0.0.0/8",    // ループバック
	"169.254.0.0/16", // リンクローカル（クラウドメタデータIPを含む）
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

// blockedHostSuffixes はブロック対象のホスト名（完全一致またはサフィックス一致）。
var blockedHostSuffixes = []string{
	"localhost",
	"internal",
	"local",
}

func mustParseCIDRs(cidrs ...string) []net.IPNet {
	networks := make([]net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		networks = append(networks, *network)
	}
	return networks
}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct{}

// NewSSRFGuard はSSRFGuardServiceの新しいインスタンスを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlはnet.DialerのControlフックで接続先IPを検証するため、
// DNS再バインディングによる迂回も防止される。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(allowedPorts...).
		Build()

	client := safeurl.Client(config).Client
	if maxResponseSize > 0 {
		client.Transport = &limitedBodyTransport{next: client.Transport, limit: maxResponseSize}
	}
	return client
}

// limitedBodyTransport はレスポンスボディの読み込み量を制限するRoundTripper。
type limitedBodyTransport struct {
	next  http.RoundTripper
	limit int64
}

func (t *limitedBodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	resp, err := next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Body = &limitedReadCloser{Reader: io.LimitReader(resp.Body, t.limit), Closer: resp.Body}
	return resp, nil
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}

// ValidateURL はURLの安全性を事前に検証する。
// DNS解決を伴わない静的な検証のため、解決後のIPはNewSafeClient側で検証される。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if p := parsed.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || !slices.Contains(allowedPorts, port) {
			return fmt.Errorf("disallowed port: %s (allowed: %v)", p, allowedPorts)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// isBlockedHostname は localhost や社内向けドメイン（*.internal, *.local）を拒否する。
func isBlockedHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	for _, suffix := range blockedHostSuffixes {
		if lower == suffix || strings.HasSuffix(lower, "."+suffix) {
			return true
		}
	}
	return false
}
