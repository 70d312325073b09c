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

// OutboundGuardService は外部への通信とプロバイダ由来URLの安全性検証のインターフェースを定義する。
// IDプロバイダへのセッション照会と、プロバイダが返すプロフィール画像URLの検証で使用される。
type OutboundGuardService interface {
	// NewProviderClient はIDプロバイダ照会用のHTTPクライアントを生成する。
	// safeurlにより、プライベートIP、ループバック、リンクローカル、
	// メタデータIPへの接続はDialerレベルでブロックされる。
	NewProviderClient(timeout time.Duration) *http.Client

	// ValidatePictureURL はプロフィール画像URLを静的に検証する。
	// 危険なURLの場合はエラーを返す。
	ValidatePictureURL(rawURL string) error
}

// allowedSchemes は外部通信とプロフィール画像URLで許可されるスキーム。
var allowedSchemes = []string{"http", "https"}

// maxPictureURLLength はプロフィール画像URLの最大長。
const maxPictureURLLength = 2048

// blockedNetworks はブロック対象のネットワーク範囲。
// パッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル (メタデータIP 169.254.169.254 を含む)
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// NoRedirect はリダイレクトを追跡せず、最初のレスポンスを返すCheckRedirect。
func NoRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// outboundGuard はOutboundGuardServiceの実装。
type outboundGuard struct{}

// NewOutboundGuard はOutboundGuardServiceの新しいインスタンスを生成する。
func NewOutboundGuard() *outboundGuard {
	return &outboundGuard{}
}

// NewProviderClient はIDプロバイダ照会用のHTTPクライアントを生成する。
// 許可ポートは80と443のみ。リダイレクトは追跡せず3xxをそのまま返す。
func (g *outboundGuard) NewProviderClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		SetCheckRedirect(NoRedirect).
		Build()

	return safeurl.Client(config).Client
}

// ValidatePictureURL はプロフィール画像URLを検証する。
// DNS解決は行わない。data:やjavascript:などのスキームは拒否される。
func (g *outboundGuard) ValidatePictureURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}
	if len(rawURL) > maxPictureURLLength {
		return fmt.Errorf("URL too long: %d bytes", len(rawURL))
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

var blockedHostnames = []string{
	"localhost",
	"metadata.google.internal",
}

func isBlockedHostname(host string) bool {
	lower := strings.ToLower(host)
	for _, blocked := range blockedHostnames {
		if lower == blocked {
			return true
		}
	}
	return false
}
