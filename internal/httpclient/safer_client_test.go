package httpclient

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/internal/util"
)

func TestNewSaferClient(t *testing.T) {
	client := NewSaferClient(30 * time.Second)

	if client.Timeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", client.Timeout)
	}
	if client.maxRedirects != 10 {
		t.Errorf("Expected maxRedirects 10, got %d", client.maxRedirects)
	}
	if !client.blockPrivateIP {
		t.Error("Expected blockPrivateIP to be true")
	}
}

func TestValidateURL(t *testing.T) {
	client := NewSaferClient(30 * time.Second)

	tests := []struct {
		name        string
		url         string
		errContains string // empty = valid
	}{
		{"DashScope result URL", "https://dashscope-result-bj.oss-cn-beijing.aliyuncs.com/a.mp4?Expires=1", ""},
		{"plain http", "http://example.com", ""},
		{"file scheme", "file:///etc/passwd", "scheme"},
		{"gopher scheme", "gopher://example.com", "scheme"},
		{"userinfo confusion", "http://evil.com@localhost/", "userinfo"},
		{"localhost", "http://localhost:8080/", "localhost"},
		{"subdomain localhost", "http://api.localhost/", "localhost"},
		{"loopback ip", "http://127.0.0.1/", "private IP"},
		{"metadata endpoint", "http://169.254.169.254/latest/meta-data", "private IP"},
		{"rfc1918", "http://10.1.2.3/", "private IP"},
		{"missing host", "http:///path", "hostname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.ValidateURL(tt.url)
			if tt.errContains == "" {
				if err != nil {
					t.Errorf("ValidateURL(%q) unexpected error: %v", tt.url, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateURL(%q) expected error containing %q", tt.url, tt.errContains)
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("ValidateURL(%q) error = %v, want it to contain %q", tt.url, err, tt.errContains)
			}
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip        string
		isPrivate bool
	}{
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"0.0.0.0", true},
		{"224.0.0.1", true},
		{"240.0.0.1", true},
		{"8.8.8.8", false},
		{"47.93.1.1", false},
		{"::1", true},
		{"fe80::1", true},
		{"fd00::1", true},
		{"2001:db8::1", true},
		{"2001:4860:4860::8888", false},
		{"::ffff:10.0.0.1", true},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("Failed to parse IP: %s", tt.ip)
			}
			if got := isPrivateIP(ip); got != tt.isPrivate {
				t.Errorf("isPrivateIP(%s) = %v, expected %v", tt.ip, got, tt.isPrivate)
			}
		})
	}
}

func TestIsLocalhost(t *testing.T) {
	tests := map[string]bool{
		"localhost":             true,
		"LOCALHOST":             true,
		"localhost.localdomain": true,
		"admin.localhost":       true,
		"example.com":           false,
		"local.host":            false,
	}
	for host, want := range tests {
		if got := isLocalhost(host); got != want {
			t.Errorf("isLocalhost(%q) = %v, expected %v", host, got, want)
		}
	}
}

func TestRedirectToLocalhostBlocked(t *testing.T) {
	client := NewSaferClientWithOptions(5*time.Second, SaferClientOptions{BlockPrivateIP: util.Ptr(false)})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://localhost/admin", http.StatusFound)
	}))
	defer server.Close()

	// allow the first hop to the test server, block the redirect
	client.blockPrivateIP = true
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Client.Do(req)
	if err == nil {
		resp.Body.Close()
		t.Fatal("Expected error when redirecting to localhost, got nil")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "redirect blocked") {
		t.Errorf("Expected redirect blocked error, got: %v", err)
	}
}

func TestMaxRedirects(t *testing.T) {
	client := NewSaferClientWithOptions(5*time.Second, SaferClientOptions{
		BlockPrivateIP: util.Ptr(false),
		MaxRedirects:   util.Ptr(3),
	})

	hops := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops++
		http.Redirect(w, r, "/again", http.StatusFound)
	}))
	defer server.Close()

	resp, err := client.Get(context.Background(), server.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("Expected error for too many redirects, got nil")
	}
	if !strings.Contains(err.Error(), "stopped after 3 redirects") {
		t.Errorf("Expected redirect limit error, got: %v", err)
	}
	if hops != 3 {
		t.Errorf("Expected 3 hops, got %d", hops)
	}
}

func TestSaferClientOptions(t *testing.T) {
	client := NewSaferClientWithOptions(30*time.Second, SaferClientOptions{
		AllowedSchemes: []string{"https"},
		MaxRedirects:   util.Ptr(5),
		BlockPrivateIP: util.Ptr(false),
	})

	if client.maxRedirects != 5 {
		t.Errorf("Expected maxRedirects 5, got %d", client.maxRedirects)
	}
	if client.blockPrivateIP {
		t.Error("Expected blockPrivateIP to be false")
	}
	if _, err := client.ValidateURL("http://example.com"); err == nil {
		t.Error("Expected HTTP to be blocked with HTTPS-only config")
	}
}

func TestDoAndGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	client := WrapClient(server.Client())
	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Valid request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "OK" {
		t.Errorf("unexpected body %q", body)
	}

	strict := NewSaferClient(5 * time.Second)
	req, _ := http.NewRequest(http.MethodGet, "http://localhost/", nil)
	resp, err = strict.Do(req)
	if err == nil {
		resp.Body.Close()
		t.Fatal("Expected error for localhost request, got nil")
	}
	if !strings.Contains(err.Error(), "SSRF protection") {
		t.Errorf("Expected SSRF protection error, got: %v", err)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline reached" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"net timeout", timeoutErr{}, true},
		{"wrapped reset", errors.Wrap(syscall.ECONNRESET, "download"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"caller cancelled", errors.Wrap(context.Canceled, "poll"), false},
		{"message match", errors.New("read tcp: connection reset by peer"), true},
		{"not found", errors.New("object not found"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableNetworkError(tt.err); got != tt.want {
				t.Errorf("IsRetryableNetworkError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryableStatus(t *testing.T) {
	for code, want := range map[int]bool{500: true, 502: true, 503: true, 404: false, 400: false, 429: false, 200: false} {
		if got := IsRetryableStatus(code); got != want {
			t.Errorf("IsRetryableStatus(%d) = %v, want %v", code, got, want)
		}
	}
}
