package endpoint_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/xraph/courier/endpoint"
)

type staticResolver map[string][]netip.Addr

func (r staticResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	addrs, ok := r[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

var testResolver = staticResolver{
	"example.com":   {netip.MustParseAddr("93.184.216.34")},
	"internal.corp": {netip.MustParseAddr("10.1.2.3")},
	"mixed.example": {netip.MustParseAddr("93.184.216.34"), netip.MustParseAddr("127.0.0.1")},
	"v6.example":    {netip.MustParseAddr("2606:2800:220:1:248:1893:25c8:1946")},
}

func TestGuardCheck(t *testing.T) {
	g := endpoint.NewGuard(false, testResolver)

	tests := []struct {
		url     string
		invalid bool
	}{
		{"https://example.com/hook", false},
		{"http://example.com:8080/hook", false},
		{"https://v6.example/hook", false},
		{"https://93.184.216.34/hook", false},

		{"ftp://example.com/hook", true},
		{"example.com/hook", true},
		{"https://user:pw@example.com/hook", true},
		{"https://internal.corp/hook", true},
		{"https://mixed.example/hook", true},
		{"http://localhost:8080/hook", true},
		{"http://api.localhost/hook", true},
		{"http://127.0.0.1/hook", true},
		{"http://[::1]/hook", true},
		{"http://169.254.169.254/latest/meta-data", true},
		{"http://192.168.1.1/", true},
		{"http://0.0.0.0/", true},
		{"http://100.64.0.1/", true},
		{"http://[::ffff:10.0.0.1]/", true},
		{"http://224.0.0.1/", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := g.Check(context.Background(), tt.url)
			var ve *endpoint.ValidationError
			if got := errors.As(err, &ve); got != tt.invalid {
				t.Fatalf("Check(%q) = %v, want invalid=%v", tt.url, err, tt.invalid)
			}
		})
	}
}

func TestGuardLookupFailureIsNotValidation(t *testing.T) {
	g := endpoint.NewGuard(false, testResolver)
	err := g.Check(context.Background(), "https://unknown.example/hook")
	if err == nil {
		t.Fatal("expected lookup error")
	}
	var ve *endpoint.ValidationError
	if errors.As(err, &ve) {
		t.Fatalf("lookup failure should not be a ValidationError: %v", err)
	}
}

func TestGuardAllowPrivate(t *testing.T) {
	g := endpoint.NewGuard(true, testResolver)
	if err := g.Check(context.Background(), "http://127.0.0.1:9999/hook"); err != nil {
		t.Fatalf("allowPrivate should accept loopback: %v", err)
	}
	if err := g.Check(context.Background(), "gopher://127.0.0.1/"); err == nil {
		t.Fatal("allowPrivate must still validate the scheme")
	}
	if err := g.Control("tcp", "127.0.0.1:80", nil); err != nil {
		t.Fatalf("Control = %v", err)
	}
}

func TestGuardControl(t *testing.T) {
	g := endpoint.NewGuard(false, nil)
	if err := g.Control("tcp", "93.184.216.34:443", nil); err != nil {
		t.Fatalf("public address rejected: %v", err)
	}
	if err := g.Control("tcp", "10.0.0.5:443", nil); err == nil {
		t.Fatal("private address accepted")
	}
	if err := g.Control("tcp6", "[fe80::1]:443", nil); err == nil {
		t.Fatal("link-local address accepted")
	}
}

func TestIsReservedHeader(t *testing.T) {
	for _, h := range []string{"content-type", "User-Agent", "x-webhook-signature", "X-Webhook-Anything"} {
		if !endpoint.IsReservedHeader(h) {
			t.Errorf("%s should be reserved", h)
		}
	}
	if endpoint.IsReservedHeader("X-Custom") {
		t.Error("X-Custom should not be reserved")
	}
}
