package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBuildDefaults(t *testing.T) {
	d := mustBuild(t, map[Option]any{OptURL: "http://example.com"})
	if d.Method != "GET" || !d.FollowRedirects || d.InsecureSkipVerify {
		t.Fatalf("unexpected defaults: %+v", d)
	}
}

func TestBuildRequiresURL(t *testing.T) {
	_, err := Build(map[Option]any{OptTimeout: 5})
	if !errors.Is(err, ErrBadOption) {
		t.Fatalf("expected ErrBadOption, got %v", err)
	}
}

func TestBuildCoercesValues(t *testing.T) {
	d := mustBuild(t, map[Option]any{
		OptURL:            "http://example.com",
		OptTimeout:        "15",
		OptConnectTimeout: int64(3),
		OptSSLVerifyPeer:  false,
		OptMaxRedirs:      "4",
		OptProxy:          "socks5://proxy.local",
		OptProxyType:      "socks5",
		OptProxyUserPwd:   "user:secret",
		OptHTTPHeader:     []any{"X-A: 1", "X-B: 2"},
	})
	if d.Timeout != 15*time.Second || d.ConnectTimeout != 3*time.Second {
		t.Fatalf("unexpected timeouts: %v %v", d.Timeout, d.ConnectTimeout)
	}
	if !d.InsecureSkipVerify || d.MaxRedirects != 4 {
		t.Fatalf("unexpected: %+v", d)
	}
	if d.Proxy.Type != ProxySOCKS5 || d.Proxy.Addr() != "proxy.local:1080" {
		t.Fatalf("unexpected proxy: %+v (%s)", d.Proxy, d.Proxy.Addr())
	}
	if user, pass, ok := d.Proxy.Credentials(); !ok || user != "user" || pass != "secret" {
		t.Fatalf("unexpected credentials: %s %s %v", user, pass, ok)
	}
	if len(d.Header) != 2 || d.Header[1] != "X-B: 2" {
		t.Fatalf("unexpected headers: %v", d.Header)
	}
}

func TestBuildRejectsBadValue(t *testing.T) {
	_, err := Build(map[Option]any{OptURL: "http://example.com", OptTimeout: "soon"})
	if !errors.Is(err, ErrBadOption) {
		t.Fatalf("expected ErrBadOption, got %v", err)
	}
	_, err = Build(map[Option]any{OptURL: "http://example.com", Option(999): true})
	if !errors.Is(err, ErrBadOption) {
		t.Fatalf("expected ErrBadOption for unknown option, got %v", err)
	}
}

func TestBuildMethodOptions(t *testing.T) {
	tests := []struct {
		opts   map[Option]any
		method string
		noBody bool
	}{
		{map[Option]any{OptNoBody: true}, "HEAD", true},
		{map[Option]any{OptHTTPGet: true}, "GET", false},
		{map[Option]any{OptPost: true}, "POST", false},
		{map[Option]any{OptCustomRequest: "delete"}, "DELETE", false},
		{map[Option]any{OptPost: true, OptCustomRequest: "PUT"}, "PUT", false},
	}
	for _, tt := range tests {
		tt.opts[OptURL] = "http://example.com"
		d := mustBuild(t, tt.opts)
		if d.Method != tt.method || d.NoBody != tt.noBody {
			t.Errorf("%v: got method=%s noBody=%v", tt.opts, d.Method, d.NoBody)
		}
	}
}

func TestParseOption(t *testing.T) {
	if o, ok := ParseOption("timeout"); !ok || o != OptTimeout {
		t.Fatalf("by name: %v %v", o, ok)
	}
	if o, ok := ParseOption("1"); !ok || o != OptURL {
		t.Fatalf("by number: %v %v", o, ok)
	}
	if _, ok := ParseOption("12345"); ok {
		t.Fatal("unknown identifier accepted")
	}
	if OptProxyUserPwd.String() != "proxy_user_pwd" {
		t.Fatalf("unexpected name %q", OptProxyUserPwd.String())
	}
}

func TestEncodeBodyURLEncoded(t *testing.T) {
	d := &Descriptor{Fields: []Field{
		{Name: "a", Value: 1},
		{Name: "b", Value: nil},
		{Name: "c", Value: true},
		{Name: "d", Value: 1.5},
	}}
	body, ct, err := EncodeBody(d)
	if err != nil {
		t.Fatal(err)
	}
	if ct != formContentType || string(body) != "a=1&b=&c=true&d=1.5" {
		t.Fatalf("unexpected body %q (%s)", body, ct)
	}

	body, ct, err = EncodeBody(&Descriptor{})
	if err != nil || body != nil || ct != "" {
		t.Fatalf("expected empty body, got %q %q %v", body, ct, err)
	}
}

func TestEncodeBodyMultipart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}
	body, ct, err := EncodeBody(&Descriptor{
		Multipart: true,
		Fields:    []Field{{Name: "f", Value: File(path)}, {Name: "x", Value: "y"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(ct, "multipart/form-data; boundary=") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(string(body), `filename="a.txt"`) || !strings.Contains(string(body), "hello") {
		t.Fatalf("file part missing: %s", body)
	}

	_, _, err = EncodeBody(&Descriptor{
		Multipart: true,
		Fields:    []Field{{Name: "f", Value: File(filepath.Join(t.TempDir(), "missing"))}},
	})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFileMarker(t *testing.T) {
	f := File("/tmp/x.bin")
	if f.String() != "@/tmp/x.bin" || f.Path() != "/tmp/x.bin" {
		t.Fatalf("unexpected marker %q", f.String())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{context.Canceled, CodeAborted},
		{context.DeadlineExceeded, CodeOperationTimedOut},
		{&net.DNSError{Err: "no such host", Name: "nowhere.invalid"}, CodeCouldNotResolveHost},
		{&net.OpError{Op: "dial", Err: errors.New("connection refused")}, CodeCouldNotConnect},
		{&net.OpError{Op: "read", Err: errors.New("reset")}, CodeRecvError},
		{errTooManyRedirects, CodeTooManyRedirects},
		{&Error{Code: CodeSSLConnectError, Message: "x"}, CodeSSLConnectError},
		{errors.New("boom"), CodeFailed},
	}
	for _, tt := range tests {
		if got := classify(tt.err); got.Code != tt.code {
			t.Errorf("classify(%v) = %d, want %d", tt.err, got.Code, tt.code)
		}
	}
}
