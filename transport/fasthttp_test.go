package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFastHTTPGetAndPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Method", r.Method)
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer srv.Close()

	e := NewFastHTTP()
	defer e.Close()

	res, err := e.Transfer(context.Background(), mustBuild(t, map[Option]any{
		OptURL:        srv.URL,
		OptPost:       true,
		OptPostFields: []Field{{Name: "k", Value: "v"}},
		OptHeaderOut:  true,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Info.StatusCode != 200 || string(res.Body) != "k=v" {
		t.Fatalf("unexpected: status=%d body=%s", res.Info.StatusCode, res.Body)
	}
	if res.Info.Header.Get("X-Method") != "POST" {
		t.Fatalf("unexpected method header %q", res.Info.Header.Get("X-Method"))
	}
	if res.Info.RequestHeader == "" {
		t.Fatal("expected request header trace")
	}
	if s := e.Stats(); s.Transfers != 1 || s.Errors != 0 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestFastHTTPRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/loop":
			http.Redirect(w, r, "/loop", http.StatusFound)
		case "/start":
			http.Redirect(w, r, "/end", http.StatusSeeOther)
		default:
			w.Write([]byte(r.Method + " " + r.URL.Path))
		}
	}))
	defer srv.Close()

	e := NewFastHTTP()

	res, err := e.Transfer(context.Background(), mustBuild(t, map[Option]any{
		OptURL:  srv.URL + "/start",
		OptPost: true,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Body) != "GET /end" || res.Info.RedirectCount != 1 {
		t.Fatalf("unexpected: body=%s redirects=%d", res.Body, res.Info.RedirectCount)
	}

	res, err = e.Transfer(context.Background(), mustBuild(t, map[Option]any{
		OptURL:       srv.URL + "/loop",
		OptMaxRedirs: 2,
	}))
	var te *Error
	if !errors.As(err, &te) || te.Code != CodeTooManyRedirects {
		t.Fatalf("expected too many redirects, got %v", err)
	}
	if res == nil || res.Info.RedirectCount != 2 {
		t.Fatalf("unexpected redirect metadata: %+v", res)
	}
}

func TestFastHTTPUnsupportedProtocol(t *testing.T) {
	e := NewFastHTTP()
	_, err := e.Transfer(context.Background(), mustBuild(t, map[Option]any{OptURL: "gopher://example.com"}))
	var te *Error
	if !errors.As(err, &te) || te.Code != CodeUnsupportedProtocol {
		t.Fatalf("expected unsupported protocol, got %v", err)
	}
}
