package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

const httpOnlyPrefix = "#HttpOnly_"

// CookieFile is a cookie jar backed by a Netscape-format cookie file, the
// format written by curl and most browsers' export tools.
type CookieFile struct {
	mu      sync.Mutex
	jar     *cookiejar.Jar
	entries map[string]*http.Cookie
}

var _ http.CookieJar = (*CookieFile)(nil)

// LoadCookieFile reads path into a new jar. An empty path or a missing file
// yields an empty jar.
func LoadCookieFile(path string) (*CookieFile, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	cf := &CookieFile{jar: jar, entries: make(map[string]*http.Cookie)}
	if path == "" {
		return cf, nil
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cf, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transport: open cookie file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		c, host, ok := parseCookieLine(sc.Text())
		if !ok {
			continue
		}
		scheme := "http"
		if c.Secure {
			scheme = "https"
		}
		cf.jar.SetCookies(&url.URL{Scheme: scheme, Host: host, Path: c.Path}, []*http.Cookie{c})
		stored := *c
		if stored.Domain == "" {
			stored.Domain = host
		}
		cf.entries[cookieKey(&stored)] = &stored
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("transport: read cookie file: %w", err)
	}
	return cf, nil
}

// SetCookies implements http.CookieJar.
func (cf *CookieFile) SetCookies(u *url.URL, cookies []*http.Cookie) {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	cf.jar.SetCookies(u, cookies)
	for _, c := range cookies {
		stored := *c
		if stored.Domain == "" {
			stored.Domain = u.Hostname()
		}
		if stored.Path == "" {
			stored.Path = "/"
		}
		if stored.MaxAge < 0 {
			delete(cf.entries, cookieKey(&stored))
			continue
		}
		if stored.MaxAge > 0 {
			stored.Expires = time.Now().Add(time.Duration(stored.MaxAge) * time.Second)
		}
		cf.entries[cookieKey(&stored)] = &stored
	}
}

// Cookies implements http.CookieJar.
func (cf *CookieFile) Cookies(u *url.URL) []*http.Cookie {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return cf.jar.Cookies(u)
}

// Save writes all known, unexpired cookies to path in Netscape format.
func (cf *CookieFile) Save(path string) error {
	cf.mu.Lock()
	keys := make([]string, 0, len(cf.entries))
	for k := range cf.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("# Netscape HTTP Cookie File\n")
	now := time.Now()
	for _, k := range keys {
		c := cf.entries[k]
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		sb.WriteString(formatCookieLine(c))
		sb.WriteByte('\n')
	}
	cf.mu.Unlock()

	return os.WriteFile(path, []byte(sb.String()), 0o600)
}

func cookieKey(c *http.Cookie) string {
	return strings.TrimPrefix(c.Domain, ".") + "\t" + c.Path + "\t" + c.Name
}

// parseCookieLine returns the cookie and the host it was set for.
func parseCookieLine(line string) (*http.Cookie, string, bool) {
	httpOnly := false
	if strings.HasPrefix(line, httpOnlyPrefix) {
		line = strings.TrimPrefix(line, httpOnlyPrefix)
		httpOnly = true
	}
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, "", false
	}
	parts := strings.Split(line, "\t")
	if len(parts) != 7 {
		return nil, "", false
	}
	host := strings.TrimPrefix(parts[0], ".")
	c := &http.Cookie{
		Domain:   parts[0],
		Path:     parts[2],
		Secure:   strings.EqualFold(parts[3], "TRUE"),
		Name:     parts[5],
		Value:    parts[6],
		HttpOnly: httpOnly,
	}
	if exp, err := strconv.ParseInt(parts[4], 10, 64); err == nil && exp > 0 {
		c.Expires = time.Unix(exp, 0)
	}
	if !strings.EqualFold(parts[1], "TRUE") {
		// Host-only cookie: the jar must not widen it to subdomains.
		c.Domain = ""
	}
	return c, host, true
}

func formatCookieLine(c *http.Cookie) string {
	domain := c.Domain
	subdomains := "FALSE"
	if strings.HasPrefix(domain, ".") {
		subdomains = "TRUE"
	}
	prefix := ""
	if c.HttpOnly {
		prefix = httpOnlyPrefix
	}
	var expires int64
	if !c.Expires.IsZero() {
		expires = c.Expires.Unix()
	}
	return fmt.Sprintf("%s%s\t%s\t%s\t%s\t%d\t%s\t%s",
		prefix, domain, subdomains, c.Path, boolField(c.Secure), expires, c.Name, c.Value)
}

func boolField(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
