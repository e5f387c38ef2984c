package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	multireq "github.com/egorkaBurkenya/multireq-go"
	"github.com/egorkaBurkenya/multireq-go/transport"
)

type getFlags struct {
	method       string
	headers      []string
	data         []string
	files        []string
	respType     string
	timeout      int
	maxRedirects int
	noRedirect   bool
	userAgent    string
	proxy        string
	cookieFile   string
	cookieJar    bool
	trace        bool
}

func newGetCommand(g *globalFlags) *cobra.Command {
	f := &getFlags{}
	cmd := &cobra.Command{
		Use:   "get URL",
		Short: "Send a single request and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, g, f, args[0])
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.method, "request", "X", multireq.MethodGet, "HTTP method")
	fl.StringArrayVarP(&f.headers, "header", "H", nil, `header line "Name: Value" (repeatable)`)
	fl.StringArrayVarP(&f.data, "data", "d", nil, "body parameter key=value (repeatable)")
	fl.StringArrayVarP(&f.files, "form", "F", nil, "file upload field=path (repeatable)")
	fl.StringVar(&f.respType, "type", "plain", "response type: plain, json or xml")
	fl.IntVar(&f.timeout, "timeout", 0, "transfer timeout in seconds")
	fl.IntVar(&f.maxRedirects, "max-redirects", 0, "maximum redirects to follow (0 is unlimited)")
	fl.BoolVar(&f.noRedirect, "no-redirect", false, "do not follow redirects")
	fl.StringVarP(&f.userAgent, "user-agent", "A", "", "User-Agent header")
	fl.StringVar(&f.proxy, "proxy", "", "proxy as [socks5://]host:port")
	fl.StringVar(&f.cookieFile, "cookie-file", "", "Netscape cookie file to send cookies from")
	fl.BoolVar(&f.cookieJar, "cookie-jar", false, "write received cookies back to --cookie-file")
	fl.BoolVar(&f.trace, "trace", false, "print the request header as sent")
	return cmd
}

func runGet(cmd *cobra.Command, g *globalFlags, f *getFlags, url string) error {
	logger := g.logger(cmd.ErrOrStderr())
	eng, err := g.newEngine(logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	req := multireq.New(url).
		SetLogger(logger).
		SetTransport(eng).
		SetMethod(f.method).
		SetHeaders(f.headers...).
		SetResponseType(f.respType).
		SetTimeout(f.timeout).
		SetAllowRedirect(!f.noRedirect).
		SetRedirectLimit(f.maxRedirects).
		SetUserAgent(f.userAgent)

	params, err := parsePairs(f.data)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		req.SetPostParams(params)
	}
	for _, spec := range f.files {
		field, path, ok := strings.Cut(spec, "=")
		if !ok {
			return fmt.Errorf("invalid --form %q, want field=path", spec)
		}
		req.AttachFile(field, path)
	}
	if f.proxy != "" {
		typ := transport.ProxyHTTP
		if strings.HasPrefix(f.proxy, "socks5://") {
			typ = transport.ProxySOCKS5
		}
		req.SetProxy(f.proxy, 0, typ)
	}
	if f.cookieFile != "" {
		req.SetCookieFile(f.cookieFile, f.cookieJar)
	}
	if f.trace {
		req.AddOptions(map[transport.Option]any{transport.OptHeaderOut: true})
	}

	resp, err := req.Send(cmd.Context())
	if err != nil {
		return err
	}
	return printResponse(cmd.OutOrStdout(), resp, f.trace)
}

// parsePairs turns key=value arguments into body parameters. A key given
// more than once collects its values in a list.
func parsePairs(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --data %q, want key=value", p)
		}
		switch cur := params[k].(type) {
		case nil:
			params[k] = v
		case string:
			params[k] = []string{cur, v}
		case []string:
			params[k] = append(cur, v)
		}
	}
	return params, nil
}
