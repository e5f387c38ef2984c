package multireq

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/egorkaBurkenya/multireq-go/transport"
)

// methodOptions select the transfer method; Prepare sets exactly one of them.
var methodOptions = []transport.Option{
	transport.OptNoBody,
	transport.OptHTTPGet,
	transport.OptCustomRequest,
	transport.OptPost,
}

// Prepare validates the request and computes its transport descriptor.
//
// Options are layered from lowest to highest precedence: transfer defaults,
// then settings derived from the connection, proxy and cookie setup, then
// raw options, and finally the method option. Body parameters turn a
// method other than POST or PUT into POST.
func (r *Request) Prepare() error {
	if r.state == StateClosed || r.handle.Closed() {
		return ErrRequestClosed
	}
	if r.url == "" {
		return ErrEmptyURL
	}

	desc, err := transport.Build(r.transferOptions())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadTransportOption, err)
	}
	if err := r.handle.Configure(desc); err != nil {
		return fmt.Errorf("%w: %w", ErrRequestClosed, err)
	}
	r.desc = desc
	r.state = StatePrepared
	return nil
}

func (r *Request) transferOptions() map[transport.Option]any {
	opts := map[transport.Option]any{
		transport.OptURL:            r.url,
		transport.OptReturnTransfer: true,
		transport.OptSSLVerifyPeer:  false,
		transport.OptFollowLocation: r.allowRedirect,
	}
	if r.referer != "" {
		opts[transport.OptReferer] = r.referer
	}
	if r.userAgent != "" {
		opts[transport.OptUserAgent] = r.userAgent
	}
	if r.redirectLimit > 0 {
		opts[transport.OptMaxRedirs] = r.redirectLimit
	}
	if r.timeout > 0 {
		opts[transport.OptTimeout] = r.timeout
	}
	if r.connectTimeout > 0 {
		opts[transport.OptConnectTimeout] = r.connectTimeout
	}
	if r.cookieFile != "" {
		opts[transport.OptCookieFile] = r.cookieFile
		if r.cookieWritable {
			opts[transport.OptCookieJar] = r.cookieFile
		}
	}
	if len(r.cookies) > 0 {
		opts[transport.OptCookie] = cookieHeader(r.cookies)
	}
	if r.proxy.Host != "" {
		opts[transport.OptProxy] = r.proxy.Host
		opts[transport.OptProxyType] = r.proxy.Type
		if r.proxy.Port > 0 {
			opts[transport.OptProxyPort] = r.proxy.Port
		}
		if r.proxy.UserPwd != "" {
			opts[transport.OptProxyUserPwd] = r.proxy.UserPwd
		}
	}

	for k, v := range r.options {
		opts[k] = v
	}
	for _, k := range methodOptions {
		delete(opts, k)
	}

	if len(r.postParams) > 0 || len(r.files) > 0 {
		if r.method != MethodPost && r.method != MethodPut {
			r.method = MethodPost
		}
		fields := flattenParams(r.postParams)
		for _, a := range r.files {
			fields = append(fields, transport.Field{Name: a.field, Value: transport.File(a.path)})
		}
		opts[transport.OptPostFields] = fields
		if len(r.files) > 0 {
			opts[transport.OptMultipart] = true
		}
	} else if r.method == MethodPost {
		r.fixEmptyPostHeaders()
	}

	switch r.method {
	case MethodHead:
		opts[transport.OptNoBody] = true
	case MethodGet:
		opts[transport.OptHTTPGet] = true
	case MethodPost:
		opts[transport.OptPost] = true
	default:
		opts[transport.OptCustomRequest] = r.method
	}

	opts[transport.OptHTTPHeader] = append([]string(nil), r.headers...)
	return opts
}

// fixEmptyPostHeaders replaces any Content-Length and Content-Type lines so
// that a bodiless POST announces an empty body.
func (r *Request) fixEmptyPostHeaders() {
	kept := r.headers[:0:0]
	for _, h := range r.headers {
		switch headerName(h) {
		case "content-length", "content-type":
			continue
		}
		kept = append(kept, h)
	}
	r.headers = append(kept, "Content-Type: multipart/form-data", "Content-Length: 0")
}

func cookieHeader(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for k := range cookies {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, k+"="+cookies[k])
	}
	return strings.Join(parts, "; ")
}

// flattenParams turns nested parameters into scalar fields named
// "parent[child]". Map keys are visited in sorted order, numeric keys first.
func flattenParams(params map[string]any) []transport.Field {
	var fields []transport.Field
	for _, k := range sortedKeys(params) {
		fields = flatten(fields, k, params[k])
	}
	return fields
}

func flatten(fields []transport.Field, key string, v any) []transport.Field {
	switch v.(type) {
	case nil, string, []byte, bool, transport.File, fmt.Stringer,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return append(fields, transport.Field{Name: key, Value: v})
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return append(fields, transport.Field{Name: key, Value: nil})
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[fmt.Sprint(iter.Key().Interface())] = iter.Value().Interface()
		}
		for _, k := range sortedKeys(m) {
			fields = flatten(fields, key+"["+k+"]", m[k])
		}
		return fields
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			fields = flatten(fields, key+"["+strconv.Itoa(i)+"]", rv.Index(i).Interface())
		}
		return fields
	case reflect.Struct:
		var m map[string]any
		if err := mapstructure.Decode(rv.Interface(), &m); err == nil {
			return flatten(fields, key, m)
		}
	}
	return append(fields, transport.Field{Name: key, Value: rv.Interface()})
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}
