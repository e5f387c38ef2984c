package response

import (
	"github.com/beevik/etree"

	"github.com/egorkaBurkenya/multireq-go/transport"
)

// Parse error codes.
const (
	CodeXMLEmpty  = 4
	CodeXMLSyntax = 5
)

// Reserved keys of ToMap results.
const (
	AttributesKey = "@attributes"
	ValueKey      = "@value"
)

// XML parses the body into an element tree. With auto parsing on (the
// default) the body is parsed by Init.
type XML struct {
	base
	autoParse bool
	root      *etree.Element
}

var _ Response = (*XML)(nil)

// NewXML returns an XML response that parses the body on Init.
func NewXML() *XML { return &XML{autoParse: true} }

// SetAutoParse controls whether Init parses the body.
func (r *XML) SetAutoParse(on bool) { r.autoParse = on }

// AutoParse reports whether Init parses the body.
func (r *XML) AutoParse() bool { return r.autoParse }

// Init stores the transfer outcome and, with auto parsing on, parses the
// body.
func (r *XML) Init(body []byte, info transport.Info, err error) {
	r.initBase(body, info, err)
	r.root = nil
	if r.autoParse {
		_, _ = r.Parse()
	}
}

// Parse parses the raw body and returns its root element.
func (r *XML) Parse() (*etree.Element, error) {
	r.decodeErr = nil
	r.root = nil
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(r.raw); err != nil {
		r.decodeErr = &Error{Code: CodeXMLSyntax, Message: err.Error()}
		return nil, r.decodeErr
	}
	root := doc.Root()
	if root == nil {
		r.decodeErr = &Error{Code: CodeXMLEmpty, Message: "document is empty"}
		return nil, r.decodeErr
	}
	r.root = root
	return root, nil
}

// Content returns the parsed root element, or nil.
func (r *XML) Content() any {
	if r.root == nil {
		return nil
	}
	return r.root
}

// Root returns the parsed root element, or nil.
func (r *XML) Root() *etree.Element { return r.root }

// ToMap converts the document to generic values, parsing it first if
// needed. See the package-level ToMap for the conversion rules.
func (r *XML) ToMap(ignoreAttributes bool) (any, error) {
	if r.root == nil {
		if _, err := r.Parse(); err != nil {
			return nil, err
		}
	}
	return ToMap(r.root, ignoreAttributes), nil
}

// ToMap converts el to generic values:
//
//   - attributes are collected under "@attributes" unless ignoreAttributes;
//   - a leaf with attributes keeps its text under "@value";
//   - a leaf without attributes becomes {tag: text};
//   - children are stored by tag, and a child whose result is the single
//     entry {childTag: v} is stored as v;
//   - children sharing a tag are stored as a list;
//   - an element without attributes whose children all share one repeated
//     tag converts to that list directly.
func ToMap(el *etree.Element, ignoreAttributes bool) any {
	result := make(map[string]any)
	if !ignoreAttributes && len(el.Attr) > 0 {
		attrs := make(map[string]any, len(el.Attr))
		for _, a := range el.Attr {
			attrs[a.FullKey()] = a.Value
		}
		result[AttributesKey] = attrs
	}

	children := el.ChildElements()
	if len(children) == 0 {
		if _, ok := result[AttributesKey]; ok {
			result[ValueKey] = el.Text()
			return result
		}
		return map[string]any{el.Tag: el.Text()}
	}

	var order []string
	grouped := make(map[string][]any)
	for _, child := range children {
		name := child.Tag
		v := ToMap(child, ignoreAttributes)
		if m, ok := v.(map[string]any); ok && len(m) == 1 {
			if inner, ok := m[name]; ok {
				v = inner
			}
		}
		if _, seen := grouped[name]; !seen {
			order = append(order, name)
		}
		grouped[name] = append(grouped[name], v)
	}

	if len(order) == 1 && len(grouped[order[0]]) > 1 && len(result) == 0 {
		return grouped[order[0]]
	}
	for _, name := range order {
		if vs := grouped[name]; len(vs) == 1 {
			result[name] = vs[0]
		} else {
			result[name] = vs
		}
	}
	return result
}
