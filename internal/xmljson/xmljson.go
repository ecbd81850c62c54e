// Package xmljson projects an XML document onto JSON with a fixed,
// deterministic mapping:
//
//   - The document becomes an object with a single key, the root element's
//     local name.
//   - An element with no attributes and no child elements becomes its
//     trimmed text, or null when that is empty.
//   - Any other element becomes an object. Attributes appear first as
//     "@name" keys with string values, followed by child elements keyed by
//     local name and non-blank text as "#text", in document order.
//   - Repeated child names collapse into an array at the position of the
//     first occurrence.
//
// Namespaces are reduced to local names, namespace declarations are
// dropped, and values are never type-coerced.
package xmljson

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Object is an ordered JSON object.
type Object = orderedmap.OrderedMap[string, any]

// TextKey holds an element's text when it also has attributes or children.
const TextKey = "#text"

// AttrPrefix marks attribute keys.
const AttrPrefix = "@"

var errEmpty = errors.New("xmljson: document has no root element")

type frame struct {
	name     string
	obj      *Object
	text     strings.Builder
	attrs    int
	children int
}

// Convert reads one XML document from r.
func Convert(r io.Reader) (*Object, error) {
	d := xml.NewDecoder(r)
	d.Strict = true

	var (
		stack []*frame
		root  *Object
	)

	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xmljson: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil {
				return nil, fmt.Errorf("xmljson: second root element <%s>", t.Name.Local)
			}
			f := &frame{name: t.Name.Local, obj: orderedmap.New[string, any]()}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				f.obj.Set(AttrPrefix+a.Name.Local, a.Value)
				f.attrs++
			}
			stack = append(stack, f)

		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) != 0 {
					return nil, errors.New("xmljson: text outside the root element")
				}
				continue
			}
			f := stack[len(stack)-1]
			if len(bytes.TrimSpace(t)) != 0 {
				if _, ok := f.obj.Get(TextKey); !ok {
					// Reserve the key's position; the value is set on close.
					f.obj.Set(TextKey, nil)
				}
			}
			f.text.Write(t)

		case xml.EndElement:
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			v := f.value()
			if len(stack) == 0 {
				root = orderedmap.New[string, any]()
				root.Set(f.name, v)
				continue
			}
			parent := stack[len(stack)-1]
			parent.add(f.name, v)
		}
	}

	if root == nil {
		return nil, errEmpty
	}
	return root, nil
}

func (f *frame) value() any {
	text := strings.TrimSpace(f.text.String())
	if f.attrs == 0 && f.children == 0 {
		if text == "" {
			return nil
		}
		return text
	}
	if text != "" {
		f.obj.Set(TextKey, text)
	}
	return f.obj
}

func (f *frame) add(name string, v any) {
	f.children++
	existing, ok := f.obj.Get(name)
	if !ok {
		f.obj.Set(name, v)
		return
	}
	if list, isList := existing.([]any); isList {
		f.obj.Set(name, append(list, v))
		return
	}
	f.obj.Set(name, []any{existing, v})
}

// Marshal converts doc and encodes the result as JSON.
func Marshal(doc string) (json.RawMessage, error) {
	obj, err := Convert(strings.NewReader(doc))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("xmljson: encode: %w", err)
	}
	return data, nil
}
