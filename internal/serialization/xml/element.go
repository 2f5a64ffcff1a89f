package xml

import (
	"encoding/base64"
	encxml "encoding/xml"
	"io"
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

const (
	// Namespace 为图元数据属性所在的命名空间，输出时使用 NamespacePrefix 作为前缀。
	Namespace       = "http://schemas.objgraph.dev/graph"
	NamespacePrefix = "graph"

	attrID       = "id"
	attrRef      = "ref"
	attrType     = "type"
	attrNil      = "nil"
	attrVersion  = "version"
	attrByValue  = "byValue"
	attrEncoding = "encoding"

	encodingBase64 = "base64"

	itemElement  = "Item"
	keyElement   = "Key"
	valueElement = "Value"
)

// Element 为内存中的 XML 元素，序列化时作为 Context.Target 使用。
type Element struct {
	Name     string
	Attrs    []encxml.Attr
	Children []*Element
	Text     string
}

func NewElement(name string) *Element {
	return &Element{Name: name}
}

func (e *Element) AddChild(child *Element) {
	e.Children = append(e.Children, child)
}

// Child 返回第一个名为 name 的子元素。
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (e *Element) ChildrenNamed(name string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// SetGraphAttr 设置图命名空间中的属性，已存在时覆盖。
func (e *Element) SetGraphAttr(local, value string) {
	for i := range e.Attrs {
		if e.Attrs[i].Name.Space == Namespace && e.Attrs[i].Name.Local == local {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, encxml.Attr{Name: encxml.Name{Space: Namespace, Local: local}, Value: value})
}

func (e *Element) GraphAttr(local string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Space == Namespace && a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// SetScalarText 写入标量文本。XML 1.0 无法原样保存的文本（非法字符、无效 UTF-8、
// 会被解析器规范化的 \r）以 base64 写入，并标记 graph:encoding。
func (e *Element) SetScalarText(text string) {
	if isXMLText(text) {
		e.Text = text
		return
	}
	e.Text = base64.StdEncoding.EncodeToString([]byte(text))
	e.SetGraphAttr(attrEncoding, encodingBase64)
}

// ScalarText 返回 SetScalarText 写入的原始文本。
func (e *Element) ScalarText() (string, error) {
	enc, ok := e.GraphAttr(attrEncoding)
	if !ok {
		return e.Text, nil
	}
	if enc != encodingBase64 {
		return "", merr.WrapErrStreamCorrupted("unknown text encoding "+enc, e.Name)
	}
	raw, err := base64.StdEncoding.DecodeString(e.Text)
	if err != nil {
		return "", merr.WrapErrStreamCorrupted(err.Error(), e.Name)
	}
	return string(raw), nil
}

func isXMLText(s string) bool {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			return false
		}
		if !isXMLChar(r) {
			return false
		}
		i += size
	}
	return true
}

// isXMLChar 对应 XML 1.0 的 Char 产生式，\r 除外。
func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}

func (e *Element) encode(enc *encxml.Encoder, root bool) error {
	start := encxml.StartElement{Name: encxml.Name{Local: e.Name}}
	if root {
		start.Attr = append(start.Attr, encxml.Attr{
			Name:  encxml.Name{Local: "xmlns:" + NamespacePrefix},
			Value: Namespace,
		})
	}
	for _, a := range e.Attrs {
		name := a.Name
		if name.Space == Namespace {
			name = encxml.Name{Local: NamespacePrefix + ":" + name.Local}
		}
		start.Attr = append(start.Attr, encxml.Attr{Name: name, Value: a.Value})
	}

	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if e.Text != "" {
		if err := enc.EncodeToken(encxml.CharData(e.Text)); err != nil {
			return err
		}
	}
	for _, c := range e.Children {
		if err := c.encode(enc, false); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// parseDocument 读取完整文档并返回根元素。含子元素的元素忽略其文本（缩进空白）。
func parseDocument(r io.Reader) (*Element, error) {
	dec := encxml.NewDecoder(r)
	var (
		root  *Element
		stack []*Element
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, merr.WrapErrStreamCorrupted(err.Error(), "xml")
		}

		switch t := tok.(type) {
		case encxml.StartElement:
			el := NewElement(t.Name.Local)
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
					continue
				}
				el.Attrs = append(el.Attrs, a)
			}
			if len(stack) > 0 {
				stack[len(stack)-1].AddChild(el)
			} else if root == nil {
				root = el
			} else {
				return nil, merr.WrapErrStreamCorrupted("multiple root elements", "xml")
			}
			stack = append(stack, el)
		case encxml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		case encxml.EndElement:
			el := stack[len(stack)-1]
			if len(el.Children) > 0 {
				el.Text = ""
			}
			stack = stack[:len(stack)-1]
		}
	}
	if root == nil {
		return nil, merr.WrapErrStreamCorrupted("missing root element", "xml")
	}
	return root, nil
}
