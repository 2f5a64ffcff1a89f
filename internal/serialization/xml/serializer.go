package xml

import (
	"bytes"
	encxml "encoding/xml"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/lk2023060901/objgraph-go/internal/serialization"
	"github.com/lk2023060901/objgraph-go/internal/serialization/compressor"
	"github.com/lk2023060901/objgraph-go/internal/serialization/member"
	"github.com/lk2023060901/objgraph-go/pkg/log"
	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

const FormatName = "xml"

// Serializer 将对象图编码为 XML 文档。
//
// 根元素声明 graph 命名空间并携带格式版本；每个模型实例首次出现时输出 graph:id，
// 之后的出现只输出 graph:ref。以值形式保存在接口成员中的结构体带 graph:byValue。
// 集合元素输出为 Item 子元素，字典项为包含 Key 与 Value 的 Item。
type Serializer struct {
	*serialization.Engine
	serialization.NopLifecycleHooks

	compressor compressor.Compressor
	rootNames  sync.Map // reflect.Type -> string
}

func New(opts ...serialization.Option) (*Serializer, error) {
	s := &Serializer{}
	opts = append([]serialization.Option{serialization.WithFormat(FormatName)}, opts...)
	s.Engine = serialization.NewEngine(s, opts...)

	cfg := s.Configuration()
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	c, err := compressor.New(cfg.Compression)
	if err != nil {
		return nil, err
	}
	s.compressor = c
	return s, nil
}

// Close 释放压缩器并取消引擎的订阅。
func (s *Serializer) Close() {
	s.Engine.Close()
	s.compressor.Close()
}

func (s *Serializer) WarmupType(t reflect.Type) {
	s.rootName(t)
}

func (s *Serializer) rootName(t reflect.Type) string {
	if name, ok := s.rootNames.Load(t); ok {
		return name.(string)
	}
	name, ok := s.Registry().Lookup(t)
	if !ok {
		name = t.Name()
	}
	if name == "" {
		name = "Graph"
	}
	s.rootNames.Store(t, name)
	return name
}

func (s *Serializer) GetContext(model any, modelType reflect.Type, r io.Reader, mode serialization.Mode) (*serialization.Context, error) {
	cfg := s.Configuration()
	if mode == serialization.ModeSerialization {
		root := NewElement(s.rootName(modelType))
		root.SetGraphAttr(attrVersion, cfg.FormatVersion)
		ctx := serialization.NewContext(model, modelType, mode, root, cfg)
		ctx.References.SetLogger(s.Logger())
		if info := ctx.References.GetInfo(model); info != nil {
			root.SetGraphAttr(attrID, strconv.Itoa(info.ID))
		}
		return ctx, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, merr.WrapErrIoFailed("read", err)
	}
	plain, err := s.compressor.Decompress(nil, data)
	if err != nil {
		return nil, err
	}
	root, err := parseDocument(bytes.NewReader(plain))
	if err != nil {
		return nil, err
	}
	s.checkVersion(root, modelType)

	ctx := serialization.NewContext(model, modelType, mode, root, cfg)
	ctx.References.SetLogger(s.Logger())
	if idText, ok := root.GraphAttr(attrID); ok {
		id, err := strconv.Atoi(idText)
		if err != nil {
			return nil, merr.WrapErrStreamCorrupted(fmt.Sprintf("invalid id %q", idText), "xml")
		}
		ctx.References.RegisterManually(id, model)
	}
	return ctx, nil
}

// checkVersion 只记录警告，不同主版本的流仍尽力读取。
func (s *Serializer) checkVersion(root *Element, modelType reflect.Type) {
	version, ok := root.GraphAttr(attrVersion)
	if !ok {
		s.Logger().Debug("stream carries no format version", log.FieldModelType(modelType))
		return
	}
	compatible, err := s.Configuration().CompatibleVersion(version)
	if err != nil {
		s.Logger().Warn("invalid format version in stream", log.FieldModelType(modelType), zap.Error(err))
		return
	}
	if !compatible {
		s.Logger().Warn("format version mismatch",
			log.FieldModelType(modelType),
			zap.String("expected", s.Configuration().FormatVersion),
			zap.String("actual", version))
	}
}

func (s *Serializer) AppendContextToStream(ctx *serialization.Context, w io.Writer) error {
	root, ok := ctx.Target.(*Element)
	if !ok {
		return merr.WrapErrParameterInvalidMsg("unexpected xml target %T", ctx.Target)
	}

	var buf bytes.Buffer
	buf.WriteString(encxml.Header)
	enc := encxml.NewEncoder(&buf)
	if s.Configuration().Indent {
		enc.Indent("", "  ")
	}
	if err := root.encode(enc, true); err != nil {
		return merr.WrapErrIoFailed("encode", err)
	}
	if err := enc.Flush(); err != nil {
		return merr.WrapErrIoFailed("encode", err)
	}

	packet, err := s.compressor.Compress(nil, buf.Bytes())
	if err != nil {
		return err
	}
	if _, err := w.Write(packet); err != nil {
		return merr.WrapErrIoFailed("write", err)
	}
	return nil
}

func (s *Serializer) SerializeMember(ctx *serialization.Context, mv *member.Value) error {
	parent := ctx.Target.(*Element)
	el := NewElement(mv.Name)
	if err := s.writeValue(ctx, el, mv.Value(), mv.MemberType); err != nil {
		return err
	}
	parent.AddChild(el)
	return nil
}

func (s *Serializer) writeValue(ctx *serialization.Context, el *Element, v any, declared reflect.Type) error {
	if member.IsNil(v) {
		el.SetGraphAttr(attrNil, "true")
		return nil
	}
	rv := reflect.ValueOf(v)
	actual := rv.Type()
	if declared != nil && declared.Kind() == reflect.Interface && needsTypeHint(actual) {
		el.SetGraphAttr(attrType, s.Registry().NameOf(actual))
		if actual.Kind() == reflect.Struct && !serialization.IsScalarType(actual) {
			el.SetGraphAttr(attrByValue, "true")
		}
	}

	switch {
	case serialization.IsScalarType(actual):
		text, err := serialization.FormatScalar(v)
		if err != nil {
			return err
		}
		el.SetScalarText(text)
		return nil
	case actual.Kind() == reflect.Pointer && actual.Elem().Kind() == reflect.Struct &&
		!serialization.IsScalarType(actual.Elem()):
		return s.writeModel(ctx, el, v, actual.Elem())
	case actual.Kind() == reflect.Pointer:
		return s.writeValue(ctx, el, rv.Elem().Interface(), actual.Elem())
	case actual.Kind() == reflect.Struct:
		ptr := reflect.New(actual)
		ptr.Elem().Set(rv)
		return s.SerializeContext(ctx.Child(ptr.Interface(), actual, el))
	case actual.Kind() == reflect.Map:
		for _, pair := range serialization.DictionaryPairs(rv) {
			item := NewElement(itemElement)
			key := NewElement(keyElement)
			if err := s.writeValue(ctx, key, pair.Key, actual.Key()); err != nil {
				return err
			}
			value := NewElement(valueElement)
			if err := s.writeValue(ctx, value, pair.Value, actual.Elem()); err != nil {
				return err
			}
			item.AddChild(key)
			item.AddChild(value)
			el.AddChild(item)
		}
		return nil
	case actual.Kind() == reflect.Slice || actual.Kind() == reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			item := NewElement(itemElement)
			if err := s.writeValue(ctx, item, rv.Index(i).Interface(), actual.Elem()); err != nil {
				return err
			}
			el.AddChild(item)
		}
		return nil
	default:
		return merr.WrapErrTypeMismatch("serializable value", actual)
	}
}

// needsTypeHint 集合在读取时按结构还原，不输出类型提示。
func needsTypeHint(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Map, reflect.Array:
		return false
	case reflect.Slice:
		return serialization.IsScalarType(t)
	default:
		return true
	}
}

func (s *Serializer) writeModel(ctx *serialization.Context, el *Element, v any, t reflect.Type) error {
	info := ctx.References.GetInfo(v)
	if !info.IsFirstUsage() {
		el.SetGraphAttr(attrRef, strconv.Itoa(info.ID))
		return nil
	}
	el.SetGraphAttr(attrID, strconv.Itoa(info.ID))
	return s.SerializeContext(ctx.Child(v, t, el))
}

func (s *Serializer) DeserializeMember(ctx *serialization.Context, mv *member.Value) (serialization.Result, error) {
	parent := ctx.Target.(*Element)
	el := parent.Child(mv.Name)
	if el == nil {
		return serialization.Result{}, nil
	}
	v, err := s.readValue(ctx, el, mv.MemberType)
	if err != nil {
		return serialization.Result{}, err
	}
	return serialization.Result{Value: v, OK: true}, nil
}

func (s *Serializer) readValue(ctx *serialization.Context, el *Element, declared reflect.Type) (any, error) {
	if isNil, ok := el.GraphAttr(attrNil); ok && isNil == "true" {
		return nil, nil
	}
	if refText, ok := el.GraphAttr(attrRef); ok {
		id, err := strconv.Atoi(refText)
		if err != nil {
			return nil, merr.WrapErrStreamCorrupted(fmt.Sprintf("invalid ref %q", refText), "xml")
		}
		info := ctx.References.GetInfoByID(id)
		if info == nil {
			s.Logger().Error("unknown reference id, member set to nil",
				log.FieldModelType(ctx.ModelType), log.FieldMember(el.Name), zap.Int("id", id))
			return nil, nil
		}
		return info.Instance, nil
	}

	t := declared
	if name, ok := el.GraphAttr(attrType); ok {
		hinted, err := s.Registry().Resolve(name)
		if err != nil {
			return nil, err
		}
		byValue, _ := el.GraphAttr(attrByValue)
		if hinted.Kind() == reflect.Struct && !serialization.IsScalarType(hinted) && byValue != "true" {
			hinted = reflect.PointerTo(hinted)
		}
		t = hinted
	}
	return s.readTyped(ctx, el, t)
}

func (s *Serializer) readTyped(ctx *serialization.Context, el *Element, t reflect.Type) (any, error) {
	switch {
	case serialization.IsScalarType(t):
		text, err := el.ScalarText()
		if err != nil {
			return nil, err
		}
		return serialization.ParseScalar(text, t)
	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct &&
		!serialization.IsScalarType(t.Elem()):
		return s.readModel(ctx, el, t.Elem())
	case t.Kind() == reflect.Pointer:
		return s.readTyped(ctx, el, t.Elem())
	case t.Kind() == reflect.Struct:
		ptr := reflect.New(t)
		if err := s.DeserializeContext(ctx.Child(ptr.Interface(), t, el)); err != nil {
			return nil, err
		}
		return ptr.Elem().Interface(), nil
	case t.Kind() == reflect.Map:
		return s.readDictionary(ctx, el, t.Key(), t.Elem())
	case t.Kind() == reflect.Slice || t.Kind() == reflect.Array:
		return s.readCollection(ctx, el, t.Elem())
	case t.Kind() == reflect.Interface:
		return s.readUntyped(ctx, el)
	default:
		return nil, merr.WrapErrTypeMismatch(t, "xml element")
	}
}

// readModel 在填充之前登记新实例，使子树中的回引用能够解析到它。
func (s *Serializer) readModel(ctx *serialization.Context, el *Element, t reflect.Type) (any, error) {
	ptr := reflect.New(t).Interface()
	if idText, ok := el.GraphAttr(attrID); ok {
		id, err := strconv.Atoi(idText)
		if err != nil {
			return nil, merr.WrapErrStreamCorrupted(fmt.Sprintf("invalid id %q", idText), "xml")
		}
		ctx.References.RegisterManually(id, ptr)
	}
	if err := s.DeserializeContext(ctx.Child(ptr, t, el)); err != nil {
		return nil, err
	}
	return ptr, nil
}

func (s *Serializer) readCollection(ctx *serialization.Context, el *Element, elemType reflect.Type) ([]any, error) {
	items := el.ChildrenNamed(itemElement)
	out := make([]any, 0, len(items))
	for _, item := range items {
		v, err := s.readValue(ctx, item, elemType)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Serializer) readDictionary(ctx *serialization.Context, el *Element, keyType, valueType reflect.Type) ([]member.KeyValuePair, error) {
	items := el.ChildrenNamed(itemElement)
	pairs := make([]member.KeyValuePair, 0, len(items))
	for _, item := range items {
		keyEl, valueEl := item.Child(keyElement), item.Child(valueElement)
		if keyEl == nil {
			return nil, merr.WrapErrStreamCorrupted("dictionary item without key", el.Name)
		}
		key, err := s.readValue(ctx, keyEl, keyType)
		if err != nil {
			return nil, err
		}
		var value any
		if valueEl != nil {
			if value, err = s.readValue(ctx, valueEl, valueType); err != nil {
				return nil, err
			}
		}
		pairs = append(pairs, member.KeyValuePair{Key: key, Value: value})
	}
	return pairs, nil
}

// readUntyped 在没有类型信息时按元素结构推断：叶子为字符串，Item 子元素为集合或字典。
func (s *Serializer) readUntyped(ctx *serialization.Context, el *Element) (any, error) {
	if len(el.Children) == 0 {
		return el.ScalarText()
	}
	items := el.ChildrenNamed(itemElement)
	if len(items) != len(el.Children) {
		return nil, merr.WrapErrStreamCorrupted("element without type hint", el.Name)
	}
	if items[0].Child(keyElement) != nil {
		return s.readDictionary(ctx, el, anyType, anyType)
	}
	return s.readCollection(ctx, el, anyType)
}

var anyType = reflect.TypeFor[any]()
