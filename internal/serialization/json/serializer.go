package json

import (
	"encoding"
	stdjson "encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/lk2023060901/objgraph-go/internal/serialization"
	"github.com/lk2023060901/objgraph-go/internal/serialization/compressor"
	"github.com/lk2023060901/objgraph-go/internal/serialization/member"
	"github.com/lk2023060901/objgraph-go/pkg/log"
	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

const (
	FormatName = "json"

	keyID      = "$id"
	keyRef     = "$ref"
	keyType    = "$type"
	keyByValue = "$byValue"
	keyValue   = "$value"
	keyVersion = "$version"

	keyName   = "Key"
	valueName = "Value"
)

var (
	compactAPI = jsoniter.Config{
		EscapeHTML:  true,
		SortMapKeys: true,
		UseNumber:   true,
	}.Froze()
	indentAPI = jsoniter.Config{
		EscapeHTML:    true,
		SortMapKeys:   true,
		UseNumber:     true,
		IndentionStep: 2,
	}.Froze()

	anyType      = reflect.TypeFor[any]()
	durationType = reflect.TypeFor[time.Duration]()
	marshalType  = reflect.TypeFor[encoding.TextMarshaler]()
)

// object 为 JSON 对象节点，序列化时作为 Context.Target 使用。
type object = map[string]any

// Serializer 将对象图编码为 JSON 文档。
//
// 模型实例首次出现时输出 "$id"，之后输出 {"$ref": id}。多态成员携带 "$type"，
// 以值形式保存的结构体另带 "$byValue": true，标量的类型提示写为 {"$type": ..., "$value": ...}。
// 字典输出为 {"Key", "Value"} 对象数组。
type Serializer struct {
	*serialization.Engine
	serialization.NopLifecycleHooks

	compressor compressor.Compressor
	api        jsoniter.API
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
	s.api = compactAPI
	if cfg.Indent {
		s.api = indentAPI
	}
	return s, nil
}

func (s *Serializer) Close() {
	s.Engine.Close()
	s.compressor.Close()
}

// WarmupType 文档只由 object 与 []any 组成，没有按模型类型的缓存。
func (s *Serializer) WarmupType(reflect.Type) {}

func (s *Serializer) GetContext(model any, modelType reflect.Type, r io.Reader, mode serialization.Mode) (*serialization.Context, error) {
	cfg := s.Configuration()
	if mode == serialization.ModeSerialization {
		root := object{keyVersion: cfg.FormatVersion}
		ctx := serialization.NewContext(model, modelType, mode, root, cfg)
		ctx.References.SetLogger(s.Logger())
		if info := ctx.References.GetInfo(model); info != nil {
			root[keyID] = info.ID
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
	var raw any
	if err := s.api.Unmarshal(plain, &raw); err != nil {
		return nil, merr.WrapErrStreamCorrupted(err.Error(), "json")
	}
	root, ok := raw.(object)
	if !ok {
		return nil, merr.WrapErrStreamCorrupted(fmt.Sprintf("root must be an object, got %T", raw), "json")
	}
	s.checkVersion(root, modelType)

	ctx := serialization.NewContext(model, modelType, mode, root, cfg)
	ctx.References.SetLogger(s.Logger())
	if rawID, ok := root[keyID]; ok {
		id, err := referenceID(rawID)
		if err != nil {
			return nil, err
		}
		ctx.References.RegisterManually(id, model)
	}
	return ctx, nil
}

func (s *Serializer) checkVersion(root object, modelType reflect.Type) {
	version, ok := root[keyVersion].(string)
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
	data, err := s.api.Marshal(ctx.Target)
	if err != nil {
		return merr.WrapErrIoFailed("encode", err)
	}
	packet, err := s.compressor.Compress(nil, data)
	if err != nil {
		return err
	}
	if _, err := w.Write(packet); err != nil {
		return merr.WrapErrIoFailed("write", err)
	}
	return nil
}

func (s *Serializer) SerializeMember(ctx *serialization.Context, mv *member.Value) error {
	v, err := s.encodeValue(ctx, mv.Value(), mv.MemberType)
	if err != nil {
		return err
	}
	ctx.Target.(object)[mv.Name] = v
	return nil
}

func (s *Serializer) encodeValue(ctx *serialization.Context, v any, declared reflect.Type) (any, error) {
	if member.IsNil(v) {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	actual := rv.Type()
	hinted := declared != nil && declared.Kind() == reflect.Interface && needsTypeHint(actual)

	switch {
	case serialization.IsScalarType(actual):
		scalar, err := scalarValue(rv)
		if err != nil {
			return nil, err
		}
		if hinted {
			return object{keyType: s.Registry().NameOf(actual), keyValue: scalar}, nil
		}
		return scalar, nil
	case actual.Kind() == reflect.Pointer && actual.Elem().Kind() == reflect.Struct &&
		!serialization.IsScalarType(actual.Elem()):
		obj, err := s.encodeModel(ctx, v, actual.Elem())
		if err != nil {
			return nil, err
		}
		if hinted {
			obj[keyType] = s.Registry().NameOf(actual)
		}
		return obj, nil
	case actual.Kind() == reflect.Pointer:
		return s.encodeValue(ctx, rv.Elem().Interface(), actual.Elem())
	case actual.Kind() == reflect.Struct:
		ptr := reflect.New(actual)
		ptr.Elem().Set(rv)
		obj := object{}
		if err := s.SerializeContext(ctx.Child(ptr.Interface(), actual, obj)); err != nil {
			return nil, err
		}
		if hinted {
			obj[keyType] = s.Registry().NameOf(actual)
			obj[keyByValue] = true
		}
		return obj, nil
	case actual.Kind() == reflect.Map:
		pairs := serialization.DictionaryPairs(rv)
		items := make([]any, 0, len(pairs))
		for _, pair := range pairs {
			key, err := s.encodeValue(ctx, pair.Key, actual.Key())
			if err != nil {
				return nil, err
			}
			value, err := s.encodeValue(ctx, pair.Value, actual.Elem())
			if err != nil {
				return nil, err
			}
			items = append(items, object{keyName: key, valueName: value})
		}
		return items, nil
	case actual.Kind() == reflect.Slice || actual.Kind() == reflect.Array:
		items := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := s.encodeValue(ctx, rv.Index(i).Interface(), actual.Elem())
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	default:
		return nil, merr.WrapErrTypeMismatch("serializable value", actual)
	}
}

func (s *Serializer) encodeModel(ctx *serialization.Context, v any, t reflect.Type) (object, error) {
	info := ctx.References.GetInfo(v)
	if !info.IsFirstUsage() {
		return object{keyRef: info.ID}, nil
	}
	obj := object{keyID: info.ID}
	if err := s.SerializeContext(ctx.Child(v, t, obj)); err != nil {
		return nil, err
	}
	return obj, nil
}

// scalarValue 基础类型直接输出为 JSON 原生值，其余标量输出为文本。
// NaN 与 ±Inf 没有 JSON 表示，输出为 "NaN"、"+Inf"、"-Inf"，读取时由 Coerce 解析回浮点数。
func scalarValue(rv reflect.Value) (any, error) {
	t := rv.Type()
	if t != durationType && !t.Implements(marshalType) {
		switch rv.Kind() {
		case reflect.String:
			return rv.String(), nil
		case reflect.Bool:
			return rv.Bool(), nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int(), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return rv.Uint(), nil
		case reflect.Float32, reflect.Float64:
			if f := rv.Float(); !math.IsNaN(f) && !math.IsInf(f, 0) {
				return f, nil
			}
		}
	}
	return serialization.FormatScalar(rv.Interface())
}

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

func (s *Serializer) DeserializeMember(ctx *serialization.Context, mv *member.Value) (serialization.Result, error) {
	raw, ok := ctx.Target.(object)[mv.Name]
	if !ok {
		return serialization.Result{}, nil
	}
	v, err := s.decodeValue(ctx, raw, mv.MemberType, mv.Name)
	if err != nil {
		return serialization.Result{}, err
	}
	return serialization.Result{Value: v, OK: true}, nil
}

func (s *Serializer) decodeValue(ctx *serialization.Context, raw any, declared reflect.Type, name string) (any, error) {
	if raw == nil {
		return nil, nil
	}
	t := declared
	if obj, ok := raw.(object); ok {
		if rawRef, ok := obj[keyRef]; ok {
			id, err := referenceID(rawRef)
			if err != nil {
				return nil, err
			}
			info := ctx.References.GetInfoByID(id)
			if info == nil {
				s.Logger().Error("unknown reference id, member set to nil",
					log.FieldModelType(ctx.ModelType), log.FieldMember(name), zap.Int("id", id))
				return nil, nil
			}
			return info.Instance, nil
		}
		if typeName, ok := obj[keyType].(string); ok {
			hinted, err := s.Registry().Resolve(typeName)
			if err != nil {
				return nil, err
			}
			if value, ok := obj[keyValue]; ok {
				return s.decodeTyped(ctx, value, hinted, name)
			}
			byValue, _ := obj[keyByValue].(bool)
			if hinted.Kind() == reflect.Struct && !serialization.IsScalarType(hinted) && !byValue {
				hinted = reflect.PointerTo(hinted)
			}
			t = hinted
		}
	}
	return s.decodeTyped(ctx, raw, t, name)
}

func (s *Serializer) decodeTyped(ctx *serialization.Context, raw any, t reflect.Type, name string) (any, error) {
	switch {
	case serialization.IsScalarType(t):
		switch raw.(type) {
		case object, []any:
			return nil, merr.WrapErrTypeMismatch(t, reflect.TypeOf(raw))
		}
		return serialization.Coerce(raw, t)
	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct &&
		!serialization.IsScalarType(t.Elem()):
		obj, ok := raw.(object)
		if !ok {
			return nil, merr.WrapErrTypeMismatch(t, reflect.TypeOf(raw))
		}
		return s.decodeModel(ctx, obj, t.Elem())
	case t.Kind() == reflect.Pointer:
		return s.decodeTyped(ctx, raw, t.Elem(), name)
	case t.Kind() == reflect.Struct:
		obj, ok := raw.(object)
		if !ok {
			return nil, merr.WrapErrTypeMismatch(t, reflect.TypeOf(raw))
		}
		ptr := reflect.New(t)
		if err := s.DeserializeContext(ctx.Child(ptr.Interface(), t, obj)); err != nil {
			return nil, err
		}
		return ptr.Elem().Interface(), nil
	case t.Kind() == reflect.Map:
		items, ok := raw.([]any)
		if !ok {
			return nil, merr.WrapErrTypeMismatch(t, reflect.TypeOf(raw))
		}
		return s.decodeDictionary(ctx, items, t.Key(), t.Elem(), name)
	case t.Kind() == reflect.Slice || t.Kind() == reflect.Array:
		items, ok := raw.([]any)
		if !ok {
			return nil, merr.WrapErrTypeMismatch(t, reflect.TypeOf(raw))
		}
		return s.decodeCollection(ctx, items, t.Elem(), name)
	case t.Kind() == reflect.Interface:
		return s.decodeUntyped(ctx, raw, name)
	default:
		return nil, merr.WrapErrTypeMismatch(t, reflect.TypeOf(raw))
	}
}

// decodeModel 在填充之前登记新实例，使子树中的回引用能够解析到它。
func (s *Serializer) decodeModel(ctx *serialization.Context, obj object, t reflect.Type) (any, error) {
	ptr := reflect.New(t).Interface()
	if rawID, ok := obj[keyID]; ok {
		id, err := referenceID(rawID)
		if err != nil {
			return nil, err
		}
		ctx.References.RegisterManually(id, ptr)
	}
	if err := s.DeserializeContext(ctx.Child(ptr, t, obj)); err != nil {
		return nil, err
	}
	return ptr, nil
}

func (s *Serializer) decodeCollection(ctx *serialization.Context, items []any, elemType reflect.Type, name string) ([]any, error) {
	out := make([]any, 0, len(items))
	for _, item := range items {
		v, err := s.decodeValue(ctx, item, elemType, name)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Serializer) decodeDictionary(ctx *serialization.Context, items []any, keyType, valueType reflect.Type, name string) ([]member.KeyValuePair, error) {
	pairs := make([]member.KeyValuePair, 0, len(items))
	for _, item := range items {
		obj, ok := item.(object)
		if !ok {
			return nil, merr.WrapErrStreamCorrupted(fmt.Sprintf("dictionary item must be an object, got %T", item), name)
		}
		rawKey, ok := obj[keyName]
		if !ok {
			return nil, merr.WrapErrStreamCorrupted("dictionary item without key", name)
		}
		key, err := s.decodeValue(ctx, rawKey, keyType, name)
		if err != nil {
			return nil, err
		}
		value, err := s.decodeValue(ctx, obj[valueName], valueType, name)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, member.KeyValuePair{Key: key, Value: value})
	}
	return pairs, nil
}

// decodeUntyped 在没有类型信息时保留 JSON 的原生值，对象数组中仅含 Key 与 Value 时视为字典。
func (s *Serializer) decodeUntyped(ctx *serialization.Context, raw any, name string) (any, error) {
	switch x := raw.(type) {
	case string, bool, stdjson.Number:
		return x, nil
	case []any:
		if isDictionary(x) {
			return s.decodeDictionary(ctx, x, anyType, anyType, name)
		}
		return s.decodeCollection(ctx, x, anyType, name)
	default:
		return nil, merr.WrapErrStreamCorrupted("object without type hint", name)
	}
}

func isDictionary(items []any) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		obj, ok := item.(object)
		if !ok || len(obj) != 2 {
			return false
		}
		if _, ok := obj[keyName]; !ok {
			return false
		}
		if _, ok := obj[valueName]; !ok {
			return false
		}
	}
	return true
}

func referenceID(raw any) (int, error) {
	switch x := raw.(type) {
	case stdjson.Number:
		id, err := x.Int64()
		if err != nil {
			return 0, merr.WrapErrStreamCorrupted(fmt.Sprintf("invalid reference id %q", x), "json")
		}
		return int(id), nil
	case string:
		id, err := strconv.Atoi(x)
		if err != nil {
			return 0, merr.WrapErrStreamCorrupted(fmt.Sprintf("invalid reference id %q", x), "json")
		}
		return id, nil
	case int:
		return x, nil
	default:
		return 0, merr.WrapErrStreamCorrupted(fmt.Sprintf("invalid reference id %v", raw), "json")
	}
}
