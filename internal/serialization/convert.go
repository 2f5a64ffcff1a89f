package serialization

import (
	"cmp"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/objgraph-go/internal/serialization/member"
	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

var (
	durationType        = reflect.TypeFor[time.Duration]()
	bytesType           = reflect.TypeFor[[]byte]()
	jsonNumberType      = reflect.TypeFor[json.Number]()
	keyValueSliceType   = reflect.TypeFor[[]member.KeyValuePair]()
	keyValuePairType    = reflect.TypeFor[member.KeyValuePair]()
	textMarshalerType   = reflect.TypeFor[encoding.TextMarshaler]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
)

// IsScalarType 判断类型 t 的值是否以单个文本值输出。
func IsScalarType(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if t == durationType || t == bytesType || t == jsonNumberType {
		return true
	}
	if t.Implements(textMarshalerType) && reflect.PointerTo(t).Implements(textUnmarshalerType) {
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// FormatScalar 将标量格式化为文本：time.Time 为 RFC3339Nano，[]byte 为 base64。
func FormatScalar(v any) (string, error) {
	switch x := v.(type) {
	case time.Duration:
		return x.String(), nil
	case []byte:
		return base64.StdEncoding.EncodeToString(x), nil
	case json.Number:
		return x.String(), nil
	case encoding.TextMarshaler:
		b, err := x.MarshalText()
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64), nil
	default:
		return "", merr.WrapErrOperationNotSupported(fmt.Sprintf("%T is not a scalar", v))
	}
}

// ParseScalar 将文本解析为类型 t 的值，t 为空接口时原样返回字符串。
func ParseScalar(s string, t reflect.Type) (any, error) {
	switch {
	case t == durationType:
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, mismatch(t, s, err)
		}
		return d, nil
	case t == bytesType:
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, mismatch(t, s, err)
		}
		return b, nil
	case t.Kind() != reflect.Interface && reflect.PointerTo(t).Implements(textUnmarshalerType):
		ptr := reflect.New(t)
		if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return nil, mismatch(t, s, err)
		}
		return ptr.Elem().Interface(), nil
	}

	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		out.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, mismatch(t, s, err)
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(s, 10, t.Bits())
		if err != nil {
			return nil, mismatch(t, s, err)
		}
		out.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(s, 10, t.Bits())
		if err != nil {
			return nil, mismatch(t, s, err)
		}
		out.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, t.Bits())
		if err != nil {
			return nil, mismatch(t, s, err)
		}
		out.SetFloat(f)
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return s, nil
		}
		return nil, merr.WrapErrTypeMismatch(t, "string")
	default:
		return nil, merr.WrapErrTypeMismatch(t, "string")
	}
	return out.Interface(), nil
}

func mismatch(t reflect.Type, s string, cause error) error {
	return errors.Wrapf(merr.WrapErrTypeMismatch(t, strconv.Quote(s)), "%v", cause)
}

// Coerce 将后端解析出的原始值转换为声明类型 target。
//
// 集合与字典总是构造 target 的新实例后逐项复制；target 无法承载集合时返回
// ErrOperationNotSupported，调用方不应将其降级为成员级失败。
func Coerce(v any, target reflect.Type) (any, error) {
	if member.IsNil(v) {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(target) {
		return v, nil
	}

	switch target.Kind() {
	case reflect.Slice, reflect.Array:
		if target != bytesType || !isString(rv) {
			return coerceCollection(rv, target)
		}
	case reflect.Map:
		return coerceDictionary(rv, target)
	case reflect.Pointer:
		elem, err := Coerce(v, target.Elem())
		if err != nil || member.IsNil(elem) {
			return nil, err
		}
		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(reflect.ValueOf(elem))
		return ptr.Interface(), nil
	}

	if isCollection(rv) {
		return nil, merr.WrapErrOperationNotSupported(
			fmt.Sprintf("%v cannot hold a collection of %v", target, rv.Type()))
	}

	switch x := v.(type) {
	case string:
		return ParseScalar(x, target)
	case json.Number:
		return ParseScalar(x.String(), target)
	}
	if isNumeric(rv.Kind()) && isNumeric(target.Kind()) {
		return rv.Convert(target).Interface(), nil
	}
	if rv.Type().ConvertibleTo(target) && rv.Kind() == target.Kind() {
		return rv.Convert(target).Interface(), nil
	}
	return nil, merr.WrapErrTypeMismatch(target, rv.Type())
}

func coerceCollection(rv reflect.Value, target reflect.Type) (any, error) {
	if rv.Kind() == reflect.Map {
		rv = reflect.ValueOf(pairsAsItems(DictionaryPairs(rv)))
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, merr.WrapErrOperationNotSupported(
			fmt.Sprintf("cannot populate %v from %v", target, rv.Type()))
	}

	n := rv.Len()
	var out reflect.Value
	if target.Kind() == reflect.Slice {
		out = reflect.MakeSlice(target, n, n)
	} else {
		out = reflect.New(target).Elem()
		n = min(n, target.Len())
	}
	for i := 0; i < n; i++ {
		item, err := Coerce(rv.Index(i).Interface(), target.Elem())
		if err != nil {
			return nil, err
		}
		if !member.IsNil(item) {
			out.Index(i).Set(reflect.ValueOf(item))
		}
	}
	return out.Interface(), nil
}

func coerceDictionary(rv reflect.Value, target reflect.Type) (any, error) {
	var pairs []member.KeyValuePair
	switch {
	case rv.Type() == keyValueSliceType:
		pairs = rv.Interface().([]member.KeyValuePair)
	case rv.Kind() == reflect.Map:
		pairs = DictionaryPairs(rv)
	case rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array:
		pairs = make([]member.KeyValuePair, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			pair, ok := rv.Index(i).Interface().(member.KeyValuePair)
			if !ok {
				return nil, merr.WrapErrOperationNotSupported(
					fmt.Sprintf("cannot populate %v from item %d of type %v", target, i, rv.Index(i).Type()))
			}
			pairs = append(pairs, pair)
		}
	default:
		return nil, merr.WrapErrOperationNotSupported(
			fmt.Sprintf("cannot populate %v from %v", target, rv.Type()))
	}

	out := reflect.MakeMapWithSize(target, len(pairs))
	for _, pair := range pairs {
		key, err := Coerce(pair.Key, target.Key())
		if err != nil {
			return nil, err
		}
		value, err := Coerce(pair.Value, target.Elem())
		if err != nil {
			return nil, err
		}
		out.SetMapIndex(valueOrZero(key, target.Key()), valueOrZero(value, target.Elem()))
	}
	return out.Interface(), nil
}

// DictionaryPairs 返回 map 的键值对，按键排序以保证输出稳定。
func DictionaryPairs(m reflect.Value) []member.KeyValuePair {
	pairs := make([]member.KeyValuePair, 0, m.Len())
	iter := m.MapRange()
	for iter.Next() {
		pairs = append(pairs, member.KeyValuePair{Key: iter.Key().Interface(), Value: iter.Value().Interface()})
	}
	slices.SortFunc(pairs, func(a, b member.KeyValuePair) int {
		return compareKeys(a.Key, b.Key)
	})
	return pairs
}

func compareKeys(a, b any) int {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.IsValid() && rb.IsValid() && ra.Kind() == rb.Kind() {
		switch ra.Kind() {
		case reflect.String:
			return cmp.Compare(ra.String(), rb.String())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return cmp.Compare(ra.Int(), rb.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return cmp.Compare(ra.Uint(), rb.Uint())
		case reflect.Float32, reflect.Float64:
			return cmp.Compare(ra.Float(), rb.Float())
		}
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func pairsAsItems(pairs []member.KeyValuePair) []any {
	items := make([]any, len(pairs))
	for i := range pairs {
		items[i] = pairs[i]
	}
	return items
}

func valueOrZero(v any, t reflect.Type) reflect.Value {
	if member.IsNil(v) {
		return reflect.Zero(t)
	}
	return reflect.ValueOf(v)
}

func isCollection(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Slice:
		return rv.Type() != bytesType
	case reflect.Array, reflect.Map:
		return true
	default:
		return false
	}
}

func isString(rv reflect.Value) bool {
	return rv.Kind() == reflect.String
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
