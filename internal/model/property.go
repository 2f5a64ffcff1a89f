package model

import (
	"reflect"
	"sync"

	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

// PropertyData 描述一个登记在模型目录中的属性。
type PropertyData struct {
	Name         string
	Type         reflect.Type
	DefaultValue any

	// IsSerializable 表示属性值的类型本身可以被序列化。
	IsSerializable bool
	// IncludeInSerialization 为属性级开关，默认为 true。
	IncludeInSerialization bool
	// IsModelBaseProperty 表示框架内部属性，永远不参与序列化。
	IsModelBaseProperty bool
	// Dynamic 表示没有声明结构的动态属性，无法进一步检查，总是参与序列化。
	Dynamic bool

	// ForceInclude 与 Exclude 对应显式标记，Exclude 优先。
	ForceInclude bool
	Exclude      bool
}

type PropertyOption func(pd *PropertyData)

func WithDefaultValue(v any) PropertyOption {
	return func(pd *PropertyData) {
		pd.DefaultValue = v
	}
}

func WithSerializable(v bool) PropertyOption {
	return func(pd *PropertyData) {
		pd.IsSerializable = v
	}
}

func WithIncludeInSerialization(v bool) PropertyOption {
	return func(pd *PropertyData) {
		pd.IncludeInSerialization = v
	}
}

// ForceInclude 即使属性类型不可序列化也要求参与序列化。
func ForceInclude() PropertyOption {
	return func(pd *PropertyData) {
		pd.ForceInclude = true
	}
}

// ExcludeFromSerialization 显式排除该属性，优先于任何包含标记。
func ExcludeFromSerialization() PropertyOption {
	return func(pd *PropertyData) {
		pd.Exclude = true
	}
}

func asModelBaseProperty() PropertyOption {
	return func(pd *PropertyData) {
		pd.IsModelBaseProperty = true
	}
}

type catalog struct {
	mu    sync.RWMutex
	props map[reflect.Type][]*PropertyData
}

var defaultCatalog = &catalog{
	props: make(map[reflect.Type][]*PropertyData),
}

func (c *catalog) register(owner reflect.Type, pd *PropertyData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.props[owner] {
		if existing.Name == pd.Name {
			panic(merr.WrapErrParameterInvalidMsg("property %s already registered on %v", pd.Name, owner))
		}
	}
	c.props[owner] = append(c.props[owner], pd)
}

func (c *catalog) declared(owner reflect.Type) []*PropertyData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.props[owner]
}

// collect 先收集嵌入模型类型的属性（深度优先，按字段顺序），再收集自身属性。
// 同名属性由外层类型覆盖，位置保持不变。
func (c *catalog) collect(t reflect.Type, out *[]*PropertyData, index map[string]int) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.Anonymous {
			continue
		}
		ft := sf.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct {
			c.collect(ft, out, index)
		}
	}
	for _, pd := range c.declared(t) {
		if pos, ok := index[pd.Name]; ok {
			(*out)[pos] = pd
			continue
		}
		index[pd.Name] = len(*out)
		*out = append(*out, pd)
	}
}

// Properties 返回类型 t 的全部属性，包括嵌入类型继承而来的属性。
func Properties(t reflect.Type) []*PropertyData {
	t = indirect(t)
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	var out []*PropertyData
	defaultCatalog.collect(t, &out, make(map[string]int))
	return out
}

// Lookup 按名称查找类型 t 的属性。
func Lookup(t reflect.Type, name string) (*PropertyData, bool) {
	for _, pd := range Properties(t) {
		if pd.Name == name {
			return pd, true
		}
	}
	return nil, false
}

// Property 是类型安全的属性句柄。
type Property[T any] struct {
	data *PropertyData
}

// RegisterProperty 在 TModel 的目录中登记一个值类型为 T 的属性。
// 通常在包级变量初始化时调用，同一类型重复登记同名属性会 panic。
func RegisterProperty[TModel any, T any](name string, opts ...PropertyOption) Property[T] {
	valueType := reflect.TypeFor[T]()
	pd := &PropertyData{
		Name:                   name,
		Type:                   valueType,
		IsSerializable:         isSerializableType(valueType),
		IncludeInSerialization: true,
	}
	var zero T
	pd.DefaultValue = zero
	for _, opt := range opts {
		opt(pd)
	}
	defaultCatalog.register(indirect(reflect.TypeFor[TModel]()), pd)
	return Property[T]{data: pd}
}

// RegisterDynamicProperty 登记一个没有声明类型的动态属性。
func RegisterDynamicProperty[TModel any](name string) *PropertyData {
	pd := &PropertyData{
		Name:                   name,
		Type:                   reflect.TypeFor[any](),
		IsSerializable:         true,
		IncludeInSerialization: true,
		Dynamic:                true,
	}
	defaultCatalog.register(indirect(reflect.TypeFor[TModel]()), pd)
	return pd
}

func (p Property[T]) Name() string {
	return p.data.Name
}

func (p Property[T]) Data() *PropertyData {
	return p.data
}

// Get 读取属性值，未设置时返回默认值。
func (p Property[T]) Get(m Model) T {
	v, ok := m.ModelBase().GetValueFast(p.data.Name)
	if !ok {
		v = p.data.DefaultValue
	}
	typed, _ := v.(T)
	return typed
}

// Set 通过常规路径写入属性值，会触发变更通知。
func (p Property[T]) Set(m Model, v T) error {
	return m.ModelBase().SetValue(p.data.Name, v)
}

func isSerializableType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return false
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return isSerializableType(t.Elem())
	case reflect.Map:
		return isSerializableType(t.Key()) && isSerializableType(t.Elem())
	default:
		return true
	}
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
