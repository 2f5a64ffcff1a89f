package serialization

import (
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

// Registry 记录稳定的类型名称与模型上声明的修饰器。
//
// 类型名称用于多态成员的类型提示，登记过的非内建类型同时作为 Warmup 的默认候选。
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]reflect.Type
	byType    map[reflect.Type]string
	models    []reflect.Type
	modifiers map[reflect.Type][]reflect.Type
}

// DefaultRegistry 为包级注册函数使用的全局注册表。
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	r := &Registry{
		byName:    make(map[string]reflect.Type),
		byType:    make(map[reflect.Type]string),
		modifiers: make(map[reflect.Type][]reflect.Type),
	}
	for name, t := range builtinTypes {
		r.byName[name] = t
		r.byType[t] = name
	}
	return r
}

var builtinTypes = map[string]reflect.Type{
	"string":   reflect.TypeFor[string](),
	"bool":     reflect.TypeFor[bool](),
	"int":      reflect.TypeFor[int](),
	"int8":     reflect.TypeFor[int8](),
	"int16":    reflect.TypeFor[int16](),
	"int32":    reflect.TypeFor[int32](),
	"int64":    reflect.TypeFor[int64](),
	"uint":     reflect.TypeFor[uint](),
	"uint8":    reflect.TypeFor[uint8](),
	"uint16":   reflect.TypeFor[uint16](),
	"uint32":   reflect.TypeFor[uint32](),
	"uint64":   reflect.TypeFor[uint64](),
	"float32":  reflect.TypeFor[float32](),
	"float64":  reflect.TypeFor[float64](),
	"bytes":    reflect.TypeFor[[]byte](),
	"time":     reflect.TypeFor[time.Time](),
	"duration": reflect.TypeFor[time.Duration](),
}

// Register 将 name 与类型 t 关联，指针类型按其指向的类型登记。
func (r *Registry) Register(name string, t reflect.Type) error {
	if name == "" {
		return merr.WrapErrParameterMissing("name")
	}
	if t == nil {
		return merr.WrapErrParameterMissing("type")
	}
	t = indirect(t)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[name]; ok {
		if existing == t {
			return nil
		}
		return merr.WrapErrParameterInvalidMsg("type name %q already bound to %v", name, existing)
	}
	if existing, ok := r.byType[t]; ok {
		return merr.WrapErrParameterInvalidMsg("type %v already registered as %q", t, existing)
	}
	r.byName[name] = t
	r.byType[t] = name
	r.models = append(r.models, t)
	return nil
}

// Resolve 按名称查找类型。
func (r *Registry) Resolve(name string) (reflect.Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.byName[name]; ok {
		return t, nil
	}
	return nil, merr.WrapErrTypeNotRegistered(name)
}

// Lookup 返回类型 t（或其指向的类型）的登记名称。
func (r *Registry) Lookup(t reflect.Type) (string, bool) {
	if t == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, ok := r.byType[t]; ok {
		return name, true
	}
	name, ok := r.byType[indirect(t)]
	return name, ok
}

// NameOf 返回类型的登记名称，未登记时返回 t.String()。
func (r *Registry) NameOf(t reflect.Type) string {
	if name, ok := r.Lookup(t); ok {
		return name
	}
	if t == nil {
		return ""
	}
	return t.String()
}

// ModelTypes 按登记顺序返回所有非内建类型。
func (r *Registry) ModelTypes() []reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.models)
}

// RegisterModifier 为 modelType 声明一个修饰器类型，声明顺序即调用顺序。
// *modifierType 必须实现 Modifier。
func (r *Registry) RegisterModifier(modelType, modifierType reflect.Type) error {
	if modelType == nil || modifierType == nil {
		return merr.WrapErrParameterMissing("type")
	}
	if !reflect.PointerTo(modifierType).Implements(modifierInterface) {
		return merr.WrapErrParameterInvalidMsg("%v does not implement Modifier", reflect.PointerTo(modifierType))
	}
	modelType = indirect(modelType)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.modifiers[modelType] = append(r.modifiers[modelType], modifierType)
	return nil
}

// declaredModifiers 先收集嵌入类型上的声明（深度优先，按字段顺序），再收集自身声明。
func (r *Registry) declaredModifiers(t reflect.Type) []reflect.Type {
	var out []reflect.Type
	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.Anonymous {
				continue
			}
			if ft := indirect(sf.Type); ft.Kind() == reflect.Struct {
				out = append(out, r.declaredModifiers(ft)...)
			}
		}
	}

	r.mu.RLock()
	out = append(out, r.modifiers[t]...)
	r.mu.RUnlock()
	return out
}

// RegisterType 在 DefaultRegistry 中登记类型 T，名称冲突时 panic。
func RegisterType[T any](name string) {
	if err := DefaultRegistry.Register(name, reflect.TypeFor[T]()); err != nil {
		panic(err)
	}
}

// RegisterModifier 在 DefaultRegistry 中为 TModel 声明修饰器 TModifier。
func RegisterModifier[TModel any, TModifier any, PT interface {
	*TModifier
	Modifier
}]() {
	if err := DefaultRegistry.RegisterModifier(reflect.TypeFor[TModel](), reflect.TypeFor[TModifier]()); err != nil {
		panic(err)
	}
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
