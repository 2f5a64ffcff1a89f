package serialization

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lk2023060901/objgraph-go/internal/model"
	"github.com/lk2023060901/objgraph-go/internal/serialization/member"
	"github.com/lk2023060901/objgraph-go/pkg/log"
	"github.com/lk2023060901/objgraph-go/pkg/metrics"
	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
	"github.com/lk2023060901/objgraph-go/pkg/util/typeutil"
)

// 缓存桶名称，同时作为 metrics 标签。
const (
	cacheFieldsToSerialize     = "fields_to_serialize"
	cachePropertiesToSerialize = "properties_to_serialize"
	cacheCatelPropertyNames    = "catel_property_names"
	cacheCatelProperties       = "catel_properties"
	cacheRegularPropertyNames  = "regular_property_names"
	cacheRegularProperties     = "regular_properties"
	cacheFieldNames            = "field_names"
	cacheFields                = "fields"
	cacheModifiers             = "modifiers"
)

// FieldHandle 描述一个结构体字段成员及其反射索引路径。
type FieldHandle struct {
	member.Metadata
	Index []int
}

// Manager 按类型发现并缓存参与序列化的成员与修饰器链。
//
// 每个缓存桶独立填充，并发填充时先写入者生效。Clear 在同一把锁内清除某个类型的所有桶并推进失效代数，
// 释放锁之后再触发一次失效事件。计算期间发生过 Clear 的结果只返回给调用方，不写回缓存。
type Manager struct {
	log.Binder

	registry *Registry

	fieldsToSerialize     sync.Map // reflect.Type -> typeutil.Set[string]
	propertiesToSerialize sync.Map // reflect.Type -> typeutil.Set[string]
	catelPropertyNames    sync.Map // reflect.Type -> typeutil.Set[string]
	catelProperties       sync.Map // reflect.Type -> map[string]*model.PropertyData
	regularPropertyNames  sync.Map // reflect.Type -> typeutil.Set[string]
	regularProperties     sync.Map // reflect.Type -> map[string]*FieldHandle
	fieldNames            sync.Map // reflect.Type -> typeutil.Set[string]
	fields                sync.Map // reflect.Type -> map[string]*FieldHandle
	modifiers             sync.Map // reflect.Type -> []Modifier
	modifierInstances     sync.Map // modifier reflect.Type -> Modifier

	sf         singleflight.Group
	clearMu    sync.Mutex
	generation atomic.Uint64

	subMu       sync.RWMutex
	subscribers map[uint64]func(reflect.Type)
	nextSubID   uint64
}

func NewManager() *Manager {
	return NewManagerWithRegistry(DefaultRegistry)
}

func NewManagerWithRegistry(registry *Registry) *Manager {
	if registry == nil {
		registry = DefaultRegistry
	}
	return &Manager{
		registry:    registry,
		subscribers: make(map[uint64]func(reflect.Type)),
	}
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// normalize 去掉指针并校验参数，nil 类型属于调用方误用，直接 panic。
func normalize(t reflect.Type) reflect.Type {
	if t == nil {
		panic(merr.WrapErrParameterMissing("type", "serialization manager"))
	}
	return indirect(t)
}

func cached[T any](m *Manager, cache *sync.Map, bucket string, t reflect.Type, compute func() T) T {
	if v, ok := cache.Load(t); ok {
		return v.(T)
	}
	key := fmt.Sprintf("%s:%x", bucket, reflect.ValueOf(t).Pointer())
	v, _, _ := m.sf.Do(key, func() (any, error) {
		if v, ok := cache.Load(t); ok {
			return v, nil
		}
		metrics.ClassifierCacheMisses.WithLabelValues(bucket).Inc()
		gen := m.generation.Load()
		return m.storeIfCurrent(cache, t, gen, compute()), nil
	})
	return v.(T)
}

// Generation 返回缓存失效代数，每次 Clear 加一。
func (m *Manager) Generation() uint64 {
	return m.generation.Load()
}

// storeIfCurrent 仅当计算开始后没有发生 Clear 时写入缓存，返回应交给调用方的值。
func (m *Manager) storeIfCurrent(cache *sync.Map, t reflect.Type, gen uint64, v any) any {
	m.clearMu.Lock()
	defer m.clearMu.Unlock()
	if m.generation.Load() != gen {
		return v
	}
	actual, _ := cache.LoadOrStore(t, v)
	return actual
}

// GetFieldsToSerialize 返回显式标记了 graph:"include" 的非导出字段，字段不会被自动发现。
func (m *Manager) GetFieldsToSerialize(t reflect.Type) typeutil.Set[string] {
	t = normalize(t)
	return cached(m, &m.fieldsToSerialize, cacheFieldsToSerialize, t, func() typeutil.Set[string] {
		set := typeutil.NewSet[string]()
		for _, sf := range structFields(t) {
			if !sf.IsExported() && parseTag(sf).optedIn() {
				set.Insert(sf.Name)
			}
		}
		return set
	})
}

// GetPropertiesToSerialize 返回参与序列化的模型属性与显式包含的导出字段。
func (m *Manager) GetPropertiesToSerialize(t reflect.Type) typeutil.Set[string] {
	t = normalize(t)
	return cached(m, &m.propertiesToSerialize, cachePropertiesToSerialize, t, func() typeutil.Set[string] {
		set := typeutil.NewSet[string]()
		m.collectCatelProperties(t, set)
		for _, sf := range structFields(t) {
			if sf.IsExported() && parseTag(sf).optedIn() {
				set.Insert(sf.Name)
			}
		}
		return set
	})
}

func (m *Manager) collectCatelProperties(t reflect.Type, set typeutil.Set[string]) {
	logger := m.Logger().With(log.FieldModelType(t))
	for _, pd := range model.Properties(t) {
		switch {
		case pd.IsModelBaseProperty:
		case pd.Dynamic:
			set.Insert(pd.Name)
		case pd.Exclude:
			logger.Debug("property excluded by marker", log.FieldMember(pd.Name))
		case !pd.IncludeInSerialization:
			logger.Debug("property excluded by IncludeInSerialization flag", log.FieldMember(pd.Name))
		case pd.IsSerializable, model.IsModelType(pd.Type), pd.ForceInclude:
			set.Insert(pd.Name)
		default:
			logger.Warn("property is not serializable, skipping", log.FieldMember(pd.Name),
				zap.Stringer("propertyType", pd.Type))
		}
	}
}

// GetCatelPropertyNames 返回模型目录中登记的全部属性名，不含框架内部属性。
func (m *Manager) GetCatelPropertyNames(t reflect.Type) typeutil.Set[string] {
	t = normalize(t)
	return cached(m, &m.catelPropertyNames, cacheCatelPropertyNames, t, func() typeutil.Set[string] {
		return typeutil.NewSet(lo.Keys(m.GetCatelProperties(t))...)
	})
}

func (m *Manager) GetCatelProperties(t reflect.Type) map[string]*model.PropertyData {
	t = normalize(t)
	return cached(m, &m.catelProperties, cacheCatelProperties, t, func() map[string]*model.PropertyData {
		props := make(map[string]*model.PropertyData)
		for _, pd := range model.Properties(t) {
			if !pd.IsModelBaseProperty {
				props[pd.Name] = pd
			}
		}
		return props
	})
}

// GetRegularPropertyNames 为参与序列化的属性减去模型属性，同名时模型属性优先。
func (m *Manager) GetRegularPropertyNames(t reflect.Type) typeutil.Set[string] {
	t = normalize(t)
	return cached(m, &m.regularPropertyNames, cacheRegularPropertyNames, t, func() typeutil.Set[string] {
		return m.GetPropertiesToSerialize(t).Complement(m.GetCatelPropertyNames(t))
	})
}

func (m *Manager) GetRegularProperties(t reflect.Type) map[string]*FieldHandle {
	t = normalize(t)
	return cached(m, &m.regularProperties, cacheRegularProperties, t, func() map[string]*FieldHandle {
		names := m.GetRegularPropertyNames(t)
		handles := make(map[string]*FieldHandle, names.Len())
		for _, sf := range structFields(t) {
			if sf.IsExported() && names.Contain(sf.Name) {
				handles[sf.Name] = newFieldHandle(t, sf, member.GroupRegularProperty)
			}
		}
		return handles
	})
}

// GetFieldNames 返回全部非导出字段名，是否参与序列化见 GetFieldsToSerialize。
func (m *Manager) GetFieldNames(t reflect.Type) typeutil.Set[string] {
	t = normalize(t)
	return cached(m, &m.fieldNames, cacheFieldNames, t, func() typeutil.Set[string] {
		return typeutil.NewSet(lo.Keys(m.GetFields(t))...)
	})
}

func (m *Manager) GetFields(t reflect.Type) map[string]*FieldHandle {
	t = normalize(t)
	return cached(m, &m.fields, cacheFields, t, func() map[string]*FieldHandle {
		handles := make(map[string]*FieldHandle)
		for _, sf := range structFields(t) {
			if !sf.IsExported() {
				handles[sf.Name] = newFieldHandle(t, sf, member.GroupField)
			}
		}
		return handles
	})
}

// GetSerializerModifiers 返回类型的修饰器链：声明顺序反转，最后声明的最先执行。
// 每种修饰器类型只实例化一次，在不同模型类型之间共享。
func (m *Manager) GetSerializerModifiers(t reflect.Type) []Modifier {
	t = normalize(t)
	return cached(m, &m.modifiers, cacheModifiers, t, func() []Modifier {
		declared := lo.Uniq(m.registry.declaredModifiers(t))
		slices.Reverse(declared)
		return lo.Map(declared, func(mt reflect.Type, _ int) Modifier {
			return m.modifierInstance(mt)
		})
	})
}

func (m *Manager) modifierInstance(mt reflect.Type) Modifier {
	if v, ok := m.modifierInstances.Load(mt); ok {
		return v.(Modifier)
	}
	instance := reflect.New(mt).Interface().(Modifier)
	actual, _ := m.modifierInstances.LoadOrStore(mt, instance)
	return actual.(Modifier)
}

// Warmup 填充类型 t 的所有缓存，可重复调用，也可以对不同类型并发调用。
func (m *Manager) Warmup(t reflect.Type) {
	t = normalize(t)
	m.GetFieldsToSerialize(t)
	m.GetPropertiesToSerialize(t)
	m.GetCatelPropertyNames(t)
	m.GetCatelProperties(t)
	m.GetRegularPropertyNames(t)
	m.GetRegularProperties(t)
	m.GetFieldNames(t)
	m.GetFields(t)
	m.GetSerializerModifiers(t)
}

// Clear 清除类型 t 的全部缓存，锁释放后触发一次失效事件。
func (m *Manager) Clear(t reflect.Type) {
	t = normalize(t)

	m.clearMu.Lock()
	for _, cache := range []*sync.Map{
		&m.fieldsToSerialize,
		&m.propertiesToSerialize,
		&m.catelPropertyNames,
		&m.catelProperties,
		&m.regularPropertyNames,
		&m.regularProperties,
		&m.fieldNames,
		&m.fields,
		&m.modifiers,
	} {
		cache.Delete(t)
	}
	m.generation.Inc()
	m.clearMu.Unlock()

	metrics.ClassifierCacheInvalidations.Inc()
	m.Logger().Debug("serialization cache cleared", log.FieldModelType(t))
	m.raiseCacheInvalidated(t)
}

// OnCacheInvalidated 订阅缓存失效事件，返回取消订阅的函数。
func (m *Manager) OnCacheInvalidated(fn func(reflect.Type)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.nextSubID++
	id := m.nextSubID
	m.subscribers[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subscribers, id)
	}
}

func (m *Manager) raiseCacheInvalidated(t reflect.Type) {
	m.subMu.RLock()
	subs := lo.Values(m.subscribers)
	m.subMu.RUnlock()
	for _, fn := range subs {
		fn(t)
	}
}

// structFields 按声明顺序返回可见字段，嵌入的结构体本身不作为成员。
func structFields(t reflect.Type) []reflect.StructField {
	if t.Kind() != reflect.Struct {
		return nil
	}
	return lo.Filter(reflect.VisibleFields(t), func(sf reflect.StructField, _ int) bool {
		return !sf.Anonymous && sf.Name != "_"
	})
}

func newFieldHandle(t reflect.Type, sf reflect.StructField, group member.Group) *FieldHandle {
	return &FieldHandle{
		Metadata: member.NewMetadata(t, sf.Type, group, sf.Name),
		Index:    sf.Index,
	}
}
