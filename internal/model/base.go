package model

import (
	"reflect"
	"sync"

	"go.uber.org/atomic"

	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

// Model 由所有嵌入 Base 的类型实现。
type Model interface {
	ModelBase() *Base
}

var modelInterface = reflect.TypeFor[Model]()

var (
	// IsDirtyProperty 与 IsReadOnlyProperty 为框架内部属性，不参与序列化。
	IsDirtyProperty    = RegisterProperty[Base, bool]("IsDirty", asModelBaseProperty())
	IsReadOnlyProperty = RegisterProperty[Base, bool]("IsReadOnly", asModelBaseProperty())
)

// IsModelType 判断 t（或 *t）是否嵌入了 Base。
func IsModelType(t reflect.Type) bool {
	t = indirect(t)
	if t == nil || t.Kind() != reflect.Struct {
		return false
	}
	return reflect.PointerTo(t).Implements(modelInterface)
}

// PropertyChangedEvent 描述一次经由常规路径的属性变更。
type PropertyChangedEvent struct {
	Name     string
	OldValue any
	NewValue any
}

type PropertyChangedHandler func(PropertyChangedEvent)

// Base 为框架模型提供属性存储。零值可直接使用。
//
// SetValue 走常规路径：检查只读、标记脏数据并通知订阅者；
// GetValueFast/SetValueFast 直接访问存储，不触发任何通知。
type Base struct {
	mu       sync.RWMutex
	values   map[string]any
	handlers []PropertyChangedHandler

	dirty    atomic.Bool
	readOnly atomic.Bool
}

func (b *Base) ModelBase() *Base {
	return b
}

// GetValue 返回属性值，未设置时返回 nil。
func (b *Base) GetValue(name string) any {
	v, _ := b.GetValueFast(name)
	return v
}

// SetValue 写入属性值并通知订阅者，模型只读时返回错误。
func (b *Base) SetValue(name string, value any) error {
	if b.readOnly.Load() {
		return merr.WrapErrOperationNotSupported("model is read-only", name)
	}

	b.mu.Lock()
	old := b.values[name]
	if b.values == nil {
		b.values = make(map[string]any)
	}
	b.values[name] = value
	handlers := b.handlers
	b.mu.Unlock()

	b.dirty.Store(true)
	for _, h := range handlers {
		h(PropertyChangedEvent{Name: name, OldValue: old, NewValue: value})
	}
	return nil
}

func (b *Base) GetValueFast(name string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[name]
	return v, ok
}

func (b *Base) SetValueFast(name string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.values == nil {
		b.values = make(map[string]any)
	}
	b.values[name] = value
}

// OnPropertyChanged 订阅经由 SetValue 的属性变更。
func (b *Base) OnPropertyChanged(h PropertyChangedHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers[:len(b.handlers):len(b.handlers)], h)
}

func (b *Base) IsDirty() bool {
	return b.dirty.Load()
}

func (b *Base) ClearDirty() {
	b.dirty.Store(false)
}

func (b *Base) IsReadOnly() bool {
	return b.readOnly.Load()
}

func (b *Base) SetReadOnly(v bool) {
	b.readOnly.Store(v)
}
