package serialization

import (
	"fmt"
	"io"
	"reflect"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/objgraph-go/internal/serialization/member"
	"github.com/lk2023060901/objgraph-go/pkg/log"
	"github.com/lk2023060901/objgraph-go/pkg/metrics"
	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
	"github.com/lk2023060901/objgraph-go/pkg/util/typeutil"
)

// CollectionMemberName 为集合或字典形态模型的唯一成员名。
const CollectionMemberName = "Items"

// Result 为后端反序列化单个成员的结果，OK 为 false 表示流中没有该成员。
type Result struct {
	Value any
	OK    bool
}

// Backend 为具体格式的实现，负责节点的读写与文档结构。
type Backend interface {
	SerializeMember(ctx *Context, mv *member.Value) error
	DeserializeMember(ctx *Context, mv *member.Value) (Result, error)
	// WarmupType 预先构建后端针对类型 t 的缓存。
	WarmupType(t reflect.Type)
	// GetContext 创建顶层上下文。反序列化时从 r 读取并解析文档，序列化时 r 为 nil。
	GetContext(model any, modelType reflect.Type, r io.Reader, mode Mode) (*Context, error)
	AppendContextToStream(ctx *Context, w io.Writer) error
}

// LifecycleHooks 为后端可选实现的生命周期回调。
type LifecycleHooks interface {
	BeforeSerialization(ctx *Context)
	AfterSerialization(ctx *Context)
	BeforeSerializeMember(ctx *Context, mv *member.Value)
	AfterSerializeMember(ctx *Context, mv *member.Value)
	BeforeDeserialization(ctx *Context)
	AfterDeserialization(ctx *Context)
	BeforeDeserializeMember(ctx *Context, mv *member.Value)
	AfterDeserializeMember(ctx *Context, mv *member.Value)
}

// NopLifecycleHooks 为 LifecycleHooks 的空实现，便于后端只覆盖需要的回调。
type NopLifecycleHooks struct{}

func (NopLifecycleHooks) BeforeSerialization(*Context)                   {}
func (NopLifecycleHooks) AfterSerialization(*Context)                    {}
func (NopLifecycleHooks) BeforeSerializeMember(*Context, *member.Value)   {}
func (NopLifecycleHooks) AfterSerializeMember(*Context, *member.Value)    {}
func (NopLifecycleHooks) BeforeDeserialization(*Context)                 {}
func (NopLifecycleHooks) AfterDeserialization(*Context)                  {}
func (NopLifecycleHooks) BeforeDeserializeMember(*Context, *member.Value) {}
func (NopLifecycleHooks) AfterDeserializeMember(*Context, *member.Value)  {}

type Option func(e *Engine)

func WithManager(m *Manager) Option {
	return func(e *Engine) {
		e.manager = m
	}
}

func WithConfiguration(cfg *Configuration) Option {
	return func(e *Engine) {
		e.config = cfg
	}
}

// WithFormat 设置 metrics 中的格式标签。
func WithFormat(name string) Option {
	return func(e *Engine) {
		e.format = name
	}
}

func WithLogger(logger *log.MLogger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine 为与格式无关的序列化引擎，负责成员枚举、修饰器、生命周期与引用追踪的编排。
// 具体格式的后端嵌入 *Engine 并在构造时将自身传入 NewEngine。
//
// 单次调用在调用方协程中同步、深度优先地遍历对象图；不同调用之间可以并发。
type Engine struct {
	log.Binder

	backend Backend
	hooks   LifecycleHooks
	manager *Manager
	adapter *ObjectAdapter
	infos   *modelInfoCache
	config  *Configuration
	events  *eventBus
	format  string
	logger  *log.MLogger
}

func NewEngine(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend: backend,
		adapter: NewObjectAdapter(),
		events:  newEventBus(),
		format:  "unknown",
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.manager == nil {
		e.manager = NewManager()
	}
	if e.config == nil {
		e.config = DefaultConfiguration()
	}
	if hooks, ok := backend.(LifecycleHooks); ok {
		e.hooks = hooks
	} else {
		e.hooks = NopLifecycleHooks{}
	}
	e.infos = newModelInfoCache(e.manager)
	if e.logger != nil {
		e.SetLogger(e.logger)
	}
	return e
}

// SetLogger 同时为引擎、成员访问器与分类器绑定 Logger。
func (e *Engine) SetLogger(logger *log.MLogger) {
	e.Binder.SetLogger(logger)
	e.adapter.SetLogger(logger)
	e.manager.SetLogger(logger)
}

func (e *Engine) Manager() *Manager {
	return e.manager
}

func (e *Engine) Registry() *Registry {
	return e.manager.Registry()
}

func (e *Engine) Configuration() *Configuration {
	return e.config
}

func (e *Engine) Adapter() *ObjectAdapter {
	return e.adapter
}

// ModelInfo 返回类型 t 的成员快照，Manager.Clear 之后会重新构建。
func (e *Engine) ModelInfo(t reflect.Type) *ModelInfo {
	return e.infos.get(t)
}

// Subscribe 订阅引擎事件，返回取消订阅的函数。
func (e *Engine) Subscribe(kind EventKind, h EventHandler) func() {
	return e.events.subscribe(kind, h)
}

// Close 取消引擎在 Manager 上的订阅。
func (e *Engine) Close() {
	e.infos.close()
}

// Serialize 将 model 写入 w。model 必须为非空指针。
func (e *Engine) Serialize(model any, w io.Writer) (err error) {
	modelType, err := modelTypeOf(model)
	if err != nil {
		return err
	}
	if w == nil {
		return merr.WrapErrParameterMissing("writer")
	}
	defer e.observe(ModeSerialization, time.Now(), &err)

	ctx, err := e.backend.GetContext(model, modelType, nil, ModeSerialization)
	if err != nil {
		return err
	}
	if err = e.SerializeContext(ctx); err != nil {
		return err
	}
	return e.backend.AppendContextToStream(ctx, w)
}

// Deserialize 从 r 读取并填充已有的 model。
func (e *Engine) Deserialize(model any, r io.Reader) (err error) {
	modelType, err := modelTypeOf(model)
	if err != nil {
		return err
	}
	if r == nil {
		return merr.WrapErrParameterMissing("reader")
	}
	defer e.observe(ModeDeserialization, time.Now(), &err)

	ctx, err := e.backend.GetContext(model, modelType, r, ModeDeserialization)
	if err != nil {
		return err
	}
	return e.DeserializeContext(ctx)
}

// DeserializeType 创建类型 t 的新实例并从 r 填充，返回指向实例的指针。
func (e *Engine) DeserializeType(t reflect.Type, r io.Reader) (any, error) {
	if t == nil {
		return nil, merr.WrapErrParameterMissing("type")
	}
	model := reflect.New(indirect(t)).Interface()
	if err := e.Deserialize(model, r); err != nil {
		return nil, err
	}
	return model, nil
}

// DeserializeAs 为 DeserializeType 的泛型版本。
func DeserializeAs[T any](e *Engine, r io.Reader) (*T, error) {
	model := new(T)
	if err := e.Deserialize(model, r); err != nil {
		return nil, err
	}
	return model, nil
}

func (e *Engine) observe(mode Mode, start time.Time, err *error) {
	status := metrics.SuccessLabel
	if *err != nil {
		status = metrics.FailLabel
	}
	metrics.SerializationTotal.WithLabelValues(e.format, mode.String(), status).Inc()
	metrics.SerializationLatency.WithLabelValues(e.format, mode.String()).
		Observe(float64(time.Since(start).Microseconds()) / 1000)
}

// SerializeContext 序列化 ctx 中的单个模型，后端对嵌套模型以子上下文递归调用。
func (e *Engine) SerializeContext(ctx *Context) error {
	model := ctx.Model
	if custom, ok := model.(CustomSerializable); ok {
		return custom.SerializeCustom(ctx)
	}
	if e.tooDeep(ctx) {
		return nil
	}

	e.events.raise(EventSerializing, ctx, nil)
	modifiers := e.manager.GetSerializerModifiers(ctx.ModelType)
	for _, m := range modifiers {
		m.OnSerializing(ctx, model)
	}
	e.hooks.BeforeSerialization(ctx)

	for _, mv := range e.GetSerializableMembers(ctx, model, modifiers) {
		e.events.raise(EventSerializingMember, ctx, mv)
		e.hooks.BeforeSerializeMember(ctx, mv)
		for _, m := range modifiers {
			m.SerializeMember(ctx, mv)
		}
		if err := e.serializeMember(ctx, mv); err != nil {
			metrics.MemberFailures.WithLabelValues(ModeSerialization.String()).Inc()
			e.Logger().Warn("failed to serialize member, skipping",
				log.FieldModelType(ctx.ModelType), log.FieldMember(mv.Name), zap.Error(err))
		}
		e.hooks.AfterSerializeMember(ctx, mv)
		e.events.raise(EventSerializedMember, ctx, mv)
	}

	e.hooks.AfterSerialization(ctx)
	for _, m := range modifiers {
		m.OnSerialized(ctx, model)
	}
	e.events.raise(EventSerialized, ctx, nil)
	return nil
}

func (e *Engine) serializeMember(ctx *Context, mv *member.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = merr.WrapErrMemberAccessFailed(ctx.ModelType, mv.Name, r)
		}
	}()
	return e.backend.SerializeMember(ctx, mv)
}

// GetSerializableMembers 返回模型需要输出的成员及其当前值。
// 集合或字典形态的模型只有一个成员 Items。
func (e *Engine) GetSerializableMembers(ctx *Context, model any, modifiers []Modifier) []*member.Value {
	if group, ok := e.collectionGroup(ctx.ModelType, modifiers); ok {
		value := reflect.ValueOf(model).Elem().Interface()
		return []*member.Value{member.NewValue(group, ctx.ModelType, ctx.ModelType, CollectionMemberName, value)}
	}

	info := e.ModelInfo(ctx.ModelType)
	ignorer, _ := model.(MemberIgnorer)
	seen := typeutil.NewSet[string]()
	members := make([]*member.Value, 0, len(info.MemberNames()))
	for _, name := range info.MemberNames() {
		if seen.Contain(name) || (ignorer != nil && ignorer.ShouldIgnoreMember(name)) {
			continue
		}
		seen.Insert(name)

		mv, ok := e.adapter.GetValue(model, name, info)
		if !ok {
			continue
		}
		if ignoredByModifiers(ctx, model, mv, modifiers) {
			continue
		}
		members = append(members, mv)
	}
	return members
}

// membersToDeserialize 返回模型的成员描述，值为空，等待后端填充。
func (e *Engine) membersToDeserialize(ctx *Context, model any, modifiers []Modifier) []*member.Value {
	if group, ok := e.collectionGroup(ctx.ModelType, modifiers); ok {
		return []*member.Value{member.NewValue(group, ctx.ModelType, ctx.ModelType, CollectionMemberName, nil)}
	}

	info := e.ModelInfo(ctx.ModelType)
	ignorer, _ := model.(MemberIgnorer)
	members := make([]*member.Value, 0, len(info.MemberNames()))
	for _, name := range info.MemberNames() {
		if ignorer != nil && ignorer.ShouldIgnoreMember(name) {
			continue
		}
		md, ok := info.Metadata(name)
		if !ok {
			continue
		}
		mv := member.FromMetadata(md)
		if ignoredByModifiers(ctx, model, mv, modifiers) {
			continue
		}
		members = append(members, mv)
	}
	return members
}

func ignoredByModifiers(ctx *Context, model any, mv *member.Value, modifiers []Modifier) bool {
	for _, m := range modifiers {
		if m.ShouldIgnoreMember(ctx, model, mv) {
			return true
		}
	}
	return false
}

// collectionGroup 判断模型是否按集合或字典处理。
// map 默认为字典，修饰器可以要求将其作为键值对集合输出；切片与数组总是集合。
func (e *Engine) collectionGroup(t reflect.Type, modifiers []Modifier) (member.Group, bool) {
	switch t.Kind() {
	case reflect.Map:
		for _, m := range modifiers {
			if asDict := m.ShouldSerializeAsDictionary(); asDict != nil {
				if *asDict {
					return member.GroupDictionary, true
				}
				return member.GroupCollection, true
			}
		}
		return member.GroupDictionary, true
	case reflect.Slice, reflect.Array:
		for _, m := range modifiers {
			if asCollection := m.ShouldSerializeAsCollection(); asCollection != nil && !*asCollection {
				e.Logger().Debug("slice models are always serialized as collections", log.FieldModelType(t))
				break
			}
		}
		return member.GroupCollection, true
	default:
		return 0, false
	}
}

// DeserializeContext 反序列化 ctx 中的单个模型。修饰器按与序列化相反的顺序执行。
func (e *Engine) DeserializeContext(ctx *Context) error {
	model := ctx.Model
	if custom, ok := model.(CustomSerializable); ok {
		return custom.DeserializeCustom(ctx)
	}
	if e.tooDeep(ctx) {
		return nil
	}

	e.events.raise(EventDeserializing, ctx, nil)
	modifiers := slices.Clone(e.manager.GetSerializerModifiers(ctx.ModelType))
	slices.Reverse(modifiers)
	for _, m := range modifiers {
		m.OnDeserializing(ctx, model)
	}
	e.hooks.BeforeDeserialization(ctx)

	var deserialized []*member.Value
	for _, mv := range e.membersToDeserialize(ctx, model, modifiers) {
		e.events.raise(EventDeserializingMember, ctx, mv)
		e.hooks.BeforeDeserializeMember(ctx, mv)

		ok, err := e.deserializeMember(ctx, mv)
		if err != nil {
			if errors.Is(err, merr.ErrOperationNotSupported) {
				return err
			}
			metrics.MemberFailures.WithLabelValues(ModeDeserialization.String()).Inc()
			e.Logger().Warn("failed to deserialize member, skipping",
				log.FieldModelType(ctx.ModelType), log.FieldMember(mv.Name), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		for _, m := range modifiers {
			m.DeserializeMember(ctx, mv)
		}
		e.hooks.AfterDeserializeMember(ctx, mv)
		e.events.raise(EventDeserializedMember, ctx, mv)
		deserialized = append(deserialized, mv)
	}

	if len(deserialized) > 0 && deserialized[0].Group.IsSequence() {
		if err := populateCollection(model, deserialized[0].Value()); err != nil {
			return err
		}
	} else {
		info := e.ModelInfo(ctx.ModelType)
		for _, mv := range deserialized {
			e.adapter.SetValue(model, mv, info)
		}
	}

	e.hooks.AfterDeserialization(ctx)
	for _, m := range modifiers {
		m.OnDeserialized(ctx, model)
	}
	e.events.raise(EventDeserialized, ctx, nil)
	return nil
}

func (e *Engine) deserializeMember(ctx *Context, mv *member.Value) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, merr.WrapErrMemberAccessFailed(ctx.ModelType, mv.Name, r)
		}
	}()

	result, err := e.backend.DeserializeMember(ctx, mv)
	if err != nil || !result.OK {
		return false, err
	}
	value, err := Coerce(result.Value, mv.MemberType)
	if err != nil {
		return false, err
	}
	mv.SetValue(value)
	return true, nil
}

// populateCollection 清空集合或字典形态的模型后逐项填充，不替换容器本身。
func populateCollection(model any, value any) error {
	target := reflect.ValueOf(model).Elem()
	var src reflect.Value
	if !member.IsNil(value) {
		src = reflect.ValueOf(value)
		if src.Type() != target.Type() {
			return merr.WrapErrOperationNotSupported(
				fmt.Sprintf("cannot populate %v from %v", target.Type(), src.Type()))
		}
	}

	switch target.Kind() {
	case reflect.Map:
		if target.IsNil() {
			target.Set(reflect.MakeMap(target.Type()))
		} else {
			target.Clear()
		}
		if src.IsValid() {
			iter := src.MapRange()
			for iter.Next() {
				target.SetMapIndex(iter.Key(), iter.Value())
			}
		}
	case reflect.Slice:
		items := target.Slice(0, 0)
		if src.IsValid() {
			items = reflect.AppendSlice(items, src)
		}
		target.Set(items)
	case reflect.Array:
		target.SetZero()
		if src.IsValid() {
			reflect.Copy(target, src)
		}
	default:
		return merr.WrapErrOperationNotSupported(fmt.Sprintf("%v is not a collection", target.Type()))
	}
	return nil
}

func (e *Engine) tooDeep(ctx *Context) bool {
	maxDepth := DefaultMaxDepth
	if ctx.Configuration != nil && ctx.Configuration.MaxDepth > 0 {
		maxDepth = ctx.Configuration.MaxDepth
	}
	if ctx.Depth <= maxDepth {
		return false
	}
	e.Logger().Warn("max depth exceeded, skipping nested model",
		log.FieldModelType(ctx.ModelType), zap.Int("depth", ctx.Depth), zap.Int("maxDepth", maxDepth))
	return true
}

func modelTypeOf(model any) (reflect.Type, error) {
	if member.IsNil(model) {
		return nil, merr.WrapErrParameterMissing("model")
	}
	t := reflect.TypeOf(model)
	if t.Kind() != reflect.Pointer {
		return nil, merr.WrapErrParameterInvalidMsg("model must be a pointer, got %v", t)
	}
	return t.Elem(), nil
}
