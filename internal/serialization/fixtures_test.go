package serialization

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/lk2023060901/objgraph-go/internal/serialization/member"
	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

// recorder 按调用顺序记录修饰器、钩子与事件。
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	calls := r.calls
	r.calls = nil
	return calls
}

func (r *recorder) withSuffix(suffix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if strings.HasSuffix(c, suffix) {
			out = append(out, c)
		}
	}
	return out
}

// calls 由修饰器使用：修饰器由 Manager 通过反射实例化，无法注入依赖。
var calls = &recorder{}

type firstModifier struct {
	ModifierBase
}

func (m *firstModifier) OnSerializing(*Context, any)   { calls.add("first:OnSerializing") }
func (m *firstModifier) OnSerialized(*Context, any)    { calls.add("first:OnSerialized") }
func (m *firstModifier) OnDeserializing(*Context, any) { calls.add("first:OnDeserializing") }
func (m *firstModifier) OnDeserialized(*Context, any)  { calls.add("first:OnDeserialized") }

func (m *firstModifier) SerializeMember(_ *Context, mv *member.Value) {
	calls.add("first:SerializeMember:%s", mv.Name)
}

func (m *firstModifier) DeserializeMember(_ *Context, mv *member.Value) {
	calls.add("first:DeserializeMember:%s", mv.Name)
}

type secondModifier struct {
	ModifierBase
}

func (m *secondModifier) OnSerializing(*Context, any)   { calls.add("second:OnSerializing") }
func (m *secondModifier) OnDeserializing(*Context, any) { calls.add("second:OnDeserializing") }

type ignoreSecretModifier struct {
	ModifierBase
}

func (m *ignoreSecretModifier) ShouldIgnoreMember(_ *Context, _ any, mv *member.Value) bool {
	return mv.Name == "Secret"
}

type pairsModifier struct {
	ModifierBase
}

func (m *pairsModifier) ShouldSerializeAsDictionary() *bool {
	asDictionary := false
	return &asDictionary
}

type widget struct {
	Name   string `graph:"include"`
	Count  int    `graph:"include"`
	Secret string `graph:"include"`
	note   string `graph:"include"`
	Skip   string
}

type gadget struct {
	widget
	Extra string `graph:"include"`
}

type single struct {
	Value int `graph:"include"`
}

type filtered struct {
	Kept    string `graph:"include"`
	Dropped string `graph:"include"`
}

func (filtered) ShouldIgnoreMember(name string) bool {
	return name == "Dropped"
}

type opaque struct {
	payload string
}

func (o *opaque) SerializeCustom(ctx *Context) error {
	ctx.Target.(map[string]any)["payload"] = strings.ToUpper(o.payload)
	return nil
}

func (o *opaque) DeserializeCustom(ctx *Context) error {
	o.payload = strings.ToLower(ctx.Target.(map[string]any)["payload"].(string))
	return nil
}

type pairs map[string]int

// memBackend 将文档保存在内存中，写入流的只是文档编号。
type memBackend struct {
	mu      sync.Mutex
	docs    map[string]map[string]any
	warmed  []reflect.Type
	failOn  string
	panicOn string
}

func newMemBackend() *memBackend {
	return &memBackend{docs: make(map[string]map[string]any)}
}

func (b *memBackend) SerializeMember(ctx *Context, mv *member.Value) error {
	calls.add("backend:write:%s", mv.Name)
	switch mv.Name {
	case b.failOn:
		return merr.WrapErrMemberAccessFailed(ctx.ModelType, mv.Name, "refused")
	case b.panicOn:
		panic("backend exploded")
	}
	ctx.Target.(map[string]any)[mv.Name] = mv.Value()
	return nil
}

func (b *memBackend) DeserializeMember(ctx *Context, mv *member.Value) (Result, error) {
	calls.add("backend:read:%s", mv.Name)
	v, ok := ctx.Target.(map[string]any)[mv.Name]
	if !ok {
		return Result{}, nil
	}
	return Result{Value: v, OK: true}, nil
}

func (b *memBackend) WarmupType(t reflect.Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.warmed = append(b.warmed, t)
}

func (b *memBackend) GetContext(model any, modelType reflect.Type, r io.Reader, mode Mode) (*Context, error) {
	if mode == ModeSerialization {
		return NewContext(model, modelType, mode, map[string]any{}, nil), nil
	}
	key, err := io.ReadAll(r)
	if err != nil {
		return nil, merr.WrapErrIoFailed("read", err)
	}
	b.mu.Lock()
	doc, ok := b.docs[string(key)]
	b.mu.Unlock()
	if !ok {
		return nil, merr.WrapErrStreamCorrupted("unknown document " + string(key))
	}
	return NewContext(model, modelType, mode, doc, nil), nil
}

func (b *memBackend) AppendContextToStream(ctx *Context, w io.Writer) error {
	b.mu.Lock()
	key := fmt.Sprintf("doc-%d", len(b.docs))
	b.docs[key] = ctx.Target.(map[string]any)
	b.mu.Unlock()
	_, err := io.WriteString(w, key)
	return err
}

func (b *memBackend) doc(key string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.docs[key]
}

func (b *memBackend) BeforeSerialization(*Context) { calls.add("hook:BeforeSerialization") }
func (b *memBackend) AfterSerialization(*Context)  { calls.add("hook:AfterSerialization") }

func (b *memBackend) BeforeSerializeMember(_ *Context, mv *member.Value) {
	calls.add("hook:BeforeSerializeMember:%s", mv.Name)
}

func (b *memBackend) AfterSerializeMember(_ *Context, mv *member.Value) {
	calls.add("hook:AfterSerializeMember:%s", mv.Name)
}

func (b *memBackend) BeforeDeserialization(*Context) { calls.add("hook:BeforeDeserialization") }
func (b *memBackend) AfterDeserialization(*Context)  { calls.add("hook:AfterDeserialization") }

func (b *memBackend) BeforeDeserializeMember(_ *Context, mv *member.Value) {
	calls.add("hook:BeforeDeserializeMember:%s", mv.Name)
}

func (b *memBackend) AfterDeserializeMember(_ *Context, mv *member.Value) {
	calls.add("hook:AfterDeserializeMember:%s", mv.Name)
}
