package serialization

import (
	"reflect"

	"github.com/lk2023060901/objgraph-go/internal/serialization/member"
)

// Modifier 可以拦截并改写某个模型类型的（反）序列化过程。
//
// 序列化时按修饰器链顺序调用，反序列化时按相反顺序调用。
// ShouldSerializeAsCollection/ShouldSerializeAsDictionary 返回 nil 表示交由引擎自动判断。
type Modifier interface {
	ShouldSerializeAsCollection() *bool
	ShouldSerializeAsDictionary() *bool
	ShouldIgnoreMember(ctx *Context, model any, mv *member.Value) bool

	OnSerializing(ctx *Context, model any)
	OnSerialized(ctx *Context, model any)
	OnDeserializing(ctx *Context, model any)
	OnDeserialized(ctx *Context, model any)

	SerializeMember(ctx *Context, mv *member.Value)
	DeserializeMember(ctx *Context, mv *member.Value)
}

var modifierInterface = reflect.TypeFor[Modifier]()

// ModifierBase 提供 Modifier 的空实现，具体修饰器嵌入后只需覆盖关心的方法。
type ModifierBase struct{}

var _ Modifier = (*ModifierBase)(nil)

func (*ModifierBase) ShouldSerializeAsCollection() *bool { return nil }

func (*ModifierBase) ShouldSerializeAsDictionary() *bool { return nil }

func (*ModifierBase) ShouldIgnoreMember(*Context, any, *member.Value) bool { return false }

func (*ModifierBase) OnSerializing(*Context, any) {}

func (*ModifierBase) OnSerialized(*Context, any) {}

func (*ModifierBase) OnDeserializing(*Context, any) {}

func (*ModifierBase) OnDeserialized(*Context, any) {}

func (*ModifierBase) SerializeMember(*Context, *member.Value) {}

func (*ModifierBase) DeserializeMember(*Context, *member.Value) {}
