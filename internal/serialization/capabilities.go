package serialization

// 以下为模型可选实现的能力接口，引擎在每次访问时探测。

// RawPropertyAccessor 直接读写模型自身的属性存储，绕过校验与变更通知。
// 嵌入 model.Base 的类型自动具备该能力。
type RawPropertyAccessor interface {
	GetValueFast(name string) (any, bool)
	SetValueFast(name string, value any)
}

// PropertyGetter 允许模型自行提供某个属性的值，handled 为 false 表示交回反射处理。
type PropertyGetter interface {
	GetPropertyValue(name string) (value any, handled bool)
}

type PropertySetter interface {
	SetPropertyValue(name string, value any) (handled bool)
}

// FieldGetter 与 PropertyGetter 相同，作用于字段。
type FieldGetter interface {
	GetFieldValue(name string) (value any, handled bool)
}

type FieldSetter interface {
	SetFieldValue(name string, value any) (handled bool)
}

// MemberIgnorer 允许模型排除指定成员。
type MemberIgnorer interface {
	ShouldIgnoreMember(name string) bool
}

// CustomSerializable 完全接管模型的（反）序列化，引擎不再逐成员处理。
// ctx.Target 为后端的节点类型。
type CustomSerializable interface {
	SerializeCustom(ctx *Context) error
	DeserializeCustom(ctx *Context) error
}
