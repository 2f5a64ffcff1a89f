package serialization

import (
	"fmt"
	"reflect"
	"unsafe"

	"go.uber.org/zap"

	"github.com/lk2023060901/objgraph-go/internal/serialization/member"
	"github.com/lk2023060901/objgraph-go/pkg/log"
	"github.com/lk2023060901/objgraph-go/pkg/metrics"
	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

// ObjectAdapter 负责在模型实例上读写成员值。
//
// 读取顺序：模型属性的快速存取，普通属性（先询问 PropertyGetter，再反射），
// 字段（先询问 FieldGetter，再反射）。写入顺序与之对称。
// 模型代码中的 panic 在此处被恢复并记录为警告，对应成员视为缺失。
type ObjectAdapter struct {
	log.Binder
}

func NewObjectAdapter() *ObjectAdapter {
	return &ObjectAdapter{}
}

// GetValue 读取成员值，失败时返回 false。
func (a *ObjectAdapter) GetValue(model any, name string, info *ModelInfo) (mv *member.Value, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.memberFailed(ModeSerialization, info.ModelType, name, r)
			mv, ok = nil, false
		}
	}()

	if pd, found := info.CatelProperties[name]; found {
		if raw, isRaw := model.(RawPropertyAccessor); isRaw {
			value, exists := raw.GetValueFast(name)
			if !exists {
				value = pd.DefaultValue
			}
			return member.NewValue(member.GroupCatelProperty, info.ModelType, pd.Type, name, value), true
		}
	}

	if h, found := info.Properties[name]; found {
		if getter, isGetter := model.(PropertyGetter); isGetter {
			if value, handled := getter.GetPropertyValue(name); handled {
				return member.NewValue(h.Group, info.ModelType, h.MemberType, name, value), true
			}
		}
		return a.reflectGet(model, h)
	}

	if h, found := info.Fields[name]; found {
		if getter, isGetter := model.(FieldGetter); isGetter {
			if value, handled := getter.GetFieldValue(name); handled {
				return member.NewValue(h.Group, info.ModelType, h.MemberType, name, value), true
			}
		}
		return a.reflectGet(model, h)
	}

	a.memberMissing(info.ModelType, name)
	return nil, false
}

// SetValue 将 mv 写回模型，失败时返回 false。
func (a *ObjectAdapter) SetValue(model any, mv *member.Value, info *ModelInfo) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.memberFailed(ModeDeserialization, info.ModelType, mv.Name, r)
			ok = false
		}
	}()

	name := mv.Name
	if _, found := info.CatelProperties[name]; found {
		if raw, isRaw := model.(RawPropertyAccessor); isRaw {
			raw.SetValueFast(name, mv.Value())
			return true
		}
	}

	if h, found := info.Properties[name]; found {
		if setter, isSetter := model.(PropertySetter); isSetter && setter.SetPropertyValue(name, mv.Value()) {
			return true
		}
		return a.reflectSet(model, h, mv.Value())
	}

	if h, found := info.Fields[name]; found {
		if setter, isSetter := model.(FieldSetter); isSetter && setter.SetFieldValue(name, mv.Value()) {
			return true
		}
		return a.reflectSet(model, h, mv.Value())
	}

	a.memberMissing(info.ModelType, name)
	return false
}

func (a *ObjectAdapter) reflectGet(model any, h *FieldHandle) (*member.Value, bool) {
	field, err := fieldOf(model, h)
	if err != nil {
		a.memberFailed(ModeSerialization, h.ContainingType, h.Name, err)
		return nil, false
	}
	return member.NewValue(h.Group, h.ContainingType, h.MemberType, h.Name, field.Interface()), true
}

func (a *ObjectAdapter) reflectSet(model any, h *FieldHandle, value any) bool {
	field, err := fieldOf(model, h)
	if err == nil {
		err = assign(field, value)
	}
	if err != nil {
		a.memberFailed(ModeDeserialization, h.ContainingType, h.Name, err)
		return false
	}
	return true
}

// fieldOf 返回可读写的字段，非导出字段通过 reflect.NewAt 访问。
func fieldOf(model any, h *FieldHandle) (reflect.Value, error) {
	rv := reflect.ValueOf(model)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return reflect.Value{}, merr.WrapErrParameterInvalidMsg("model must be a non-nil pointer, got %T", model)
	}
	field, err := rv.Elem().FieldByIndexErr(h.Index)
	if err != nil {
		return reflect.Value{}, err
	}
	if !field.CanInterface() {
		field = reflect.NewAt(field.Type(), unsafe.Pointer(field.UnsafeAddr())).Elem()
	}
	return field, nil
}

func assign(field reflect.Value, value any) error {
	if member.IsNil(value) {
		field.SetZero()
		return nil
	}
	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(field.Type()):
		field.Set(rv)
	case rv.Type().ConvertibleTo(field.Type()) && (field.Kind() != reflect.String || rv.Kind() == reflect.String):
		field.Set(rv.Convert(field.Type()))
	default:
		return merr.WrapErrTypeMismatch(field.Type(), rv.Type())
	}
	return nil
}

func (a *ObjectAdapter) memberFailed(mode Mode, modelType reflect.Type, name string, cause any) {
	metrics.MemberFailures.WithLabelValues(mode.String()).Inc()
	fields := []zap.Field{log.FieldModelType(modelType), log.FieldMember(name)}
	if err, ok := cause.(error); ok {
		fields = append(fields, zap.Error(err))
	} else {
		fields = append(fields, zap.String("panic", fmt.Sprint(cause)))
	}
	a.Logger().Warn("failed to access member, skipping", fields...)
}

func (a *ObjectAdapter) memberMissing(modelType reflect.Type, name string) {
	a.Logger().RatedWarn(1, "member not found on model, skipping",
		log.FieldModelType(modelType), log.FieldMember(name))
}
