package member

import (
	"fmt"
	"reflect"
)

// Group 为成员分组，决定成员的发现规则与后端的输出方式。
type Group int

const (
	GroupCatelProperty Group = iota
	GroupRegularProperty
	GroupField
	GroupCollection
	GroupDictionary
)

var groupNames = map[Group]string{
	GroupCatelProperty:   "CatelProperty",
	GroupRegularProperty: "RegularProperty",
	GroupField:           "Field",
	GroupCollection:      "Collection",
	GroupDictionary:      "Dictionary",
}

func (g Group) String() string {
	if name, ok := groupNames[g]; ok {
		return name
	}
	return fmt.Sprintf("Group(%d)", int(g))
}

// IsSequence 表示该分组的值由后端输出为有序元素序列。
func (g Group) IsSequence() bool {
	return g == GroupCollection || g == GroupDictionary
}

// Metadata 描述一个成员，创建后不再修改。
type Metadata struct {
	ContainingType reflect.Type
	MemberType     reflect.Type
	Group          Group
	Name           string
}

func NewMetadata(containingType, memberType reflect.Type, group Group, name string) Metadata {
	return Metadata{
		ContainingType: containingType,
		MemberType:     memberType,
		Group:          group,
		Name:           name,
	}
}

// Equal 按所属类型、名称与分组比较。
func (m Metadata) Equal(other Metadata) bool {
	return m.ContainingType == other.ContainingType &&
		m.Name == other.Name &&
		m.Group == other.Group
}

func (m Metadata) String() string {
	return fmt.Sprintf("%v.%s(%s)", m.ContainingType, m.Name, m.Group)
}

// Value 携带单次（反）序列化过程中某个成员的当前值。
// 每次设置值时同时记录值的实际类型，用于多态成员。
type Value struct {
	Group      Group
	ModelType  reflect.Type
	MemberType reflect.Type
	Name       string

	value      any
	actualType reflect.Type
}

func NewValue(group Group, modelType, memberType reflect.Type, name string, value any) *Value {
	mv := &Value{
		Group:      group,
		ModelType:  modelType,
		MemberType: memberType,
		Name:       name,
	}
	mv.SetValue(value)
	return mv
}

// FromMetadata 基于成员描述创建一个空值。
func FromMetadata(md Metadata) *Value {
	return NewValue(md.Group, md.ContainingType, md.MemberType, md.Name, nil)
}

func (v *Value) Value() any {
	return v.value
}

// SetValue 设置成员值，值为空时实际类型同样为空。
func (v *Value) SetValue(value any) {
	v.value = value
	if IsNil(value) {
		v.actualType = nil
		return
	}
	v.actualType = reflect.TypeOf(value)
}

// ActualMemberType 返回当前值的运行时类型。
func (v *Value) ActualMemberType() reflect.Type {
	return v.actualType
}

func (v *Value) IsNil() bool {
	return v.actualType == nil
}

func (v *Value) Metadata() Metadata {
	return NewMetadata(v.ModelType, v.MemberType, v.Group, v.Name)
}

// KeyValuePair 是字典在反序列化过程中的中间表示。
type KeyValuePair struct {
	Key   any
	Value any
}

// IsNil 判断 v 是否为空：nil 接口，或为 nil 的指针、map、切片、接口、函数、通道。
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
