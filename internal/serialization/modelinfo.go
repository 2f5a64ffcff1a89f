package serialization

import (
	"reflect"
	"sync"

	"github.com/lk2023060901/objgraph-go/internal/model"
	"github.com/lk2023060901/objgraph-go/internal/serialization/member"
	"github.com/lk2023060901/objgraph-go/pkg/util/typeutil"
)

// ModelInfo 为某个模型类型的成员快照，由 Manager 的缓存构建。
//
// 成员顺序固定为：模型属性（登记顺序）、普通属性（声明顺序）、字段（声明顺序）。
// 字段与属性同名时只保留属性。
type ModelInfo struct {
	ModelType reflect.Type

	CatelPropertyNames []string
	PropertyNames      []string
	FieldNames         []string

	CatelProperties map[string]*model.PropertyData
	Properties      map[string]*FieldHandle
	Fields          map[string]*FieldHandle

	memberNames []string
}

func newModelInfo(m *Manager, t reflect.Type) *ModelInfo {
	t = normalize(t)
	info := &ModelInfo{
		ModelType:       t,
		CatelProperties: make(map[string]*model.PropertyData),
		Properties:      make(map[string]*FieldHandle),
		Fields:          make(map[string]*FieldHandle),
	}

	toSerialize := m.GetPropertiesToSerialize(t)
	catel := m.GetCatelProperties(t)
	for _, pd := range model.Properties(t) {
		if _, ok := catel[pd.Name]; ok && toSerialize.Contain(pd.Name) {
			info.CatelPropertyNames = append(info.CatelPropertyNames, pd.Name)
			info.CatelProperties[pd.Name] = catel[pd.Name]
		}
	}

	regular := m.GetRegularProperties(t)
	fieldsToSerialize := m.GetFieldsToSerialize(t)
	fields := m.GetFields(t)
	for _, sf := range structFields(t) {
		if h, ok := regular[sf.Name]; ok {
			info.PropertyNames = append(info.PropertyNames, sf.Name)
			info.Properties[sf.Name] = h
			continue
		}
		if h, ok := fields[sf.Name]; ok && fieldsToSerialize.Contain(sf.Name) {
			info.FieldNames = append(info.FieldNames, sf.Name)
			info.Fields[sf.Name] = h
		}
	}

	seen := typeutil.NewSet[string]()
	for _, names := range [][]string{info.CatelPropertyNames, info.PropertyNames, info.FieldNames} {
		for _, name := range names {
			if seen.Contain(name) {
				continue
			}
			seen.Insert(name)
			info.memberNames = append(info.memberNames, name)
		}
	}
	return info
}

// MemberNames 返回去重后的成员名，顺序固定。
func (mi *ModelInfo) MemberNames() []string {
	return mi.memberNames
}

// Metadata 返回成员描述，属性优先于字段。
func (mi *ModelInfo) Metadata(name string) (member.Metadata, bool) {
	if pd, ok := mi.CatelProperties[name]; ok {
		return member.NewMetadata(mi.ModelType, pd.Type, member.GroupCatelProperty, name), true
	}
	if h, ok := mi.Properties[name]; ok {
		return h.Metadata, true
	}
	if h, ok := mi.Fields[name]; ok {
		return h.Metadata, true
	}
	return member.Metadata{}, false
}

// modelInfoCache 缓存 ModelInfo，并在 Manager 清除某个类型时同步失效。
type modelInfoCache struct {
	manager     *Manager
	infos       sync.Map // reflect.Type -> *ModelInfo
	unsubscribe func()
}

func newModelInfoCache(m *Manager) *modelInfoCache {
	c := &modelInfoCache{manager: m}
	c.unsubscribe = m.OnCacheInvalidated(func(t reflect.Type) {
		c.infos.Delete(t)
	})
	return c
}

func (c *modelInfoCache) get(t reflect.Type) *ModelInfo {
	t = normalize(t)
	if v, ok := c.infos.Load(t); ok {
		return v.(*ModelInfo)
	}
	gen := c.manager.Generation()
	info := newModelInfo(c.manager, t)
	return c.manager.storeIfCurrent(&c.infos, t, gen, info).(*ModelInfo)
}

func (c *modelInfoCache) close() {
	c.unsubscribe()
}
