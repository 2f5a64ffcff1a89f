package reference

import (
	"reflect"

	"go.uber.org/zap"

	"github.com/lk2023060901/objgraph-go/pkg/log"
)

// Info 记录一次（反）序列化会话中某个实例的图 id。
type Info struct {
	ID       int
	Instance any

	isFirstUsage bool
}

// IsFirstUsage 为 true 表示实例在本次会话中首次出现，后端应输出完整定义而非回引用。
func (i *Info) IsFirstUsage() bool {
	return i.isFirstUsage
}

// identity 以地址与动态类型区分实例，同一地址上的不同类型（例如结构体与其首字段）视为不同实例。
type identity struct {
	addr uintptr
	typ  reflect.Type
}

// Tracker 为对象图中的每个实例分配唯一 id，用于识别共享引用与循环引用。
// Tracker 仅在单次调用内使用，不可跨协程共享。
type Tracker struct {
	log.Binder

	byIdentity map[identity]*Info
	byID       map[int]*Info
	nextID     int
}

func NewTracker() *Tracker {
	return &Tracker{
		byIdentity: make(map[identity]*Info),
		byID:       make(map[int]*Info),
		nextID:     1,
	}
}

// IsTrackable 判断 instance 是否具有引用语义：非空的指针、map 或切片。
func IsTrackable(instance any) bool {
	_, ok := identityOf(instance)
	return ok
}

func identityOf(instance any) (identity, bool) {
	if instance == nil {
		return identity{}, false
	}
	rv := reflect.ValueOf(instance)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return identity{}, false
		}
		return identity{addr: rv.Pointer(), typ: rv.Type()}, true
	default:
		return identity{}, false
	}
}

// GetInfo 返回 instance 对应的引用信息。
// 首次调用时分配新 id 且 IsFirstUsage 为 true，之后的调用返回同一个 Info 且 IsFirstUsage 为 false。
// 不具备引用语义的值返回 nil。
func (t *Tracker) GetInfo(instance any) *Info {
	key, ok := identityOf(instance)
	if !ok {
		return nil
	}
	if info, ok := t.byIdentity[key]; ok {
		info.isFirstUsage = false
		return info
	}

	info := &Info{
		ID:           t.nextID,
		Instance:     instance,
		isFirstUsage: true,
	}
	t.nextID++
	t.byIdentity[key] = info
	t.byID[info.ID] = info
	return info
}

// GetInfoByID 按 id 查找，不存在时返回 nil。
func (t *Tracker) GetInfoByID(id int) *Info {
	return t.byID[id]
}

// RegisterManually 将流中读到的 id 与实例关联，实例可以尚未完成填充。
// id 已被登记时只记录警告，不覆盖已有实例。
func (t *Tracker) RegisterManually(id int, instance any) {
	if existing, ok := t.byID[id]; ok {
		t.Logger().Warn("reference id already registered, ignoring new instance",
			zap.Int("id", id),
			zap.String("existingType", typeName(existing.Instance)),
			zap.String("newType", typeName(instance)))
		return
	}

	info := &Info{
		ID:           id,
		Instance:     instance,
		isFirstUsage: true,
	}
	t.byID[id] = info
	if key, ok := identityOf(instance); ok {
		if _, seen := t.byIdentity[key]; !seen {
			t.byIdentity[key] = info
		}
	}
	if id >= t.nextID {
		t.nextID = id + 1
	}
}

// Count 返回已登记的实例数量。
func (t *Tracker) Count() int {
	return len(t.byID)
}

func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
