package serialization

import (
	"reflect"

	"github.com/lk2023060901/objgraph-go/internal/serialization/reference"
)

type Mode int

const (
	ModeSerialization Mode = iota
	ModeDeserialization
)

func (m Mode) String() string {
	if m == ModeDeserialization {
		return "deserialize"
	}
	return "serialize"
}

// Context 为单个模型的（反）序列化上下文。
// 嵌套模型通过 Child 创建子上下文，共享同一个引用追踪器与配置。
type Context struct {
	Model     any
	ModelType reflect.Type
	Mode      Mode
	// Target 为后端的节点，例如 XML 元素或 JSON 对象。
	Target        any
	References    *reference.Tracker
	Depth         int
	Configuration *Configuration
	Parent        *Context
}

func NewContext(model any, modelType reflect.Type, mode Mode, target any, cfg *Configuration) *Context {
	if cfg == nil {
		cfg = DefaultConfiguration()
	}
	return &Context{
		Model:         model,
		ModelType:     modelType,
		Mode:          mode,
		Target:        target,
		References:    reference.NewTracker(),
		Configuration: cfg,
	}
}

func (c *Context) Child(model any, modelType reflect.Type, target any) *Context {
	return &Context{
		Model:         model,
		ModelType:     modelType,
		Mode:          c.Mode,
		Target:        target,
		References:    c.References,
		Depth:         c.Depth + 1,
		Configuration: c.Configuration,
		Parent:        c,
	}
}

// Root 返回最外层的上下文。
func (c *Context) Root() *Context {
	root := c
	for root.Parent != nil {
		root = root.Parent
	}
	return root
}
