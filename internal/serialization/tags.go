package serialization

import (
	"reflect"
	"strings"
)

// TagName 为结构体字段上控制序列化的标签名。
//
//	Name string `graph:"include"`
//	Temp string `graph:"exclude"` // 等价于 graph:"-"
const TagName = "graph"

type tagOptions struct {
	include bool
	exclude bool
}

func parseTag(sf reflect.StructField) tagOptions {
	var opts tagOptions
	tag, ok := sf.Tag.Lookup(TagName)
	if !ok {
		return opts
	}
	if tag == "-" {
		opts.exclude = true
		return opts
	}
	for _, part := range strings.Split(tag, ",") {
		switch strings.TrimSpace(part) {
		case "include":
			opts.include = true
		case "exclude", "-":
			opts.exclude = true
		}
	}
	return opts
}

// optedIn 表示字段显式要求参与序列化，且没有被排除。
func (o tagOptions) optedIn() bool {
	return o.include && !o.exclude
}
