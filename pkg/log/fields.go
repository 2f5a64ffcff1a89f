// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"reflect"

	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameModelType = "modelType"
	FieldNameMember    = "member"
)

func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldModelType 以类型的完整名称输出模型类型，nil 输出为 "<nil>"。
func FieldModelType(t reflect.Type) zap.Field {
	if t == nil {
		return zap.String(FieldNameModelType, "<nil>")
	}
	return zap.Stringer(FieldNameModelType, t)
}

func FieldMember(name string) zap.Field {
	return zap.String(FieldNameMember, name)
}
