// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code 返回给定错误对应的错误码，nil 返回 0。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	if specificErr, ok := cause.(graphError); ok {
		return specificErr.code()
	}
	return errUnexpected.code()
}

func GetErrorType(err error) ErrorType {
	if merr, ok := errors.Cause(err).(graphError); ok {
		return merr.errType
	}
	return SystemError
}

// IsInputError 判断错误是否由调用方输入（参数、流内容）导致。
func IsInputError(err error) bool {
	return err != nil && GetErrorType(err) == InputError
}

// Parameter 相关错误封装。
func WrapErrParameterInvalid[T any](expected, actual T, msg ...string) error {
	err := wrapFields(ErrParameterInvalid,
		value("expected", expected),
		value("actual", actual),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrParameterInvalidMsg(fmt string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, fmt, args...)
}

func WrapErrParameterMissing[T any](param T, msg ...string) error {
	err := wrapFields(ErrParameterMissing,
		value("missing_param", param),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Member 相关错误封装。
func WrapErrMemberNotFound(modelType any, member string, msg ...string) error {
	err := wrapFields(ErrMemberNotFound,
		value("modelType", modelType),
		value("member", member),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrMemberAccessFailed(modelType any, member string, cause any) error {
	return wrapFieldsWithDesc(ErrMemberAccessFailed, fmt.Sprint(cause),
		value("modelType", modelType),
		value("member", member),
	)
}

// Reference 相关错误封装。
func WrapErrReferenceNotFound(id int, msg ...string) error {
	err := wrapFields(ErrReferenceNotFound, value("id", id))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrReferenceDuplicate(id int, msg ...string) error {
	err := wrapFields(ErrReferenceDuplicate, value("id", id))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Type 相关错误封装。
func WrapErrTypeNotRegistered(name string, msg ...string) error {
	err := wrapFields(ErrTypeNotRegistered, value("type", name))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrTypeMismatch(expected, actual any, msg ...string) error {
	err := wrapFields(ErrTypeMismatch,
		value("expected", expected),
		value("actual", actual),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Stream 相关错误封装。
func WrapErrStreamCorrupted(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrStreamCorrupted, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrFormatVersion(expected, actual string) error {
	return wrapFields(ErrFormatVersion,
		value("expected", expected),
		value("actual", actual),
	)
}

func WrapErrIoFailed(op string, err error) error {
	return wrapFieldsWithDesc(ErrIoFailed, err.Error(), value("op", op))
}

func WrapErrOperationNotSupported(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrOperationNotSupported, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}

func wrapFields(err graphError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err graphError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	err.detail = err.msg
	return err
}
