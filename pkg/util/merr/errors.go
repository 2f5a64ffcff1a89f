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
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

// Define leaf errors here,
// WARN: take care to add new error,
// check whether you can use the errors below before adding a new one.
// Name: Err + related prefix + error name
var (
	// Parameter related
	ErrParameterInvalid = newGraphError("invalid parameter", 1100, InputError)
	ErrParameterMissing = newGraphError("missing parameter", 1101, InputError)

	// Member related
	ErrMemberNotFound     = newGraphError("member not found", 1200, SystemError)
	ErrMemberAccessFailed = newGraphError("member access failed", 1201, SystemError)

	// Reference related
	ErrReferenceNotFound  = newGraphError("reference not found", 1300, InputError)
	ErrReferenceDuplicate = newGraphError("reference already registered", 1301, InputError)

	// Type related
	ErrTypeNotRegistered = newGraphError("type not registered", 1400, InputError)
	ErrTypeMismatch      = newGraphError("type mismatch", 1401, InputError)

	// Stream related
	ErrStreamCorrupted = newGraphError("stream corrupted", 1500, InputError)
	ErrFormatVersion   = newGraphError("unsupported format version", 1501, InputError)
	ErrIoFailed        = newGraphError("IO failed", 1502, SystemError)

	// General
	ErrOperationNotSupported = newGraphError("unsupported operation", 3000, SystemError)

	// Do NOT export this,
	// never allow programmer using this, keep only for converting unknown error to graphError
	errUnexpected = newGraphError("unexpected error", (1<<16)-1, SystemError)
)

type graphError struct {
	msg     string
	detail  string
	errCode int32
	errType ErrorType
}

func newGraphError(msg string, code int32, etype ErrorType) graphError {
	return graphError{
		msg:     msg,
		detail:  msg,
		errCode: code,
		errType: etype,
	}
}

func (e graphError) code() int32 {
	return e.errCode
}

func (e graphError) Error() string {
	return e.msg
}

func (e graphError) Detail() string {
	return e.detail
}

func (e graphError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(graphError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// To make merr work for multi errors,
	// we need cause of multi errors, which defined as the last error
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
