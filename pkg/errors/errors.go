// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
// The segment after the last dot is the reason and drives classification.
type Code string

const (
	CodeStateDomainInvalid  Code = "state.domain.invalid"
	CodeStateValueInvalid   Code = "state.value.invalid_input"
	CodeStateLoadFailure    Code = "state.load.failure"
	CodeStatePersistFailure Code = "state.persist.failure"

	CodeEventBusStopped Code = "event.bus.stopped"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodePluginManifestValidateInvalid    Code = "plugin.manifest.validate.invalid"
	CodePluginManifestDuplicate          Code = "plugin.manifest.duplicate.conflict"
	CodePluginRuntimeStartFailure        Code = "plugin.runtime.start.failure"
	CodePluginRuntimeCallFailure         Code = "plugin.runtime.call.failure"
	CodePluginRuntimeCallTimeout         Code = "plugin.runtime.call.timeout"
	CodePluginLifecycleTransitionInvalid Code = "plugin.lifecycle.transition.invalid"
	CodePluginDiscoveryFailure           Code = "plugin.discovery.failure"
	CodePluginNotFound                   Code = "plugin.not_found"
	CodePluginRouteNotFound              Code = "plugin.route.not_found"
	CodePluginHandlerMissing             Code = "plugin.handler.missing"
	CodePluginUnitUnavailable            Code = "plugin.unit.unavailable"
	CodePluginTestFailure                Code = "plugin.test.failure"

	CodeJournalOpenFailure  Code = "journal.open.failure"
	CodeJournalWriteFailure Code = "journal.write.failure"
	CodeJournalQueryFailure Code = "journal.query.failure"
	CodeJournalDisabled     Code = "journal.disabled.not_found"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerEntityNotFound  Code = "server.entity.not_found"
	CodeServerConfigInvalid   Code = "server.config.invalid"
	CodeServerStartFailure    Code = "server.start.failure"
	CodeServerShutdownFailure Code = "server.shutdown.failure"

	CodeCLIKernelNotRunning Code = "cli.kernel.not_running"
	CodeCLIRequestFailure   Code = "cli.request.failure"
	CodeCLIResponseInvalid  Code = "cli.response.invalid"
	CodeCLISetupFailure     Code = "cli.setup.failure"
	CodeCLIInputInvalid     Code = "cli.input.invalid"
)

// ErrNotPersisted marks a state mutation that reached memory but not disk.
var ErrNotPersisted = stderrors.New("state mutated in memory but not persisted")

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldPlugin(value string) Attr {
	return Field("plugin", value)
}

func FieldDomain(value string) Attr {
	return Field("domain", value)
}

func FieldEvent(value string) Attr {
	return Field("event", value)
}

func FieldPath(value string) Attr {
	return Field("path", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

// CodeOf returns the innermost code in the chain, or "" for plain errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsNotPersisted reports whether err signals a write that only reached memory.
func IsNotPersisted(err error) bool {
	return stderrors.Is(err, ErrNotPersisted) || HasCode(err, CodeStatePersistFailure)
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(CodeServerInternalFailure).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
