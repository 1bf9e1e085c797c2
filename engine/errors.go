package engine

import (
	"errors"
	"fmt"
)

// ErrorKind 引擎错误分类
type ErrorKind string

const (
	// 校验类错误：在任何外部调用之前同步返回给调用方
	ErrKindDuplicateId        ErrorKind = "duplicate_id"
	ErrKindNotFound           ErrorKind = "not_found"
	ErrKindReferenced         ErrorKind = "referenced"
	ErrKindUnknownTemplate    ErrorKind = "unknown_template"
	ErrKindMissingParticipant ErrorKind = "missing_participant"
	ErrKindValidation         ErrorKind = "validation"

	// 外部生成引擎错误：transient 在重试预算内重试，permanent 直接 FAILED
	ErrKindTransient ErrorKind = "transient_engine_error"
	ErrKindPermanent ErrorKind = "permanent_engine_error"
)

// EngineError 引擎统一错误结构
type EngineError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, format string, args ...interface{}) *EngineError {
	return &EngineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapTransient 把外部调用错误标记为暂时性错误（可重试）
func WrapTransient(err error, message string) *EngineError {
	return &EngineError{Kind: ErrKindTransient, Message: message, Err: err}
}

// WrapPermanent 把外部调用错误标记为永久性错误（不重试，镜头直接 FAILED）
func WrapPermanent(err error, message string) *EngineError {
	return &EngineError{Kind: ErrKindPermanent, Message: message, Err: err}
}

func isKind(err error, kind ErrorKind) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind == kind
	}
	return false
}

func IsDuplicateId(err error) bool        { return isKind(err, ErrKindDuplicateId) }
func IsNotFound(err error) bool           { return isKind(err, ErrKindNotFound) }
func IsReferenced(err error) bool         { return isKind(err, ErrKindReferenced) }
func IsUnknownTemplate(err error) bool    { return isKind(err, ErrKindUnknownTemplate) }
func IsMissingParticipant(err error) bool { return isKind(err, ErrKindMissingParticipant) }
func IsValidation(err error) bool         { return isKind(err, ErrKindValidation) }
func IsTransient(err error) bool          { return isKind(err, ErrKindTransient) }
func IsPermanent(err error) bool          { return isKind(err, ErrKindPermanent) }
