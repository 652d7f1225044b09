// Package apperr は、会話ワークフロー全体で使うエラー分類を定義します。
// HTTP 境界や CLI は errors.As でこれらを判別し、ステータスや終了コードに変換します。
package apperr

import (
	"errors"
	"fmt"
)

// ErrSessionBusy は、同じセッションで既に別のターンが進行中であることを示します。
var ErrSessionBusy = errors.New("session is busy with another turn")

// NotFoundError は、参照された ID がストレージに存在しないことを表します。
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s %q", e.Collection, e.ID)
}

// ConfigurationError は、必須のテンプレートや設定値が欠けているか不正であることを表します。
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// CapabilityError は、埋め込み・生成などの外部能力の呼び出し失敗を包みます。
type CapabilityError struct {
	Op  string // "generate", "embed"
	Err error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability error [%s]: %v", e.Op, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// ValidationError は、呼び出し側の入力が不正であることを表します。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func NotFound(collection, id string) error {
	return &NotFoundError{Collection: collection, ID: id}
}

func Configuration(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func Capability(op string, err error) error {
	return &CapabilityError{Op: op, Err: err}
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsCapability(err error) bool {
	var target *CapabilityError
	return errors.As(err, &target)
}
