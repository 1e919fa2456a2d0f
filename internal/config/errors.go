package config

import "fmt"

// FieldError 标记校验失败的配置项；Err 保留底层原因以便 errors.Is/As。
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e FieldError) Unwrap() error {
	return e.Err
}

func fieldErrorf(field, format string, args ...any) error {
	return FieldError{Field: field, Err: fmt.Errorf(format, args...)}
}

func wrapFieldError(field string, err error) error {
	return FieldError{Field: field, Err: err}
}
