package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRequest запрос нельзя разобрать или в нем не хватает полей
	ErrMalformedRequest = errors.New("malformed request")
	// ErrFilesystem ошибка ввода-вывода при записи, перемещении или удалении
	ErrFilesystem = errors.New("filesystem failure")
	// ErrInconsistentMergeInput набор чанков не образует целый файл
	ErrInconsistentMergeInput = errors.New("inconsistent merge input")
	// ErrSessionSealed чанк пришел после начала слияния
	ErrSessionSealed = errors.New("upload session is sealed")
	// ErrSessionNotFound нечего сливать: нет ни чанков, ни собранного файла
	ErrSessionNotFound = errors.New("upload session not found")
)

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedRequest, fmt.Sprintf(format, args...))
}

func inconsistent(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInconsistentMergeInput, fmt.Sprintf(format, args...))
}

func fsFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrFilesystem, op, err)
}
