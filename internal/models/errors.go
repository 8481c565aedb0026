package models

import "errors"

// Ошибки уровня приложения. Классифицируются через errors.Is.
var (
	// Фатальные для генерации
	ErrValidation          = errors.New("validation failed")
	ErrNarrativeGeneration = errors.New("narrative generation failed")
	ErrEmptyGeneration     = errors.New("generated story is empty")
	ErrPersistence         = errors.New("persistence failed")

	// Восстанавливаемые
	ErrIllustrationGeneration = errors.New("illustration generation failed")
	ErrPlayback               = errors.New("narration playback failed")

	// Уведомления
	ErrUnsupportedOperation = errors.New("operation is not supported for this collection")
	ErrNotFound             = errors.New("resource not found")

	// Токены
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token has expired")
)

// IsFatalGeneration сообщает, прерывает ли ошибка конвейер генерации.
func IsFatalGeneration(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNarrativeGeneration) ||
		errors.Is(err, ErrEmptyGeneration) ||
		errors.Is(err, ErrPersistence)
}

// IsNotice сообщает, что ошибка носит характер уведомления и не должна показываться как сбой.
func IsNotice(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnsupportedOperation)
}
