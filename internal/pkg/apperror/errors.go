package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

type ErrorCode string

const (
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeNotParticipant    ErrorCode = "NOT_PARTICIPANT"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeBusinessRule      ErrorCode = "BUSINESS_RULE"
	ErrCodeActiveDealExists  ErrorCode = "ACTIVE_DEAL_EXISTS"
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"
	ErrCodeInvariant         ErrorCode = "INVARIANT_VIOLATION"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	// DealID заполняется для ACTIVE_DEAL_EXISTS: идентификатор уже существующей сделки.
	DealID uuid.UUID
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// NewActiveDealExists сообщает о нарушении правила "одна активная сделка на пару",
// сохраняя идентификатор существующей сделки для клиента.
func NewActiveDealExists(existingDealID uuid.UUID) *AppError {
	return &AppError{
		Code:       ErrCodeActiveDealExists,
		Message:    "между этими пользователями уже есть активная сделка",
		HTTPStatus: http.StatusConflict,
		DealID:     existingDealID,
	}
}

// NewInvariant сигнализирует о расхождении состояния сделки и леджера.
// Такая ошибка не восстанавливается и должна попасть в лог оператора.
func NewInvariant(message string) *AppError {
	return &AppError{
		Code:       ErrCodeInvariant,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeNotParticipant, ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeInvalidTransition, ErrCodeActiveDealExists:
		return http.StatusConflict
	case ErrCodeBusinessRule, ErrCodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeNotFound
}

func IsNotParticipant(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeNotParticipant
}

func IsInvalidTransition(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeInvalidTransition
}

func IsBusinessRule(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeBusinessRule
}

func IsActiveDealExists(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeActiveDealExists
}

func IsInvariant(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeInvariant
}

var (
	ErrDealNotFound        = New(ErrCodeNotFound, "сделка не найдена")
	ErrTransactionNotFound = New(ErrCodeNotFound, "транзакция не найдена")
	ErrReviewNotFound      = New(ErrCodeNotFound, "отзыв не найден")
	ErrNotParticipant      = New(ErrCodeNotParticipant, "вы не являетесь участником этой сделки")
	ErrUnauthorized        = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden           = New(ErrCodeForbidden, "недостаточно прав")
)
