package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabaseError      ErrorCode = "DATABASE_ERROR"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrCodeSlotUnavailable    ErrorCode = "SLOT_UNAVAILABLE"
	ErrCodeHoldExpired        ErrorCode = "HOLD_EXPIRED"
	ErrCodePaymentDeclined    ErrorCode = "PAYMENT_DECLINED"
	ErrCodeGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrCodeStaleState         ErrorCode = "STALE_STATE"
	ErrCodeReleaseFailure     ErrorCode = "RELEASE_FAILURE"
	ErrCodeFraudBlocked       ErrorCode = "FRAUD_BLOCKED"
	ErrCodeChallengeRequired  ErrorCode = "CHALLENGE_REQUIRED"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
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

// Is сравнивает ошибки по коду, чтобы errors.Is работал с обёрнутыми AppError.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden, ErrCodeFraudBlocked:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeInvalidTransition, ErrCodeSlotUnavailable, ErrCodeHoldExpired, ErrCodeStaleState:
		return http.StatusConflict
	case ErrCodePaymentDeclined:
		return http.StatusPaymentRequired
	case ErrCodeChallengeRequired:
		return http.StatusPreconditionRequired
	case ErrCodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки или пустую строку, если это не AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

func IsForbidden(err error) bool {
	return CodeOf(err) == ErrCodeForbidden
}

func IsInvalidInput(err error) bool {
	return CodeOf(err) == ErrCodeInvalidInput
}

// IsRetryable сообщает, может ли клиент сразу повторить запрос.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeSlotUnavailable, ErrCodeHoldExpired, ErrCodeStaleState, ErrCodePaymentDeclined, ErrCodeGatewayUnavailable:
		return true
	}
	return false
}

var (
	ErrBookingNotFound = New(ErrCodeNotFound, "бронирование не найдено")
	ErrHoldNotFound    = New(ErrCodeNotFound, "резерв слота не найден")
	ErrDisputeNotFound = New(ErrCodeNotFound, "спор не найден")
	ErrForbidden       = New(ErrCodeForbidden, "недостаточно прав")
	ErrUnauthorized    = New(ErrCodeUnauthorized, "требуется авторизация")

	ErrInvalidInput      = New(ErrCodeInvalidInput, "некорректные входные данные")
	ErrInvalidTransition = New(ErrCodeInvalidTransition, "недопустимый переход состояния")
	ErrSlotUnavailable   = New(ErrCodeSlotUnavailable, "слот уже занят, выберите другое время и повторите запрос")
	ErrHoldExpired       = New(ErrCodeHoldExpired, "время резерва истекло, зарезервируйте слот заново")
	ErrPaymentDeclined   = New(ErrCodePaymentDeclined, "платёж отклонён, бронирование отменено")
	ErrGatewayDown       = New(ErrCodeGatewayUnavailable, "платёжный шлюз недоступен, бронирование отменено")
	ErrStaleState        = New(ErrCodeStaleState, "бронирование изменилось, перечитайте и повторите")
	ErrReleaseFailure    = New(ErrCodeReleaseFailure, "не удалось выплатить средства из escrow")
	ErrFraudBlocked      = New(ErrCodeFraudBlocked, "операция заблокирована системой антифрода")
	ErrChallengeRequired = New(ErrCodeChallengeRequired, "требуется дополнительная верификация")
)
