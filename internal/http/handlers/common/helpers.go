package common

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/booking-core/internal/dto"
	"github.com/ignatzorin/booking-core/internal/http/middleware"
	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

var (
	ErrUserNotFound = errors.New("пользователь не найден в контексте")
	ErrInvalidUUID  = errors.New("неверный формат UUID")
)

// CurrentUserID извлекает userID, положенный AuthMiddleware.
func CurrentUserID(c *gin.Context) (uuid.UUID, error) {
	raw, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return uuid.Nil, ErrUserNotFound
	}
	userID, ok := raw.(uuid.UUID)
	if !ok {
		return uuid.Nil, ErrUserNotFound
	}
	return userID, nil
}

func CurrentUserRole(c *gin.Context) (string, error) {
	raw, exists := c.Get(middleware.ContextRoleKey)
	if !exists {
		return "", ErrUserNotFound
	}
	role, ok := raw.(string)
	if !ok {
		return "", ErrUserNotFound
	}
	return role, nil
}

// ParseUUIDParam разбирает UUID из параметра пути
func ParseUUIDParam(c *gin.Context, paramName string) (uuid.UUID, error) {
	param := c.Param(paramName)
	if param == "" {
		return uuid.Nil, fmt.Errorf("параметр %s отсутствует", paramName)
	}
	parsed, err := uuid.Parse(param)
	if err != nil {
		return uuid.Nil, ErrInvalidUUID
	}
	return parsed, nil
}

// Pagination читает limit/offset из query, ограничивая limit сверху.
func Pagination(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Fail передаёт ошибку сервиса в ErrorHandler, который и формирует ответ.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func RespondUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
		Error: apperror.ErrUnauthorized.Message,
		Code:  string(apperror.ErrCodeUnauthorized),
	})
}

func RespondBadRequest(c *gin.Context, message string) {
	if message == "" {
		message = "некорректный запрос"
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{
		Error: message,
		Code:  string(apperror.ErrCodeBadRequest),
	})
}
