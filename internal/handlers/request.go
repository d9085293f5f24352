package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/charlesng35/tabletop/pkg/errors"
	"github.com/charlesng35/tabletop/pkg/response"
	"github.com/charlesng35/tabletop/pkg/validator"
)

func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}

// bindJSON decodes and validates a request body. On failure the error response is
// already written and false is returned.
func bindJSON[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, apperrors.NewBadRequest("request body must be a JSON object"))
		return false
	}

	if err := validator.ValidateStruct(dest); err != nil {
		var failures validator.ValidationErrors
		if errors.As(err, &failures) {
			response.Error(c, apperrors.NewBadRequest(failures.Error()))
		} else {
			response.Error(c, apperrors.ErrBadRequest.WithInternal(err))
		}
		return false
	}
	return true
}

// queryInt reads a non-negative integer query parameter. Absent values yield fallback.
func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, apperrors.NewBadRequest(key + " must be a non-negative integer")
	}
	return value, nil
}
