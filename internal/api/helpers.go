package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hlgate/internal/auth"
	"hlgate/internal/schema"
	"hlgate/internal/store"
)

// envelope — единый формат ответа.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, msg string, details any) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Error: msg, Details: details})
}

func validationFailed(c *gin.Context, errs map[string]string) {
	respondError(c, http.StatusBadRequest, "Validation failed", errs)
}

// respondErr переводит ошибку домена в статус. Подробности неожиданных ошибок
// остаются в логе, клиент получает общее сообщение.
func (s *Server) respondErr(c *gin.Context, err error) {
	var rej *store.RejectError
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		respondError(c, http.StatusUnauthorized, "Authentication required", nil)
	case errors.Is(err, schema.ErrUnknownEntity):
		respondError(c, http.StatusNotFound, "Entity not found", nil)
	case errors.Is(err, store.ErrNotFound):
		respondError(c, http.StatusNotFound, "Record not found", nil)
	case errors.As(err, &rej):
		respondError(c, http.StatusBadRequest, "Store rejected the operation", gin.H{"errors": rej.Messages})
	default:
		s.log.Error("request failed", "path", c.FullPath(), "request_id", c.GetString(ctxRequestID), "err", err)
		respondError(c, http.StatusInternalServerError, "Internal server error", nil)
	}
}
