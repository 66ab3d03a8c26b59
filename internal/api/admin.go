package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hlgate/internal/auth"
	"hlgate/internal/schema"
)

// AdminReload — POST /api/admin/reload: перечитать каталог сущностей.
// Только сессия администратора. Каталог с блокирующими проблемами не применяется.
func (s *Server) AdminReload(c *gin.Context) {
	rc := newRequestContext(c, s.limits.MaxBodyBytes)
	p, ok := s.authenticate(c, rc)
	if !ok {
		return
	}
	if p.Method != auth.MethodSession || !p.Admin {
		respondError(c, http.StatusForbidden, "Access denied", nil)
		return
	}
	if s.entitiesPath == "" {
		respondError(c, http.StatusBadRequest, "Entity catalog path is not configured", nil)
		return
	}

	// 1) читаем и линтуем новый каталог
	reg, err := schema.Load(s.entitiesPath)
	var lint *schema.LintError
	if errors.As(err, &lint) {
		respondError(c, http.StatusBadRequest, "schema has blocking issues", gin.H{"issues": lint.Issues})
		return
	}
	if err != nil {
		s.log.Error("entity catalog reload failed", "path", s.entitiesPath, "err", err)
		respondError(c, http.StatusBadRequest, "Entity catalog load error", nil)
		return
	}

	// 2) хранилище догоняет каталог (новые таблицы и колонки)
	if s.onReload != nil {
		if err := s.onReload(c.Request.Context(), reg); err != nil {
			s.log.Error("entity catalog reload hook failed", "path", s.entitiesPath, "err", err)
			respondError(c, http.StatusInternalServerError, "Entity catalog apply error", nil)
			return
		}
	}

	// 3) атомарная замена; идущие запросы дорабатывают со старым каталогом
	s.swapRegistry(reg)
	s.log.Info("entity catalog reloaded", "path", s.entitiesPath, "entities", len(reg.List()))
	respondOK(c, gin.H{"entities": len(reg.List())})
}
