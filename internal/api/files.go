package api

import (
	"errors"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"hlgate/internal/auth"
	"hlgate/internal/files"
)

// canUpload — файл прикладывают те, кто может что-то добавить или изменить.
func canUpload(p *auth.Principal) bool {
	if p.Method == auth.MethodToken {
		return p.HasPermission("add") || p.HasPermission("update")
	}
	return p.Admin || p.Levels.Write
}

// POST /api/files (multipart, поле "file")
func (s *Server) UploadFile(c *gin.Context) {
	if s.files == nil {
		respondError(c, http.StatusNotFound, "File storage is not configured", nil)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.limits.MaxUploadBytes)

	rc := newRequestContext(c, s.limits.MaxBodyBytes)
	p, ok := s.authenticate(c, rc)
	if !ok {
		return
	}
	if !canUpload(p) {
		respondError(c, http.StatusForbidden, "Access denied", nil)
		return
	}

	file, hdr, err := c.Request.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "multipart file not found (field name 'file')", nil)
		return
	}
	defer file.Close()

	meta, err := s.files.Put(c.Request.Context(), hdr.Filename, hdr.Header.Get("Content-Type"), file)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	s.log.Info("file stored", "actor", p.Actor(), "file", meta.ID, "size", meta.Size)
	respondOK(c, gin.H{
		"id":        meta.ID,
		"name":      meta.Name,
		"size":      meta.Size,
		"humanSize": humanize.IBytes(uint64(meta.Size)),
		"extension": meta.Extension,
		"sha256":    meta.SHA256,
		"url":       "/api/files/" + meta.ID,
	})
}

// GET /api/files/:id
func (s *Server) DownloadFile(c *gin.Context) {
	if s.files == nil {
		respondError(c, http.StatusNotFound, "File storage is not configured", nil)
		return
	}
	rc := newRequestContext(c, s.limits.MaxBodyBytes)
	if _, ok := s.authenticate(c, rc); !ok {
		return
	}

	path, meta, err := s.files.Path(c.Request.Context(), c.Param("id"))
	if errors.Is(err, files.ErrNotFound) {
		respondError(c, http.StatusNotFound, "File not found", nil)
		return
	}
	if err != nil {
		s.respondErr(c, err)
		return
	}

	// сохранённый MIME важнее угаданного по расширению
	if meta.Mime != "" {
		c.Header("Content-Type", meta.Mime)
	} else {
		c.Header("Content-Type", "application/octet-stream")
	}
	c.FileAttachment(path, meta.Name)
}
