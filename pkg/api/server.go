package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/z-wentao/docflow/pkg/converter"
	"github.com/z-wentao/docflow/pkg/processor"
	"github.com/z-wentao/docflow/pkg/storage"
)

const version = "0.3.0"

// Submitter is the part of the processor the HTTP front end needs.
type Submitter interface {
	SubmitInline(ctx context.Context, data []byte) ([]byte, error)
	SubmitFile(ctx context.Context, sourcePath, outputDir string) error
	Active() int
	PeakActive() int
	Pending() int
	Workers() int
	Alive() int
}

// Server exposes a Submitter over HTTP.
type Server struct {
	sub           Submitter
	store         storage.Store
	maxUploadSize int64
	logger        zerolog.Logger
}

// NewServer wires the handlers. store may be nil, in which case the job routes answer 404.
func NewServer(sub Submitter, store storage.Store, maxUploadSize int64, l zerolog.Logger) *Server {
	return &Server{
		sub:           sub,
		store:         store,
		maxUploadSize: maxUploadSize,
		logger:        l.With().Str("component", "api").Logger(),
	}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/", s.handleHealth)
	r.POST("/convertb64", s.handleConvertBase64)

	api := r.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.POST("/convert", s.handleConvertUpload)
		api.POST("/convert/file", s.handleConvertFile)
		api.GET("/jobs", s.handleListJobs)
		api.GET("/jobs/:job_id", s.handleGetJob)
		api.GET("/stats", s.handleStats)
	}

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "running!")
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"version": version,
	})
}

// handleConvertBase64 takes a base64 document as the raw body and answers with
// the base64 PDF as plain text.
func (s *Server) handleConvertBase64(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.encodedLimit()))
	if err != nil {
		c.String(http.StatusRequestEntityTooLarge, "Something went wrong: %v", err)
		return
	}

	data, err := converter.DecodeBase64(string(body))
	if err != nil {
		c.String(http.StatusBadRequest, "Something went wrong: %v", err)
		return
	}

	out, err := s.sub.SubmitInline(c.Request.Context(), data)
	if err != nil {
		s.logger.Error().Err(err).Msg("base64 conversion failed")
		c.String(statusFor(err), "Something went wrong: %v", err)
		return
	}

	c.String(http.StatusOK, converter.EncodeBase64(out))
}

func (s *Server) handleConvertUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadSize)

	file, err := c.FormFile("document")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing document upload: " + err.Error()})
		return
	}
	if file.Size > s.maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("file too large, limit is %.0f MB", float64(s.maxUploadSize)/1024/1024),
		})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "open upload: " + err.Error()})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read upload: " + err.Error()})
		return
	}

	out, err := s.sub.SubmitInline(c.Request.Context(), data)
	if err != nil {
		s.logger.Error().Err(err).Str("filename", file.Filename).Msg("upload conversion failed")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	stem := strings.TrimSuffix(filepath.Base(file.Filename), filepath.Ext(file.Filename))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", stem+".pdf"))
	c.Data(http.StatusOK, "application/pdf", out)
}

// ConvertFileRequest names a document already reachable from the server's filesystem.
type ConvertFileRequest struct {
	SourcePath string `json:"source_path" binding:"required"`
	OutputDir  string `json:"output_dir" binding:"required"`
}

func (s *Server) handleConvertFile(c *gin.Context) {
	var req ConvertFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := s.sub.SubmitFile(c.Request.Context(), req.SourcePath, req.OutputDir); err != nil {
		s.logger.Error().Err(err).Str("source", req.SourcePath).Msg("file conversion failed")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListJobs(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job ledger is disabled"})
		return
	}

	jobs, err := s.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

func (s *Server) handleGetJob(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job ledger is disabled"})
		return
	}

	job, err := s.store.Get(c.Request.Context(), c.Param("job_id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"workers": s.sub.Workers(),
		"alive":   s.sub.Alive(),
		"active":  s.sub.Active(),
		"peak":    s.sub.PeakActive(),
		"pending": s.sub.Pending(),
	})
}

// encodedLimit accounts for base64 growing the payload by a third, plus slack for line breaks.
func (s *Server) encodedLimit() int64 {
	return s.maxUploadSize/3*4 + 1<<10
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, processor.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, processor.ErrDisconnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
