package api

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"ffscript/config"
	"ffscript/ffmpeg"
	"ffscript/script"
	"ffscript/store"
	"ffscript/task"

	"github.com/gin-gonic/gin"
)

const userIDHeader = "X-User-ID"

// EngineInfo exposes the engine loader and its work directory.
type EngineInfo interface {
	Loader() *ffmpeg.Loader
	Dir() string
}

type Handler struct {
	taskManager *task.Manager
	engine      EngineInfo
	cfg         *config.Config
}

func NewHandler(tm *task.Manager, engine EngineInfo, cfg *config.Config) *Handler {
	return &Handler{
		taskManager: tm,
		engine:      engine,
		cfg:         cfg,
	}
}

type FileRef struct {
	Name string `json:"name" binding:"required"`
	Type string `json:"type"`
}

type TranslateRequest struct {
	Script string    `json:"script"`
	Files  []FileRef `json:"files" binding:"required,min=1,dive"`
}

// handleTranslate previews the argument list a script produces for the given files.
func (h *Handler) handleTranslate(c *gin.Context) {
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.cfg.MaxFiles > 0 && len(req.Files) > h.cfg.MaxFiles {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("at most %d files are allowed", h.cfg.MaxFiles)})
		return
	}

	files := make([]script.InputFile, len(req.Files))
	for i, f := range req.Files {
		files[i] = script.InputFile{Name: f.Name, ContentType: f.Type}
	}
	c.JSON(http.StatusOK, script.TranslateScript(req.Script, files))
}

func (h *Handler) handleTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, script.Templates())
}

func isMediaType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") || strings.HasPrefix(mediaType, "video/")
}

// handleCreateJob accepts a multipart upload of a script and its input files.
func (h *Handler) handleCreateJob(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid multipart form: %v", err)})
		return
	}

	var headers []*multipart.FileHeader
	headers = append(headers, form.File["files"]...)
	headers = append(headers, form.File["files[]"]...)
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": task.ErrNoInputs.Error()})
		return
	}
	if h.cfg.MaxFiles > 0 && len(headers) > h.cfg.MaxFiles {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("at most %d files are allowed", h.cfg.MaxFiles)})
		return
	}

	var mode ffmpeg.Mode
	if m := c.PostForm("mode"); m != "" {
		if mode, err = ffmpeg.ParseMode(m); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	uploads := make([]task.Upload, 0, len(headers))
	for _, fh := range headers {
		contentType := fh.Header.Get("Content-Type")
		if !isMediaType(contentType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("file %s is not an image or video (%s)", fh.Filename, contentType)})
			return
		}
		if h.cfg.MaxInputSize > 0 && fh.Size > h.cfg.MaxInputSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("file %s exceeds the size limit of %d bytes", fh.Filename, h.cfg.MaxInputSize)})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("could not read file %s: %v", fh.Filename, err)})
			return
		}
		defer f.Close()
		uploads = append(uploads, task.Upload{Name: path.Base(fh.Filename), ContentType: contentType, Reader: f})
	}

	job, tr, err := h.taskManager.Submit(c.Request.Context(), task.SubmitRequest{
		UserID: c.GetHeader(userIDHeader),
		Script: c.PostForm("script"),
		Mode:   mode,
		Files:  uploads,
	})
	if err != nil {
		writeError(c, "Failed to create job", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":          job.ID,
		"args":           tr.Args,
		"output":         tr.Output,
		"defaultCommand": tr.Fallback,
	})
}

// handleListJobs lists the caller's job history.
func (h *Handler) handleListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	jobs, err := h.taskManager.List(c.Request.Context(), c.GetHeader(userIDHeader), limit)
	if err != nil {
		writeError(c, "Failed to list jobs", err)
		return
	}

	resp := make([]jobResponse, len(jobs))
	for i, j := range jobs {
		resp[i] = h.newJobResponse(c, j)
	}
	c.JSON(http.StatusOK, resp)
}

type jobResponse struct {
	*store.Job
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// newJobResponse adds the download URL of a completed job's result.
func (h *Handler) newJobResponse(c *gin.Context, j *store.Job) jobResponse {
	resp := jobResponse{Job: j}
	if j.Status != store.StatusCompleted || len(j.Results) == 0 {
		return resp
	}

	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	resp.DownloadURL = fmt.Sprintf("%s/api/v1/jobs/%s/result", baseURL, j.ID)
	return resp
}

// handleGetJob retrieves the status of a single job.
func (h *Handler) handleGetJob(c *gin.Context) {
	j, err := h.taskManager.Get(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		writeError(c, "Failed to get job", err)
		return
	}
	c.JSON(http.StatusOK, h.newJobResponse(c, j))
}

func (h *Handler) handleCancelJob(c *gin.Context) {
	if err := h.taskManager.Cancel(c.Request.Context(), c.Param("jobId")); err != nil {
		writeError(c, "Failed to cancel job", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job cancellation requested"})
}

// handleGetResult streams a completed job's output.
func (h *Handler) handleGetResult(c *gin.Context) {
	body, res, err := h.taskManager.OpenResult(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		writeError(c, "Failed to open result", err)
		return
	}
	defer body.Close()

	contentType := mime.TypeByExtension(path.Ext(res.FileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, res.FileSize, contentType, body, map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": res.FileName}),
	})
}

func (h *Handler) handleEngineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.engineStatus())
}

// handleLoadEngine waits for the engine to load, starting a load if needed.
func (h *Handler) handleLoadEngine(c *gin.Context) {
	if err := h.engine.Loader().Load(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "state": h.engine.Loader().State()})
		return
	}
	c.JSON(http.StatusOK, h.engineStatus())
}

func (h *Handler) engineStatus() gin.H {
	loader := h.engine.Loader()
	resp := gin.H{
		"state": loader.State(),
		"host":  ffmpeg.ReadHostStats(h.engine.Dir()),
	}
	if err := loader.Err(); err != nil {
		resp["error"] = err.Error()
	}
	return resp
}

func writeError(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, task.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, task.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, task.ErrNoInputs), errors.Is(err, task.ErrInputTooLarge), errors.Is(err, task.ErrUnsupportedMode):
		status = http.StatusBadRequest
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg, "details": err.Error()})
}
