// Package server exposes a running practice session and the offline
// track builder over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"shadowmaster/coordinator"
	"shadowmaster/log"
	"shadowmaster/pcm"
	"shadowmaster/practice"
	"shadowmaster/segmenter"
	"shadowmaster/session"
	"shadowmaster/tempo"
)

// Controller is the live session the API drives. It may be nil when the
// server only builds tracks.
type Controller interface {
	Dispatch(ev session.Event)
	State() session.State
	Stats() coordinator.Stats
	SessionID() string
	CurrentConfig() session.Config
	UpdateConfig(cfg session.Config)
}

type Options struct {
	// OutDir receives rendered practice tracks.
	OutDir   string
	Preset   segmenter.Preset
	VAD      segmenter.Classifier
	Practice practice.Options
	Version  string
	// MaxUpload caps the size of an uploaded source file in bytes.
	MaxUpload int64
}

type Server struct {
	ctl    Controller
	opts   Options
	engine *gin.Engine
}

func New(ctl Controller, opts Options) *Server {
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = 200 << 20
	}
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{ctl: ctl, opts: opts, engine: engine}

	api := engine.Group("/api")
	api.GET("/health", s.health)
	api.POST("/practice", s.buildPractice)
	api.GET("/download/:name", s.download)

	live := api.Group("")
	live.Use(s.requireSession)
	live.GET("/session", s.sessionState)
	live.POST("/session/events", s.sessionEvent)
	live.GET("/config", s.getConfig)
	live.PUT("/config", s.putConfig)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Infof("http api listening on %s", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Infof("[HTTP] %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) requireSession(c *gin.Context) {
	if s.ctl == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "no live session in this mode"})
		return
	}
	c.Next()
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.opts.Version})
}

func (s *Server) sessionState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"id":    s.ctl.SessionID(),
		"state": session.Describe(s.ctl.State()),
		"stats": s.ctl.Stats(),
	})
}

type eventRequest struct {
	Event string `json:"event" binding:"required"`
}

func (s *Server) sessionEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev, err := session.ParseControlEvent(req.Event)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.ctl.Dispatch(ev)
	c.JSON(http.StatusAccepted, gin.H{"queued": ev.Kind().String()})
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctl.CurrentConfig())
}

// putConfig overlays the fields present in the body on the live config.
func (s *Server) putConfig(c *gin.Context) {
	cfg := s.ctl.CurrentConfig()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if cfg.PlaybackRepeats < 1 || cfg.UserRepeats < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "repeat counts must be at least 1"})
		return
	}
	s.ctl.UpdateConfig(cfg)
	c.JSON(http.StatusOK, s.ctl.CurrentConfig())
}

type practiceResponse struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	Segments   int    `json:"segments"`
	DurationMS int64  `json:"duration_ms"`
}

// buildPractice renders an uploaded recording into a practice track. Form
// fields: file, and optionally format, preset, speed, playback_repeats
// and user_repeats.
func (s *Server) buildPractice(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file: " + err.Error()})
		return
	}

	format := c.DefaultPostForm("format", "wav")
	if !practice.ValidFormat(format) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported format %q", format)})
		return
	}
	preset := s.opts.Preset
	if name := c.PostForm("preset"); name != "" {
		if preset, err = segmenter.LookupPreset(name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	opts := s.opts.Practice
	if opts.PlaybackRepeats, err = formInt(c, "playback_repeats", opts.PlaybackRepeats); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if opts.UserRepeats, err = formInt(c, "user_repeats", opts.UserRepeats); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if v := c.PostForm("speed"); v != "" {
		speed, err := strconv.ParseFloat(v, 64)
		if err == nil {
			err = tempo.Validate(speed)
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "speed: " + err.Error()})
			return
		}
		opts.Speed = speed
	}

	tmp, err := os.MkdirTemp("", "shadowmaster-upload-")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer os.RemoveAll(tmp)
	src := filepath.Join(tmp, "source"+strings.ToLower(filepath.Ext(fh.Filename)))
	if err := c.SaveUploadedFile(fh, src); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	clip, err := pcm.Decode(src)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pcm.ErrUnsupportedFormat) {
			status = http.StatusUnsupportedMediaType
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	track, segs, err := practice.Render(clip, preset, s.opts.VAD, opts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, practice.ErrNoSpeech) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	name := uuid.NewString() + "." + format
	if err := practice.WriteFile(filepath.Join(s.opts.OutDir, name), track, format); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Infof("practice track %s: %d segments, %s", name, len(segs), track.Duration())
	c.JSON(http.StatusCreated, practiceResponse{
		Name:       name,
		URL:        "/api/download/" + name,
		Segments:   len(segs),
		DurationMS: track.Duration().Milliseconds(),
	})
}

func formInt(c *gin.Context, key string, fallback int) (int, error) {
	v := c.PostForm(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}

// download serves a rendered track. Only names the server generated are
// accepted, so the parameter cannot escape OutDir.
func (s *Server) download(c *gin.Context) {
	name := c.Param("name")
	ext := filepath.Ext(name)
	if _, err := uuid.Parse(strings.TrimSuffix(name, ext)); err != nil || !practice.ValidFormat(strings.TrimPrefix(ext, ".")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such track"})
		return
	}
	path := filepath.Join(s.opts.OutDir, name)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such track"})
		return
	}
	c.FileAttachment(path, "practice"+ext)
}
