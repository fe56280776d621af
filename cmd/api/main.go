package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/attendclient"
	"rollcall/internal/auth"
	"rollcall/internal/cloudinary"
	"rollcall/internal/config"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/journal"
	"rollcall/internal/queue"
	"rollcall/internal/recognizeclient"
	"rollcall/internal/session"
	"rollcall/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable, submission journal disabled: %v", err)
		db = nil
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:submissions")
	}

	var repo *journal.Repository
	if db != nil {
		repo = journal.NewRepository(db.Client)
	}

	api := attendclient.New(cfg.AttendanceAPIURL)
	recog := recognizeclient.New(cfg.RecognitionURL, cfg.RecognitionSkip)
	cache := store.NewMarkCache(redisClient.Client, cfg.MarkCacheTTL)
	ctrl := session.NewController(api, recog, repo, q, cache)

	// Cloudinary client (nil when not configured)
	var cdnClient *cloudinary.Client
	if cfg.CloudinaryCloud != "" && cfg.CloudinaryKey != "" && cfg.CloudinarySecret != "" {
		cdnClient = cloudinary.New(cfg.CloudinaryCloud, cfg.CloudinaryKey, cfg.CloudinarySecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloud)
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	// CORS middleware
	r.Use(corsMiddleware())

	// Security headers
	r.Use(securityHeaders())

	// Rate limiting. Installed per route group so authenticated requests are
	// keyed by the verified faculty subject rather than the client IP.
	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/faculty/register", limiter.GinMiddleware(), func(c *gin.Context) {
		var req struct {
			FacultyID string `json:"faculty_id" binding:"required"`
			Name      string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if repo != nil {
			if err := repo.UpsertFaculty(c.Request.Context(), req.FacultyID, req.Name); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "faculty registration failed"})
				return
			}
		}

		tokens, err := auth.Issue(req.FacultyID, req.Name, "faculty", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		if repo != nil {
			_ = repo.SaveRefreshToken(c.Request.Context(), req.FacultyID, tokens.RefreshToken, tokens.RefreshExp)
		}

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.FacultyAuth(cfg.JWTSigningKey, cfg.JWTIssuer), limiter.GinMiddleware())

	authGroup.POST("/sessions", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		var req struct {
			Date       string `json:"date" binding:"required"`
			BatchID    string `json:"batch_id" binding:"required"`
			CourseID   string `json:"course_id"`
			CourseName string `json:"course_name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		s, err := ctrl.Open(c.Request.Context(), session.OpenRequest{
			FacultyID:   claims.Subject,
			FacultyName: claims.Name,
			Date:        req.Date,
			BatchID:     req.BatchID,
			CourseID:    req.CourseID,
			CourseName:  req.CourseName,
		})
		if err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"session_id": s.ID, "date": s.Date, "batch_id": s.BatchID})
	})

	authGroup.POST("/sessions/process", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form with images required"})
			return
		}

		var images []recognizeclient.Image
		var evidence []string
		for _, header := range form.File["images"] {
			file, err := header.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable image: " + header.Filename})
				return
			}
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
				return
			}
			images = append(images, recognizeclient.Image{Filename: header.Filename, Data: data})

			if cdnClient != nil {
				if up, err := cdnClient.UploadBytes(data, header.Filename); err != nil {
					log.Printf("evidence upload failed for %s: %v", header.Filename, err)
				} else {
					evidence = append(evidence, up.SecureURL)
				}
			}
		}

		if err := ctrl.Process(c.Request.Context(), claims.Subject, images, evidence); err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}

		view, err := ctrl.Roster(claims.Subject)
		if err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, view)
	})

	authGroup.POST("/sessions/toggle", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		var req struct {
			RollNo string `json:"roll_no" binding:"required"`
			Name   string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := ctrl.Toggle(claims.Subject, req.RollNo, req.Name); err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		view, err := ctrl.Roster(claims.Subject)
		if err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, view)
	})

	authGroup.GET("/sessions/roster", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		view, err := ctrl.Roster(claims.Subject)
		if err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, view)
	})

	authGroup.POST("/sessions/submit", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		sub, err := ctrl.Submit(c.Request.Context(), claims.Subject)
		if err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"date":          sub.Date,
			"total_present": sub.TotalPresent,
			"total_absent":  sub.TotalAbsent,
		})
	})

	authGroup.POST("/sessions/reset", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		if err := ctrl.Reset(claims.Subject); err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "reset"})
	})

	authGroup.GET("/calendar", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		view := ctrl.Calendar(c.Request.Context(), claims.Subject, c.Query("batch"), c.Query("course_id"), c.Query("select"))
		c.JSON(http.StatusOK, view)
	})

	authGroup.GET("/attendance/export", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		url, err := ctrl.ExportURL(claims.Subject, c.Query("date"), c.Query("batch"), c.Query("course_id"))
		if err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.Redirect(http.StatusFound, url)
	})

	authGroup.GET("/submissions", func(c *gin.Context) {
		if repo == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured"})
			return
		}
		claims, _ := auth.FromContext(c)
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		subs, err := repo.ListSubmissions(c.Request.Context(), claims.Subject, c.Query("batch"), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"submissions": subs})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second, // recognition can take a while
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// sessionErrStatus maps controller errors to HTTP statuses. Precondition
// refusals and transition guards are the caller's problem, not a 500.
func sessionErrStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoScheduledClass):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrSessionOpen),
		errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrAlreadyProcessed),
		errors.Is(err, session.ErrAlreadySubmitted):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrNoAttendance):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNotReconciled):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
