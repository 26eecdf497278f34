package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"itendance/internal/access"
	"itendance/internal/auth"
	"itendance/internal/config"
	"itendance/internal/httpmiddleware"
	"itendance/internal/queue"
	"itendance/internal/report"
	"itendance/internal/roster"
	"itendance/internal/store"
)

func main() {
	cfg := config.Load()

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
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	cache := store.NewReportCache(redisClient.Client, cfg.ReportCacheTTL)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "itendance:rosters")
	}

	repo := roster.NewRepository(db.Client)
	policy := access.Policy{CheckAssignmentDates: cfg.CheckAssignmentDates}
	svc := report.NewService(repo, q, policy, cfg.RiskThreshold)

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Identity integration is out of scope; login resolves a known user by
	// email and hands back tokens carrying role and department.
	r.POST("/v1/login", func(c *gin.Context) {
		var req struct {
			Email string `json:"email" binding:"required,email"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := repo.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			if errors.Is(err, roster.ErrNotFound) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}

		tokens, err := auth.Issue(user, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
			"user":          user,
		})
	})

	authGroup := r.Group("/v1", auth.RequireAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/classes/:id/roster", func(c *gin.Context) {
		user, _ := auth.CurrentUser(c)
		var req struct {
			Date    string `json:"date" binding:"required"`
			Entries []struct {
				StudentID string `json:"student_id" binding:"required"`
				Status    string `json:"status" binding:"required"`
				Notes     string `json:"notes"`
			} `json:"entries" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		day, err := parseDay(req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}

		sub := report.RosterSubmission{ClassID: c.Param("id"), Date: day}
		for _, e := range req.Entries {
			sub.Entries = append(sub.Entries, report.RosterEntry{
				StudentID: e.StudentID,
				Status:    roster.Status(e.Status),
				Notes:     e.Notes,
			})
		}

		saved, err := svc.SubmitRoster(c.Request.Context(), user, sub)
		if err != nil {
			c.JSON(statusFor(err, http.StatusBadRequest), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"marked": len(saved), "date": day.Format(time.DateOnly)})
	})

	authGroup.GET("/reports/at-risk", func(c *gin.Context) {
		user, _ := auth.CurrentUser(c)
		asOf := time.Now().UTC()
		cacheable := c.Query("as_of") == "" && user.Role == roster.RoleAdmin
		if v := c.Query("as_of"); v != "" {
			parsed, err := parseDay(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "as_of must be YYYY-MM-DD"})
				return
			}
			asOf = parsed
		}

		// Only the admin-wide view of today's report is cached; scoped views
		// differ per user and are cheap enough to recompute.
		cacheKey := "reports:at-risk:" + roster.Day(asOf).Format(time.DateOnly)
		if cacheable {
			if payload, ok := cache.Get(c.Request.Context(), cacheKey); ok {
				c.Data(http.StatusOK, "application/json", payload)
				return
			}
		}

		rep, err := svc.AtRiskReport(c.Request.Context(), user, asOf)
		if err != nil {
			c.JSON(statusFor(err, http.StatusInternalServerError), gin.H{"error": err.Error()})
			return
		}
		if cacheable {
			if payload, err := json.Marshal(rep); err == nil {
				_ = cache.Set(c.Request.Context(), cacheKey, payload)
			}
		}
		c.JSON(http.StatusOK, rep)
	})

	authGroup.GET("/reports/completion", func(c *gin.Context) {
		user, _ := auth.CurrentUser(c)
		crn := c.Query("crn")
		if crn == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "crn required"})
			return
		}
		start, err := parseDay(c.Query("start"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must be YYYY-MM-DD"})
			return
		}
		end, err := parseDay(c.Query("end"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be YYYY-MM-DD"})
			return
		}

		pct, err := svc.Completion(c.Request.Context(), user, crn, start, end)
		if err != nil {
			c.JSON(statusFor(err, http.StatusInternalServerError), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"crn":        crn,
			"start":      start.Format(time.DateOnly),
			"end":        end.Format(time.DateOnly),
			"completion": pct,
		})
	})

	authGroup.GET("/reports/missing", func(c *gin.Context) {
		user, _ := auth.CurrentUser(c)
		day := roster.Day(time.Now().UTC())
		if v := c.Query("date"); v != "" {
			parsed, err := parseDay(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
				return
			}
			day = parsed
		}

		missing, err := svc.MissingAttendance(c.Request.Context(), user, day, c.Query("term"))
		if err != nil {
			c.JSON(statusFor(err, http.StatusInternalServerError), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"date": day.Format(time.DateOnly), "missing": missing})
	})

	authGroup.GET("/students/:id/streak", func(c *gin.Context) {
		user, _ := auth.CurrentUser(c)
		classID := c.Query("class_id")
		if classID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "class_id required"})
			return
		}
		asOf := time.Now().UTC()
		if v := c.Query("as_of"); v != "" {
			parsed, err := parseDay(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "as_of must be YYYY-MM-DD"})
				return
			}
			asOf = parsed
		}

		streak, warns, err := svc.StudentStreak(c.Request.Context(), user, c.Param("id"), classID, asOf)
		if err != nil {
			c.JSON(statusFor(err, http.StatusInternalServerError), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"streak": streak, "warnings": warns})
	})

	authGroup.GET("/audit", func(c *gin.Context) {
		user, _ := auth.CurrentUser(c)
		limit := 50
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		entries, err := svc.AuditTrail(c.Request.Context(), user, limit)
		if err != nil {
			c.JSON(statusFor(err, http.StatusInternalServerError), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func parseDay(s string) (time.Time, error) {
	return time.Parse(time.DateOnly, s)
}

// statusFor maps service errors onto HTTP statuses; fallback covers
// validation-style failures the caller classifies.
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, roster.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, report.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, roster.ErrInvalidRange):
		return http.StatusBadRequest
	default:
		return fallback
	}
}
