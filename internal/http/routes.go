package http

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/sujalbistaa/pollwave/internal/logger"
	"github.com/sujalbistaa/pollwave/internal/ws"
)

const limiterCleanupInterval = 10 * time.Minute

// SetupRoutes configures all application routes and middleware. Background
// work started here stops when ctx is cancelled.
func SetupRoutes(ctx context.Context, router *gin.Engine, env *Env) error {

	// --- Middleware ---

	if err := router.SetTrustedProxies(env.Config.TrustedProxies); err != nil {
		return fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	router.Use(gin.Recovery())
	router.Use(logger.GinMiddleware(env.Log))
	if env.Metrics != nil {
		router.Use(env.Metrics.Middleware())
	}
	router.Use(SecurityHeadersMiddleware())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{env.Config.CORSOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", adminTokenHdr, voterTokenHdr},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: env.Config.CORSOrigin != "*",
	}))

	// --- Rate Limiter Setup ---

	limiter := NewIPRateLimiter(rate.Limit(env.Config.RateLimitRPS), env.Config.RateLimitBurst)
	go limiter.Cleanup(ctx, limiterCleanupInterval)
	limited := RateLimitMiddleware(limiter)

	// --- API Routes ---

	api := router.Group("/api")
	api.Use(env.SessionMiddleware())
	{
		api.GET("/polls", env.ListPolls)
		api.POST("/polls", RequireAuth(), limited, env.CreatePoll)
		api.GET("/polls/:id", env.GetPoll)
		api.GET("/polls/:id/results", env.GetResults)
		api.POST("/polls/:id/vote", limited, env.Vote)
		api.POST("/polls/:id/close", RequireAuth(), env.ClosePoll)
		api.PATCH("/polls/:id/options/:optionId", RequireAuth(), env.UpdateOption)
		api.DELETE("/polls/:id", RequireAuth(), env.DeletePoll)

		api.GET("/profiles/me", RequireAuth(), env.GetMyProfile)
		api.PUT("/profiles/me", RequireAuth(), env.UpdateMyProfile)

		api.POST("/voter-tokens", limited, env.IssueVoterToken)
		api.GET("/qr/:pollId", env.GetQRCode)

		api.POST("/admin/analytics/reconcile", AdminAuthMiddleware(env.Config.AdminToken), env.ReconcileAnalytics)
	}

	// --- WebSocket Route ---

	router.GET("/ws", func(c *gin.Context) {
		ws.ServeWs(env.Hub, c.Writer, c.Request)
	})

	// --- Operational ---

	router.GET("/health", env.Health)
	if env.Metrics != nil {
		router.GET("/metrics", gin.WrapH(env.Metrics.Handler()))
	}
	return nil
}
