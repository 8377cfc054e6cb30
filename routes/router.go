package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/poolchecker/config"
	"github.com/cppla/poolchecker/controllers"
	"github.com/cppla/poolchecker/middleware"
	"github.com/cppla/poolchecker/services"
	"github.com/cppla/poolchecker/tasks"
	"github.com/cppla/poolchecker/utils"
)

// Version is reported by the service info endpoint.
const Version = "1.0.0"

// Deps bundles what the HTTP layer needs.
type Deps struct {
	DB         *gorm.DB
	Users      *services.UserService
	Pools      *services.PoolService
	Visitors   *services.VisitorService
	Analytics  *services.AnalyticsService
	Dispatcher *tasks.Dispatcher
	Tokens     *utils.TokenManager
	Blacklist  *utils.TokenBlacklist
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg config.AppConfig, deps Deps) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Access log goes to its own rolling file when configured
	if cfg.GinPath != "" {
		gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
		if err == nil {
			r.Use(utils.Ginzap(gl, time.RFC3339, true))
			r.Use(utils.RecoveryWithZap(gl, false))
		} else {
			// fallback to default recovery if logger failed to init
			r.Use(gin.Recovery())
		}
	} else {
		r.Use(utils.Ginzap(utils.Logger, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(utils.Logger, false))
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", utils.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{
			"name":    "poolchecker",
			"version": Version,
			"docs":    "/api/v1",
		})
	})

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	auth := middleware.NewAuth(deps.Tokens, deps.Blacklist, deps.Users)

	authController := controllers.NewAuthController(deps.Users, deps.Tokens, deps.Blacklist)
	poolController := controllers.NewPoolController(deps.Pools, deps.Visitors, deps.Dispatcher)
	visitorController := controllers.NewVisitorController(deps.Visitors, deps.Pools)
	analyticsController := controllers.NewAnalyticsController(deps.Analytics, deps.Pools)
	statsController := controllers.NewStatsController(deps.DB)
	taskController := controllers.NewTaskController(deps.Dispatcher)

	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware(cfg.RateLimitPerMinute))
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/refresh", authController.Refresh)
	authGroup.POST("/logout", auth.AuthRequired(), authController.Logout)
	authGroup.GET("/me", auth.AuthRequired(), authController.Me)

	// Public stats endpoint
	api.GET("/stats", statsController.GetStats)

	protected := api.Group("")
	protected.Use(auth.AuthRequired())

	pools := protected.Group("/pools")
	pools.GET("", poolController.ListPools)
	pools.GET("/:id", poolController.GetPool)
	pools.GET("/:id/current", poolController.CurrentCount)

	admin := protected.Group("")
	admin.Use(auth.AdminRequired())
	admin.POST("/pools", poolController.CreatePool)
	admin.PUT("/pools/:id", poolController.UpdatePool)
	admin.DELETE("/pools/:id", poolController.DeletePool)
	admin.POST("/pools/:id/scrape", poolController.TriggerScrape)
	admin.POST("/tasks/scrape-all", taskController.ScrapeAll)
	admin.POST("/tasks/refresh-cache", taskController.RefreshCache)

	visitors := protected.Group("/visitors")
	visitors.GET("", visitorController.ListVisitors)
	visitors.GET("/paginated", visitorController.ListVisitorsPaginated)
	visitors.GET("/latest", visitorController.Latest)
	visitors.GET("/today/:pool_id", visitorController.Today)
	visitors.GET("/count", visitorController.Count)

	analytics := protected.Group("/analytics")
	analytics.GET("/weekday-averages", analyticsController.WeekdayAverages)
	analytics.GET("/heatmap", analyticsController.Heatmap)
	analytics.GET("/daily-summary", analyticsController.DailySummary)
	analytics.GET("/trends", analyticsController.Trends)
	analytics.GET("/peak-hours", analyticsController.PeakHours)
	analytics.GET("/weekday-average-now", analyticsController.WeekdayAverageNow)

	r.NoRoute(func(ctx *gin.Context) {
		if strings.HasPrefix(ctx.Request.URL.Path, "/api/") {
			utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
			return
		}
		utils.Error(ctx, http.StatusNotFound, 40400, "not found")
	})

	return r
}
