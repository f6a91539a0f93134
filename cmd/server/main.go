package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"courier-routing/internal/config"
	"courier-routing/internal/models"
	"courier-routing/internal/modules/orders"
	"courier-routing/internal/modules/routecache"
	"courier-routing/internal/modules/routes"
	"courier-routing/internal/modules/routing"
	"courier-routing/pkg/geo"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
)

// CourierClaims is the JWT payload issued by the platform's auth service.
// This service only verifies tokens, it never issues them.
type CourierClaims struct {
	CourierID string `json:"courier_id"`
	jwt.RegisteredClaims
}

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping postgres: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	// Route builder with the configured strategy.
	var strategy routing.Strategy
	switch cfg.RouteStrategy {
	case "greedy":
		strategy = routing.NewGreedyStrategy()
	default:
		strategy = routing.NewOptimalStrategy()
	}
	builder := routing.NewBuilder(strategy, routing.Config{
		ToleranceMinutes:     cfg.ToleranceMinutes,
		HandoverMinutes:      cfg.HandoverMinutes,
		ExactSearchThreshold: cfg.ExactSearchThreshold,
		BeamWidth:            cfg.BeamWidth,
		NodeBudget:           cfg.SearchNodeBudget,
		SearchTimeout:        time.Duration(cfg.SearchTimeoutSec) * time.Second,
		MaxStops:             cfg.MaxStopsPerRoute,
	})

	orderRepo := orders.NewRepository(pool)
	orderSvc := orders.NewService(orderRepo)

	cacheRepo := routecache.NewRepository(rdb)
	cacheSvc := routecache.NewService(
		cacheRepo, builder, orderSvc,
		func(vehicleType string) routing.Estimator { return geo.NewHaversineEstimator(vehicleType) },
		models.EarningsConfig{BaseFeePerStop: cfg.BaseFeePerStop, PerKm: cfg.EarningPerKm},
		routecache.Config{
			TTL:               time.Duration(cfg.CacheTTLMinutes) * time.Minute,
			GenerationTimeout: time.Duration(cfg.GenerationTimeoutSec) * time.Second,
		},
	)

	routeRepo := routes.NewRepository(pool)
	routeSvc := routes.NewService(routeRepo, orderSvc, cacheSvc)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api/v1")

	// Courier endpoints: identity comes from the platform-issued JWT.
	courier := api.Group("/courier")
	courier.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(cfg.JWTSecret),
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(CourierClaims)
		},
		SuccessHandler: func(c echo.Context) {
			token := c.Get("user").(*jwt.Token)
			claims := token.Claims.(*CourierClaims)
			c.Set("courierID", claims.CourierID)
		},
	}))
	routes.NewHandler(routeSvc, cacheSvc).RegisterRoutes(courier)

	// Service-to-service hooks guarded by a shared key.
	internal := api.Group("/internal")
	internal.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:X-Internal-Api-Key",
		Validator: func(key string, c echo.Context) (bool, error) {
			return key == cfg.InternalAPIKey && key != "", nil
		},
	}))
	routecache.NewHandler(cacheSvc).RegisterRoutes(internal)

	log.Printf("Server listening addr=:%s", cfg.ServerPort)
	if err := e.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server stopped: %v", err)
	}
}
