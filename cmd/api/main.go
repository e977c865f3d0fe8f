package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prashanthspeshway/riderapp-backend/internal/database"
	"github.com/prashanthspeshway/riderapp-backend/internal/dispatch"
	"github.com/prashanthspeshway/riderapp-backend/internal/guard"
	"github.com/prashanthspeshway/riderapp-backend/internal/handlers"
	"github.com/prashanthspeshway/riderapp-backend/internal/logging"
	"github.com/prashanthspeshway/riderapp-backend/internal/middleware"
	"github.com/prashanthspeshway/riderapp-backend/internal/models"
	"github.com/prashanthspeshway/riderapp-backend/internal/presence"
	"github.com/prashanthspeshway/riderapp-backend/internal/realtime"
	"github.com/prashanthspeshway/riderapp-backend/internal/rides"
	"github.com/prashanthspeshway/riderapp-backend/internal/services"
	"github.com/prashanthspeshway/riderapp-backend/internal/verification"
	"github.com/prashanthspeshway/riderapp-backend/pkg/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := logging.NewLogger(os.Getenv("LOG_LEVEL"))

	db, err := database.InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database instance: %v", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	redisClient, err := services.InitRedis()
	if err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}

	ctx := context.Background()

	push, err := services.InitFirebase(ctx, logger)
	if err != nil {
		log.Printf("Firebase initialization warning: %v", err)
		push = nil
	}

	hub := realtime.NewHub(logger)

	presenceSvc := presence.NewService(redisClient, logger)

	rideSvc := rides.NewService(rides.NewGormStore(db), logger)
	guardSvc := guard.NewService(guard.NewRedisLockStore(redisClient), rideSvc, logger)

	sms := utils.NewSMSSender(logger)
	verifySvc := verification.NewService(rideSvc, hub, sms, utils.OTPExpiration, logger)

	engine := dispatch.NewEngine(rideSvc, presenceSvc, hub, guardSvc, verifySvc, dispatch.Config{}, logger)
	presenceSvc.OnOffline(engine.DriverOffline)

	rideDeps := handlers.RideDeps{DB: db, Rides: rideSvc, Engine: engine, Guard: guardSvc, Hub: hub, Redis: redisClient, Push: push}
	driverDeps := handlers.DriverDeps{DB: db, Engine: engine, Presence: presenceSvc, Hub: hub, Redis: redisClient, Push: push}
	verifyDeps := handlers.VerificationDeps{Rides: rideSvc, Verification: verifySvc, Redis: redisClient, Push: push}
	chatDeps := handlers.ChatDeps{DB: db, Rides: rideSvc, Hub: hub}

	// Inbound websocket events: drivers answer offers and stream
	// location over the same socket the offers arrive on.
	hub.SetMessageHandler(func(c *realtime.Client, e realtime.Event) {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return
		}
		switch e.Type {
		case "offer_response":
			var resp struct {
				RideID   uint `json:"rideId"`
				Accepted bool `json:"accepted"`
			}
			if json.Unmarshal(raw, &resp) != nil {
				return
			}
			if resp.Accepted {
				ride, err := engine.TryAccept(ctx, resp.RideID, c.UserID())
				if err != nil {
					logger.Warn("ws accept failed", "rideId", resp.RideID, "driverId", c.UserID(), "error", err)
					return
				}
				_ = services.PublishRideUpdate(ctx, redisClient, ride.ID, ride.Status,
					map[string]interface{}{"driverId": c.UserID()})
			} else {
				engine.Decline(resp.RideID, c.UserID())
			}
		case realtime.EventDriverLocation:
			if c.UserType() != string(models.UserTypeDriver) {
				return
			}
			var loc realtime.LocationUpdate
			if json.Unmarshal(raw, &loc) != nil {
				return
			}
			if !utils.ValidCoordinate(loc.Lat, loc.Lng) {
				return
			}
			if err := handlers.IngestDriverLocation(ctx, driverDeps, c.UserID(), loc.Lat, loc.Lng, loc.Heading); err != nil {
				logger.Warn("ws location update failed", "driverId", c.UserID(), "error", err)
			}
		}
	})

	go hub.Run()
	go services.RunRideUpdateRelay(ctx, redisClient, hub, logger)
	go presenceSvc.RunSweeper(ctx)

	r := gin.Default()

	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	r.Use(cors.New(config))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", handlers.Register(db))
			auth.POST("/login", handlers.Login(db))
		}

		api.GET("/ws", middleware.AuthMiddleware(), handlers.WebSocketHandler(hub))

		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware())
		{
			protected.POST("/fcm-token", handlers.UpdateFCMToken(db))

			ridesGroup := protected.Group("/rides")
			{
				ridesGroup.POST("", middleware.RequireUserType(string(models.UserTypeRider)), handlers.CreateRide(rideDeps))
				ridesGroup.POST("/estimate", handlers.FareEstimate())
				ridesGroup.GET("/pending", middleware.RequireUserType(string(models.UserTypeDriver)), handlers.ListPendingRides(rideDeps))
				ridesGroup.GET("/active", handlers.ActiveRide(rideDeps))
				ridesGroup.GET("/history", handlers.RideHistory(rideDeps))
				ridesGroup.GET("/:rideId", handlers.GetRide(rideDeps))
				ridesGroup.POST("/:rideId/cancel", handlers.CancelRide(rideDeps))
				ridesGroup.POST("/:rideId/complete", middleware.RequireUserType(string(models.UserTypeDriver)), handlers.CompleteRide(rideDeps))
				ridesGroup.POST("/:rideId/verify", middleware.RequireUserType(string(models.UserTypeDriver)), handlers.VerifyRide(verifyDeps))
				ridesGroup.POST("/:rideId/resend-otp", middleware.RequireUserType(string(models.UserTypeRider)), handlers.ResendCode(verifyDeps))
				ridesGroup.POST("/:rideId/rate", middleware.RequireUserType(string(models.UserTypeRider)), handlers.RateDriver(rideDeps))
				ridesGroup.POST("/:rideId/messages", handlers.SendMessage(chatDeps))
				ridesGroup.GET("/:rideId/messages", handlers.ChatHistory(chatDeps))
			}

			protected.GET("/nearby-drivers", handlers.NearbyDrivers(driverDeps))

			driver := protected.Group("/driver")
			driver.Use(middleware.RequireUserType(string(models.UserTypeDriver)))
			{
				driver.POST("/rides/:rideId/accept", handlers.AcceptRide(driverDeps))
				driver.POST("/rides/:rideId/reject", handlers.DeclineRide(driverDeps))
				driver.POST("/location", handlers.UpdateLocation(driverDeps))
				driver.POST("/availability", handlers.SetAvailability(driverDeps))
				driver.POST("/status", handlers.SetOnlineStatus(driverDeps))
				driver.GET("/status", handlers.DriverStatus(driverDeps))
			}
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logger.Info("server starting", "port", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
