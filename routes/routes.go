package routes

import (
	"net/http"
	"time"

	"sakhi/handlers"
	"sakhi/middleware"
	"sakhi/models"
	"sakhi/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RegisterAuthRoutes registers registration, login, and profile endpoints.
func RegisterAuthRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/auth")
	{
		api.POST("/register", hb.Auth.Register)
		api.POST("/login", hb.Auth.Login)

		// Protected routes (Require Authentication)
		api.Use(middleware.JWTAuthMiddleware())
		api.POST("/logout", hb.Auth.Logout)
		api.GET("/me", hb.Auth.Me)
		api.POST("/device", hb.Auth.RegisterDevice)
	}
}

// RegisterDoctorRoutes registers doctor discovery and availability endpoints.
func RegisterDoctorRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/doctors")
	{
		api.Use(middleware.JWTAuthMiddleware())
		api.GET("/online", hb.Auth.ListOnlineDoctors)

		// Availability is doctor-only.
		self := api.Group("")
		self.Use(middleware.RequireRole(models.RoleDoctor))
		self.PUT("/online", hb.Auth.SetOnline)
		self.PUT("/schedule", hb.Auth.SaveSchedule)
	}
}

// RegisterBookingRoutes registers the consultation lifecycle endpoints.
func RegisterBookingRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/bookings")
	{
		api.Use(middleware.JWTAuthMiddleware())
		api.GET("/mine", hb.Booking.MyBookings)
		api.GET("/:id", hb.Booking.Get)
		api.POST("/:id/end", hb.Booking.EndCall)

		customer := api.Group("")
		customer.Use(middleware.RequireRole(models.RoleCustomer))
		customer.POST("", hb.Booking.Create)

		doctor := api.Group("")
		doctor.Use(middleware.RequireRole(models.RoleDoctor))
		doctor.GET("", hb.Booking.DoctorBookings)
		doctor.POST("/:id/accept", hb.Booking.Accept)
		doctor.POST("/:id/decline", hb.Booking.Decline)
		doctor.POST("/:id/prescriptions", hb.Booking.UploadPrescription)
	}
}

// RegisterCallRoutes registers the signaling relay endpoints.
func RegisterCallRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/call")
	{
		api.Use(middleware.JWTAuthMiddleware())
		api.GET("/:id/room", hb.Call.Room)
		api.POST("/:id/signal", hb.Call.Signal)
		api.GET("/:id/events", hb.Call.Events)
	}
}

// RegisterWalletRoutes registers balance, top-up, payout, and history endpoints.
func RegisterWalletRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/wallet")
	{
		api.Use(middleware.JWTAuthMiddleware())
		api.GET("/balance", hb.Wallet.Balance)
		api.GET("/history", hb.Wallet.History)
		api.POST("/topup", hb.Wallet.TopUp)

		doctor := api.Group("")
		doctor.Use(middleware.RequireRole(models.RoleDoctor))
		doctor.POST("/payout", hb.Wallet.Payout)
	}
}

// RegisterWebhookRoutes registers the payment gateway callback. No auth
// middleware; the HMAC signature over the raw body is the authenticity check.
func RegisterWebhookRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.POST("/webhooks/payment", hb.Webhook.Payment)
}

// RegisterHealthRoute registers a health-check endpoint.
func RegisterHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"message":      "Hi, I'm Sakhi",
			"dependencies": utils.GetHealthStatus(),
		})
	})
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.RateLimitMiddleware())

	RegisterAuthRoutes(r, hb)
	RegisterDoctorRoutes(r, hb)
	RegisterBookingRoutes(r, hb)
	RegisterCallRoutes(r, hb)
	RegisterWalletRoutes(r, hb)
	RegisterWebhookRoutes(r, hb)
	RegisterHealthRoute(r)
}
