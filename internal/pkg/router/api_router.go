package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/HossamFares/Lernora/app/controllers"
	"github.com/HossamFares/Lernora/internal/pkg/cache"
	"github.com/HossamFares/Lernora/internal/pkg/constants"
	"github.com/HossamFares/Lernora/internal/pkg/env"
	"github.com/HossamFares/Lernora/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute)
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group(constants.V1Route)

	// Client-facing routes are rate limited and API-key guarded; webhook
	// routes are neither, the providers retry on their own schedule and
	// bring their own dedup.
	rate := limiter.New(limiter.Config{
		Max:        30,
		Expiration: time.Minute,
		Storage:    newLimiterStorage(),
	})
	auth := middleware.APIKeyAuth()
	v1.Post(constants.InitiateSubscriptionRoute, auth, rate, controllers.HandleInitiateSubscription)
	v1.Post(constants.WalletTopUpRoute, auth, rate, controllers.HandleWalletTopUp)
	v1.Get(constants.PaymentStatsRoute, auth, controllers.HandlePaymentStats)

	v1.Post(constants.PaymobWebhookRoute, controllers.HandlePaymobWebhook)
	v1.Post(constants.PayPalWebhookRoute, controllers.HandlePayPalWebhook)
}

// newLimiterStorage backs the rate limiter with the shared redis instance so
// limits hold across replicas. Database 1 keeps limiter keys out of the
// cache keyspace.
func newLimiterStorage() *redisstorage.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient := cache.GetClient(); cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
