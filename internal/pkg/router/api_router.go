package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/coursepay/coursepay/app/controllers"
	"github.com/coursepay/coursepay/app/models"
	"github.com/coursepay/coursepay/app/repository"
	"github.com/coursepay/coursepay/internal/pkg/cache"
	"github.com/coursepay/coursepay/internal/pkg/env"
	"github.com/coursepay/coursepay/internal/pkg/middleware"
	"github.com/coursepay/coursepay/internal/pkg/notify"
	"github.com/coursepay/coursepay/internal/pkg/payments"
	"github.com/coursepay/coursepay/internal/pkg/reconcile"
)

type ApiRouter struct {
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	repos := repository.GetGlobalRepositories()

	stripe := payments.NewStripeClientFromEnv()
	airwallex := payments.NewAirwallexClientFromEnv()

	resolver := payments.NewResolver(repos.Customer, stripe, airwallex)
	orchestrator := payments.NewOrchestrator(repos.Product, repos.Purchase, repos.Price, stripe, airwallex)

	checkout := controllers.NewCheckoutController(repos, resolver, orchestrator, map[models.Provider]payments.Gateway{
		models.ProviderStripe:    stripe,
		models.ProviderAirwallex: airwallex,
	})
	api := controllers.NewApiController(repos)

	reconciler := reconcile.NewService(
		repos.User, repos.Customer, repos.Product,
		repos.Purchase, repos.Enrollment, repos.WebhookEvent,
		notify.NewDispatcherFromEnv(),
	)
	webhooks := controllers.NewWebhookControllerFromEnv(reconciler)

	group := app.Group("/api", limiter.New(limiter.Config{
		Max:        60,
		Expiration: 1 * time.Minute,
		Storage:    limiterStorage(),
	}))

	v1 := group.Group("/v1")
	v1.Post("/checkout", checkout.HandleCheckout)
	v1.Post("/upsell", checkout.HandleUpsell)
	v1.Get("/products", api.HandleProducts)
	v1.Get("/purchases", middleware.BearerAuthMiddleware(), api.HandlePurchases)
	v1.Get("/stats", middleware.BearerAuthMiddleware(), middleware.RequireAdmin, api.HandleStats)

	// Webhooks carry their own signature auth; never rate-limit providers.
	hooks := app.Group("/api/v1/webhooks")
	hooks.Post("/stripe", webhooks.HandleStripe)
	hooks.Post("/airwallex", webhooks.HandleAirwallex)
	hooks.Post("/copecart", webhooks.HandleCopeCart)
}

// limiterStorage backs the rate limiter with Redis so limits hold across
// instances. Connection settings are derived from the shared cache client,
// with a separate database number.
func limiterStorage() fiber.Storage {
	client := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client != nil {
		if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
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
