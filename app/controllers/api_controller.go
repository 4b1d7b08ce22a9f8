package controllers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/coursepay/coursepay/app/models"
	"github.com/coursepay/coursepay/app/repository"
	"github.com/coursepay/coursepay/internal/pkg/metrics/counter"
	"github.com/coursepay/coursepay/internal/pkg/middleware"
)

// ApiController serves the read-only API surface: catalog, purchase history
// and operational counters.
type ApiController struct {
	repos *repository.Repositories
}

func NewApiController(repos *repository.Repositories) *ApiController {
	return &ApiController{repos: repos}
}

// HandleProducts returns the active catalog: built-in offers plus every
// active table row.
func (ac *ApiController) HandleProducts(c *fiber.Ctx) error {
	products := []models.Product{models.MainCourseProduct(), models.ExitOfferProduct()}

	rows, err := ac.repos.Product.GetActive()
	if err != nil {
		log.Printf("product listing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error", "message": "Could not load products"})
	}
	products = append(products, rows...)

	return c.JSON(fiber.Map{"products": products})
}

// HandlePurchases returns the authenticated user's purchase history.
func (ac *ApiController) HandlePurchases(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing session"})
	}

	purchases, err := ac.repos.Purchase.ListByUser(userID)
	if err != nil {
		log.Printf("purchase listing failed for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error", "message": "Could not load purchases"})
	}

	return c.JSON(fiber.Map{"purchases": purchases})
}

// HandleStats returns the Redis charge and webhook counters.
func (ac *ApiController) HandleStats(c *fiber.Ctx) error {
	totals, err := counter.ReadTotals()
	if err != nil {
		log.Printf("stats read failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error", "message": "Could not load stats"})
	}
	return c.JSON(totals)
}
