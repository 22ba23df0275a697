package controller

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"

	"outreachly/models"
	"outreachly/store"
	"outreachly/utils"
)

const metricsCacheKey = "outreachly:dashboard:metrics"

// DashboardMetrics is the landing-page summary.
type DashboardMetrics struct {
	TotalContacts   int64   `json:"total_contacts"`
	ActiveCampaigns int     `json:"active_campaigns"`
	TotalSent       int     `json:"total_sent"`
	OpenRate        float64 `json:"open_rate"`
	ReplyRate       float64 `json:"reply_rate"`
}

type DashboardController struct {
	Store    store.Store
	Redis    *redis.Client
	CacheTTL time.Duration
	Logger   *log.Logger
}

func NewDashboardController(s store.Store, redisClient *redis.Client, cacheTTL time.Duration, logger *log.Logger) *DashboardController {
	return &DashboardController{
		Store:    s,
		Redis:    redisClient,
		CacheTTL: cacheTTL,
		Logger:   logger,
	}
}

// GetMetrics aggregates counters across all campaigns. Results are cached
// in redis for a short TTL when a client is configured; cache misses or
// redis outages fall through to a live aggregate.
func (dc *DashboardController) GetMetrics(c *fiber.Ctx) error {
	if dc.Redis != nil {
		if cached, err := dc.Redis.Get(c.Context(), metricsCacheKey).Bytes(); err == nil {
			var metrics DashboardMetrics
			if json.Unmarshal(cached, &metrics) == nil {
				return c.JSON(metrics)
			}
		}
	}

	metrics, err := dc.computeMetrics(c.Context())
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute metrics", err)
	}

	if dc.Redis != nil {
		if payload, err := json.Marshal(metrics); err == nil {
			if err := dc.Redis.Set(c.Context(), metricsCacheKey, payload, dc.CacheTTL).Err(); err != nil {
				dc.Logger.Printf("metrics cache write failed: %v", err)
			}
		}
	}
	return c.JSON(metrics)
}

func (dc *DashboardController) computeMetrics(ctx context.Context) (*DashboardMetrics, error) {
	totalContacts, err := dc.Store.CountContacts(ctx)
	if err != nil {
		return nil, err
	}

	campaigns, err := dc.Store.ListCampaigns(ctx)
	if err != nil {
		return nil, err
	}

	metrics := DashboardMetrics{TotalContacts: totalContacts}
	var sent, opened, replied int
	for _, campaign := range campaigns {
		if campaign.Status == models.CampaignStatusActive {
			metrics.ActiveCampaigns++
		}
		sent += campaign.SentEmails
		opened += campaign.OpenedEmails
		replied += campaign.RepliedEmails
	}
	metrics.TotalSent = sent
	if sent > 0 {
		metrics.OpenRate = math.Round(float64(opened)/float64(sent)*1000) / 10
		metrics.ReplyRate = math.Round(float64(replied)/float64(sent)*1000) / 10
	}
	return &metrics, nil
}
