package handler

import (
	"flashmall/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg)

	api := r.Group("/api/v1")
	{
		cart := api.Group("/cart")
		{
			cart.POST("/add", h.AddToCart)
			cart.GET("/list", h.ListCart)
		}

		order := api.Group("/order")
		{
			order.POST("/create", h.CreateOrder)
			order.POST("/cancel", h.CancelOrder)
			order.GET("/detail", h.GetOrder)
			order.GET("/list", h.ListOrders)
		}

		pay := api.Group("/pay")
		{
			pay.POST("/notify", h.PaymentNotify)
		}

		inventory := api.Group("/inventory")
		{
			inventory.GET("/stock", h.GetStock)
			inventory.POST("/in", h.StockIn)
			inventory.POST("/adjust", h.AdjustStock)
			inventory.POST("/transfer", h.TransferStock)
			inventory.GET("/low-stock", h.ListLowStock)
		}

		seckill := api.Group("/seckill")
		{
			seckill.POST("/activity", h.CreateActivity)
			seckill.POST("/activity/:id/offer", h.AddOffer)
			seckill.POST("/activity/:id/preload", h.PreloadActivity)
			seckill.POST("/purchase", h.SeckillPurchase)
			seckill.GET("/status/:request_id", h.SeckillStatus)
		}

		promotion := api.Group("/promotion")
		{
			promotion.POST("/create", h.CreatePromotion)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
