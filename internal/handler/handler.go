package handler

import (
	"errors"
	"strconv"
	"time"

	"flashmall/internal/config"
	"flashmall/internal/model"
	"flashmall/internal/repository"
	"flashmall/internal/service"
	"flashmall/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	cartService      *service.CartService
	orderService     *service.OrderService
	inventoryService *service.InventoryService
	seckillService   *service.SeckillService
	promotionService *service.PromotionService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	inventoryService := service.NewInventoryService(db, rdb, cfg)
	promotionService := service.NewPromotionService(db)
	return &Handler{
		cartService:      service.NewCartService(db),
		orderService:     service.NewOrderService(db, rdb, cfg, inventoryService, promotionService),
		inventoryService: inventoryService,
		seckillService:   service.NewSeckillService(db, rdb, cfg),
		promotionService: promotionService,
	}
}

// businessError 把业务错误映射为对外的业务码
func businessError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyCart):
		response.BusinessError(c, response.CodeEmptyCart, err.Error())
	case errors.Is(err, service.ErrInsufficientStock):
		response.BusinessError(c, response.CodeInsufficientStock, err.Error())
	case errors.Is(err, service.ErrLockAcquisitionFailed):
		response.BusinessError(c, response.CodeLockAcquisitionFailed, err.Error())
	case errors.Is(err, service.ErrOrderNotCancellable):
		response.BusinessError(c, response.CodeOrderNotCancellable, err.Error())
	case errors.Is(err, service.ErrNotInActivity):
		response.BusinessError(c, response.CodeNotInActivity, err.Error())
	case errors.Is(err, service.ErrActivityNotStarted):
		response.BusinessError(c, response.CodeActivityNotStarted, err.Error())
	case errors.Is(err, service.ErrActivityEnded):
		response.BusinessError(c, response.CodeActivityEnded, err.Error())
	case errors.Is(err, service.ErrPurchaseLimitExceeded):
		response.BusinessError(c, response.CodePurchaseLimitExceeded, err.Error())
	case errors.Is(err, service.ErrActivityNotModifiable):
		response.BusinessError(c, response.CodeActivityNotModifiable, err.Error())
	case errors.Is(err, service.ErrActivityNotPending):
		response.BusinessError(c, response.CodeActivityNotPending, err.Error())
	case errors.Is(err, service.ErrRequestNotFound):
		response.BusinessError(c, response.CodeRequestNotFound, err.Error())
	case errors.Is(err, service.ErrPermissionDenied):
		response.Forbidden(c, err.Error())
	case errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrActivityNotFound),
		errors.Is(err, repository.ErrOfferNotFound),
		errors.Is(err, repository.ErrSKUNotFound),
		errors.Is(err, repository.ErrStockItemNotFound):
		response.NotFound(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 购物车接口
// ============================================================

type AddToCartRequest struct {
	UserID   int64 `json:"user_id" binding:"required"`
	SkuID    int64 `json:"sku_id" binding:"required"`
	Quantity int64 `json:"quantity" binding:"required,gt=0"`
}

// AddToCart 加入购物车
// POST /api/v1/cart/add
func (h *Handler) AddToCart(c *gin.Context) {
	var req AddToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.cartService.AddToCart(c.Request.Context(), req.UserID, req.SkuID, req.Quantity); err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, nil)
}

// ListCart 查询购物车
// GET /api/v1/cart/list?user_id=xxx
func (h *Handler) ListCart(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	items, err := h.cartService.ListCart(c.Request.Context(), userID)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, items)
}

// ============================================================
// 订单接口
// ============================================================

type CreateOrderRequest struct {
	UserID          int64  `json:"user_id" binding:"required"`
	ReceiverName    string `json:"receiver_name" binding:"required"`
	ReceiverPhone   string `json:"receiver_phone" binding:"required"`
	ReceiverAddress string `json:"receiver_address" binding:"required"`
	Notes           string `json:"notes"`
}

// CreateOrder 从购物车创建订单
// POST /api/v1/order/create
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.orderService.CreateOrderFromCart(c.Request.Context(), &service.CreateOrderRequest{
		UserID:          req.UserID,
		ReceiverName:    req.ReceiverName,
		ReceiverPhone:   req.ReceiverPhone,
		ReceiverAddress: req.ReceiverAddress,
		Notes:           req.Notes,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, order)
}

type CancelOrderRequest struct {
	UserID  int64  `json:"user_id" binding:"required"`
	OrderSn string `json:"order_sn" binding:"required"`
}

// CancelOrder 取消订单
// POST /api/v1/order/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	var req CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	// 先校验归属，再取消
	if _, err := h.orderService.GetOrderBySn(c.Request.Context(), req.OrderSn, req.UserID); err != nil {
		businessError(c, err)
		return
	}
	if err := h.orderService.CancelOrder(c.Request.Context(), req.OrderSn, req.UserID, "用户取消"); err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, nil)
}

// GetOrder 查询订单详情
// GET /api/v1/order/detail?order_sn=xxx&user_id=xxx
func (h *Handler) GetOrder(c *gin.Context) {
	orderSn := c.Query("order_sn")
	if orderSn == "" {
		response.ParamError(c, "order_sn 参数错误")
		return
	}
	userID, _ := strconv.ParseInt(c.Query("user_id"), 10, 64)

	order, err := h.orderService.GetOrderBySn(c.Request.Context(), orderSn, userID)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, order)
}

// ListOrders 查询用户订单列表
// GET /api/v1/order/list?user_id=xxx&page=1&page_size=10
func (h *Handler) ListOrders(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	orders, total, err := h.orderService.ListUserOrders(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"total":  total,
		"orders": orders,
	})
}

// ============================================================
// 支付回调接口
// ============================================================

type PaymentNotifyRequest struct {
	OrderSn       string          `json:"order_sn" binding:"required"`
	TradeNo       string          `json:"trade_no" binding:"required"`
	PaymentMethod string          `json:"payment_method"`
	PaidAt        time.Time       `json:"paid_at" binding:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
}

// PaymentNotify 支付网关异步通知
// POST /api/v1/pay/notify
//
// 除参数解析失败外一律应答成功，网关重试解决不了业务问题，
// 只会造成重复通知。
func (h *Handler) PaymentNotify(c *gin.Context) {
	var req PaymentNotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.orderService.HandlePaymentNotification(c.Request.Context(),
		req.OrderSn, req.TradeNo, req.PaymentMethod, req.PaidAt, req.Amount); err != nil {
		// 存储层故障也回执成功，失败订单靠日志和补偿任务兜底
		response.Success(c, gin.H{"message": "received"})
		return
	}

	response.Success(c, gin.H{"message": "success"})
}

// ============================================================
// 库存接口
// ============================================================

// GetStock 查询 SKU 库存
// GET /api/v1/inventory/stock?sku_id=xxx&warehouse_id=xxx
func (h *Handler) GetStock(c *gin.Context) {
	skuID, err := strconv.ParseInt(c.Query("sku_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "sku_id 参数错误")
		return
	}
	warehouseID, _ := strconv.ParseInt(c.Query("warehouse_id"), 10, 64)

	items, err := h.inventoryService.GetSKUStock(c.Request.Context(), skuID, warehouseID)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, items)
}

type StockInRequest struct {
	SkuID       int64  `json:"sku_id" binding:"required"`
	WarehouseID int64  `json:"warehouse_id" binding:"required"`
	Quantity    int64  `json:"quantity" binding:"required,gt=0"`
	ReferenceID string `json:"reference_id"`
	OperatorID  int64  `json:"operator_id"`
	Notes       string `json:"notes"`
}

// StockIn 入库
// POST /api/v1/inventory/in
func (h *Handler) StockIn(c *gin.Context) {
	var req StockInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	err := h.inventoryService.StockIn(c.Request.Context(),
		req.SkuID, req.WarehouseID, req.Quantity, req.ReferenceID, req.OperatorID, req.Notes)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, nil)
}

type AdjustStockRequest struct {
	SkuID       int64  `json:"sku_id" binding:"required"`
	WarehouseID int64  `json:"warehouse_id" binding:"required"`
	NewQuantity int64  `json:"new_quantity" binding:"gte=0"`
	OperatorID  int64  `json:"operator_id"`
	Notes       string `json:"notes"`
}

// AdjustStock 人工调整库存
// POST /api/v1/inventory/adjust
func (h *Handler) AdjustStock(c *gin.Context) {
	var req AdjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	err := h.inventoryService.Adjust(c.Request.Context(),
		req.SkuID, req.WarehouseID, req.NewQuantity, req.OperatorID, req.Notes)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, nil)
}

type TransferStockRequest struct {
	SkuID           int64  `json:"sku_id" binding:"required"`
	FromWarehouseID int64  `json:"from_warehouse_id" binding:"required"`
	ToWarehouseID   int64  `json:"to_warehouse_id" binding:"required"`
	Quantity        int64  `json:"quantity" binding:"required,gt=0"`
	OperatorID      int64  `json:"operator_id"`
	Notes           string `json:"notes"`
}

// TransferStock 仓库调拨
// POST /api/v1/inventory/transfer
func (h *Handler) TransferStock(c *gin.Context) {
	var req TransferStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.FromWarehouseID == req.ToWarehouseID {
		response.ParamError(c, "源仓库与目标仓库不能相同")
		return
	}

	err := h.inventoryService.Transfer(c.Request.Context(),
		req.SkuID, req.FromWarehouseID, req.ToWarehouseID, req.Quantity, req.OperatorID, req.Notes)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, nil)
}

// ListLowStock 查询低于预警阈值的库存
// GET /api/v1/inventory/low-stock?warehouse_id=xxx
func (h *Handler) ListLowStock(c *gin.Context) {
	warehouseID, _ := strconv.ParseInt(c.Query("warehouse_id"), 10, 64)

	items, err := h.inventoryService.ListLowStockItems(c.Request.Context(), warehouseID)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, items)
}

// ============================================================
// 秒杀接口
// ============================================================

type CreateActivityRequest struct {
	Name        string    `json:"name" binding:"required"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"start_time" binding:"required"`
	EndTime     time.Time `json:"end_time" binding:"required"`
}

// CreateActivity 创建秒杀活动
// POST /api/v1/seckill/activity
func (h *Handler) CreateActivity(c *gin.Context) {
	var req CreateActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	activity := &model.FlashSaleActivity{
		Name:        req.Name,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	}
	if err := h.seckillService.CreateActivity(c.Request.Context(), activity); err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, activity)
}

type AddOfferRequest struct {
	SkuID         int64           `json:"sku_id" binding:"required"`
	SalePrice     decimal.Decimal `json:"sale_price" binding:"required"`
	SaleStock     int64           `json:"sale_stock" binding:"required,gt=0"`
	PurchaseLimit int64           `json:"purchase_limit" binding:"required,gt=0"`
}

// AddOffer 向活动添加秒杀商品
// POST /api/v1/seckill/activity/:id/offer
func (h *Handler) AddOffer(c *gin.Context) {
	activityID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "活动 id 参数错误")
		return
	}

	var req AddOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	offer := &model.FlashSaleOffer{
		ActivityID:    activityID,
		SkuID:         req.SkuID,
		SalePrice:     req.SalePrice,
		SaleStock:     req.SaleStock,
		PurchaseLimit: req.PurchaseLimit,
	}
	if err := h.seckillService.AddOffer(c.Request.Context(), offer); err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, offer)
}

// PreloadActivity 预热活动到缓存
// POST /api/v1/seckill/activity/:id/preload
func (h *Handler) PreloadActivity(c *gin.Context) {
	activityID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "活动 id 参数错误")
		return
	}

	if err := h.seckillService.PreloadActivity(c.Request.Context(), activityID); err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, nil)
}

type SeckillPurchaseRequest struct {
	ActivityID      int64  `json:"activity_id" binding:"required"`
	UserID          int64  `json:"user_id" binding:"required"`
	SkuID           int64  `json:"sku_id" binding:"required"`
	Quantity        int64  `json:"quantity" binding:"required,gt=0"`
	ReceiverName    string `json:"receiver_name" binding:"required"`
	ReceiverPhone   string `json:"receiver_phone" binding:"required"`
	ReceiverAddress string `json:"receiver_address" binding:"required"`
}

// SeckillPurchase 秒杀下单，返回请求ID供轮询
// POST /api/v1/seckill/purchase
func (h *Handler) SeckillPurchase(c *gin.Context) {
	var req SeckillPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	requestID, err := h.seckillService.Purchase(c.Request.Context(), &service.PurchaseRequest{
		ActivityID:      req.ActivityID,
		UserID:          req.UserID,
		SkuID:           req.SkuID,
		Quantity:        req.Quantity,
		ReceiverName:    req.ReceiverName,
		ReceiverPhone:   req.ReceiverPhone,
		ReceiverAddress: req.ReceiverAddress,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{"request_id": requestID})
}

// SeckillStatus 查询秒杀请求状态
// GET /api/v1/seckill/status/:request_id?user_id=xxx
func (h *Handler) SeckillStatus(c *gin.Context) {
	requestID := c.Param("request_id")
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	status, err := h.seckillService.GetRequestStatus(c.Request.Context(), requestID, userID)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, status)
}

// ============================================================
// 促销接口
// ============================================================

type CreatePromotionRequest struct {
	Name           string          `json:"name" binding:"required"`
	TargetType     string          `json:"target_type" binding:"required"`
	TargetIDs      []int64         `json:"target_ids"`
	ConditionType  string          `json:"condition_type" binding:"required"`
	ConditionValue decimal.Decimal `json:"condition_value"`
	ActionType     string          `json:"action_type" binding:"required"`
	ActionValue    decimal.Decimal `json:"action_value" binding:"required"`
	StartTime      time.Time       `json:"start_time" binding:"required"`
	EndTime        time.Time       `json:"end_time" binding:"required"`
}

// CreatePromotion 创建促销活动
// POST /api/v1/promotion/create
func (h *Handler) CreatePromotion(c *gin.Context) {
	var req CreatePromotionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	promotion := &model.Promotion{
		Name:           req.Name,
		TargetType:     req.TargetType,
		TargetIDs:      req.TargetIDs,
		ConditionType:  req.ConditionType,
		ConditionValue: req.ConditionValue,
		ActionType:     req.ActionType,
		ActionValue:    req.ActionValue,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		IsActive:       true,
	}
	if err := h.promotionService.CreatePromotion(c.Request.Context(), promotion); err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, promotion)
}
