package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"flashmall/internal/config"
	"flashmall/internal/infrastructure/lock"
	"flashmall/internal/infrastructure/mq"
	"flashmall/internal/logger"
	"flashmall/internal/model"
	"flashmall/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 秒杀请求的处理状态，客户端凭请求ID轮询
const (
	RequestStatusProcessing = "PROCESSING"
	RequestStatusSuccess    = "SUCCESS"
	RequestStatusFailed     = "FAILED"
)

// 请求状态只保留短时间，过期后客户端查到的是"请求不存在"
const requestStatusTTL = 10 * time.Minute

// RequestStatus 请求状态 JSON，内嵌 user_id 用于防止越权查询
type RequestStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	UserID  int64  `json:"user_id"`
	OrderID int64  `json:"order_id,omitempty"`
	OrderSn string `json:"order_sn,omitempty"`
}

// SeckillOrderJob 投递到消息队列的落库任务
type SeckillOrderJob struct {
	RequestID  string           `json:"request_id"`
	UserID     int64            `json:"user_id"`
	ActivityID int64            `json:"activity_id"`
	OfferID    int64            `json:"offer_id"`
	SalePrice  string           `json:"sale_price"`
	Line       SeckillOrderLine `json:"line_details"`
}

type SeckillOrderLine struct {
	SkuID           int64  `json:"sku_id"`
	Quantity        int64  `json:"quantity"`
	ReceiverName    string `json:"receiver_name"`
	ReceiverPhone   string `json:"receiver_phone"`
	ReceiverAddress string `json:"receiver_address"`
}

// SeckillService 秒杀：预热 + 准入。
//
// 售卖期间的事实来源是缓存：准入只读写缓存、不碰数据库、不加锁，
// 下单落库由消费端异步完成。
type SeckillService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	seckillRepo *repository.SeckillRepository
}

func NewSeckillService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *SeckillService {
	return &SeckillService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		seckillRepo: repository.NewSeckillRepository(db),
	}
}

// ============================================================
// 活动管理
// ============================================================

func (s *SeckillService) CreateActivity(ctx context.Context, activity *model.FlashSaleActivity) error {
	if !activity.EndTime.After(activity.StartTime) {
		return errors.New("活动结束时间必须晚于开始时间")
	}
	activity.Status = model.ActivityStatusPending
	return s.seckillRepo.CreateActivity(ctx, activity)
}

func (s *SeckillService) GetActivity(ctx context.Context, activityID int64) (*model.FlashSaleActivity, error) {
	return s.seckillRepo.GetActivity(ctx, activityID)
}

// AddOffer 向活动添加秒杀商品；进行中/已结束的活动不允许再改
func (s *SeckillService) AddOffer(ctx context.Context, offer *model.FlashSaleOffer) error {
	activity, err := s.seckillRepo.GetActivity(ctx, offer.ActivityID)
	if err != nil {
		return err
	}
	if !activity.Modifiable() {
		return ErrActivityNotModifiable
	}
	return s.seckillRepo.AddOffer(ctx, offer)
}

func (s *SeckillService) CancelActivity(ctx context.Context, activityID int64) error {
	activity, err := s.seckillRepo.GetActivity(ctx, activityID)
	if err != nil {
		return err
	}
	if !activity.Modifiable() {
		return ErrActivityNotModifiable
	}
	return s.seckillRepo.UpdateActivityStatus(ctx, nil, activityID, activity.Status, model.ActivityStatusCancelled)
}

// ============================================================
// 预热
// ============================================================

type preloadOffer struct {
	ID            int64  `json:"id"`
	SkuID         int64  `json:"sku_id"`
	SaleStock     int64  `json:"sale_stock"`
	SalePrice     string `json:"sale_price"`
	PurchaseLimit int64  `json:"purchase_limit"`
}

// PreloadActivity 把活动的秒杀商品预热进缓存。
//
// 用独立的预热锁防止同一活动被并发预热；预热脚本原子执行完之后
// 才把关系库状态翻成 ACTIVE——从这一刻起缓存就是售卖的事实来源。
func (s *SeckillService) PreloadActivity(ctx context.Context, activityID int64) error {
	preloadLock := lock.NewPreloadLock(s.redisClient, activityID, 30*time.Second)
	ok, err := preloadLock.TryLock(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockAcquisitionFailed
	}
	defer func() {
		if err := preloadLock.Unlock(ctx); err != nil {
			logger.Get().Warn("释放预热锁失败", zap.Error(err))
		}
	}()

	activity, err := s.seckillRepo.GetActivity(ctx, activityID)
	if err != nil {
		return err
	}
	if activity.Status != model.ActivityStatusPending {
		return ErrActivityNotPending
	}

	offers := make([]preloadOffer, 0, len(activity.Offers))
	for _, o := range activity.Offers {
		offers = append(offers, preloadOffer{
			ID:            o.ID,
			SkuID:         o.SkuID,
			SaleStock:     o.SaleStock,
			SalePrice:     o.SalePrice.String(),
			PurchaseLimit: o.PurchaseLimit,
		})
	}
	offersJSON, err := json.Marshal(offers)
	if err != nil {
		return err
	}

	keys := []string{activityOffersKey(activityID), activitySkuMapKey(activityID)}
	if err := preloadScript.Run(ctx, s.redisClient, keys,
		string(offersJSON),
		activity.StartTime.UTC().Format(time.RFC3339),
		activity.EndTime.UTC().Format(time.RFC3339),
		activityID,
	).Err(); err != nil {
		return err
	}

	if err := s.seckillRepo.UpdateActivityStatus(ctx, nil, activityID, model.ActivityStatusPending, model.ActivityStatusActive); err != nil {
		return err
	}

	logger.Get().Info("秒杀活动预热完成",
		zap.Int64("activity_id", activityID),
		zap.Int("offer_count", len(offers)))
	return nil
}

// ============================================================
// 准入（热路径）
// ============================================================

type PurchaseRequest struct {
	ActivityID      int64
	UserID          int64
	SkuID           int64
	Quantity        int64
	ReceiverName    string
	ReceiverPhone   string
	ReceiverAddress string
}

// Purchase 秒杀下单：执行一次准入脚本，成功后写入 PROCESSING 状态、
// 投递落库任务，立即返回请求ID。订单本身由消费端异步创建。
//
// 消息以 SKU ID 为 key，同一 SKU 的落库任务落在同一分区内串行消费。
func (s *SeckillService) Purchase(ctx context.Context, req *PurchaseRequest) (string, error) {
	keys := []string{
		activitySkuMapKey(req.ActivityID),
		userPurchaseKey(req.UserID, req.ActivityID),
	}
	result, err := admissionScript.Run(ctx, s.redisClient, keys,
		req.SkuID,
		req.Quantity,
		time.Now().UTC().Format(time.RFC3339),
	).Result()
	if err != nil {
		return "", err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) < 2 {
		return "", errors.New("准入脚本返回了意料之外的结果")
	}
	code, _ := values[0].(int64)
	if code != 1 {
		return "", admissionError(code)
	}

	offerID, err := strconv.ParseInt(toString(values[1]), 10, 64)
	if err != nil {
		return "", err
	}
	salePrice := toString(values[2])

	requestID := uuid.NewString()
	if err := s.WriteRequestStatus(ctx, requestID, &RequestStatus{
		Status:  RequestStatusProcessing,
		Message: "您的请求正在处理中",
		UserID:  req.UserID,
	}); err != nil {
		// 状态写入失败时立刻补偿缓存，否则这份库存就丢了
		s.Compensate(ctx, offerID, req.UserID, req.ActivityID, req.Quantity)
		return "", err
	}

	job := &SeckillOrderJob{
		RequestID:  requestID,
		UserID:     req.UserID,
		ActivityID: req.ActivityID,
		OfferID:    offerID,
		SalePrice:  salePrice,
		Line: SeckillOrderLine{
			SkuID:           req.SkuID,
			Quantity:        req.Quantity,
			ReceiverName:    req.ReceiverName,
			ReceiverPhone:   req.ReceiverPhone,
			ReceiverAddress: req.ReceiverAddress,
		},
	}
	jobJSON, err := json.Marshal(job)
	if err != nil {
		s.Compensate(ctx, offerID, req.UserID, req.ActivityID, req.Quantity)
		return "", err
	}
	if err := mq.SendMessage(s.cfg.Kafka.Topic.SeckillOrder, strconv.FormatInt(req.SkuID, 10), string(jobJSON)); err != nil {
		s.Compensate(ctx, offerID, req.UserID, req.ActivityID, req.Quantity)
		return "", err
	}

	return requestID, nil
}

func admissionError(code int64) error {
	switch code {
	case -1:
		return ErrNotInActivity
	case -2:
		return ErrActivityNotStarted
	case -3:
		return ErrActivityEnded
	case -4:
		return ErrInsufficientStock
	case -5:
		return ErrPurchaseLimitExceeded
	}
	return errors.New("未知的准入失败码")
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case int64:
		return strconv.FormatInt(s, 10)
	}
	return ""
}

// GetRequestStatus 查询秒杀请求的处理状态；只允许本人查询
func (s *SeckillService) GetRequestStatus(ctx context.Context, requestID string, userID int64) (*RequestStatus, error) {
	data, err := s.redisClient.Get(ctx, requestStatusKey(requestID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}

	var status RequestStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, err
	}
	if status.UserID != userID {
		return nil, ErrPermissionDenied
	}
	return &status, nil
}

// WriteRequestStatus 写入请求状态 blob，消费端落库后也用它更新终态
func (s *SeckillService) WriteRequestStatus(ctx context.Context, requestID string, status *RequestStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.redisClient.Set(ctx, requestStatusKey(requestID), data, requestStatusTTL).Err()
}

// Compensate 落库失败后归还缓存库存、扣回用户购买量。
// 准入成功却没能落库时必须调用，否则缓存与数据库永久分歧。
func (s *SeckillService) Compensate(ctx context.Context, offerID, userID, activityID, quantity int64) {
	keys := []string{
		seckillStockKey(offerID),
		userPurchaseKey(userID, activityID),
	}
	if err := compensationScript.Run(ctx, s.redisClient, keys, offerID, quantity).Err(); err != nil {
		logger.Get().Error("秒杀库存补偿失败，缓存与数据库可能已分歧",
			zap.Int64("offer_id", offerID),
			zap.Int64("user_id", userID),
			zap.Int64("quantity", quantity),
			zap.Error(err))
	}
}
