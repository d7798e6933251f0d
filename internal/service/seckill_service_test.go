package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"flashmall/internal/infrastructure/mq"
	"flashmall/internal/model"

	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupSeckillTest(t *testing.T) (*SeckillService, *gorm.DB, *mocks.SyncProducer) {
	t.Helper()
	db := setupTestDB(t)
	_, client := setupTestRedis(t)
	svc := NewSeckillService(db, client, newTestConfig())

	producer := mocks.NewSyncProducer(t, nil)
	mq.KafkaProducer = producer
	t.Cleanup(func() { mq.KafkaProducer = nil })

	return svc, db, producer
}

func mustActivity(t *testing.T, svc *SeckillService, db *gorm.DB, start, end time.Time, offers ...*model.FlashSaleOffer) *model.FlashSaleActivity {
	t.Helper()
	ctx := context.Background()

	activity := &model.FlashSaleActivity{
		Name:      "限时秒杀",
		StartTime: start,
		EndTime:   end,
	}
	if err := svc.CreateActivity(ctx, activity); err != nil {
		t.Fatalf("create activity failed: %v", err)
	}
	for _, offer := range offers {
		offer.ActivityID = activity.ID
		if err := svc.AddOffer(ctx, offer); err != nil {
			t.Fatalf("add offer failed: %v", err)
		}
	}
	return activity
}

func mustPreload(t *testing.T, svc *SeckillService, activityID int64) {
	t.Helper()
	if err := svc.PreloadActivity(context.Background(), activityID); err != nil {
		t.Fatalf("preload failed: %v", err)
	}
}

func TestPreloadWritesFastStoreAndActivates(t *testing.T) {
	svc, db, _ := setupSeckillTest(t)
	ctx := context.Background()

	now := time.Now().UTC()
	activity := mustActivity(t, svc, db, now.Add(-time.Hour), now.Add(time.Hour),
		&model.FlashSaleOffer{SkuID: 11, SalePrice: decimal.RequireFromString("9.90"), SaleStock: 100, PurchaseLimit: 2},
	)
	mustPreload(t, svc, activity.ID)

	var reloaded model.FlashSaleActivity
	if err := db.Preload("Offers").First(&reloaded, activity.ID).Error; err != nil {
		t.Fatalf("reload activity: %v", err)
	}
	if reloaded.Status != model.ActivityStatusActive {
		t.Fatalf("activity status = %q, want ACTIVE", reloaded.Status)
	}

	offerID := reloaded.Offers[0].ID
	stock, err := svc.redisClient.Get(ctx, seckillStockKey(offerID)).Int64()
	if err != nil {
		t.Fatalf("stock counter missing: %v", err)
	}
	if stock != 100 {
		t.Fatalf("stock counter = %d, want 100", stock)
	}

	mapped, err := svc.redisClient.HGet(ctx, activitySkuMapKey(activity.ID), "11").Result()
	if err != nil {
		t.Fatalf("sku map missing: %v", err)
	}
	if mapped != strconv.FormatInt(offerID, 10) {
		t.Fatalf("sku map -> %q, want %d", mapped, offerID)
	}

	price, err := svc.redisClient.HGet(ctx, seckillOfferKey(offerID), "salePrice").Result()
	if err != nil {
		t.Fatalf("offer hash missing: %v", err)
	}
	if price != "9.9" {
		t.Fatalf("salePrice = %q, want 9.9", price)
	}
}

func TestPreloadWipesStaleState(t *testing.T) {
	svc, db, _ := setupSeckillTest(t)
	ctx := context.Background()

	now := time.Now().UTC()
	activity := mustActivity(t, svc, db, now.Add(-time.Hour), now.Add(time.Hour),
		&model.FlashSaleOffer{SkuID: 21, SalePrice: decimal.RequireFromString("5.00"), SaleStock: 10, PurchaseLimit: 1},
	)

	// 伪造一次失败预热留下的旧状态
	svc.redisClient.SAdd(ctx, activityOffersKey(activity.ID), "99999")
	svc.redisClient.Set(ctx, "stock:99999", 7, 0)
	svc.redisClient.HSet(ctx, "offer:99999", "skuId", "1")

	mustPreload(t, svc, activity.ID)

	if svc.redisClient.Exists(ctx, "stock:99999").Val() != 0 {
		t.Fatal("stale stock counter should be wiped")
	}
	if svc.redisClient.Exists(ctx, "offer:99999").Val() != 0 {
		t.Fatal("stale offer hash should be wiped")
	}
}

func TestPreloadRequiresPendingStatus(t *testing.T) {
	svc, db, _ := setupSeckillTest(t)

	now := time.Now().UTC()
	activity := mustActivity(t, svc, db, now.Add(-time.Hour), now.Add(time.Hour),
		&model.FlashSaleOffer{SkuID: 31, SalePrice: decimal.RequireFromString("5.00"), SaleStock: 10, PurchaseLimit: 1},
	)
	mustPreload(t, svc, activity.ID)

	// 已 ACTIVE 的活动不能再次预热
	err := svc.PreloadActivity(context.Background(), activity.ID)
	if !errors.Is(err, ErrActivityNotPending) {
		t.Fatalf("expected ErrActivityNotPending, got %v", err)
	}
}

func TestPurchaseSuccess(t *testing.T) {
	svc, db, producer := setupSeckillTest(t)
	ctx := context.Background()

	now := time.Now().UTC()
	activity := mustActivity(t, svc, db, now.Add(-time.Hour), now.Add(time.Hour),
		&model.FlashSaleOffer{SkuID: 41, SalePrice: decimal.RequireFromString("19.90"), SaleStock: 10, PurchaseLimit: 3},
	)
	mustPreload(t, svc, activity.ID)

	producer.ExpectSendMessageAndSucceed()

	requestID, err := svc.Purchase(ctx, &PurchaseRequest{
		ActivityID: activity.ID, UserID: 7, SkuID: 41, Quantity: 2,
		ReceiverName: "张三", ReceiverPhone: "13800000000", ReceiverAddress: "北京",
	})
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if requestID == "" {
		t.Fatal("request id should not be empty")
	}

	var offer model.FlashSaleOffer
	if err := db.Where("activity_id = ?", activity.ID).First(&offer).Error; err != nil {
		t.Fatalf("load offer: %v", err)
	}

	stock, _ := svc.redisClient.Get(ctx, seckillStockKey(offer.ID)).Int64()
	if stock != 8 {
		t.Fatalf("stock counter = %d, want 8", stock)
	}
	purchased, _ := svc.redisClient.HGet(ctx, userPurchaseKey(7, activity.ID), strconv.FormatInt(offer.ID, 10)).Int64()
	if purchased != 2 {
		t.Fatalf("user purchase count = %d, want 2", purchased)
	}

	status, err := svc.GetRequestStatus(ctx, requestID, 7)
	if err != nil {
		t.Fatalf("get request status failed: %v", err)
	}
	if status.Status != RequestStatusProcessing {
		t.Fatalf("status = %q, want PROCESSING", status.Status)
	}
}

func TestPurchaseAdmissionFailures(t *testing.T) {
	svc, db, _ := setupSeckillTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	running := mustActivity(t, svc, db, now.Add(-time.Hour), now.Add(time.Hour),
		&model.FlashSaleOffer{SkuID: 51, SalePrice: decimal.RequireFromString("10.00"), SaleStock: 1, PurchaseLimit: 5},
	)
	mustPreload(t, svc, running.ID)

	notStarted := mustActivity(t, svc, db, now.Add(time.Hour), now.Add(2*time.Hour),
		&model.FlashSaleOffer{SkuID: 52, SalePrice: decimal.RequireFromString("10.00"), SaleStock: 5, PurchaseLimit: 5},
	)
	mustPreload(t, svc, notStarted.ID)

	ended := mustActivity(t, svc, db, now.Add(-2*time.Hour), now.Add(-time.Hour),
		&model.FlashSaleOffer{SkuID: 53, SalePrice: decimal.RequireFromString("10.00"), SaleStock: 5, PurchaseLimit: 5},
	)
	mustPreload(t, svc, ended.ID)

	cases := []struct {
		name    string
		req     *PurchaseRequest
		wantErr error
	}{
		{
			name:    "sku not in activity",
			req:     &PurchaseRequest{ActivityID: running.ID, UserID: 1, SkuID: 999, Quantity: 1},
			wantErr: ErrNotInActivity,
		},
		{
			name:    "not started",
			req:     &PurchaseRequest{ActivityID: notStarted.ID, UserID: 1, SkuID: 52, Quantity: 1},
			wantErr: ErrActivityNotStarted,
		},
		{
			name:    "ended",
			req:     &PurchaseRequest{ActivityID: ended.ID, UserID: 1, SkuID: 53, Quantity: 1},
			wantErr: ErrActivityEnded,
		},
		{
			name:    "insufficient stock",
			req:     &PurchaseRequest{ActivityID: running.ID, UserID: 1, SkuID: 51, Quantity: 2},
			wantErr: ErrInsufficientStock,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Purchase(ctx, tc.req)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestPurchaseLimitPerUser(t *testing.T) {
	svc, db, producer := setupSeckillTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	activity := mustActivity(t, svc, db, now.Add(-time.Hour), now.Add(time.Hour),
		&model.FlashSaleOffer{SkuID: 61, SalePrice: decimal.RequireFromString("10.00"), SaleStock: 100, PurchaseLimit: 2},
	)
	mustPreload(t, svc, activity.ID)

	producer.ExpectSendMessageAndSucceed()
	if _, err := svc.Purchase(ctx, &PurchaseRequest{ActivityID: activity.ID, UserID: 9, SkuID: 61, Quantity: 2}); err != nil {
		t.Fatalf("first purchase failed: %v", err)
	}

	// 限购 2 件已用完
	_, err := svc.Purchase(ctx, &PurchaseRequest{ActivityID: activity.ID, UserID: 9, SkuID: 61, Quantity: 1})
	if !errors.Is(err, ErrPurchaseLimitExceeded) {
		t.Fatalf("expected ErrPurchaseLimitExceeded, got %v", err)
	}

	// 换个用户照常可买
	producer.ExpectSendMessageAndSucceed()
	if _, err := svc.Purchase(ctx, &PurchaseRequest{ActivityID: activity.ID, UserID: 10, SkuID: 61, Quantity: 1}); err != nil {
		t.Fatalf("other user purchase failed: %v", err)
	}
}

// 限购 1 件、库存充足，同一用户并发抢购也只能成功一次：
// 限购判定和扣减在同一个准入脚本内原子完成
func TestConcurrentPurchaseLimitPerUser(t *testing.T) {
	svc, db, producer := setupSeckillTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	activity := mustActivity(t, svc, db, now.Add(-time.Hour), now.Add(time.Hour),
		&model.FlashSaleOffer{SkuID: 65, SalePrice: decimal.RequireFromString("10.00"), SaleStock: 100, PurchaseLimit: 1},
	)
	mustPreload(t, svc, activity.ID)

	producer.ExpectSendMessageAndSucceed()

	const attempts = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Purchase(ctx, &PurchaseRequest{
				ActivityID: activity.ID, UserID: 9, SkuID: 65, Quantity: 1,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrPurchaseLimitExceeded) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("succeeded purchases = %d, want exactly 1", succeeded)
	}

	var offer model.FlashSaleOffer
	if err := db.Where("activity_id = ?", activity.ID).First(&offer).Error; err != nil {
		t.Fatalf("load offer: %v", err)
	}
	stock, _ := svc.redisClient.Get(ctx, seckillStockKey(offer.ID)).Int64()
	if stock != 99 {
		t.Fatalf("stock counter = %d, want 99", stock)
	}
}

// 库存 5，20 个并发请求各买 1 件，严格只有 5 个成功
func TestConcurrentPurchaseNoOversell(t *testing.T) {
	svc, db, producer := setupSeckillTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	activity := mustActivity(t, svc, db, now.Add(-time.Hour), now.Add(time.Hour),
		&model.FlashSaleOffer{SkuID: 71, SalePrice: decimal.RequireFromString("1.00"), SaleStock: 5, PurchaseLimit: 1},
	)
	mustPreload(t, svc, activity.ID)

	for i := 0; i < 5; i++ {
		producer.ExpectSendMessageAndSucceed()
	}

	const buyers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := svc.Purchase(ctx, &PurchaseRequest{
				ActivityID: activity.ID, UserID: userID, SkuID: 71, Quantity: 1,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	if succeeded != 5 {
		t.Fatalf("succeeded purchases = %d, want exactly 5", succeeded)
	}

	var offer model.FlashSaleOffer
	if err := db.Where("activity_id = ?", activity.ID).First(&offer).Error; err != nil {
		t.Fatalf("load offer: %v", err)
	}
	stock, _ := svc.redisClient.Get(ctx, seckillStockKey(offer.ID)).Int64()
	if stock != 0 {
		t.Fatalf("stock counter = %d, want 0", stock)
	}
}

func TestCompensateRestoresFastStore(t *testing.T) {
	svc, db, producer := setupSeckillTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	activity := mustActivity(t, svc, db, now.Add(-time.Hour), now.Add(time.Hour),
		&model.FlashSaleOffer{SkuID: 81, SalePrice: decimal.RequireFromString("10.00"), SaleStock: 10, PurchaseLimit: 3},
	)
	mustPreload(t, svc, activity.ID)

	producer.ExpectSendMessageAndSucceed()
	if _, err := svc.Purchase(ctx, &PurchaseRequest{ActivityID: activity.ID, UserID: 5, SkuID: 81, Quantity: 3}); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}

	var offer model.FlashSaleOffer
	if err := db.Where("activity_id = ?", activity.ID).First(&offer).Error; err != nil {
		t.Fatalf("load offer: %v", err)
	}

	svc.Compensate(ctx, offer.ID, 5, activity.ID, 3)

	stock, _ := svc.redisClient.Get(ctx, seckillStockKey(offer.ID)).Int64()
	if stock != 10 {
		t.Fatalf("stock counter = %d, want 10 after compensation", stock)
	}
	purchased, _ := svc.redisClient.HGet(ctx, userPurchaseKey(5, activity.ID), strconv.FormatInt(offer.ID, 10)).Int64()
	if purchased != 0 {
		t.Fatalf("user purchase count = %d, want 0 after compensation", purchased)
	}

	// 补偿后限购额度恢复，可以重新购买
	producer.ExpectSendMessageAndSucceed()
	if _, err := svc.Purchase(ctx, &PurchaseRequest{ActivityID: activity.ID, UserID: 5, SkuID: 81, Quantity: 3}); err != nil {
		t.Fatalf("repurchase after compensation failed: %v", err)
	}
}

func TestGetRequestStatusAccessControl(t *testing.T) {
	svc, _, _ := setupSeckillTest(t)
	ctx := context.Background()

	if err := svc.WriteRequestStatus(ctx, "req-abc", &RequestStatus{
		Status: RequestStatusSuccess, UserID: 1, OrderSn: "SN123",
	}); err != nil {
		t.Fatalf("write status failed: %v", err)
	}

	// 本人可查
	status, err := svc.GetRequestStatus(ctx, "req-abc", 1)
	if err != nil {
		t.Fatalf("owner read failed: %v", err)
	}
	if status.OrderSn != "SN123" {
		t.Fatalf("order sn = %q, want SN123", status.OrderSn)
	}

	// 他人越权
	if _, err := svc.GetRequestStatus(ctx, "req-abc", 2); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	// 过期/不存在
	if _, err := svc.GetRequestStatus(ctx, "req-void", 1); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestAddOfferRejectsActiveActivity(t *testing.T) {
	svc, db, _ := setupSeckillTest(t)
	now := time.Now().UTC()

	activity := mustActivity(t, svc, db, now.Add(-time.Hour), now.Add(time.Hour),
		&model.FlashSaleOffer{SkuID: 91, SalePrice: decimal.RequireFromString("10.00"), SaleStock: 10, PurchaseLimit: 1},
	)
	mustPreload(t, svc, activity.ID)

	err := svc.AddOffer(context.Background(), &model.FlashSaleOffer{
		ActivityID: activity.ID, SkuID: 92,
		SalePrice: decimal.RequireFromString("10.00"), SaleStock: 10, PurchaseLimit: 1,
	})
	if !errors.Is(err, ErrActivityNotModifiable) {
		t.Fatalf("expected ErrActivityNotModifiable, got %v", err)
	}
}

func TestCreateActivityRejectsInvertedWindow(t *testing.T) {
	svc, _, _ := setupSeckillTest(t)
	now := time.Now().UTC()

	err := svc.CreateActivity(context.Background(), &model.FlashSaleActivity{
		Name:      "bad",
		StartTime: now.Add(time.Hour),
		EndTime:   now,
	})
	if err == nil {
		t.Fatal("activity with end before start should be rejected")
	}
}
