package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"flashmall/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupOrderTest(t *testing.T) (*OrderService, *InventoryService, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	_, client := setupTestRedis(t)
	cfg := newTestConfig()

	inventorySvc := NewInventoryService(db, client, cfg)
	promotionSvc := NewPromotionService(db)
	orderSvc := NewOrderService(db, client, cfg, inventorySvc, promotionSvc)
	return orderSvc, inventorySvc, db
}

func seedSKU(t *testing.T, db *gorm.DB, skuID, productID, categoryID int64, price string) {
	t.Helper()
	if err := db.Create(&model.Product{ID: productID, Name: fmt.Sprintf("商品%d", productID), CategoryID: categoryID}).Error; err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	sku := &model.SKU{
		ID:        skuID,
		Code:      fmt.Sprintf("SKU-%d", skuID),
		Name:      fmt.Sprintf("规格%d", skuID),
		ProductID: productID,
		Price:     decimal.RequireFromString(price),
	}
	if err := db.Create(sku).Error; err != nil {
		t.Fatalf("create sku failed: %v", err)
	}
}

func seedCartItem(t *testing.T, db *gorm.DB, userID, skuID, qty int64, price string) {
	t.Helper()
	item := &model.CartItem{
		UserID:   userID,
		SkuID:    skuID,
		Quantity: qty,
		Price:    decimal.RequireFromString(price),
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("create cart item failed: %v", err)
	}
}

func TestCreateOrderFromEmptyCart(t *testing.T) {
	orderSvc, _, _ := setupOrderTest(t)

	_, err := orderSvc.CreateOrderFromCart(context.Background(), &CreateOrderRequest{
		UserID: 1, ReceiverName: "张三", ReceiverPhone: "13800000000", ReceiverAddress: "北京",
	})
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestCreateOrderFromCart(t *testing.T) {
	orderSvc, _, db := setupOrderTest(t)
	ctx := context.Background()

	seedSKU(t, db, 1, 10, 100, "25.00")
	seedSKU(t, db, 2, 20, 100, "40.00")
	item1 := mustStockItem(t, db, 1, 1, 50, 0, 0)
	item2 := mustStockItem(t, db, 2, 1, 50, 0, 0)
	seedCartItem(t, db, 7, 1, 2, "25.00")
	seedCartItem(t, db, 7, 2, 1, "40.00")

	order, err := orderSvc.CreateOrderFromCart(ctx, &CreateOrderRequest{
		UserID: 7, ReceiverName: "张三", ReceiverPhone: "13800000000", ReceiverAddress: "北京",
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if order.Status != model.OrderStatusPendingPayment {
		t.Fatalf("status = %q, want PENDING_PAYMENT", order.Status)
	}
	if !order.TotalAmount.Equal(decimal.RequireFromString("90.00")) {
		t.Fatalf("total = %s, want 90.00", order.TotalAmount)
	}
	if len(order.Items) != 2 {
		t.Fatalf("order items = %d, want 2", len(order.Items))
	}

	// 库存已预留
	if got := reloadStockItem(t, db, item1.ID).Reserved; got != 2 {
		t.Fatalf("sku 1 reserved = %d, want 2", got)
	}
	if got := reloadStockItem(t, db, item2.ID).Reserved; got != 1 {
		t.Fatalf("sku 2 reserved = %d, want 1", got)
	}
	if n := countTxns(t, db, order.OrderSn, model.StockTxTypeReserve); n != 2 {
		t.Fatalf("RESERVE transactions = %d, want 2", n)
	}

	// 购物车已清空
	var cartCount int64
	db.Model(&model.CartItem{}).Where("user_id = ?", 7).Count(&cartCount)
	if cartCount != 0 {
		t.Fatalf("cart items remaining = %d, want 0", cartCount)
	}
}

func TestCreateOrderAppliesBestPromotion(t *testing.T) {
	orderSvc, _, db := setupOrderTest(t)
	ctx := context.Background()

	seedSKU(t, db, 1, 10, 100, "100.00")
	mustStockItem(t, db, 1, 1, 50, 0, 0)
	seedCartItem(t, db, 8, 1, 1, "100.00")

	now := time.Now().UTC()
	promo := &model.Promotion{
		Name:          "全场9折",
		TargetType:    model.PromotionTargetAll,
		ConditionType: model.PromotionConditionNone,
		ActionType:    model.PromotionActionPercentage,
		ActionValue:   decimal.RequireFromString("10"),
		StartTime:     now.Add(-time.Hour),
		EndTime:       now.Add(time.Hour),
		IsActive:      true,
	}
	if err := db.Create(promo).Error; err != nil {
		t.Fatalf("create promotion failed: %v", err)
	}

	order, err := orderSvc.CreateOrderFromCart(ctx, &CreateOrderRequest{
		UserID: 8, ReceiverName: "李四", ReceiverPhone: "13900000000", ReceiverAddress: "上海",
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if !order.PromotionAmount.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("promotion amount = %s, want 10", order.PromotionAmount)
	}
	if !order.PayAmount.Equal(decimal.RequireFromString("90")) {
		t.Fatalf("pay amount = %s, want 90", order.PayAmount)
	}
	if order.PromotionID == nil || *order.PromotionID != promo.ID {
		t.Fatalf("promotion id = %v, want %d", order.PromotionID, promo.ID)
	}
}

func TestCreateOrderInsufficientStockRollsBack(t *testing.T) {
	orderSvc, _, db := setupOrderTest(t)
	ctx := context.Background()

	seedSKU(t, db, 1, 10, 100, "25.00")
	seedSKU(t, db, 2, 20, 100, "40.00")
	item1 := mustStockItem(t, db, 1, 1, 50, 0, 0)
	mustStockItem(t, db, 2, 1, 1, 0, 0) // 不够
	seedCartItem(t, db, 9, 1, 2, "25.00")
	seedCartItem(t, db, 9, 2, 5, "40.00")

	_, err := orderSvc.CreateOrderFromCart(ctx, &CreateOrderRequest{
		UserID: 9, ReceiverName: "王五", ReceiverPhone: "13700000000", ReceiverAddress: "广州",
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	// 整个事务回滚：第一个 SKU 的预留也要撤销
	if got := reloadStockItem(t, db, item1.ID).Reserved; got != 0 {
		t.Fatalf("sku 1 reserved = %d, want 0 after rollback", got)
	}
	var orderCount int64
	db.Model(&model.Order{}).Count(&orderCount)
	if orderCount != 0 {
		t.Fatalf("orders = %d, want 0", orderCount)
	}
	var cartCount int64
	db.Model(&model.CartItem{}).Where("user_id = ?", 9).Count(&cartCount)
	if cartCount != 2 {
		t.Fatalf("cart should be intact, items = %d, want 2", cartCount)
	}
}

// 两个购物车的 SKU 集合互相重叠时，两次并发结算都必须完成：
// 锁按 SKU ID 升序获取，不存在交叉持锁等待。顺序被改坏时本用例
// 会死锁，由超时兜底判失败而不是挂起。
func TestConcurrentOverlappingCheckoutsComplete(t *testing.T) {
	orderSvc, _, db := setupOrderTest(t)
	ctx := context.Background()

	seedSKU(t, db, 1, 10, 100, "25.00")
	seedSKU(t, db, 2, 20, 100, "40.00")
	item1 := mustStockItem(t, db, 1, 1, 50, 0, 0)
	item2 := mustStockItem(t, db, 2, 1, 50, 0, 0)

	// 两个用户的购物车都包含 SKU 1 和 SKU 2
	seedCartItem(t, db, 21, 1, 1, "25.00")
	seedCartItem(t, db, 21, 2, 1, "40.00")
	seedCartItem(t, db, 22, 2, 1, "40.00")
	seedCartItem(t, db, 22, 1, 1, "25.00")

	errCh := make(chan error, 2)
	for _, userID := range []int64{21, 22} {
		go func(uid int64) {
			_, err := orderSvc.CreateOrderFromCart(ctx, &CreateOrderRequest{
				UserID: uid, ReceiverName: "张三", ReceiverPhone: "13800000000", ReceiverAddress: "北京",
			})
			errCh <- err
		}(userID)
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				t.Fatalf("checkout %d failed: %v", i+1, err)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("checkout did not complete, lock ordering is likely broken")
		}
	}

	// 两单各预留 1 件，没有丢失也没有重复
	if got := reloadStockItem(t, db, item1.ID).Reserved; got != 2 {
		t.Fatalf("sku 1 reserved = %d, want 2", got)
	}
	if got := reloadStockItem(t, db, item2.ID).Reserved; got != 2 {
		t.Fatalf("sku 2 reserved = %d, want 2", got)
	}
	var orderCount int64
	db.Model(&model.Order{}).Count(&orderCount)
	if orderCount != 2 {
		t.Fatalf("orders = %d, want 2", orderCount)
	}
}

func TestCancelOrderReleasesStock(t *testing.T) {
	orderSvc, _, db := setupOrderTest(t)
	ctx := context.Background()

	seedSKU(t, db, 1, 10, 100, "25.00")
	item := mustStockItem(t, db, 1, 1, 50, 0, 0)
	seedCartItem(t, db, 11, 1, 3, "25.00")

	order, err := orderSvc.CreateOrderFromCart(ctx, &CreateOrderRequest{
		UserID: 11, ReceiverName: "张三", ReceiverPhone: "13800000000", ReceiverAddress: "北京",
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if err := orderSvc.CancelOrder(ctx, order.OrderSn, 11, "用户取消"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	reloaded, err := orderSvc.GetOrderBySn(ctx, order.OrderSn, 11)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if reloaded.Status != model.OrderStatusCancelled {
		t.Fatalf("status = %q, want CANCELLED", reloaded.Status)
	}
	if got := reloadStockItem(t, db, item.ID).Reserved; got != 0 {
		t.Fatalf("reserved = %d, want 0 after cancel", got)
	}
	if n := countTxns(t, db, order.OrderSn, model.StockTxTypeRelease); n != 1 {
		t.Fatalf("RELEASE transactions = %d, want 1", n)
	}

	// 已取消的订单不能再取消
	if err := orderSvc.CancelOrder(ctx, order.OrderSn, 11, ""); !errors.Is(err, ErrOrderNotCancellable) {
		t.Fatalf("expected ErrOrderNotCancellable, got %v", err)
	}
}

func TestHandlePaymentNotification(t *testing.T) {
	orderSvc, _, db := setupOrderTest(t)
	ctx := context.Background()

	seedSKU(t, db, 1, 10, 100, "25.00")
	item := mustStockItem(t, db, 1, 1, 50, 0, 0)
	seedCartItem(t, db, 12, 1, 2, "25.00")

	order, err := orderSvc.CreateOrderFromCart(ctx, &CreateOrderRequest{
		UserID: 12, ReceiverName: "张三", ReceiverPhone: "13800000000", ReceiverAddress: "北京",
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	paidAt := time.Now().UTC()
	if err := orderSvc.HandlePaymentNotification(ctx, order.OrderSn, "TRADE-1", "alipay", paidAt, order.PayAmount); err != nil {
		t.Fatalf("payment notification failed: %v", err)
	}

	reloaded, _ := orderSvc.GetOrderBySn(ctx, order.OrderSn, 0)
	if reloaded.Status != model.OrderStatusProcessing {
		t.Fatalf("status = %q, want PROCESSING", reloaded.Status)
	}
	if reloaded.TradeNo != "TRADE-1" {
		t.Fatalf("trade no = %q, want TRADE-1", reloaded.TradeNo)
	}

	// 预留转实扣
	got := reloadStockItem(t, db, item.ID)
	if got.Quantity != 48 || got.Reserved != 0 {
		t.Fatalf("stock = %d/%d, want quantity 48 reserved 0", got.Quantity, got.Reserved)
	}

	// 重复通知幂等：不产生第二次扣减
	if err := orderSvc.HandlePaymentNotification(ctx, order.OrderSn, "TRADE-1", "alipay", paidAt, order.PayAmount); err != nil {
		t.Fatalf("duplicate notification should be a no-op: %v", err)
	}
	got = reloadStockItem(t, db, item.ID)
	if got.Quantity != 48 {
		t.Fatalf("duplicate notification changed stock: quantity = %d", got.Quantity)
	}
	if n := countTxns(t, db, order.OrderSn, model.StockTxTypeOut); n != 1 {
		t.Fatalf("OUT transactions = %d, want 1", n)
	}
}

func TestHandlePaymentNotificationAmountMismatch(t *testing.T) {
	orderSvc, _, db := setupOrderTest(t)
	ctx := context.Background()

	seedSKU(t, db, 1, 10, 100, "25.00")
	mustStockItem(t, db, 1, 1, 50, 0, 0)
	seedCartItem(t, db, 13, 1, 1, "25.00")

	order, err := orderSvc.CreateOrderFromCart(ctx, &CreateOrderRequest{
		UserID: 13, ReceiverName: "张三", ReceiverPhone: "13800000000", ReceiverAddress: "北京",
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	// 金额不符：对外不报错，订单保持待支付
	err = orderSvc.HandlePaymentNotification(ctx, order.OrderSn, "TRADE-2", "alipay", time.Now().UTC(), decimal.RequireFromString("0.01"))
	if err != nil {
		t.Fatalf("mismatch should be acked without error: %v", err)
	}

	reloaded, _ := orderSvc.GetOrderBySn(ctx, order.OrderSn, 0)
	if reloaded.Status != model.OrderStatusPendingPayment {
		t.Fatalf("status = %q, want PENDING_PAYMENT", reloaded.Status)
	}
}

func TestHandlePaymentNotificationUnknownOrder(t *testing.T) {
	orderSvc, _, _ := setupOrderTest(t)

	err := orderSvc.HandlePaymentNotification(context.Background(), "SN-void", "TRADE-3", "alipay", time.Now().UTC(), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("unknown order should be acked without error: %v", err)
	}
}

func TestGetOrderBySnPermission(t *testing.T) {
	orderSvc, _, db := setupOrderTest(t)
	ctx := context.Background()

	seedSKU(t, db, 1, 10, 100, "25.00")
	mustStockItem(t, db, 1, 1, 50, 0, 0)
	seedCartItem(t, db, 14, 1, 1, "25.00")

	order, err := orderSvc.CreateOrderFromCart(ctx, &CreateOrderRequest{
		UserID: 14, ReceiverName: "张三", ReceiverPhone: "13800000000", ReceiverAddress: "北京",
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if _, err := orderSvc.GetOrderBySn(ctx, order.OrderSn, 15); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestCancelOverdueOrders(t *testing.T) {
	orderSvc, _, db := setupOrderTest(t)
	ctx := context.Background()

	seedSKU(t, db, 1, 10, 100, "25.00")
	item := mustStockItem(t, db, 1, 1, 50, 0, 0)
	seedCartItem(t, db, 16, 1, 2, "25.00")

	order, err := orderSvc.CreateOrderFromCart(ctx, &CreateOrderRequest{
		UserID: 16, ReceiverName: "张三", ReceiverPhone: "13800000000", ReceiverAddress: "北京",
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	// 把创建时间拨回超时阈值之前
	past := time.Now().Add(-2 * time.Hour)
	if err := db.Model(&model.Order{}).Where("order_sn = ?", order.OrderSn).Update("created_at", past).Error; err != nil {
		t.Fatalf("backdate order: %v", err)
	}

	cancelled, err := orderSvc.CancelOverdueOrders(ctx, 10)
	if err != nil {
		t.Fatalf("cancel overdue failed: %v", err)
	}
	if cancelled != 1 {
		t.Fatalf("cancelled = %d, want 1", cancelled)
	}

	reloaded, _ := orderSvc.GetOrderBySn(ctx, order.OrderSn, 0)
	if reloaded.Status != model.OrderStatusCancelled {
		t.Fatalf("status = %q, want CANCELLED", reloaded.Status)
	}
	if got := reloadStockItem(t, db, item.ID).Reserved; got != 0 {
		t.Fatalf("reserved = %d, want 0", got)
	}
}
