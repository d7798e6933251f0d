package service

import (
	"errors"
)

// 业务错误,handler 层据此映射为对外的业务码。
// 这些都是预期内的业务结果，不是故障，调用方必须逐一处理。
var (
	ErrEmptyCart             = errors.New("购物车是空的，无法创建订单")
	ErrLockAcquisitionFailed = errors.New("商品正在被抢购，请稍后再试")
	ErrInsufficientStock     = errors.New("库存不足")
	ErrNotInActivity         = errors.New("SKU 未参与该秒杀活动")
	ErrActivityNotStarted    = errors.New("秒杀尚未开始")
	ErrActivityEnded         = errors.New("秒杀已经结束")
	ErrPurchaseLimitExceeded = errors.New("超出该商品的限购数量")
	ErrOrderNotCancellable   = errors.New("只有待支付的订单才能取消")
	ErrActivityNotModifiable = errors.New("进行中或已结束的活动不允许修改")
	ErrActivityNotPending    = errors.New("活动状态必须为 PENDING 才能预热")
	ErrPermissionDenied      = errors.New("无权查看该请求")
	ErrRequestNotFound       = errors.New("请求不存在或已过期")

	// ErrPaymentAmountMismatch 支付金额不一致：记录日志转人工处理，
	// 对网关仍回执成功以避免重试风暴
	ErrPaymentAmountMismatch = errors.New("支付金额与订单应付金额不一致")

	// ErrDataInconsistency 补偿时引用的数据缺失，缓存与数据库已出现分歧，
	// 必须人工对账，绝不能静默忽略
	ErrDataInconsistency = errors.New("数据不一致，需要人工对账")
)
