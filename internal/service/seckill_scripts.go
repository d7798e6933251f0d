package service

import (
	"fmt"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 秒杀缓存键
// ============================================================================
//
//	stock:<offerId>                            秒杀库存计数器
//	offer:<offerId>                            秒杀商品元信息 hash
//	activity:<id>:offers                       活动下的 offer id 集合
//	activity:<id>:skuMap                       sku id -> offer id 映射
//	purchase:user:<userId>:activity:<actId>    用户已购数量 hash（offerId -> 数量）
//	request:<requestId>                        请求状态 JSON，短 TTL，供客户端轮询
//
// ============================================================================

func seckillStockKey(offerID int64) string {
	return fmt.Sprintf("stock:%d", offerID)
}

func seckillOfferKey(offerID int64) string {
	return fmt.Sprintf("offer:%d", offerID)
}

func activityOffersKey(activityID int64) string {
	return fmt.Sprintf("activity:%d:offers", activityID)
}

func activitySkuMapKey(activityID int64) string {
	return fmt.Sprintf("activity:%d:skuMap", activityID)
}

func userPurchaseKey(userID, activityID int64) string {
	return fmt.Sprintf("purchase:user:%d:activity:%d", userID, activityID)
}

func requestStatusKey(requestID string) string {
	return fmt.Sprintf("request:%s", requestID)
}

// preloadScript 预热：先清掉该活动的全部旧键，再写入新的库存计数器、
// 商品元信息、offer 集合和 SKU 映射。整段原子执行，预热期间不会有
// 半新半旧的中间状态被读到。
//
// KEYS[1] = activity:<id>:offers
// KEYS[2] = activity:<id>:skuMap
// ARGV[1] = offers JSON 数组
// ARGV[2] = 活动开始时间（RFC3339 UTC）
// ARGV[3] = 活动结束时间（RFC3339 UTC）
// ARGV[4] = activity id
//
// 时间以 RFC3339 UTC 字符串写入，定长同格式字符串的字典序即时间序，
// 准入脚本里直接用字符串比较。
var preloadScript = redis.NewScript(`
local offers_set_key = KEYS[1]
local sku_map_key = KEYS[2]
local offers = cjson.decode(ARGV[1])
local start_time = ARGV[2]
local end_time = ARGV[3]
local activity_id = ARGV[4]

local old_offer_ids = redis.call("SMEMBERS", offers_set_key)
for i, old_id in ipairs(old_offer_ids) do
	redis.call("DEL", "stock:" .. old_id)
	redis.call("DEL", "offer:" .. old_id)
end
redis.call("DEL", offers_set_key)
redis.call("DEL", sku_map_key)

if #offers == 0 then
	return 0
end

for i, offer in ipairs(offers) do
	local offer_id = offer["id"]
	redis.call("SET", "stock:" .. offer_id, offer["sale_stock"])
	redis.call("HSET", "offer:" .. offer_id,
		"activityId", activity_id,
		"skuId", offer["sku_id"],
		"salePrice", offer["sale_price"],
		"purchaseLimit", offer["purchase_limit"],
		"startTime", start_time,
		"endTime", end_time
	)
	redis.call("SADD", offers_set_key, offer_id)
	redis.call("HSET", sku_map_key, offer["sku_id"], offer_id)
end

return #offers
`)

// admissionScript 秒杀准入：解析 SKU、校验时间窗/库存/限购、扣减库存、
// 记录用户购买量，全部在一次脚本执行内完成。脚本引擎单线程执行，
// 极端并发下也不需要任何外部锁——这正是秒杀链路不落库、不加锁
// 也不会超卖的原因。
//
// KEYS[1] = activity:<id>:skuMap
// KEYS[2] = purchase:user:<userId>:activity:<actId>
// ARGV[1] = sku id
// ARGV[2] = 购买数量
// ARGV[3] = 当前时间（RFC3339 UTC）
//
// 返回 {1, offerId, salePrice} 或 {-1..-5, 失败原因}
var admissionScript = redis.NewScript(`
local sku_id = ARGV[1]
local quantity = tonumber(ARGV[2])
local now = ARGV[3]

local offer_id = redis.call("HGET", KEYS[1], sku_id)
if not offer_id then
	return {-1, "SKU not in this activity"}
end

local offer_key = "offer:" .. offer_id
local stock_key = "stock:" .. offer_id

local start_time = redis.call("HGET", offer_key, "startTime")
local end_time = redis.call("HGET", offer_key, "endTime")
if now < start_time then
	return {-2, "activity has not started yet"}
end
if now > end_time then
	return {-3, "activity has already ended"}
end

local stock = tonumber(redis.call("GET", stock_key))
if not stock or stock < quantity then
	return {-4, "insufficient stock"}
end

local purchase_limit = tonumber(redis.call("HGET", offer_key, "purchaseLimit"))
local purchased = tonumber(redis.call("HGET", KEYS[2], offer_id) or 0)
if (purchased + quantity) > purchase_limit then
	return {-5, "purchase limit exceeded"}
end

redis.call("DECRBY", stock_key, quantity)
redis.call("HINCRBY", KEYS[2], offer_id, quantity)

local sale_price = redis.call("HGET", offer_key, "salePrice")
return {1, offer_id, sale_price}
`)

// compensationScript 准入的精确逆操作：落库失败时归还缓存库存并
// 扣回用户购买量。漏掉这一步，缓存里的秒杀库存就永久丢失了。
//
// KEYS[1] = stock:<offerId>
// KEYS[2] = purchase:user:<userId>:activity:<actId>
// ARGV[1] = offer id
// ARGV[2] = 购买数量
var compensationScript = redis.NewScript(`
redis.call("INCRBY", KEYS[1], ARGV[2])
redis.call("HINCRBY", KEYS[2], ARGV[1], -tonumber(ARGV[2]))
return 1
`)
