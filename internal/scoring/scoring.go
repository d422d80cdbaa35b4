package scoring

import (
	"strings"

	"EstateChain/internal/protocol"
)

// FraudScreener 判断一条房源是否疑似欺诈。返回 true 表示拦截。
// 实现必须是确定性的纯函数，便于之后替换为学习型模型而不影响调用方。
type FraudScreener interface {
	Screen(listing protocol.Listing) bool
}

// Valuer 估算房源价值。结果不允许为负，且只依赖房源自身字段。
type Valuer interface {
	Estimate(listing protocol.Listing) float64
}

// Matcher 判断房源是否命中买家的检索条件。
type Matcher interface {
	Matches(listing protocol.Listing, query protocol.Query) bool
}

// Engine 聚合三类评分能力，协调器只依赖这一个入口。
type Engine struct {
	Fraud FraudScreener
	Value Valuer
	Match Matcher
}

// NewRuleEngine 返回全部基于规则的默认评分引擎。
func NewRuleEngine() Engine {
	return Engine{
		Fraud: RuleScreener{},
		Value: LinearValuer{},
		Match: CriteriaMatcher{},
	}
}

// RuleScreener 用单价规则做欺诈初筛：大面积却异常低价的房源视为可疑。
type RuleScreener struct{}

// Screen 实现 FraudScreener 接口。price < 10000 且 area > 50 判定为欺诈。
func (RuleScreener) Screen(listing protocol.Listing) bool {
	return listing.Price < 10000 && listing.AreaSqM > 50
}

// LinearValuer 以固定溢价率估值。
type LinearValuer struct{}

// Estimate 实现 Valuer 接口，估值为挂牌价的 1.05 倍，负价按零处理。
func (LinearValuer) Estimate(listing protocol.Listing) float64 {
	if listing.Price < 0 {
		return 0
	}
	return listing.Price * 1.05
}

// CriteriaMatcher 是刻意宽松的规则匹配器：价格不超过上限、卧室数达标，
// 且查询地点是房源地点的大小写无关子串。注意这里只做子串包含而非地理编码，
// 卫生间数量虽然随 Query 传入但不参与过滤；收紧语义需要显式换用新的 Matcher 实现。
type CriteriaMatcher struct{}

// Matches 实现 Matcher 接口。
func (CriteriaMatcher) Matches(listing protocol.Listing, query protocol.Query) bool {
	if listing.Price > query.MaxPrice {
		return false
	}
	if listing.Bedrooms < query.MinBedrooms {
		return false
	}
	return strings.Contains(
		strings.ToLower(listing.Location),
		strings.ToLower(query.Location),
	)
}
