package protocol

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	xerrors "EstateChain/internal/errors"
)

// Kind 是封闭的消息类型枚举，路由表据此做静态分发。
type Kind string

// 入站消息类型。
const (
	KindListing     Kind = "listing"
	KindQuery       Kind = "query"
	KindTransaction Kind = "transaction"
)

// 出站消息类型。
const (
	KindStatus     Kind = "status"
	KindMatch      Kind = "match"
	KindDealUpdate Kind = "deal_update"
)

// ListingStatus 表示房源在账本上的状态。
type ListingStatus string

const (
	ListingPending       ListingStatus = "Pending"
	ListingActive        ListingStatus = "Active"
	ListingUnderContract ListingStatus = "UnderContract"
	ListingRejected      ListingStatus = "Rejected"
)

// Listing 描述卖家提交的房源。ID 由账本在落库时分配，核心只持有瞬态副本。
type Listing struct {
	ID           string        `json:"id,omitempty"`
	Seller       string        `json:"seller"`
	Price        float64       `json:"price"`
	Location     string        `json:"location"`
	PropertyType string        `json:"property_type"`
	Bedrooms     int           `json:"bedrooms"`
	Bathrooms    int           `json:"bathrooms"`
	AreaSqM      float64       `json:"area_sqm"`
	TourURL      string        `json:"tour_url,omitempty"`
	Status       ListingStatus `json:"status,omitempty"`
}

// Query 描述买家的检索条件。仅在一次匹配请求期间存在，核心不持久化。
type Query struct {
	Buyer        string  `json:"buyer"`
	MaxPrice     float64 `json:"max_price"`
	Location     string  `json:"location"`
	MinBedrooms  int     `json:"min_bedrooms"`
	MinBathrooms int     `json:"min_bathrooms"`
}

// MatchResult 是匹配协调器对单个命中房源的回复。
// 一次 Query 可能产生零条、一条或多条 MatchResult，各自独立发送，顺序不作保证。
type MatchResult struct {
	Buyer     string          `json:"buyer"`
	ListingID string          `json:"listing_id,omitempty"`
	Listing   json.RawMessage `json:"listing,omitempty"`
	Message   string          `json:"message"`
}

// TransactionRequest 描述买家对某个房源发起的成交请求。
type TransactionRequest struct {
	Buyer      string  `json:"buyer"`
	Seller     string  `json:"seller"`
	ListingID  string  `json:"listing_id"`
	OfferPrice float64 `json:"offer_price"`
}

// StatusResponse 是房源提交与成交请求的终态回复，本身不会被重试。
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Envelope 是经过传输层投递的统一消息封装。
type Envelope struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Sender  string          `json:"sender"`
	ReplyTo string          `json:"reply_to,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope 构造一个带有随机关联 ID 的消息封装。
func NewEnvelope(kind Kind, sender, replyTo string, payload any) (Envelope, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化消息载荷失败")
	}
	return Envelope{
		ID:      uuid.NewString(),
		Kind:    kind,
		Sender:  sender,
		ReplyTo: replyTo,
		Payload: encoded,
	}, nil
}

// DecodeEnvelope 从传输层字节流还原消息封装。
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析消息封装失败")
	}
	if strings.TrimSpace(string(env.Kind)) == "" {
		return Envelope{}, xerrors.New(xerrors.CodeInvalidArgument, "消息缺少类型标识")
	}
	return env, nil
}

// Encode 将消息封装序列化为传输层字节流。
func (e Envelope) Encode() ([]byte, error) {
	encoded, err := json.Marshal(e)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化消息封装失败")
	}
	return encoded, nil
}

// IsInbound 判断消息类型是否属于核心接受的入站请求。
func (k Kind) IsInbound() bool {
	switch k {
	case KindListing, KindQuery, KindTransaction:
		return true
	default:
		return false
	}
}
