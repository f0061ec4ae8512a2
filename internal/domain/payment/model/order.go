package model

import (
	"encoding/json"
	"strings"
	"time"

	baseModel "storefront_payments/pkg/model"
)

// 订单状态机：CREATED → AWAITING_PAYMENT → {PAID|FAILED|CANCELLED}，PAID → REFUNDED
const (
	StatusCreated         = "CREATED"
	StatusAwaitingPayment = "AWAITING_PAYMENT"
	StatusPaid            = "PAID"
	StatusFailed          = "FAILED"
	StatusCancelled       = "CANCELLED"
	StatusRefunded        = "REFUNDED"
)

// 支付渠道
const (
	ChannelHosted = "hosted" // 托管收银台（跳转支付，回调结算）
	ChannelDirect = "direct" // 直连扣款（创建 → 客户端批准 → capture）
)

// LineItem 订单行，金额一律用最小货币单位（分）
type LineItem struct {
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int64  `json:"quantity"`
	LineTotal int64  `json:"lineTotal"`
}

// Address 结构化地址，整体可空
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Customer 买家信息，除姓名邮箱外均可空；缺失是合法状态，不是错误
type Customer struct {
	Name            string   `json:"name,omitempty"`
	Email           string   `json:"email,omitempty"`
	Phone           string   `json:"phone,omitempty"`
	ShippingAddress *Address `json:"shippingAddress,omitempty"`
	BillingAddress  *Address `json:"billingAddress,omitempty"`
}

// Order 规范订单，只在对账成功时落库
// provider_reference 是防止同一笔支付重复建单的自然键
type Order struct {
	baseModel.BaseModel
	ProviderReference   string          `gorm:"uniqueIndex;size:128;not null" json:"providerReference"`
	Provider            string          `gorm:"size:32;not null" json:"provider"` // hosted, direct
	HumanOrderNumber    string          `gorm:"size:16" json:"humanOrderNumber"`  // 仅用于展示，不作查询键
	Status              string          `gorm:"size:32;not null;default:'CREATED'" json:"status"`
	Currency            string          `gorm:"size:8" json:"currency"`
	Subtotal            int64           `json:"subtotal"`
	ShippingAmount      int64           `json:"shippingAmount"`
	TaxAmount           int64           `json:"taxAmount"`
	Total               int64           `json:"total"`
	LineItems           []LineItem      `gorm:"serializer:json;type:jsonb" json:"lineItems"`
	Customer            *Customer       `gorm:"serializer:json;type:jsonb" json:"customer,omitempty"`
	RawProviderMetadata json.RawMessage `gorm:"type:jsonb" json:"rawProviderMetadata,omitempty"` // 审计用，业务逻辑不再解析
	PaidAt              *time.Time      `json:"paidAt,omitempty"`
}

// transitions 合法的状态迁移表
var transitions = map[string][]string{
	StatusCreated:         {StatusAwaitingPayment},
	StatusAwaitingPayment: {StatusPaid, StatusFailed, StatusCancelled},
	StatusPaid:            {StatusRefunded},
}

// CanTransition 判断状态迁移是否合法
// PAID 永远不会回退到 AWAITING_PAYMENT，过期/重复回调到不了这里
func CanTransition(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// HumanOrderNumberFrom 从网关引用派生展示用短单号（末8位大写）
func HumanOrderNumberFrom(providerReference string) string {
	ref := providerReference
	if len(ref) > 8 {
		ref = ref[len(ref)-8:]
	}
	return strings.ToUpper(ref)
}
