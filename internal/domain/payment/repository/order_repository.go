package repository

import (
	"context"
	"errors"
	"time"

	"storefront_payments/internal/domain/payment/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository 订单持久化边界
// 对账侧永远走 Upsert，不做裸 insert，靠 provider_reference 唯一键保证不重复建单
type OrderRepository interface {
	GetByProviderReference(ctx context.Context, ref string) (*model.Order, error)
	Upsert(ctx context.Context, order *model.Order) (*model.Order, bool, error)
	UpdateStatus(ctx context.Context, ref, from, to string, paidAt *time.Time) (bool, error)
	List(ctx context.Context, offset, limit int) ([]model.Order, int64, error)
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) GetByProviderReference(ctx context.Context, ref string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("provider_reference = ?", ref).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// Upsert 以 provider_reference 为键幂等写入
// 已存在时不做任何修改（同一笔支付的同步返回路径和回调路径会竞争到这里），
// 返回值第二项表示本次调用是否真正建单
func (r *orderRepository) Upsert(ctx context.Context, order *model.Order) (*model.Order, bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_reference"}},
			DoNothing: true,
		}).
		Create(order)
	if res.Error != nil {
		return nil, false, res.Error
	}

	if res.RowsAffected == 0 {
		// 冲突说明已有同引用订单，读回已存在的那条
		existing, err := r.GetByProviderReference(ctx, order.ProviderReference)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	return order, true, nil
}

// UpdateStatus 带前置状态谓词的更新，返回是否实际生效
// 谓词不满足（并发迁移、重复回调）时零行受影响，调用方按 no-op 处理
func (r *orderRepository) UpdateStatus(ctx context.Context, ref, from, to string, paidAt *time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status": to,
	}
	if paidAt != nil {
		updates["paid_at"] = paidAt
	}

	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("provider_reference = ? AND status = ?", ref, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *orderRepository) List(ctx context.Context, offset, limit int) ([]model.Order, int64, error) {
	var (
		orders []model.Order
		total  int64
	)

	if err := r.db.WithContext(ctx).Model(&model.Order{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}
