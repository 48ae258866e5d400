// internal/service/order/infrastructure/mysql.go
package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"fulfil/internal/service/order/domain"
)

// OrderSnapshotModel 对应数据库中的 order_snapshot 表。
// 每个订单一行，saga 每次转移后 upsert。
type OrderSnapshotModel struct {
	OrderID       string `gorm:"primaryKey;size:64"`
	Status        string `gorm:"size:32;index"`
	PaymentID     string `gorm:"size:64"`
	TransactionID string `gorm:"size:64"`
	PaymentInfo   string `gorm:"type:text"`
	RefundFailed  bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (OrderSnapshotModel) TableName() string {
	return "order_snapshot"
}

// GormOrderRepository 是 domain.OrderRepository 的 GORM 实现。
type GormOrderRepository struct {
	db *gorm.DB
}

// OpenMysql 打开 MySQL 连接并迁移快照表。
func OpenMysql(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	if err := db.AutoMigrate(&OrderSnapshotModel{}); err != nil {
		return nil, errors.Wrap(err, "migrate order_snapshot")
	}
	return db, nil
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Save 写入最新快照。主键冲突时整行覆盖（状态只会向前推进）。
func (r *GormOrderRepository) Save(ctx context.Context, state domain.OrderState) error {
	model := OrderSnapshotModel{
		OrderID:       state.OrderID,
		Status:        string(state.Status),
		PaymentID:     state.PaymentID,
		TransactionID: state.TransactionID,
		PaymentInfo:   state.PaymentInfo,
		RefundFailed:  state.RefundFailed,
		CreatedAt:     state.CreatedAt,
		UpdatedAt:     state.UpdatedAt,
	}
	err := r.db.WithContext(ctx).Save(&model).Error
	return errors.Wrapf(err, "save snapshot for %s", state.OrderID)
}

// FindByID 读取快照，不存在时返回 domain.ErrUnknownOrder。
func (r *GormOrderRepository) FindByID(ctx context.Context, orderID string) (domain.OrderState, error) {
	var model OrderSnapshotModel
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.OrderState{}, domain.ErrUnknownOrder
		}
		return domain.OrderState{}, errors.Wrapf(err, "find snapshot for %s", orderID)
	}
	return domain.OrderState{
		OrderID:       model.OrderID,
		Status:        domain.Status(model.Status),
		PaymentID:     model.PaymentID,
		TransactionID: model.TransactionID,
		PaymentInfo:   model.PaymentInfo,
		RefundFailed:  model.RefundFailed,
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
	}, nil
}
