package dao

import (
	"context"
	"errors"

	"github.com/auratrade/aura-relay-server/dal/do"
	"github.com/auratrade/aura-relay-server/errcode"

	"gorm.io/gorm"
)

type TransactionInfoDAO interface {
	Create(ctx context.Context, tx *gorm.DB, info *do.TransactionInfo) (*do.TransactionInfo, error)
	GetByTxHash(ctx context.Context, tx *gorm.DB, hash string) (*do.TransactionInfo, error)
	GetByOrderID(ctx context.Context, tx *gorm.DB, orderID string) ([]*do.TransactionInfo, error)
	Get(ctx context.Context, tx *gorm.DB, page int, num int, positiveOrder bool) ([]*do.TransactionInfo, error)
	GetTransactionNum(ctx context.Context, tx *gorm.DB) (int64, error)
	GetPendingTransactions(ctx context.Context, tx *gorm.DB) ([]*do.TransactionInfo, error)
	ExistTxHash(ctx context.Context, tx *gorm.DB, hash string) (bool, error)
	UpdateStatusByTxHash(ctx context.Context, tx *gorm.DB, hash string, fromStatus int, toStatus int, attempts int) (int64, error)
	OverrideStatusByTxHash(ctx context.Context, tx *gorm.DB, hash string, status int, verifiedBy string) (int64, error)
	UpdateAttemptsByTxHash(ctx context.Context, tx *gorm.DB, hash string, attempts int) error
}

type TransactionInfoDAOImpl struct{}

var transactionInfoDAO TransactionInfoDAO = &TransactionInfoDAOImpl{}

func GetTransactionInfoDAOImpl() TransactionInfoDAO {
	return transactionInfoDAO
}

func (d *TransactionInfoDAOImpl) Create(ctx context.Context, tx *gorm.DB, info *do.TransactionInfo) (*do.TransactionInfo, error) {
	if tx == nil {
		return nil, errcode.ErrNilGormDB
	}

	if info == nil {
		return nil, errors.New("nil transaction info when creating")
	}

	query := tx.Create(info)
	return info, query.Error
}

func (d *TransactionInfoDAOImpl) GetByTxHash(ctx context.Context, tx *gorm.DB, hash string) (*do.TransactionInfo, error) {
	if tx == nil {
		return nil, errcode.ErrNilGormDB
	}

	res := do.TransactionInfo{}
	query := tx.Model(&do.TransactionInfo{}).Where("tx_hash = ?", hash).Take(&res)
	return &res, query.Error
}

func (d *TransactionInfoDAOImpl) GetByOrderID(ctx context.Context, tx *gorm.DB, orderID string) ([]*do.TransactionInfo, error) {
	if tx == nil {
		return nil, errcode.ErrNilGormDB
	}

	res := make([]*do.TransactionInfo, 0)
	query := tx.Model(&do.TransactionInfo{}).Where("order_id = ?", orderID).Find(&res)
	return res, query.Error
}

func (d *TransactionInfoDAOImpl) Get(ctx context.Context, tx *gorm.DB, page int, num int, positiveOrder bool) ([]*do.TransactionInfo, error) {
	if tx == nil {
		return nil, errcode.ErrNilGormDB
	}

	res := make([]*do.TransactionInfo, 0)
	if page <= 0 || num <= 0 {
		return res, nil
	}
	query := tx.Model(&do.TransactionInfo{}).Offset((page - 1) * num).Limit(num)
	if !positiveOrder {
		query = query.Order("id desc")
	}
	query = query.Find(&res)
	return res, query.Error
}

func (d *TransactionInfoDAOImpl) GetTransactionNum(ctx context.Context, tx *gorm.DB) (int64, error) {
	if tx == nil {
		return 0, errcode.ErrNilGormDB
	}

	var count int64
	query := tx.Model(&do.TransactionInfo{}).Count(&count)
	return count, query.Error
}

func (d *TransactionInfoDAOImpl) GetPendingTransactions(ctx context.Context, tx *gorm.DB) ([]*do.TransactionInfo, error) {
	if tx == nil {
		return nil, errcode.ErrNilGormDB
	}

	res := make([]*do.TransactionInfo, 0)
	query := tx.Model(&do.TransactionInfo{}).Where("status = ?", do.TransactionPending).Find(&res)
	return res, query.Error
}

func (d *TransactionInfoDAOImpl) ExistTxHash(ctx context.Context, tx *gorm.DB, hash string) (bool, error) {
	if tx == nil {
		return false, errcode.ErrNilGormDB
	}

	var count int64
	query := tx.Model(&do.TransactionInfo{}).Where("tx_hash = ?", hash).Count(&count)
	if query.Error != nil {
		return false, query.Error
	}
	return count > 0, nil
}

// UpdateStatusByTxHash performs the guarded transition fromStatus -> toStatus
// and returns the number of rows changed. A zero row count means the row was
// no longer in fromStatus, which callers treat as a lost race, not an error.
func (d *TransactionInfoDAOImpl) UpdateStatusByTxHash(ctx context.Context, tx *gorm.DB, hash string, fromStatus int, toStatus int, attempts int) (int64, error) {
	if tx == nil {
		return 0, errcode.ErrNilGormDB
	}

	query := tx.Model(&do.TransactionInfo{}).Where("tx_hash = ? AND status = ?", hash, fromStatus).
		Updates(map[string]interface{}{
			"status":   toStatus,
			"attempts": attempts,
		})
	return query.RowsAffected, query.Error
}

// OverrideStatusByTxHash sets the status unconditionally and records the
// admin identity. Admin overrides win over any current status.
func (d *TransactionInfoDAOImpl) OverrideStatusByTxHash(ctx context.Context, tx *gorm.DB, hash string, status int, verifiedBy string) (int64, error) {
	if tx == nil {
		return 0, errcode.ErrNilGormDB
	}

	query := tx.Model(&do.TransactionInfo{}).Where("tx_hash = ?", hash).
		Updates(map[string]interface{}{
			"status":      status,
			"verified_by": verifiedBy,
		})
	return query.RowsAffected, query.Error
}

func (d *TransactionInfoDAOImpl) UpdateAttemptsByTxHash(ctx context.Context, tx *gorm.DB, hash string, attempts int) error {
	if tx == nil {
		return errcode.ErrNilGormDB
	}

	query := tx.Model(&do.TransactionInfo{}).Where("tx_hash = ?", hash).
		Updates(map[string]interface{}{
			"attempts": attempts,
		})
	return query.Error
}
