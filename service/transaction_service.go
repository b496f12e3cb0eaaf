package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/auratrade/aura-relay-server/dal/dao"
	"github.com/auratrade/aura-relay-server/dal/do"
	"github.com/auratrade/aura-relay-server/errcode"
	"github.com/auratrade/aura-relay-server/model"
	"github.com/auratrade/aura-relay-server/utils"

	"gorm.io/gorm"
)

type TransactionService interface {
	Submit(ctx context.Context, tx *gorm.DB, txn *model.Transaction) (*model.Transaction, bool, error)
	GetByTxHash(ctx context.Context, tx *gorm.DB, hash string) (*model.Transaction, error)
	GetByOrderID(ctx context.Context, tx *gorm.DB, orderID string) ([]*model.Transaction, error)
	GetTransactions(ctx context.Context, tx *gorm.DB, page int, num int, positiveOrder bool) ([]*model.Transaction, error)
	GetTransactionNum(ctx context.Context, tx *gorm.DB) (int64, error)
	GetPendingTransactions(ctx context.Context, tx *gorm.DB) ([]*model.Transaction, error)
	ApplyTransition(ctx context.Context, tx *gorm.DB, hash string, toStatus model.TxStatus, attempts int) (bool, error)
	RecordAttempt(ctx context.Context, tx *gorm.DB, hash string, attempts int) error
	Override(ctx context.Context, tx *gorm.DB, hash string, toStatus model.TxStatus, verifiedBy string) (*model.Transaction, error)
}

type TransactionServiceImpl struct {
	transactionInfoDao dao.TransactionInfoDAO
}

var transactionService TransactionService = &TransactionServiceImpl{
	transactionInfoDao: dao.GetTransactionInfoDAOImpl(),
}

func GetTransactionService() TransactionService {
	return transactionService
}

// Submit stores a newly reported transaction. Submits are idempotent on the
// transaction hash: when the hash is already known the stored row is returned
// together with true and no new row is created. The unique index on tx_hash
// backs the check-then-insert against concurrent submitters.
func (t *TransactionServiceImpl) Submit(ctx context.Context, tx *gorm.DB, txn *model.Transaction) (*model.Transaction, bool, error) {
	if txn == nil {
		return nil, false, errors.New("nil transaction when submitting")
	}
	txn.TxHash = strings.TrimSpace(txn.TxHash)
	txn.OrderID = strings.TrimSpace(txn.OrderID)
	if utils.IsBlank(txn.TxHash) || utils.IsBlank(txn.OrderID) {
		return nil, false, fmt.Errorf("invalid transaction submission: blank order id or tx hash")
	}

	existing, err := t.transactionInfoDao.GetByTxHash(ctx, tx, txn.TxHash)
	if err == nil && existing != nil {
		return model.ConvertDOToTransaction(existing), true, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	info := model.ConvertTransactionToDO(txn)
	info.Status = do.TransactionPending
	_, err = t.transactionInfoDao.Create(ctx, tx, info)
	if err != nil {
		// A concurrent submitter may have won the insert race on the
		// unique index. Treat the stored row as the result.
		existing, getErr := t.transactionInfoDao.GetByTxHash(ctx, tx, txn.TxHash)
		if getErr == nil && existing != nil {
			return model.ConvertDOToTransaction(existing), true, nil
		}
		return nil, false, err
	}
	return model.ConvertDOToTransaction(info), false, nil
}

func (t *TransactionServiceImpl) GetByTxHash(ctx context.Context, tx *gorm.DB, hash string) (*model.Transaction, error) {
	info, err := t.transactionInfoDao.GetByTxHash(ctx, tx, hash)
	if err != nil {
		return nil, err
	}
	return model.ConvertDOToTransaction(info), nil
}

func (t *TransactionServiceImpl) GetByOrderID(ctx context.Context, tx *gorm.DB, orderID string) ([]*model.Transaction, error) {
	infos, err := t.transactionInfoDao.GetByOrderID(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	res := make([]*model.Transaction, 0, len(infos))
	for _, info := range infos {
		res = append(res, model.ConvertDOToTransaction(info))
	}
	return res, nil
}

func (t *TransactionServiceImpl) GetTransactions(ctx context.Context, tx *gorm.DB, page int, num int, positiveOrder bool) ([]*model.Transaction, error) {
	infos, err := t.transactionInfoDao.Get(ctx, tx, page, num, positiveOrder)
	if err != nil {
		return nil, err
	}
	res := make([]*model.Transaction, 0, len(infos))
	for _, info := range infos {
		res = append(res, model.ConvertDOToTransaction(info))
	}
	return res, nil
}

func (t *TransactionServiceImpl) GetTransactionNum(ctx context.Context, tx *gorm.DB) (int64, error) {
	return t.transactionInfoDao.GetTransactionNum(ctx, tx)
}

func (t *TransactionServiceImpl) GetPendingTransactions(ctx context.Context, tx *gorm.DB) ([]*model.Transaction, error) {
	infos, err := t.transactionInfoDao.GetPendingTransactions(ctx, tx)
	if err != nil {
		return nil, err
	}
	res := make([]*model.Transaction, 0, len(infos))
	for _, info := range infos {
		res = append(res, model.ConvertDOToTransaction(info))
	}
	return res, nil
}

// ApplyTransition moves a pending transaction to toStatus and returns whether
// a row actually changed. Transitions are monotonic: a row that already left
// pending is never touched, so a false result with a nil error means the
// transition lost the race against an earlier terminal decision.
func (t *TransactionServiceImpl) ApplyTransition(ctx context.Context, tx *gorm.DB, hash string, toStatus model.TxStatus, attempts int) (bool, error) {
	if !toStatus.IsTerminal() {
		return false, fmt.Errorf("%w: transition target %v is not terminal",
			errcode.ErrInvalidStatus, toStatus)
	}

	affected, err := t.transactionInfoDao.UpdateStatusByTxHash(ctx, tx, hash, do.TransactionPending, int(toStatus), attempts)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (t *TransactionServiceImpl) RecordAttempt(ctx context.Context, tx *gorm.DB, hash string, attempts int) error {
	return t.transactionInfoDao.UpdateAttemptsByTxHash(ctx, tx, hash, attempts)
}

// Override forces the transaction to toStatus regardless of its current
// status and records the admin identity. Admin decisions always win.
//
// The affected row count is not checked here: under MySQL changed-rows
// semantics an identical repeat override reports zero rows, so a missing
// row is detected by the reload instead.
func (t *TransactionServiceImpl) Override(ctx context.Context, tx *gorm.DB, hash string, toStatus model.TxStatus, verifiedBy string) (*model.Transaction, error) {
	_, err := t.transactionInfoDao.OverrideStatusByTxHash(ctx, tx, hash, int(toStatus), verifiedBy)
	if err != nil {
		return nil, err
	}

	info, err := t.transactionInfoDao.GetByTxHash(ctx, tx, hash)
	if err != nil {
		return nil, err
	}
	return model.ConvertDOToTransaction(info), nil
}
