package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/auratrade/aura-relay-server/dal/dao"
	"github.com/auratrade/aura-relay-server/errcode"
	"github.com/auratrade/aura-relay-server/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func TestTransactionServiceImpl_Submit(t *testing.T) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", "alice", "123456",
		"127.0.0.1:3306", "aura_trade")
	db, _ := gorm.Open(mysql.Open(dsn), &gorm.Config{})

	t.Run("test_1", func(t *testing.T) {
		m := TransactionServiceImpl{
			transactionInfoDao: dao.GetTransactionInfoDAOImpl(),
		}
		txn := &model.Transaction{
			OrderID:  "order-20260828-002",
			TxHash:   "5VERYFAKE58SIGNATURExxxxxxxxxxxxxxxxxxxxxx2",
			Amount:   "3.00",
			Currency: "SOL",
		}
		stored, duplicate, err := m.Submit(context.Background(), db, txn)
		if err != nil {
			t.Error(err.Error())
		}
		fmt.Println(duplicate)
		fmt.Printf("%+v\n", stored)

		// Same hash again must be acknowledged as a duplicate.
		_, duplicate, err = m.Submit(context.Background(), db, txn)
		if err != nil {
			t.Error(err.Error())
		}
		if !duplicate {
			t.Error("second submit of the same hash was not reported as duplicate")
		}
	})
}

func TestTransactionServiceImpl_ApplyTransition(t *testing.T) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", "alice", "123456",
		"127.0.0.1:3306", "aura_trade")
	db, _ := gorm.Open(mysql.Open(dsn), &gorm.Config{})

	t.Run("test_1", func(t *testing.T) {
		m := TransactionServiceImpl{
			transactionInfoDao: dao.GetTransactionInfoDAOImpl(),
		}
		changed, err := m.ApplyTransition(context.Background(), db,
			"5VERYFAKE58SIGNATURExxxxxxxxxxxxxxxxxxxxxx2", model.StatusVerified, 2)
		if err != nil {
			t.Error(err.Error())
		}
		fmt.Println(changed)

		// The row is terminal now, a second transition must not change it.
		changed, err = m.ApplyTransition(context.Background(), db,
			"5VERYFAKE58SIGNATURExxxxxxxxxxxxxxxxxxxxxx2", model.StatusTimeout, 8)
		if err != nil {
			t.Error(err.Error())
		}
		if changed {
			t.Error("transition applied to a settled row")
		}
	})

	t.Run("test_2", func(t *testing.T) {
		m := TransactionServiceImpl{
			transactionInfoDao: dao.GetTransactionInfoDAOImpl(),
		}
		// Pending is not a valid transition target.
		_, err := m.ApplyTransition(context.Background(), db,
			"5VERYFAKE58SIGNATURExxxxxxxxxxxxxxxxxxxxxx2", model.StatusPending, 1)
		if !errors.Is(err, errcode.ErrInvalidStatus) {
			t.Errorf("transition to pending got %v, want %v",
				err, errcode.ErrInvalidStatus)
		}
	})
}

func TestTransactionServiceImpl_Override(t *testing.T) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", "alice", "123456",
		"127.0.0.1:3306", "aura_trade")
	db, _ := gorm.Open(mysql.Open(dsn), &gorm.Config{})

	t.Run("test_1", func(t *testing.T) {
		m := TransactionServiceImpl{
			transactionInfoDao: dao.GetTransactionInfoDAOImpl(),
		}
		stored, err := m.Override(context.Background(), db,
			"5VERYFAKE58SIGNATURExxxxxxxxxxxxxxxxxxxxxx2", model.StatusFailed, "admin")
		if err != nil {
			t.Error(err.Error())
		}
		if stored.VerifiedBy != "admin" {
			t.Errorf("override did not record verified_by, got %q", stored.VerifiedBy)
		}
		fmt.Printf("%+v\n", stored)
	})

	t.Run("test_2", func(t *testing.T) {
		m := TransactionServiceImpl{
			transactionInfoDao: dao.GetTransactionInfoDAOImpl(),
		}
		// Repeating the identical override changes no rows under MySQL
		// changed-rows semantics, the row must still come back.
		stored, err := m.Override(context.Background(), db,
			"5VERYFAKE58SIGNATURExxxxxxxxxxxxxxxxxxxxxx2", model.StatusFailed, "admin")
		if err != nil {
			t.Error(err.Error())
		}
		if stored.Status != model.StatusFailed {
			t.Errorf("repeated override returned status %v, want %v",
				stored.Status, model.StatusFailed)
		}

		// A hash that was never submitted is still reported as missing.
		_, err = m.Override(context.Background(), db,
			"5NOSUCHSIGNATURExxxxxxxxxxxxxxxxxxxxxxxxxx9", model.StatusFailed, "admin")
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			t.Errorf("override of an unknown hash got %v, want %v",
				err, gorm.ErrRecordNotFound)
		}
	})
}

func TestTransactionServiceImpl_GetTransactions(t *testing.T) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", "alice", "123456",
		"127.0.0.1:3306", "aura_trade")
	db, _ := gorm.Open(mysql.Open(dsn), &gorm.Config{})

	t.Run("test_1", func(t *testing.T) {
		m := TransactionServiceImpl{
			transactionInfoDao: dao.GetTransactionInfoDAOImpl(),
		}
		txns, err := m.GetTransactions(context.Background(), db, 1, 20, false)
		if err != nil {
			t.Error(err.Error())
		}
		for _, txn := range txns {
			fmt.Printf("%+v\n", txn)
		}
	})
}
