package dao

import (
	"context"
	"fmt"
	"testing"

	"github.com/auratrade/aura-relay-server/dal/do"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func TestTransactionInfoDAOImpl_Create(t *testing.T) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", "alice", "123456",
		"127.0.0.1:3306", "aura_trade")
	db, _ := gorm.Open(mysql.Open(dsn), &gorm.Config{})

	t.Run("test_1", func(t *testing.T) {
		info := &do.TransactionInfo{
			OrderID:  "order-20260828-001",
			TxHash:   "5VERYFAKE58SIGNATURExxxxxxxxxxxxxxxxxxxxxx1",
			Status:   do.TransactionPending,
			Amount:   "12.50",
			Currency: "USDC",
			UserID:   "user-7",
			Role:     "buyer",
		}
		m := TransactionInfoDAOImpl{}
		_, err := m.Create(context.Background(), db, info)
		if err != nil {
			t.Error(err.Error())
		}
	})
}

func TestTransactionInfoDAOImpl_GetByTxHash(t *testing.T) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", "alice", "123456",
		"127.0.0.1:3306", "aura_trade")
	db, _ := gorm.Open(mysql.Open(dsn), &gorm.Config{})

	t.Run("test_1", func(t *testing.T) {
		m := TransactionInfoDAOImpl{}
		info, err := m.GetByTxHash(context.Background(), db, "5VERYFAKE58SIGNATURExxxxxxxxxxxxxxxxxxxxxx1")
		if err != nil {
			t.Error(err.Error())
		}
		fmt.Printf("%+v\n", info)
	})
}

func TestTransactionInfoDAOImpl_UpdateStatusByTxHash(t *testing.T) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", "alice", "123456",
		"127.0.0.1:3306", "aura_trade")
	db, _ := gorm.Open(mysql.Open(dsn), &gorm.Config{})

	t.Run("test_1", func(t *testing.T) {
		m := TransactionInfoDAOImpl{}
		changed, err := m.UpdateStatusByTxHash(context.Background(), db,
			"5VERYFAKE58SIGNATURExxxxxxxxxxxxxxxxxxxxxx1",
			do.TransactionPending, do.TransactionVerified, 3)
		if err != nil {
			t.Error(err.Error())
		}
		fmt.Println(changed)
	})

	// Guarded update against a row that already settled changes nothing.
	t.Run("test_2", func(t *testing.T) {
		m := TransactionInfoDAOImpl{}
		changed, err := m.UpdateStatusByTxHash(context.Background(), db,
			"5VERYFAKE58SIGNATURExxxxxxxxxxxxxxxxxxxxxx1",
			do.TransactionPending, do.TransactionFailed, 4)
		if err != nil {
			t.Error(err.Error())
		}
		if changed != 0 {
			t.Errorf("guarded update changed %v rows on a settled row", changed)
		}
	})
}

func TestTransactionInfoDAOImpl_OverrideStatusByTxHash(t *testing.T) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", "alice", "123456",
		"127.0.0.1:3306", "aura_trade")
	db, _ := gorm.Open(mysql.Open(dsn), &gorm.Config{})

	t.Run("test_1", func(t *testing.T) {
		m := TransactionInfoDAOImpl{}
		changed, err := m.OverrideStatusByTxHash(context.Background(), db,
			"5VERYFAKE58SIGNATURExxxxxxxxxxxxxxxxxxxxxx1",
			do.TransactionFailed, "admin")
		if err != nil {
			t.Error(err.Error())
		}
		fmt.Println(changed)
	})
}

func TestTransactionInfoDAOImpl_GetPendingTransactions(t *testing.T) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", "alice", "123456",
		"127.0.0.1:3306", "aura_trade")
	db, _ := gorm.Open(mysql.Open(dsn), &gorm.Config{})

	t.Run("test_1", func(t *testing.T) {
		m := TransactionInfoDAOImpl{}
		infos, err := m.GetPendingTransactions(context.Background(), db)
		if err != nil {
			t.Error(err.Error())
		}
		for _, info := range infos {
			fmt.Printf("%+v\n", info)
		}
	})
}
