package model

import "github.com/auratrade/aura-relay-server/dal/do"

func ConvertTransactionToDO(txn *Transaction) *do.TransactionInfo {
	if txn == nil {
		return nil
	}
	return &do.TransactionInfo{
		OrderID:    txn.OrderID,
		TxHash:     txn.TxHash,
		Status:     int(txn.Status),
		Amount:     txn.Amount,
		Currency:   txn.Currency,
		UserID:     txn.UserID,
		Role:       txn.Role,
		VerifiedBy: txn.VerifiedBy,
		Attempts:   txn.Attempts,
	}
}

func ConvertDOToTransaction(info *do.TransactionInfo) *Transaction {
	if info == nil {
		return nil
	}
	return &Transaction{
		ID:         info.ID,
		OrderID:    info.OrderID,
		TxHash:     info.TxHash,
		Status:     TxStatus(info.Status),
		Amount:     info.Amount,
		Currency:   info.Currency,
		UserID:     info.UserID,
		Role:       info.Role,
		VerifiedBy: info.VerifiedBy,
		Attempts:   info.Attempts,
		CreatedAt:  info.CreatedAt,
		UpdatedAt:  info.UpdatedAt,
	}
}
