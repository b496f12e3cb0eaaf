package errcode

import "errors"

var (
	ErrNilGormDB          = errors.New("gorm db is nil")
	ErrInvalidStatus      = errors.New("invalid transaction status")
	ErrInvalidSignature   = errors.New("invalid ledger signature")
	ErrOracleUnavailable  = errors.New("ledger oracle unavailable")
	ErrAdminAlreadyExists = errors.New("admin account already exists")
	ErrAdminNotFound      = errors.New("admin account not found")
	ErrPasswordIncorrect  = errors.New("password incorrect")
)
