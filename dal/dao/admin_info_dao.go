package dao

import (
	"context"
	"errors"

	"github.com/auratrade/aura-relay-server/dal/do"
	"github.com/auratrade/aura-relay-server/errcode"

	"gorm.io/gorm"
)

type AdminInfoDAO interface {
	Create(ctx context.Context, tx *gorm.DB, info *do.AdminInfo) (*do.AdminInfo, error)
	GetByUsername(ctx context.Context, tx *gorm.DB, username string) (*do.AdminInfo, error)
	ExistUsername(ctx context.Context, tx *gorm.DB, username string) (bool, error)
	GetAdminNum(ctx context.Context, tx *gorm.DB) (int64, error)
	UpdatePasswordByUsername(ctx context.Context, tx *gorm.DB, username string, password string, salt string) (int64, error)
}

type AdminInfoDAOImpl struct{}

var adminInfoDAO AdminInfoDAO = &AdminInfoDAOImpl{}

func GetAdminInfoDAOImpl() AdminInfoDAO {
	return adminInfoDAO
}

func (a *AdminInfoDAOImpl) Create(ctx context.Context, tx *gorm.DB, info *do.AdminInfo) (*do.AdminInfo, error) {
	if tx == nil {
		return nil, errcode.ErrNilGormDB
	}

	if info == nil {
		return nil, errors.New("nil admin info when creating")
	}

	query := tx.Create(info)
	return info, query.Error
}

func (a *AdminInfoDAOImpl) GetByUsername(ctx context.Context, tx *gorm.DB, username string) (*do.AdminInfo, error) {
	if tx == nil {
		return nil, errcode.ErrNilGormDB
	}

	res := do.AdminInfo{}
	query := tx.Model(&do.AdminInfo{}).Where("username = ?", username).Take(&res)
	return &res, query.Error
}

func (a *AdminInfoDAOImpl) ExistUsername(ctx context.Context, tx *gorm.DB, username string) (bool, error) {
	if tx == nil {
		return false, errcode.ErrNilGormDB
	}

	var count int64
	query := tx.Model(&do.AdminInfo{}).Where("username = ?", username).Count(&count)
	if query.Error != nil {
		return false, query.Error
	}
	return count > 0, nil
}

func (a *AdminInfoDAOImpl) GetAdminNum(ctx context.Context, tx *gorm.DB) (int64, error) {
	if tx == nil {
		return 0, errcode.ErrNilGormDB
	}

	var count int64
	query := tx.Model(&do.AdminInfo{}).Count(&count)
	return count, query.Error
}

func (a *AdminInfoDAOImpl) UpdatePasswordByUsername(ctx context.Context, tx *gorm.DB, username string, password string, salt string) (int64, error) {
	if tx == nil {
		return 0, errcode.ErrNilGormDB
	}

	query := tx.Model(&do.AdminInfo{}).Where("username = ?", username).
		Updates(map[string]interface{}{
			"password": password,
			"salt":     salt,
		})
	return query.RowsAffected, query.Error
}
