package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/auratrade/aura-relay-server/dal/dao"
	"github.com/auratrade/aura-relay-server/dal/do"
	"github.com/auratrade/aura-relay-server/errcode"
	"github.com/auratrade/aura-relay-server/utils"

	"golang.org/x/crypto/pbkdf2"
	"gorm.io/gorm"
)

const (
	pbkdf2Iterations = 4096
	pbkdf2KeyLength  = 32
)

type AdminService interface {
	RegisterAdmin(ctx context.Context, tx *gorm.DB, username string, password string) error
	LoginAdmin(ctx context.Context, tx *gorm.DB, username string, password string) (bool, error)
	AdminExist(ctx context.Context, tx *gorm.DB) (bool, error)
	ChangePassword(ctx context.Context, tx *gorm.DB, username string, oldPassword string, newPassword string) error
}

type AdminServiceImpl struct {
	adminInfoDao dao.AdminInfoDAO
}

var adminService AdminService = &AdminServiceImpl{
	adminInfoDao: dao.GetAdminInfoDAOImpl(),
}

func GetAdminService() AdminService {
	return adminService
}

func hashAdminPassword(password string, salt string) string {
	digest := pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, pbkdf2KeyLength, sha256.New)
	return hex.EncodeToString(digest)
}

func (a *AdminServiceImpl) RegisterAdmin(ctx context.Context, tx *gorm.DB, username string, password string) error {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if !utils.CheckUsernameValidity(username) {
		return errors.New("invalid admin username")
	}
	if !utils.CheckPasswordValidity(password) {
		return errors.New("invalid admin password")
	}

	usernameExist, err := a.adminInfoDao.ExistUsername(ctx, tx, username)
	if err != nil {
		return err
	}
	if usernameExist {
		return errcode.ErrAdminAlreadyExists
	}

	newSalt, err := utils.GenerateRandomSalt(12, 4, 4, 4)
	if err != nil {
		return err
	}

	info := do.AdminInfo{
		Username: username,
		Password: hashAdminPassword(password, newSalt),
		Salt:     newSalt,
	}
	_, err = a.adminInfoDao.Create(ctx, tx, &info)
	return err
}

func (a *AdminServiceImpl) LoginAdmin(ctx context.Context, tx *gorm.DB, username string, password string) (bool, error) {
	adminInfo, err := a.adminInfoDao.GetByUsername(ctx, tx, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if adminInfo == nil {
		return false, nil
	}

	loginPassword := hashAdminPassword(password, adminInfo.Salt)
	if subtle.ConstantTimeCompare([]byte(adminInfo.Password), []byte(loginPassword)) == 1 {
		return true, nil
	}
	return false, nil
}

func (a *AdminServiceImpl) AdminExist(ctx context.Context, tx *gorm.DB) (bool, error) {
	num, err := a.adminInfoDao.GetAdminNum(ctx, tx)
	if err != nil {
		return false, err
	}
	return num > 0, nil
}

func (a *AdminServiceImpl) ChangePassword(ctx context.Context, tx *gorm.DB, username string, oldPassword string, newPassword string) error {
	newPassword = strings.TrimSpace(newPassword)
	if !utils.CheckPasswordValidity(newPassword) {
		return errors.New("invalid new password")
	}

	ok, err := a.LoginAdmin(ctx, tx, username, oldPassword)
	if err != nil {
		return err
	}
	if !ok {
		return errcode.ErrPasswordIncorrect
	}

	newSalt, err := utils.GenerateRandomSalt(12, 4, 4, 4)
	if err != nil {
		return err
	}

	affected, err := a.adminInfoDao.UpdatePasswordByUsername(ctx, tx, username,
		hashAdminPassword(newPassword, newSalt), newSalt)
	if err != nil {
		return err
	}
	if affected == 0 {
		return errcode.ErrAdminNotFound
	}
	return nil
}
