package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/auratrade/aura-relay-server/dal/dao"
	"github.com/auratrade/aura-relay-server/errcode"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func TestAdminServiceImpl_RegisterAdmin(t *testing.T) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", "alice", "123456",
		"127.0.0.1:3306", "aura_trade")
	db, _ := gorm.Open(mysql.Open(dsn), &gorm.Config{})

	t.Run("test_1", func(t *testing.T) {
		m := AdminServiceImpl{
			adminInfoDao: dao.GetAdminInfoDAOImpl(),
		}
		err := m.RegisterAdmin(context.Background(), db, "admin", "123456")
		if err != nil {
			t.Error(err.Error())
		}
	})

	t.Run("test_2", func(t *testing.T) {
		m := AdminServiceImpl{
			adminInfoDao: dao.GetAdminInfoDAOImpl(),
		}
		err := m.RegisterAdmin(context.Background(), db, "admin", "123456")
		if !errors.Is(err, errcode.ErrAdminAlreadyExists) {
			t.Errorf("registering a duplicate admin got %v, want %v",
				err, errcode.ErrAdminAlreadyExists)
		}
	})
}

func TestAdminServiceImpl_ChangePassword(t *testing.T) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", "alice", "123456",
		"127.0.0.1:3306", "aura_trade")
	db, _ := gorm.Open(mysql.Open(dsn), &gorm.Config{})

	t.Run("test_1", func(t *testing.T) {
		m := AdminServiceImpl{
			adminInfoDao: dao.GetAdminInfoDAOImpl(),
		}
		err := m.ChangePassword(context.Background(), db, "admin", "wrong-password", "654321")
		if !errors.Is(err, errcode.ErrPasswordIncorrect) {
			t.Errorf("changing the password with the wrong old password got %v, want %v",
				err, errcode.ErrPasswordIncorrect)
		}
	})

	t.Run("test_2", func(t *testing.T) {
		m := AdminServiceImpl{
			adminInfoDao: dao.GetAdminInfoDAOImpl(),
		}
		// An unknown username fails the login step, same as a bad
		// password.
		err := m.ChangePassword(context.Background(), db, "no-such-admin", "123456", "654321")
		if !errors.Is(err, errcode.ErrPasswordIncorrect) {
			t.Errorf("changing the password of a missing admin got %v, want %v",
				err, errcode.ErrPasswordIncorrect)
		}
	})
}

func TestAdminServiceImpl_LoginAdmin(t *testing.T) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", "alice", "123456",
		"127.0.0.1:3306", "aura_trade")
	db, _ := gorm.Open(mysql.Open(dsn), &gorm.Config{})

	t.Run("test_1", func(t *testing.T) {
		m := AdminServiceImpl{
			adminInfoDao: dao.GetAdminInfoDAOImpl(),
		}
		success, err := m.LoginAdmin(context.Background(), db, "admin", "123456")
		if err != nil {
			t.Error(err.Error())
		}
		fmt.Println(success)

		success, err = m.LoginAdmin(context.Background(), db, "admin", "wrong-password")
		if err != nil {
			t.Error(err.Error())
		}
		if success {
			t.Error("login succeeded with the wrong password")
		}
	})
}

func TestHashAdminPassword(t *testing.T) {
	t.Run("test_1", func(t *testing.T) {
		first := hashAdminPassword("123456", "somesalt")
		second := hashAdminPassword("123456", "somesalt")
		if first != second {
			t.Error("digest is not deterministic for the same salt")
		}
		different := hashAdminPassword("123456", "othersalt")
		if first == different {
			t.Error("digest does not depend on the salt")
		}
	})
}
