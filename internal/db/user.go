package db

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// bcrypt 只处理前 72 个字节
const maxPasswordBytes = 72

var (
	ErrOwnerCredentialsMissing = errors.New("owner username and password are required")
	ErrPasswordTooLong         = fmt.Errorf("password longer than %d bytes", maxPasswordBytes)
)

// User 是作品集的拥有者，浏览统计按用户维度归档。
type User struct {
	gorm.Model
	Username string `gorm:"unique;not null"`
	Password string `gorm:"not null"`
}

// EnsureOwner 返回指定用户名的拥有者账号，不存在时以 bcrypt 哈希后的密码新建。
// 已有账号的密码保持不变；created 表示本次是否新建。
func EnsureOwner(gdb *gorm.DB, username, password string) (owner User, created bool, err error) {
	name := strings.TrimSpace(username)
	secret := strings.TrimSpace(password)
	if name == "" || secret == "" {
		return User{}, false, ErrOwnerCredentialsMissing
	}
	if gdb == nil {
		return User{}, false, errors.New("database not initialized")
	}

	err = gdb.Where("username = ?", name).Take(&owner).Error
	switch {
	case err == nil:
		return owner, false, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return User{}, false, fmt.Errorf("lookup owner %q: %w", name, err)
	}

	if len(secret) > maxPasswordBytes {
		return User{}, false, ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return User{}, false, err
	}

	owner = User{Username: name, Password: string(hashed)}
	if err := gdb.Create(&owner).Error; err != nil {
		return User{}, false, fmt.Errorf("create owner %q: %w", name, err)
	}
	return owner, true, nil
}
