package do

import "time"

type AdminInfo struct {
	ID       uint64 `gorm:"primaryKey"`
	Username string `gorm:"uniqueIndex:unique_idx_username;type:varchar(100);not null"`
	// Password holds the hex encoded PBKDF2 digest of the password.
	Password  string `gorm:"type:varchar(64);not null"`
	Salt      string `gorm:"type:varchar(32);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
