package domain

import "time"

type PasswordCredential struct {
	ID          CredentialID `gorm:"type:uuid;primaryKey" db:"id"`
	UserID      UserID       `gorm:"type:uuid;uniqueIndex:ux_pwd_user" db:"user_id"`
	Algo        string       `gorm:"type:text;not null" db:"algo"`
	Hash        []byte       `gorm:"type:bytea;not null" db:"hash"`
	Salt        []byte       `gorm:"type:bytea;not null" db:"salt"`
	ParamsJSON  []byte       `gorm:"type:jsonb;not null" db:"params_json"`
	PasswordVer int          `gorm:"not null;default:1" db:"password_ver"`
	CreatedAt   time.Time    `gorm:"not null" db:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" db:"updated_at"`
}

func (PasswordCredential) TableName() string { return "password_credentials" }

// Accessors satisfying the PasswordService verification interface, so the
// hashing implementation never depends on the GORM model directly.

func (c *PasswordCredential) GetAlgo() string       { return c.Algo }
func (c *PasswordCredential) GetHash() []byte       { return c.Hash }
func (c *PasswordCredential) GetSalt() []byte       { return c.Salt }
func (c *PasswordCredential) GetParamsJSON() []byte { return c.ParamsJSON }
func (c *PasswordCredential) GetPasswordVer() int   { return c.PasswordVer }
