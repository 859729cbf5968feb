package postgres

import "time"

// CredentialModel stores the signed payload verbatim next to the columns
// the verifier and revocation sync query on.
type CredentialModel struct {
	ID               string     `gorm:"primaryKey"`
	AgentID          string     `gorm:"index;not null"`
	IssuerID         string     `gorm:"index;not null"`
	Status           string     `gorm:"index;not null"`
	OwnerID          string     `gorm:"index"`
	PolicyID         string
	Payload          []byte     `gorm:"type:jsonb;not null"`
	ValidFrom        time.Time  `gorm:"not null"`
	ValidUntil       time.Time  `gorm:"not null"`
	IssuedAt         time.Time  `gorm:"not null"`
	RevokedAt        *time.Time `gorm:"index"`
	RevocationReason string
}

func (CredentialModel) TableName() string { return "credentials" }

type IssuerModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	PublicKey string `gorm:"not null"`
	Verified  bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (IssuerModel) TableName() string { return "issuers" }

type PolicyModel struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"not null"`
	Version     int    `gorm:"not null"`
	Permissions []byte `gorm:"type:jsonb;not null"`
	Rego        string
	UpdatedAt   time.Time
}

func (PolicyModel) TableName() string { return "permission_policies" }
