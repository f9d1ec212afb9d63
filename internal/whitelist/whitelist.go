// Package whitelist implements the two-state (exists/verified) sender
// membership check backed by the shared PostgreSQL database.
package whitelist

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Entry is a single whitelist row.
type Entry struct {
	Email     string `gorm:"column:email;primaryKey"`
	Verified  bool   `gorm:"column:verified;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (Entry) TableName() string { return "whitelist_entries" }

// Checker performs whitelist membership checks and auto-enrollment.
type Checker struct {
	db *gorm.DB
}

// New wraps an established *gorm.DB connection.
func New(db *gorm.DB) *Checker {
	return &Checker{db: db}
}

// Status reports a sender's exists/verified membership, per
// whitelist.py's is_email_whitelisted contract.
type Status struct {
	Exists   bool
	Verified bool
}

// Check looks up a normalized sender email's whitelist status.
func (c *Checker) Check(email string) (Status, error) {
	var entry Entry
	result := c.db.Where("email = ?", email).First(&entry)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return Status{Exists: false, Verified: false}, nil
	}
	if result.Error != nil {
		return Status{}, errors.Wrap(result.Error, "whitelist: check")
	}
	return Status{Exists: true, Verified: entry.Verified}, nil
}

// EnrollResult is the outcome of auto-enrolling a new sender.
type EnrollResult struct {
	Token string
}

// Enroll creates an unverified whitelist row for a never-seen sender
// and returns a single-use verification token, matching the original's
// "auto-enroll and send a verification message" behavior.
func (c *Checker) Enroll(email string) (EnrollResult, error) {
	token, err := generateToken()
	if err != nil {
		return EnrollResult{}, errors.Wrap(err, "whitelist: generate token")
	}

	now := time.Now().UTC()
	entry := Entry{Email: email, Verified: false, CreatedAt: now, UpdatedAt: now}
	if result := c.db.Create(&entry); result.Error != nil {
		return EnrollResult{}, errors.Wrap(result.Error, "whitelist: enroll")
	}
	return EnrollResult{Token: token}, nil
}

// Verify marks email as verified, used by the out-of-scope external
// verification flow once the single-use token lands on the frontend.
func (c *Checker) Verify(email string) error {
	result := c.db.Model(&Entry{}).Where("email = ?", email).Updates(map[string]interface{}{
		"verified":   true,
		"updated_at": time.Now().UTC(),
	})
	if result.Error != nil {
		return errors.Wrap(result.Error, "whitelist: verify")
	}
	return nil
}

func generateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
