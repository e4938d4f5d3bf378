package models

import "time"

// OAuthToken is a locally issued access token. Rows are never updated and expired
// rows are not collected.
type OAuthToken struct {
	BaseModel
	ClientID    string    `gorm:"size:255" json:"client_id"`
	AccessToken string    `gorm:"size:512;uniqueIndex" json:"access_token"`
	TokenType   string    `gorm:"size:50" json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `gorm:"index" json:"expires_at"`
}
