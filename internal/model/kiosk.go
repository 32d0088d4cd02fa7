package model

import "time"

// Kiosk is a physical unattended device registered in the kiosk registry.
//
// Fields:
//  ID         – kiosks.id, the identity carried in kiosk tokens.
//  Name       – operator-facing label.
//  Location   – free-form site description.
//  SecretHash – bcrypt hash of the device secret used to obtain tokens.
//  IsActive   – inactive kiosks can not obtain tokens or connect.
//  CreatedAt  – kiosks.created_at.
type Kiosk struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Location   string    `json:"location"`
	SecretHash string    `json:"-"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Animal is one selectable avatar of the catalog.
type Animal struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
	IsActive bool   `json:"isActive"`
}
