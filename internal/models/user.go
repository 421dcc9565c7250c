package models

import "time"

// User is an account synced from the identity provider. AuthID is the
// token subject.
type User struct {
	ID              string    `json:"id"`
	AuthID          string    `json:"authId"`
	Email           string    `json:"email"`
	FirstName       *string   `json:"firstName"`
	LastName        *string   `json:"lastName"`
	ImageURL        *string   `json:"imageUrl"`
	IsAdmin         bool      `json:"isAdmin"`
	EmailSubscribed bool      `json:"emailSubscribed"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// UserDTO is the account as returned to its owner
type UserDTO struct {
	ID              string  `json:"id"`
	AuthID          string  `json:"authId"`
	Email           string  `json:"email"`
	FirstName       *string `json:"firstName"`
	LastName        *string `json:"lastName"`
	ImageURL        *string `json:"imageUrl"`
	IsAdmin         bool    `json:"isAdmin"`
	EmailSubscribed bool    `json:"emailSubscribed"`
}

// AdminUserView is one row of the admin user listing
type AdminUserView struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	IsAdmin   bool    `json:"isAdmin"`
}

// DTO drops the timestamps
func (u *User) DTO() UserDTO {
	return UserDTO{
		ID:              u.ID,
		AuthID:          u.AuthID,
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		ImageURL:        u.ImageURL,
		IsAdmin:         u.IsAdmin,
		EmailSubscribed: u.EmailSubscribed,
	}
}

// AdminView keeps the fields shown on the admin page
func (u *User) AdminView() AdminUserView {
	return AdminUserView{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsAdmin:   u.IsAdmin,
	}
}
