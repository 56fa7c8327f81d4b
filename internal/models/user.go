package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a streamer profile as known to the identity directory.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar"`
	YouTube   string    `json:"youtube"`
	Facebook  string    `json:"facebook"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserPublic is the subset of User exposed alongside collabs.
type UserPublic struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar"`
}

// HasVerifiedChannels reports whether both channel links are on the profile.
func (u *User) HasVerifiedChannels() bool {
	return u.YouTube != "" && u.Facebook != ""
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}
