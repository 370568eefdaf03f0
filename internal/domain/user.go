package domain

import "time"

// User is an end-user who opens support tickets.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRef is the id+username projection embedded in ticket responses.
type UserRef struct {
	ID       string
	Username string
}

// Ref reduces the user to its public reference.
func (u *User) Ref() UserRef {
	if u == nil {
		return UserRef{}
	}
	return UserRef{ID: u.ID, Username: u.Username}
}
