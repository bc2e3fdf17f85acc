package authapi

import "time"

// registerRequest accepts either password or the password1/password2 pair.
type registerRequest struct {
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	Password1 string  `json:"password1"`
	Password2 string  `json:"password2"`
	Gender    *string `json:"gender"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Gender    *string   `json:"gender,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type authResponse struct {
	Msg   string       `json:"msg,omitempty"`
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

type msgResponse struct {
	Msg string `json:"msg"`
}
