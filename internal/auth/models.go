package auth

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	AccessMember = "member"
	AccessAdmin  = "admin"
)

type Employee struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email        string             `bson:"email" json:"email"`
	Name         string             `bson:"name" json:"name"`
	Role         string             `bson:"role" json:"role"`
	Industry     string             `bson:"industry" json:"industry"`
	Domain       string             `bson:"domain" json:"domain"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	ResetToken   string             `bson:"reset_token,omitempty" json:"-"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required"`
	Industry string `json:"industry" validate:"required"`
	Domain   string `json:"domain" validate:"required"`
}

type Credential struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
}

// ProfileUpdate is a partial update. Nil fields are left untouched.
type ProfileUpdate struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,min=1"`
	Role     *string `json:"role,omitempty" validate:"omitempty,min=1"`
	Industry *string `json:"industry,omitempty" validate:"omitempty,min=1"`
	Domain   *string `json:"domain,omitempty" validate:"omitempty,min=1"`
}

func (u ProfileUpdate) Empty() bool {
	return u.Name == nil && u.Role == nil && u.Industry == nil && u.Domain == nil
}

// TokenResponse is returned by register and login.
type TokenResponse struct {
	Token    string    `json:"token"`
	Employee *Employee `json:"employee"`
}
