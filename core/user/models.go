package user

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/sunschool/sunschool/core"
)

// Roles
const (
	RoleAdmin   = "ADMIN"
	RoleParent  = "PARENT"
	RoleLearner = "LEARNER"
)

var AllRoles = []string{RoleAdmin, RoleParent, RoleLearner}

type User struct {
	ID           int       `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Username     string    `json:"username" db:"username"`
	Name         string    `json:"name" db:"name"`
	Role         string    `json:"role" db:"role"`
	PasswordHash string    `json:"-" db:"password"`
	ParentID     null.Int  `json:"parentId" db:"parent_id"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(pwd))
}

func (u *User) IsAdmin() bool   { return u.Role == RoleAdmin }
func (u *User) IsParent() bool  { return u.Role == RoleParent }
func (u *User) IsLearner() bool { return u.Role == RoleLearner }

// IsChildOf reports whether u is a learner owned by parentID.
func (u *User) IsChildOf(parentID int) bool {
	return u.ParentID.Valid && u.ParentID.Int == parentID
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name     string `json:"name" validate:"required"`
	Username string `json:"username" validate:"required,min=3,alphanum_"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required,userrole"`
	ParentID *int   `json:"parentId"`
	// GradeLevel, when set for a learner, seeds their learner profile.
	GradeLevel *int `json:"gradeLevel" validate:"omitempty,min=0,max=12"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Role = core.CleanString(nu.Role)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.checkUniqueness(ctx, nu.Username, nu.Email)
}
