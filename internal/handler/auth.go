package handler

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sunnah-audio/internal/model"
	"github.com/iliyamo/sunnah-audio/internal/service"
)

// Auth is the account surface; *service.AuthService satisfies it.
type Auth interface {
	Register(ctx context.Context, in service.RegisterInput) (model.Profile, error)
	Login(ctx context.Context, email, password string) (service.LoginResult, error)
	Profile(ctx context.Context, userID uint64) (model.Profile, error)
	UpdateProfile(ctx context.Context, userID uint64, in service.ProfileUpdate) (model.Profile, error)
	ChangePassword(ctx context.Context, userID uint64, current, next string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, next string) error
	Deactivate(ctx context.Context, userID uint64) error
}

// Access is the ACL surface; *service.AccessPolicy satisfies it.
type Access interface {
	Grant(ctx context.Context, caller model.Identity, userID, scholarID uint64) error
	Revoke(ctx context.Context, caller model.Identity, userID, scholarID uint64) error
	Permissions(ctx context.Context, caller model.Identity) (model.Permissions, error)
	ListAll(ctx context.Context, caller model.Identity) ([]model.AccessListing, error)
}

// AuthHandler serves /api/v1/auth.
type AuthHandler struct {
	auth   Auth
	access Access
}

func NewAuthHandler(auth Auth, access Access) *AuthHandler {
	return &AuthHandler{auth: auth, access: access}
}

// Sent for both outcomes so the response does not reveal whether the
// account exists.
const msgOtpSent = "If the email exists, an OTP has been sent to your email address"

type registerReq struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Address  *string `json:"address"`
	Phone    *string `json:"phone"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileReq struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
	Phone   *string `json:"phone"`
}

type changePasswordReq struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type forgotReq struct {
	Email string `json:"email"`
}

type resetReq struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

type accessReq struct {
	UserID    uint64 `json:"user_id"`
	ScholarID uint64 `json:"scholar_id"`
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	p, err := h.auth.Register(ctx, service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Address:  req.Address,
		Phone:    req.Phone,
	})
	if err != nil {
		return err
	}
	return created(c, p, "User registered successfully")
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	res, err := h.auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		return err
	}
	return ok(c, res, "Login successful")
}

func (h *AuthHandler) Profile(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	p, err := h.auth.Profile(ctx, id.UserID)
	if err != nil {
		return err
	}
	return ok(c, p, "")
}

func (h *AuthHandler) UpdateProfile(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	var req profileReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	p, err := h.auth.UpdateProfile(ctx, id.UserID, service.ProfileUpdate{
		Name:    req.Name,
		Address: req.Address,
		Phone:   req.Phone,
	})
	if err != nil {
		return err
	}
	return ok(c, p, "Profile updated successfully")
}

func (h *AuthHandler) ChangePassword(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	var req changePasswordReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	if err := h.auth.ChangePassword(ctx, id.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return ok(c, nil, "Password changed successfully")
}

func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req forgotReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), mailTimeout)
	defer cancel()
	if err := h.auth.ForgotPassword(ctx, req.Email); err != nil {
		return err
	}
	return ok(c, nil, msgOtpSent)
}

func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), mailTimeout)
	defer cancel()
	if err := h.auth.ResetPassword(ctx, req.Email, req.OTP, req.NewPassword); err != nil {
		return err
	}
	return ok(c, nil, "Password has been reset successfully")
}

func (h *AuthHandler) Deactivate(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	if err := h.auth.Deactivate(ctx, id.UserID); err != nil {
		return err
	}
	return ok(c, nil, "Account deactivated successfully")
}

func (h *AuthHandler) Permissions(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	p, err := h.access.Permissions(ctx, id)
	if err != nil {
		return err
	}
	return ok(c, p, "")
}

func (h *AuthHandler) GrantAccess(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	var req accessReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	if err := h.access.Grant(ctx, id, req.UserID, req.ScholarID); err != nil {
		return err
	}
	return ok(c, req, "Access granted successfully")
}

func (h *AuthHandler) RevokeAccess(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	var req accessReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	if err := h.access.Revoke(ctx, id, req.UserID, req.ScholarID); err != nil {
		return err
	}
	return ok(c, req, "Access revoked successfully")
}

func (h *AuthHandler) ListAccess(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	rows, err := h.access.ListAll(ctx, id)
	if err != nil {
		return err
	}
	return ok(c, rows, "")
}
