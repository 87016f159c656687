package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/sunnah-audio/internal/apperr"
	"github.com/iliyamo/sunnah-audio/internal/model"
	"github.com/iliyamo/sunnah-audio/internal/repository"
	"github.com/iliyamo/sunnah-audio/internal/utils"
)

const minPasswordLen = 6

const (
	msgBadCredentials = "Email or password is incorrect"
	msgOtpInvalid     = "Invalid or expired OTP. Please request a new one."
	msgShortPassword  = "Password must be at least 6 characters long"
)

// AuthService implements registration, login, profile upkeep and the
// OTP-based password reset.
type AuthService struct {
	users  UserStore
	hasher PasswordHasher
	tokens TokenMinter
	otps   OtpStore
	mail   Mailer
	subs   StatusReader
	log    *zap.Logger

	newOTP func() (string, error)
}

func NewAuthService(users UserStore, hasher PasswordHasher, tokens TokenMinter, otps OtpStore,
	mailer Mailer, subs StatusReader, log *zap.Logger,
) *AuthService {
	return &AuthService{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		otps:   otps,
		mail:   mailer,
		subs:   subs,
		log:    log,
		newOTP: utils.GenerateOTP,
	}
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Address  *string
	Phone    *string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	User               model.Profile            `json:"user"`
	Token              string                   `json:"token"`
	ExpiresAt          time.Time                `json:"expires_at"`
	SubscriptionStatus model.SubscriptionStatus `json:"subscription_status"`
}

// ProfileUpdate carries the fields a user may change; nil means unchanged.
type ProfileUpdate struct {
	Name    *string
	Address *string
	Phone   *string
}

func normalizeEmail(raw string) (string, error) {
	email := repository.NormalizeEmail(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Validation("A valid email address is required")
	}
	return email, nil
}

// Register creates an account with role user.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (model.Profile, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.Profile{}, apperr.Validation("Name is required")
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return model.Profile{}, err
	}
	if len(in.Password) < minPasswordLen {
		return model.Profile{}, apperr.Validation(msgShortPassword)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return model.Profile{}, apperr.Upstream("Failed to hash password", err)
	}

	u := &model.User{
		Name:         name,
		Email:        email,
		Address:      in.Address,
		Phone:        in.Phone,
		Role:         model.RoleUser,
		PasswordHash: hash,
		Status:       model.UserActive,
	}
	id, err := s.users.Create(ctx, u)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return model.Profile{}, apperr.Conflict("Email is already registered")
		}
		return model.Profile{}, apperr.Internal("Failed to create user", err)
	}

	created, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.Profile{}, apperr.Internal("Failed to load user", err)
	}
	s.log.Info("user registered", zap.Uint64("user_id", id))
	return created.Profile(), nil
}

// Login exchanges credentials for a bearer token.  A hash verification is
// performed even when the account is missing or disabled.
func (s *AuthService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = repository.NormalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, apperr.Validation("Email and password are required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.hasher.VerifyDummy(password)
		return LoginResult{}, apperr.Unauthorized(msgBadCredentials)
	case err != nil:
		return LoginResult{}, apperr.Internal("Failed to load user", err)
	case !u.Active():
		s.hasher.VerifyDummy(password)
		return LoginResult{}, apperr.Unauthorized(msgBadCredentials)
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return LoginResult{}, apperr.Unauthorized(msgBadCredentials)
	}

	if s.hasher.NeedsRehash(u.PasswordHash) {
		if hash, err := s.hasher.Hash(password); err == nil {
			if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
				s.log.Warn("password rehash not stored", zap.Uint64("user_id", u.ID), zap.Error(err))
			}
		}
	}

	tok, err := s.tokens.Mint(u.ID, u.Email, u.Role)
	if err != nil {
		return LoginResult{}, apperr.Internal("Failed to issue token", err)
	}
	status, err := s.subs.Status(ctx, u.ID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{
		User:               u.Profile(),
		Token:              tok.Token,
		ExpiresAt:          tok.ExpiresAt,
		SubscriptionStatus: status,
	}, nil
}

func (s *AuthService) activeUser(ctx context.Context, id uint64) (model.User, error) {
	u, err := s.users.GetActiveByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, apperr.NotFound("User not found")
	}
	if err != nil {
		return model.User{}, apperr.Internal("Failed to load user", err)
	}
	return u, nil
}

func (s *AuthService) Profile(ctx context.Context, userID uint64) (model.Profile, error) {
	u, err := s.activeUser(ctx, userID)
	if err != nil {
		return model.Profile{}, err
	}
	return u.Profile(), nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID uint64, in ProfileUpdate) (model.Profile, error) {
	u, err := s.activeUser(ctx, userID)
	if err != nil {
		return model.Profile{}, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return model.Profile{}, apperr.Validation("Name cannot be empty")
		}
		u.Name = name
	}
	if in.Address != nil {
		u.Address = in.Address
	}
	if in.Phone != nil {
		u.Phone = in.Phone
	}
	if err := s.users.UpdateProfile(ctx, u.ID, u.Name, u.Address, u.Phone); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Profile{}, apperr.NotFound("User not found")
		}
		return model.Profile{}, apperr.Internal("Failed to update profile", err)
	}
	return s.Profile(ctx, userID)
}

// ChangePassword requires the current password.
func (s *AuthService) ChangePassword(ctx context.Context, userID uint64, current, next string) error {
	if len(next) < minPasswordLen {
		return apperr.Validation(msgShortPassword)
	}
	u, err := s.activeUser(ctx, userID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(current, u.PasswordHash) {
		return apperr.Unauthorized("Current password is incorrect")
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return apperr.Upstream("Failed to hash password", err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return apperr.Internal("Failed to update password", err)
	}
	return nil
}

// ForgotPassword issues a fresh code and mails it to the address as given.
// The account is not looked up, so the work done and the response are the
// same whether or not the address is registered.
func (s *AuthService) ForgotPassword(ctx context.Context, rawEmail string) error {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	code, err := s.newOTP()
	if err != nil {
		return apperr.Internal("Failed to generate OTP", err)
	}
	if err := s.otps.Put(ctx, email, code, repository.OtpTTL); err != nil {
		return apperr.Internal("Failed to store OTP", err)
	}
	if err := s.mail.SendOTP(ctx, email, code); err != nil {
		return apperr.Upstream("Failed to send OTP email", err)
	}
	return nil
}

// ResetPassword consumes the code and sets the new password.  Every way the
// code or account can be wrong reports the same otp-invalid error.
func (s *AuthService) ResetPassword(ctx context.Context, rawEmail, code, next string) error {
	email := repository.NormalizeEmail(rawEmail)
	if email == "" || strings.TrimSpace(code) == "" {
		return apperr.Validation("Email and OTP are required")
	}
	if len(next) < minPasswordLen {
		return apperr.Validation(msgShortPassword)
	}

	outcome, err := s.otps.Take(ctx, email, strings.TrimSpace(code))
	if err != nil {
		return apperr.Internal("Failed to verify OTP", err)
	}
	if outcome != repository.OtpAccepted {
		s.log.Debug("otp rejected", zap.Stringer("outcome", outcome))
		return apperr.OtpInvalid(msgOtpInvalid)
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !u.Active()) {
		return apperr.OtpInvalid(msgOtpInvalid)
	}
	if err != nil {
		return apperr.Internal("Failed to load user", err)
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return apperr.Upstream("Failed to hash password", err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return apperr.Internal("Failed to update password", err)
	}

	if err := s.mail.SendResetConfirmation(ctx, u.Email); err != nil {
		s.log.Warn("reset confirmation email not sent", zap.Uint64("user_id", u.ID), zap.Error(err))
	}
	return nil
}

// Deactivate disables the caller's account; existing tokens stop working
// at the next policy check.
func (s *AuthService) Deactivate(ctx context.Context, userID uint64) error {
	if err := s.users.SetStatus(ctx, userID, model.UserDisabled); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("User not found")
		}
		return apperr.Internal("Failed to deactivate account", err)
	}
	s.log.Info("user deactivated", zap.Uint64("user_id", userID))
	return nil
}
