package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	userRepo "sakhi/database/repository/user"
	"sakhi/models"
	"sakhi/utils"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 24 * time.Hour

// ErrInvalidCredentials is returned when login fails. The caller cannot
// distinguish a missing account from a wrong password.
var ErrInvalidCredentials = errors.New("invalid phone number or password")

// ErrPhoneTaken is returned when registering an already used phone number.
var ErrPhoneTaken = errors.New("phone number already registered")

// RegisterInput carries a new account's details.
type RegisterInput struct {
	Name          string  `json:"name" binding:"required"`
	PhoneNumber   string  `json:"phoneNumber" binding:"required"`
	Password      string  `json:"password" binding:"required,min=6"`
	Role          string  `json:"role" binding:"required,oneof=customer doctor"`
	LicenseNumber string  `json:"licenseNumber"`
	Specialty     string  `json:"specialty"`
	Rate          float64 `json:"rate"`
}

// Service manages accounts, sessions, and doctor presence.
type Service struct {
	Repo   userRepo.Repository
	Logger *zap.Logger
}

// Register creates an account and returns it with a session token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, string, error) {
	if _, err := s.Repo.GetByPhone(ctx, in.PhoneNumber); err == nil {
		return nil, "", ErrPhoneTaken
	} else if !errors.Is(err, userRepo.ErrUserNotFound) {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	u := &models.User{
		Name:          in.Name,
		PhoneNumber:   in.PhoneNumber,
		Role:          in.Role,
		PasswordHash:  string(hash),
		LicenseNumber: in.LicenseNumber,
		Specialty:     in.Specialty,
		Rate:          in.Rate,
	}
	if err := s.Repo.Create(ctx, u); err != nil {
		return nil, "", err
	}

	token, err := s.openSession(u)
	if err != nil {
		return nil, "", err
	}
	s.Logger.Info("user registered", zap.String("userId", u.ID), zap.String("role", u.Role))
	return u, token, nil
}

// Login authenticates by phone number and password.
func (s *Service) Login(ctx context.Context, phone, password string) (*models.User, string, error) {
	u, err := s.Repo.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, userRepo.ErrUserNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.openSession(u)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// openSession mints a JWT and caches the session by token hash.
func (s *Service) openSession(u *models.User) (string, error) {
	token, err := utils.GenerateToken(u.ID, u.Role, tokenTTL)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	session := utils.AuthSession{
		UserID:    u.ID,
		Role:      u.Role,
		CreatedAt: time.Now(),
	}
	if err := utils.SaveAuthSession(utils.GetAuthCacheClient(), utils.HashToken(token), session, tokenTTL); err != nil {
		return "", err
	}
	return token, nil
}

// Logout revokes the cached session for a token.
func (s *Service) Logout(token string) error {
	return utils.DeleteAuthSession(utils.GetAuthCacheClient(), utils.HashToken(token))
}

// GetProfile returns a user by ID.
func (s *Service) GetProfile(ctx context.Context, id string) (*models.User, error) {
	return s.Repo.GetByID(ctx, id)
}

// ListOnlineDoctors returns doctors currently accepting consultations.
func (s *Service) ListOnlineDoctors(ctx context.Context) ([]models.User, error) {
	return s.Repo.ListOnlineDoctors(ctx)
}

// SetOnline toggles a doctor's availability.
func (s *Service) SetOnline(ctx context.Context, id string, online bool) error {
	return s.Repo.SetOnline(ctx, id, online)
}

// SaveSchedule stores a doctor's weekly availability windows.
func (s *Service) SaveSchedule(ctx context.Context, id string, schedule map[string]models.DaySchedule) error {
	return s.Repo.SetSchedule(ctx, id, schedule)
}

// RegisterDevice stores a push notification token for the user.
func (s *Service) RegisterDevice(ctx context.Context, id, fcmToken string) error {
	return s.Repo.SetFCMToken(ctx, id, fcmToken)
}
