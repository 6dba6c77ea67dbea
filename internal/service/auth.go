package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"

	"eoty/internal/apperr"
	"eoty/internal/models"
	"eoty/internal/repository"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
}

type AuthService interface {
	Register(ctx context.Context, input RegisterInput) (*models.User, error)
	// Login returns a signed JWT plus its expiry.
	Login(ctx context.Context, email, password string) (string, time.Time, *models.User, error)
	ParseToken(tokenString string) (*models.Claims, error)
}

type authService struct {
	users     repository.UserRepository
	jwtSecret []byte
	tokenTTL  time.Duration
	logger    *zap.Logger
}

func NewAuthService(users repository.UserRepository, jwtSecret []byte, tokenTTL time.Duration, logger *zap.Logger) AuthService {
	if tokenTTL == 0 {
		tokenTTL = 24 * time.Hour
	}
	return &authService{users: users, jwtSecret: jwtSecret, tokenTTL: tokenTTL, logger: logger}
}

func (s *authService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	role := input.Role
	if role == "" {
		role = models.RoleStudent
	}
	// Admin roles are granted out of band, never self-assigned.
	if role != models.RoleStudent && role != models.RoleTeacher {
		return nil, apperr.Newf(apperr.KindValidation, "role %q cannot be self-registered", role)
	}
	if len(input.Password) < 8 {
		return nil, apperr.New(apperr.KindValidation, "password must be at least 8 characters")
	}

	if _, err := s.users.GetByEmail(ctx, input.Email); err == nil {
		return nil, apperr.New(apperr.KindConflict, "a user with this email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		s.logger.Error("Failed to check existing user", zap.Error(err))
		return nil, apperr.Wrap(apperr.KindInternal, "failed to check existing users", err)
	}

	passwordHash, err := s.hashPassword(input.Password)
	if err != nil {
		s.logger.Error("Failed to hash password", zap.Error(err))
		return nil, apperr.Wrap(apperr.KindInternal, "failed to hash password", err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		PasswordHash: passwordHash,
		Role:         role,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		s.logger.Error("Failed to create user", zap.Error(err))
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create user", err)
	}

	s.logger.Info("User registered", zap.String("user_id", user.ID), zap.String("role", user.Role))
	return user, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (string, time.Time, *models.User, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil, apperr.New(apperr.KindUnauthorized, "invalid credentials")
	}
	if err != nil {
		s.logger.Error("Failed to get user by email", zap.Error(err))
		return "", time.Time{}, nil, apperr.Wrap(apperr.KindInternal, "failed to retrieve user", err)
	}

	if !user.IsActive {
		return "", time.Time{}, nil, apperr.New(apperr.KindForbidden, "account is disabled")
	}
	if !s.verifyPassword(user.PasswordHash, password) {
		return "", time.Time{}, nil, apperr.New(apperr.KindUnauthorized, "invalid credentials")
	}

	expirationTime := time.Now().Add(s.tokenTTL)
	claims := &models.Claims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		s.logger.Error("Failed to sign JWT token", zap.Error(err))
		return "", time.Time{}, nil, apperr.Wrap(apperr.KindInternal, "failed to generate token", err)
	}

	s.logger.Info("User logged in", zap.String("user_id", user.ID))
	return tokenString, expirationTime, user, nil
}

func (s *authService) ParseToken(tokenString string) (*models.Claims, error) {
	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.New(apperr.KindUnauthorized, "token expired")
		}
		return nil, apperr.Wrap(apperr.KindUnauthorized, "invalid token", err)
	}
	if !token.Valid {
		return nil, apperr.New(apperr.KindUnauthorized, "invalid token")
	}
	return claims, nil
}

// hashPassword produces a self-describing argon2id hash:
// $argon2id$v=19$m=65536,t=1,p=4$BASE64_SALT$BASE64_HASH
func (s *authService) hashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedHash := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads, encodedSalt, encodedHash), nil
}

func (s *authService) verifyPassword(hashedPassword, password string) bool {
	sections := strings.Split(strings.TrimPrefix(hashedPassword, "$"), "$")
	// ["argon2id", "v=19", "m=65536,t=1,p=4", salt, hash]
	if len(sections) != 5 || sections[0] != "argon2id" {
		s.logger.Error("Invalid password hash format", zap.Int("sections", len(sections)))
		return false
	}

	var version int
	if _, err := fmt.Sscanf(sections[1], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var m uint32
	var t uint32
	var p uint8
	if _, err := fmt.Sscanf(sections[2], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(sections[3])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		return false
	}

	actual := argon2.IDKey([]byte(password), salt, t, m, p, uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1
}
