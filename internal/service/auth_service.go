package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/dom/event-portal/internal/config"
	"github.com/dom/event-portal/internal/domain"
	"github.com/dom/event-portal/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrUsernameExists      = errors.New("username already exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrSessionExpired      = errors.New("session expired")
	ErrSessionRevoked      = errors.New("session revoked")
)

const (
	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 8
)

type AuthService struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	cfg         *config.Config
	logger      *zap.Logger
	now         func() time.Time
}

func NewAuthService(userRepo repository.UserRepository, sessionRepo repository.SessionRepository, cfg *config.Config, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		cfg:         cfg,
		logger:      logger.Named("auth"),
		now:         time.Now,
	}
}

type RegisterInput struct {
	Username    string
	Password    string
	Email       string
	DisplayName string
	Role        domain.UserRole
}

type LoginInput struct {
	Username string
	Password string
}

type ProfileInput struct {
	DisplayName *string
	Email       *string
}

type AuthResult struct {
	User         *domain.User
	AccessToken  string
	RefreshToken string
}

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	Username  string
	Role      domain.UserRole
}

func (in RegisterInput) validate() error {
	if n := len(in.Username); n < minUsernameLen || n > maxUsernameLen {
		return domain.ErrInvalidUsername
	}
	if len(in.Password) < minPasswordLen {
		return domain.ErrWeakPassword
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return domain.ErrInvalidEmail
		}
	}
	if !in.Role.SelfAssignable() {
		return domain.ErrInvalidRole
	}
	return nil
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	input.Username = strings.TrimSpace(input.Username)
	if input.Role == "" {
		input.Role = domain.RoleParticipant
	}
	if input.DisplayName == "" {
		input.DisplayName = input.Username
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	// Check if username exists
	existing, err := s.userRepo.GetByUsername(ctx, input.Username)
	if err == nil && existing != nil {
		return nil, ErrUsernameExists
	}

	// Hash password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &domain.User{
		ID:           uuid.New(),
		Username:     input.Username,
		Email:        input.Email,
		DisplayName:  input.DisplayName,
		Role:         input.Role,
		PasswordHash: string(hashedPassword),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID.String()), zap.String("role", user.Role.String()))
	return s.generateTokens(ctx, user)
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	user, err := s.userRepo.GetByUsername(ctx, strings.TrimSpace(input.Username))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.generateTokens(ctx, user)
}

// generateTokens opens a new backend session. Existing sessions of the user
// are kept: the same account may be signed in from several tabs at once.
func (s *AuthService) generateTokens(ctx context.Context, user *domain.User) (*AuthResult, error) {
	secret := uuid.New().String()
	hashedRefresh, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &domain.UserSession{
		ID:               uuid.New(),
		UserID:           user.ID,
		RefreshTokenHash: string(hashedRefresh),
		ExpiresAt:        now.Add(s.cfg.RefreshTokenTTL()),
		CreatedAt:        now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}
	if active, err := s.sessionRepo.CountByUserID(ctx, user.ID); err == nil {
		s.logger.Info("session opened",
			zap.String("user_id", user.ID.String()),
			zap.String("session_id", session.ID.String()),
			zap.Int64("active_sessions", active),
		)
	}

	accessToken, err := s.generateAccessToken(user, session.ID)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: session.ID.String() + "." + secret,
	}, nil
}

func (s *AuthService) generateAccessToken(user *domain.User, sessionID uuid.UUID) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  user.ID.String(),
		"sid":  sessionID.String(),
		"name": user.Username,
		"role": user.Role.String(),
		"exp":  now.Add(s.cfg.AccessTokenTTL()).Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *AuthService) ValidateToken(tokenString string) (*AccessClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, errors.New("invalid subject claim")
	}
	sid, _ := claims["sid"].(string)
	sessionID, err := uuid.Parse(sid)
	if err != nil {
		return nil, errors.New("invalid session claim")
	}
	name, _ := claims["name"].(string)
	role, _ := claims["role"].(string)

	return &AccessClaims{
		UserID:    userID,
		SessionID: sessionID,
		Username:  name,
		Role:      domain.UserRole(role),
	}, nil
}

// ValidateAccess validates the token and checks that the backend session it
// was issued for still exists and has not expired.
func (s *AuthService) ValidateAccess(ctx context.Context, tokenString string) (*AccessClaims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	session, err := s.sessionRepo.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionRevoked
		}
		return nil, err
	}
	if session.UserID != claims.UserID {
		return nil, ErrSessionRevoked
	}
	if session.IsExpired(s.now()) {
		return nil, ErrSessionExpired
	}
	return claims, nil
}

func (s *AuthService) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// lookupSession resolves a refresh token of the form "<sessionID>.<secret>".
func (s *AuthService) lookupSession(ctx context.Context, refreshToken string) (*domain.UserSession, error) {
	rawID, secret, ok := strings.Cut(refreshToken, ".")
	if !ok || secret == "" {
		return nil, ErrInvalidRefreshToken
	}
	sessionID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(session.RefreshTokenHash), []byte(secret)); err != nil {
		return nil, ErrInvalidRefreshToken
	}
	return session, nil
}

// RefreshAccessToken issues a new access token for the backend session the
// refresh token belongs to. The refresh token itself is not rotated.
func (s *AuthService) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	session, err := s.lookupSession(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	if session.IsExpired(s.now()) {
		if err := s.sessionRepo.Delete(ctx, session.ID); err != nil {
			s.logger.Warn("failed to delete expired session", zap.String("session_id", session.ID.String()), zap.Error(err))
		}
		return "", ErrSessionExpired
	}

	user, err := s.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrInvalidRefreshToken
		}
		return "", err
	}

	return s.generateAccessToken(user, session.ID)
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID uuid.UUID, input ProfileInput) (*domain.User, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if input.DisplayName != nil {
		name := strings.TrimSpace(*input.DisplayName)
		if name == "" {
			name = user.Username
		}
		user.DisplayName = name
	}
	if input.Email != nil {
		if *input.Email != "" {
			if _, err := mail.ParseAddress(*input.Email); err != nil {
				return nil, domain.ErrInvalidEmail
			}
		}
		user.Email = *input.Email
	}
	user.UpdatedAt = s.now()

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser removes the account and all of its backend sessions.
func (s *AuthService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	if err := s.userRepo.Delete(ctx, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.logger.Info("user deleted", zap.String("user_id", userID.String()))
	return nil
}

// Logout revokes the single backend session identified by the refresh token.
// Unknown or already revoked tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	session, err := s.lookupSession(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			return nil
		}
		return err
	}
	return s.sessionRepo.Delete(ctx, session.ID)
}
