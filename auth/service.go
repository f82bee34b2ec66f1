package auth

import (
	"context"
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/KodaTao/gemini-chat-relay/domain"
	"github.com/KodaTao/gemini-chat-relay/model"
)

const (
	minPasswordLength  = 8
	invalidCredentials = "invalid email or password"
)

// Identity 已认证连接或请求绑定的用户身份
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Verifier 校验令牌并解析出身份，失败返回 domain.ErrUnauthorized
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (*Identity, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	FindUserByID(ctx context.Context, id string) (*model.User, error)
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, validation.Required, validation.Length(minPasswordLength, 72)),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 100)),
	)
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type Service struct {
	users  UserStore
	tokens *JWT
	cost   int
	logger *zap.Logger
}

func NewService(users UserStore, tokens *JWT, bcryptCost int, logger *zap.Logger) *Service {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{users: users, tokens: tokens, cost: bcryptCost, logger: logger}
}

// Register 创建用户并签发令牌
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*model.User, string, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := req.Validate(); err != nil {
		return nil, "", &domain.ValidationError{Message: err.Error()}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, "", err
	}

	user := &model.User{Email: req.Email, PasswordHash: string(hash), Name: req.Name}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := s.tokens.Sign(user.ID, user.Email)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user, token, nil
}

// Login 邮箱不存在和密码错误返回同样的错误
func (s *Service) Login(ctx context.Context, req LoginRequest) (*model.User, string, error) {
	user, err := s.users.FindUserByEmail(ctx, req.Email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, "", &domain.UnauthorizedError{Message: invalidCredentials}
	}
	if err != nil {
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, "", &domain.UnauthorizedError{Message: invalidCredentials}
	}

	token, err := s.tokens.Sign(user.ID, user.Email)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *Service) Me(ctx context.Context, userID string) (*model.User, error) {
	return s.users.FindUserByID(ctx, userID)
}

// VerifyToken 校验签名与过期时间，并确认用户仍然存在
func (s *Service) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, &domain.UnauthorizedError{Message: "missing token"}
	}

	claims, err := s.tokens.Parse(token)
	if err != nil {
		s.logger.Debug("token rejected", zap.Error(err))
		return nil, &domain.UnauthorizedError{Message: "invalid token"}
	}

	user, err := s.users.FindUserByID(ctx, claims.Subject)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.UnauthorizedError{Message: "invalid token"}
	}
	if err != nil {
		return nil, err
	}

	return &Identity{ID: user.ID, Email: user.Email, Name: user.Name}, nil
}
