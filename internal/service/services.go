package service

import (
	"github.com/dom/event-portal/internal/config"
	"github.com/dom/event-portal/internal/repository"
	"go.uber.org/zap"
)

type Services struct {
	Auth *AuthService
}

func NewServices(repos *repository.Repositories, cfg *config.Config, logger *zap.Logger) *Services {
	return &Services{
		Auth: NewAuthService(repos.User, repos.Session, cfg, logger),
	}
}
