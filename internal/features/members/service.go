// Package members — service.go содержит бизнес-логику реестра участников.
package members

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Service управляет участниками.
type Service struct {
	repo *Repository
}

// NewService создаёт сервис участников.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// EnsureMember гарантирует, что пользователь есть в базе.
// Вызывается на каждое входящее сообщение, поэтому сначала дешёвая
// проверка существования и только потом вставка.
func (s *Service) EnsureMember(ctx context.Context, userID int64, username, firstName, lastName string) error {
	exists, err := s.repo.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	m := &Member{
		UserID:    userID,
		Username:  username,
		FirstName: firstName,
		LastName:  lastName,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return fmt.Errorf("ошибка регистрации нового участника: %w", err)
	}

	log.WithFields(log.Fields{
		"user_id":  userID,
		"username": username,
	}).Info("Новый участник зарегистрирован")
	return nil
}

// IsActive сообщает, может ли пользователь создавать и открывать конверты.
// Незнакомый пользователь считается активным: запись появится при первом
// сообщении, а банить его ещё не за что.
func (s *Service) IsActive(ctx context.Context, userID int64) (bool, error) {
	m, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	if m == nil {
		return true, nil
	}
	return !m.IsBanned, nil
}

// GetByUserID возвращает участника по его Telegram user ID.
func (s *Service) GetByUserID(ctx context.Context, userID int64) (*Member, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// SetBanned блокирует или разблокирует участника (админ-операция).
func (s *Service) SetBanned(ctx context.Context, userID int64, banned bool) error {
	return s.repo.SetBanned(ctx, userID, banned)
}

// DisplayName возвращает отображаемое имя для сообщений в чате.
func (m *Member) DisplayName() string {
	if m == nil {
		return "?"
	}
	if m.Username != "" {
		return "@" + m.Username
	}
	name := m.FirstName
	if m.LastName != "" {
		name += " " + m.LastName
	}
	if name == "" {
		return fmt.Sprintf("id%d", m.UserID)
	}
	return name
}
