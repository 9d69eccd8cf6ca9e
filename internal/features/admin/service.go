// Package admin — service.go содержит логику аутентификации и сессий.
// Пароль проверяется по хешу Argon2id из окружения; три неудачные
// попытки за час блокируют вход.
package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"serotonyl.ru/redpacket-bot/internal/common"
	"serotonyl.ru/redpacket-bot/internal/config"
)

const (
	maxFailedAttempts = 3
	attemptWindow     = time.Hour
	sessionTTL        = 24 * time.Hour
)

// Service управляет админ-доступом.
type Service struct {
	repo *Repository
	cfg  *config.Config
}

// NewService создаёт сервис админ-доступа.
func NewService(repo *Repository, cfg *config.Config) *Service {
	return &Service{repo: repo, cfg: cfg}
}

// Login проверяет пароль администратора и открывает сессию на 24 часа.
// Пользователь обязан быть в ADMIN_IDS: пароль — второй фактор, а не первый.
func (s *Service) Login(ctx context.Context, userID int64, password string) error {
	if !s.cfg.IsAdmin(userID) {
		return common.ErrNotAdmin
	}

	attempts, err := s.repo.CountFailedAttempts(ctx, userID, attemptWindow)
	if err != nil {
		return fmt.Errorf("ошибка подсчёта попыток входа: %w", err)
	}
	if attempts >= maxFailedAttempts {
		return common.ErrTooManyAttempts
	}

	match := verifyArgon2id(password, s.cfg.AdminPasswordHash)
	if err := s.repo.LogAttempt(ctx, userID, match); err != nil {
		log.WithError(err).Warn("Не удалось записать попытку входа")
	}
	if !match {
		return common.ErrWrongPassword
	}

	session := &Session{
		UserID:       userID,
		SessionToken: generateSecureToken(),
		ExpiresAt:    time.Now().Add(sessionTTL),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return err
	}

	log.WithField("user_id", userID).Info("Админ вошёл в систему")
	return nil
}

// Logout закрывает все сессии администратора.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	return s.repo.DeactivateSessions(ctx, userID)
}

// HasActiveSession сообщает, аутентифицирован ли админ сейчас,
// и продлевает отметку активности.
func (s *Service) HasActiveSession(ctx context.Context, userID int64) bool {
	session, err := s.repo.GetActiveSession(ctx, userID)
	if err != nil {
		log.WithError(err).Warn("Ошибка проверки сессии")
		return false
	}
	if session == nil {
		return false
	}
	if err := s.repo.UpdateActivity(ctx, userID); err != nil {
		log.WithError(err).Debug("Не удалось обновить активность сессии")
	}
	return true
}

// --- Криптографические утилиты ---

// verifyArgon2id проверяет пароль по хешу Argon2id.
// Формат хеша: $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func verifyArgon2id(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory uint32
	var iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expectedHash)))

	// Сравнение в постоянном времени (защита от timing attack)
	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1
}

// generateSecureToken генерирует криптографически безопасный токен сессии.
func generateSecureToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}
