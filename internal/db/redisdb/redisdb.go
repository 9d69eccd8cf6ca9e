// Package redisdb управляет подключением к Redis.
// Redis используется для короткоживущих ключей: распределённые блокировки,
// токены частоты, отпечатки дублей и состояние диалогов создания конверта.
package redisdb

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/redpacket-bot/internal/config"
)

// NewClient создаёт клиент Redis и проверяет соединение.
func NewClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis недоступен (%s): %w", cfg.RedisAddr, err)
	}

	log.WithField("addr", cfg.RedisAddr).Info("Подключение к Redis установлено")
	return client, nil
}
