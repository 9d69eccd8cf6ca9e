// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: ежечасное закрытие просроченных
// конвертов с возвратом остатков.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/redpacket-bot/internal/features/redpacket"
)

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron             *cron.Cron
	redpacketService *redpacket.Service
}

// NewScheduler создаёт планировщик задач в часовом поясе бота.
func NewScheduler(redpacketService *redpacket.Service, loc *time.Location) *Scheduler {
	return &Scheduler{
		cron:             cron.New(cron.WithLocation(loc)),
		redpacketService: redpacketService,
	}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) {
	// Просроченные конверты закрываются и лениво (при попытке открыть),
	// cron добирает те, которые никто не трогает
	s.cron.AddFunc("0 * * * *", func() {
		log.Debug("[CRON] Закрытие просроченных конвертов")
		n, err := s.redpacketService.ExpireOverdue(ctx)
		if err != nil {
			log.WithError(err).Error("[CRON] Ошибка закрытия просроченных конвертов")
			return
		}
		if n > 0 {
			log.WithField("count", n).Info("[CRON] Просроченные конверты закрыты")
		}
	})

	// Суточная сводка в лог
	s.cron.AddFunc("5 0 * * *", func() {
		packets, claims, err := s.redpacketService.StatsSince(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			log.WithError(err).Error("[CRON] Ошибка подсчёта суточной сводки")
			return
		}
		log.WithFields(log.Fields{
			"packets": packets,
			"claims":  claims,
		}).Info("[CRON] Сводка за сутки")
	})

	s.cron.Start()
	log.Info("Планировщик задач запущен")
}

// Stop останавливает планировщик и дожидается текущих задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
