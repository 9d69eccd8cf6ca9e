// repository.go — PostgreSQL-реализация Store.
//
// Конкурентная корректность держится на трёх вещах:
//   - SELECT ... FOR UPDATE строки конверта: доля считается по актуальному
//     остатку, порядковые номера выдач без дыр;
//   - уникальный индекс (packet_id, user_id) в леджере: вторая выдача тому
//     же пользователю физически невозможна;
//   - вся выдача (леджер + счётчики + начисление) — одна транзакция.
package redpacket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/redpacket-bot/internal/common"
	"serotonyl.ru/redpacket-bot/internal/features/wallet"
)

// Repository реализует Store поверх pgxpool.
type Repository struct {
	db *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

// NewRepository создаёт репозиторий конвертов.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const packetColumns = `
	id, packet_id, sender_id, chat_id, chat_kind, policy, title,
	total_amount, total_count, remain_amount, remain_count,
	status, best_user_id, best_amount, refund_amount,
	expires_at, created_at, updated_at
`

func scanPacket(row pgx.Row) (*RedPacket, error) {
	var p RedPacket
	err := row.Scan(
		&p.ID, &p.PacketID, &p.SenderID, &p.ChatID, &p.ChatKind, &p.Policy, &p.Title,
		&p.TotalAmount, &p.TotalCount, &p.RemainAmount, &p.RemainCount,
		&p.Status, &p.BestUserID, &p.BestAmount, &p.RefundAmount,
		&p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrPacketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конверта: %w", err)
	}
	return &p, nil
}

// CreatePacket списывает номинал и создаёт конверт одной транзакцией.
// Откат любой части отменяет всё, включая списание.
func (r *Repository) CreatePacket(ctx context.Context, p *RedPacket) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	if p.SenderID != 0 {
		var balance int64
		err = tx.QueryRow(ctx,
			`SELECT balance FROM balances WHERE user_id = $1 FOR UPDATE`,
			p.SenderID,
		).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return common.ErrInsufficientBalance
		}
		if err != nil {
			return fmt.Errorf("ошибка чтения счёта отправителя: %w", err)
		}
		if balance < p.TotalAmount {
			return common.ErrInsufficientBalance
		}

		_, err = tx.Exec(ctx, `
			UPDATE balances
			SET balance = balance - $2, total_spent = total_spent + $2, updated_at = NOW()
			WHERE user_id = $1
		`, p.SenderID, p.TotalAmount)
		if err != nil {
			return fmt.Errorf("ошибка списания номинала: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO transactions (from_user_id, amount, transaction_type, description)
			VALUES ($1, $2, $3, $4)
		`, p.SenderID, p.TotalAmount, wallet.TxTypeRedPacketSend,
			fmt.Sprintf("Красный конверт %s", p.PacketID))
		if err != nil {
			return fmt.Errorf("ошибка записи транзакции: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO red_packets (
			packet_id, sender_id, chat_id, chat_kind, policy, title,
			total_amount, total_count, remain_amount, remain_count,
			status, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $7, $8, 'active', $9)
	`, p.PacketID, p.SenderID, p.ChatID, p.ChatKind, p.Policy, p.Title,
		p.TotalAmount, p.TotalCount, p.ExpiresAt)
	if err != nil {
		return fmt.Errorf("ошибка вставки конверта: %w", err)
	}

	return tx.Commit(ctx)
}

// GetPacket возвращает конверт по внешнему идентификатору.
func (r *Repository) GetPacket(ctx context.Context, packetID string) (*RedPacket, error) {
	query := `SELECT ` + packetColumns + ` FROM red_packets WHERE packet_id = $1`
	return scanPacket(r.db.QueryRow(ctx, query, packetID))
}

// HasClaim проверяет наличие выдачи по паре (конверт, пользователь).
func (r *Repository) HasClaim(ctx context.Context, packetID string, userID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM red_packet_claims WHERE packet_id = $1 AND user_id = $2)`
	var exists bool
	err := r.db.QueryRow(ctx, query, packetID, userID).Scan(&exists)
	return exists, err
}

// Claim выдаёт долю. Вся выдача — одна транзакция, см. шапку файла.
func (r *Repository) Claim(ctx context.Context, packetID string, userID int64, alloc AllocateFunc) (*ClaimRecord, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	// Перечитываем конверт под блокировкой строки: состояние могло
	// поменяться между проверкой в сервисе и этой транзакцией
	query := `SELECT ` + packetColumns + ` FROM red_packets WHERE packet_id = $1 FOR UPDATE`
	p, err := scanPacket(tx.QueryRow(ctx, query, packetID))
	if err != nil {
		return nil, false, err
	}

	if p.Status != StatusActive {
		return nil, false, common.ErrPacketEnded
	}
	if p.RemainCount <= 0 || p.RemainAmount <= 0 {
		return nil, false, common.ErrPacketEmpty
	}

	share, err := alloc(p.RemainAmount, p.RemainCount)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка вычисления доли: %w", err)
	}

	claim := &ClaimRecord{
		PacketID:   packetID,
		UserID:     userID,
		Amount:     share,
		ClaimOrder: p.TotalCount - p.RemainCount + 1,
		IsBest:     share > p.BestAmount,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO red_packet_claims (packet_id, user_id, amount, claim_order, is_best)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, claimed_at
	`, claim.PacketID, claim.UserID, claim.Amount, claim.ClaimOrder, claim.IsBest,
	).Scan(&claim.ID, &claim.ClaimedAt)
	if isUniqueViolation(err) {
		return nil, false, common.ErrAlreadyClaimed
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка записи выдачи: %w", err)
	}

	completed := p.RemainCount == 1
	newStatus := StatusActive
	if completed {
		newStatus = StatusCompleted
	}
	bestUser, bestAmount := p.BestUserID, p.BestAmount
	if claim.IsBest {
		bestUser, bestAmount = userID, share
	}

	_, err = tx.Exec(ctx, `
		UPDATE red_packets
		SET remain_amount = remain_amount - $2,
		    remain_count = remain_count - 1,
		    status = $3, best_user_id = $4, best_amount = $5,
		    updated_at = NOW()
		WHERE packet_id = $1
	`, packetID, share, newStatus, bestUser, bestAmount)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка обновления остатков: %w", err)
	}

	if err := creditInTx(ctx, tx, p.SenderID, userID, share, wallet.TxTypeRedPacketClaim,
		fmt.Sprintf("Доля из конверта %s", packetID)); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("ошибка фиксации выдачи: %w", err)
	}
	return claim, completed, nil
}

// Revoke отзывает конверт без выдач и возвращает номинал отправителю.
func (r *Repository) Revoke(ctx context.Context, packetID string) (int64, error) {
	return r.terminate(ctx, packetID, StatusRevoked, true)
}

// Expire закрывает просроченный конверт и возвращает остаток отправителю.
func (r *Repository) Expire(ctx context.Context, packetID string) (int64, error) {
	return r.terminate(ctx, packetID, StatusExpired, false)
}

// terminate — общий путь revoke/expire: перевод в терминальный статус
// и возврат остатка одной транзакцией.
func (r *Repository) terminate(ctx context.Context, packetID string, status Status, requireUntouched bool) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + packetColumns + ` FROM red_packets WHERE packet_id = $1 FOR UPDATE`
	p, err := scanPacket(tx.QueryRow(ctx, query, packetID))
	if err != nil {
		return 0, err
	}

	if p.Status != StatusActive {
		return 0, common.ErrPacketEnded
	}
	if requireUntouched && p.RemainCount != p.TotalCount {
		return 0, common.ErrRevokeAfterClaims
	}

	refund := p.RemainAmount
	_, err = tx.Exec(ctx, `
		UPDATE red_packets
		SET status = $2, refund_amount = $3, updated_at = NOW()
		WHERE packet_id = $1
	`, packetID, status, refund)
	if err != nil {
		return 0, fmt.Errorf("ошибка закрытия конверта: %w", err)
	}

	if refund > 0 && p.SenderID != 0 {
		if err := creditInTx(ctx, tx, 0, p.SenderID, refund, wallet.TxTypeRedPacketRefund,
			fmt.Sprintf("Возврат по конверту %s", packetID)); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ошибка фиксации: %w", err)
	}
	return refund, nil
}

// ListClaims возвращает выдачи в порядке их получения.
func (r *Repository) ListClaims(ctx context.Context, packetID string) ([]*ClaimRecord, error) {
	query := `
		SELECT id, packet_id, user_id, amount, claim_order, is_best, claimed_at
		FROM red_packet_claims
		WHERE packet_id = $1
		ORDER BY claim_order
	`
	rows, err := r.db.Query(ctx, query, packetID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения выдач: %w", err)
	}
	defer rows.Close()

	var claims []*ClaimRecord
	for rows.Next() {
		var c ClaimRecord
		if err := rows.Scan(&c.ID, &c.PacketID, &c.UserID, &c.Amount, &c.ClaimOrder, &c.IsBest, &c.ClaimedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования выдачи: %w", err)
		}
		claims = append(claims, &c)
	}
	return claims, rows.Err()
}

// ListExpiredIDs возвращает активные конверты с истёкшим сроком.
func (r *Repository) ListExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT packet_id FROM red_packets
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска просроченных: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SenderStatsSince считает конверты отправителя с момента since.
func (r *Repository) SenderStatsSince(ctx context.Context, senderID int64, since time.Time) (int, int64, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(total_amount), 0)
		FROM red_packets
		WHERE sender_id = $1 AND created_at >= $2
	`
	var count int
	var amount int64
	err := r.db.QueryRow(ctx, query, senderID, since).Scan(&count, &amount)
	if err != nil {
		return 0, 0, fmt.Errorf("ошибка подсчёта лимитов: %w", err)
	}
	return count, amount, nil
}

// StatsSince считает конверты и выдачи с момента since.
func (r *Repository) StatsSince(ctx context.Context, since time.Time) (int, int, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM red_packets WHERE created_at >= $1),
			(SELECT COUNT(*) FROM red_packet_claims WHERE claimed_at >= $1)
	`
	var packets, claims int
	if err := r.db.QueryRow(ctx, query, since).Scan(&packets, &claims); err != nil {
		return 0, 0, fmt.Errorf("ошибка подсчёта сводки: %w", err)
	}
	return packets, claims, nil
}

// creditInTx начисляет сумму получателю внутри уже открытой транзакции.
// fromUserID == 0 превращается в NULL (системное начисление).
func creditInTx(ctx context.Context, tx pgx.Tx, fromUserID, toUserID, amount int64, txType, description string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO balances (user_id, balance, total_earned, total_spent)
		VALUES ($1, $2, $2, 0)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = balances.balance + $2,
		    total_earned = balances.total_earned + $2,
		    updated_at = NOW()
	`, toUserID, amount)
	if err != nil {
		return fmt.Errorf("ошибка начисления: %w", err)
	}

	var from *int64
	if fromUserID != 0 {
		from = &fromUserID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (from_user_id, to_user_id, amount, transaction_type, description)
		VALUES ($1, $2, $3, $4, $5)
	`, from, toUserID, amount, txType, description)
	if err != nil {
		return fmt.Errorf("ошибка записи транзакции: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
