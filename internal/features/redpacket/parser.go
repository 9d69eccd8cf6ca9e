// parser.go разбирает свободный текст заявки на конверт:
// "<сумма> <количество> [поровну] [заголовок]".
// Чистая функция от входа и политики из конфига, без побочных эффектов.
package redpacket

import (
	"strings"

	"serotonyl.ru/redpacket-bot/internal/common"
	"serotonyl.ru/redpacket-bot/internal/config"
)

// CreateParams — проверенные параметры создания конверта.
type CreateParams struct {
	AmountKop int64 // Сумма в копейках
	Count     int
	Policy    Policy
	Title     string
}

// Parser валидирует заявку против политики из конфига.
type Parser struct {
	minTotal        int64
	maxTotal        int64
	minShare        int64
	maxCount        int
	defaultGreeting string
}

// NewParser создаёт парсер с ограничениями из конфига.
func NewParser(cfg *config.Config) *Parser {
	return &Parser{
		minTotal:        cfg.RPMinTotal,
		maxTotal:        cfg.RPMaxTotal,
		minShare:        cfg.RPMinShare,
		maxCount:        cfg.RPMaxCount,
		defaultGreeting: cfg.RPDefaultGreeting,
	}
}

// Суффиксы, которые пользователи дописывают к числам. Срезаются до парсинга.
var (
	amountSuffixes = []string{"元", "₽", "руб.", "руб", "р.", "rub"}
	countSuffixes  = []string{"个", "шт.", "шт", "pieces", "pcs"}
)

// ParseCreate разбирает строку "<сумма> <количество> [поровну] [заголовок]".
// Слово «поровну»/«even» сразу после количества переключает политику
// с random на even. Пустой заголовок заменяется приветствием по умолчанию.
//
// Все отказы — структурные ошибки валидации из internal/common,
// пригодные для повторного запроса ввода у пользователя.
func (p *Parser) ParseCreate(text string) (*CreateParams, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) < 2 {
		return nil, common.ErrBadAmount
	}

	amount, err := p.ParseAmount(fields[0])
	if err != nil {
		return nil, err
	}

	count, err := p.ParseCount(fields[1])
	if err != nil {
		return nil, err
	}

	policy := PolicyRandom
	rest := fields[2:]
	if len(rest) > 0 {
		switch strings.ToLower(rest[0]) {
		case "поровну", "even":
			policy = PolicyEven
			rest = rest[1:]
		}
	}

	title, err := p.ParseTitle(strings.Join(rest, " "))
	if err != nil {
		return nil, err
	}

	if err := p.checkPolicy(amount, count); err != nil {
		return nil, err
	}

	return &CreateParams{
		AmountKop: amount,
		Count:     count,
		Policy:    policy,
		Title:     title,
	}, nil
}

// ParseAmount разбирает сумму с необязательным валютным суффиксом.
func (p *Parser) ParseAmount(s string) (int64, error) {
	s = stripSuffix(s, amountSuffixes)
	kop, err := common.ParseMoney(s)
	if err != nil {
		return 0, err
	}
	if kop <= 0 {
		return 0, common.ErrBadAmount
	}
	return kop, nil
}

// ParseCount разбирает количество долей с необязательным суффиксом штук.
func (p *Parser) ParseCount(s string) (int, error) {
	s = stripSuffix(s, countSuffixes)
	// Количество — только целое без знака и без точки
	if s == "" || strings.ContainsAny(s, ".,+-") {
		return 0, common.ErrBadCount
	}
	count := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, common.ErrBadCount
		}
		count = count*10 + int(r-'0')
		if count > 1_000_000 {
			return 0, common.ErrTooManyShares
		}
	}
	if count <= 0 {
		return 0, common.ErrBadCount
	}
	return count, nil
}

// ParseTitle проверяет заголовок и подставляет приветствие по умолчанию.
func (p *Parser) ParseTitle(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return p.defaultGreeting, nil
	}
	if len([]rune(s)) > 50 {
		return "", common.ErrTitleTooLong
	}
	return s, nil
}

// checkPolicy применяет политические границы: минимум/максимум суммы,
// максимум долей и минимальную среднюю долю.
func (p *Parser) checkPolicy(amountKop int64, count int) error {
	if amountKop < p.minTotal {
		return common.ErrTotalTooSmall
	}
	if amountKop > p.maxTotal {
		return common.ErrTotalTooLarge
	}
	if count > p.maxCount {
		return common.ErrTooManyShares
	}
	// total/count < minShare — каждому доли не хватит
	if amountKop < int64(count)*p.minShare {
		return common.ErrShareBelowFloor
	}
	return nil
}

// Validate проверяет уже собранные параметры (путь диалога, где сумма
// и количество приходят отдельными шагами).
func (p *Parser) Validate(params *CreateParams) error {
	if params.AmountKop <= 0 {
		return common.ErrBadAmount
	}
	if params.Count <= 0 {
		return common.ErrBadCount
	}
	return p.checkPolicy(params.AmountKop, params.Count)
}

func stripSuffix(s string, suffixes []string) string {
	lower := strings.ToLower(s)
	for _, suf := range suffixes {
		if strings.HasSuffix(lower, suf) {
			return strings.TrimSpace(s[:len(s)-len(suf)])
		}
	}
	return s
}
