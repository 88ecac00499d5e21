package pricing

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/domain"
)

// Promo is a fixed-amount fare discount in the smallest currency unit.
type Promo struct {
	Code      string
	Currency  domain.Currency
	Discount  int64
	ExpiresAt time.Time
}

// PromoBook holds the active promo codes. Codes are matched
// case-insensitively and per currency.
type PromoBook struct {
	mu     sync.RWMutex
	promos map[string]Promo
}

func NewPromoBook() *PromoBook {
	return &PromoBook{promos: make(map[string]Promo)}
}

func (b *PromoBook) Register(p Promo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promos[promoKey(p.Code, p.Currency)] = p
}

// Discount resolves a code to its discount amount. An empty code is not an
// error and discounts nothing; unknown, expired or wrong-currency codes
// return ErrInvalidPromoCode.
func (b *PromoBook) Discount(code string, currency domain.Currency) (int64, error) {
	if code == "" {
		return 0, nil
	}
	b.mu.RLock()
	p, ok := b.promos[promoKey(code, currency)]
	b.mu.RUnlock()
	if !ok {
		return 0, domain.ErrInvalidPromoCode
	}
	if !p.ExpiresAt.IsZero() && time.Now().After(p.ExpiresAt) {
		return 0, domain.ErrInvalidPromoCode
	}
	return p.Discount, nil
}

func promoKey(code string, currency domain.Currency) string {
	return strings.ToUpper(strings.TrimSpace(code)) + "|" + string(currency)
}

var currencySymbols = map[domain.Currency]string{
	domain.CurrencyNGN: "₦",
	domain.CurrencyKES: "KSh ",
	domain.CurrencyGHS: "GH₵ ",
	domain.CurrencyUGX: "USh ",
	domain.CurrencyTZS: "TSh ",
	domain.CurrencyRWF: "FRw ",
	domain.CurrencyZAR: "R",
	domain.CurrencyUSD: "$",
}

// FormatPrice renders a minor-unit amount for rider/driver display.
func FormatPrice(amount int64, currency domain.Currency) string {
	sym, ok := currencySymbols[currency]
	if !ok {
		sym = string(currency) + " "
	}
	return fmt.Sprintf("%s%s.%02d", sym, groupThousands(amount/100), abs(amount%100))
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(abs(n), 10)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if n < 0 {
		s = "-" + s
	}
	return s
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
