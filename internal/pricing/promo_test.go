package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/domain"
)

func TestPromoBookResolves(t *testing.T) {
	book := NewPromoBook()
	book.Register(Promo{Code: "WELCOME", Currency: domain.CurrencyNGN, Discount: 50000})

	d, err := book.Discount("welcome", domain.CurrencyNGN)
	if err != nil {
		t.Fatal(err)
	}
	if d != 50000 {
		t.Fatalf("discount = %d, want 50000", d)
	}
}

func TestPromoBookEmptyCodeIsFree(t *testing.T) {
	d, err := NewPromoBook().Discount("", domain.CurrencyNGN)
	if err != nil || d != 0 {
		t.Fatalf("got d=%d err=%v", d, err)
	}
}

func TestPromoBookRejectsUnknownAndExpired(t *testing.T) {
	book := NewPromoBook()
	book.Register(Promo{
		Code: "OLD", Currency: domain.CurrencyNGN, Discount: 10000,
		ExpiresAt: time.Now().Add(-time.Hour),
	})
	book.Register(Promo{Code: "KENYA", Currency: domain.CurrencyKES, Discount: 10000})

	for _, code := range []string{"NOPE", "OLD", "KENYA"} {
		if _, err := book.Discount(code, domain.CurrencyNGN); !errors.Is(err, domain.ErrInvalidPromoCode) {
			t.Errorf("Discount(%q) = %v, want ErrInvalidPromoCode", code, err)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	cases := []struct {
		amount   int64
		currency domain.Currency
		want     string
	}{
		{145000, domain.CurrencyNGN, "₦1,450.00"},
		{50, domain.CurrencyUSD, "$0.50"},
		{123456789, domain.CurrencyKES, "KSh 1,234,567.89"},
		{1000, "XXX", "XXX 10.00"},
	}
	for _, c := range cases {
		if got := FormatPrice(c.amount, c.currency); got != c.want {
			t.Errorf("FormatPrice(%d, %s) = %q, want %q", c.amount, c.currency, got, c.want)
		}
	}
}
