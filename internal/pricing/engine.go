// Package pricing computes fare breakdowns and tracks per-cell surge
// multipliers. Fare calculation is pure; surge state lives in an injected
// SurgeStore so every service instance sees the same multipliers.
package pricing

import (
	"context"
	"math"
	"time"

	"github.com/example/ride-dispatch/internal/domain"
)

// Config holds the static rate table for one currency. All amounts are in
// the smallest currency unit.
type Config struct {
	BaseFares      map[domain.RideType]int64
	PerKmRates     map[domain.RideType]int64
	PerMinuteRates map[domain.RideType]int64
	MinFares       map[domain.RideType]int64

	BookingFee        int64
	CommissionPercent float64
	Currency          domain.Currency
}

// SurgeConfig tunes the demand/supply surge computation.
type SurgeConfig struct {
	// MinDriversThreshold is the driver count below which supply scarcity
	// alone raises the multiplier.
	MinDriversThreshold int

	// DemandSupplyThreshold is the pending/active ratio above which demand
	// pressure raises the multiplier.
	DemandSupplyThreshold float64

	MaxSurgeMultiplier float64

	// SurgeStep is the per-missing-driver increment of the scarcity term.
	SurgeStep float64

	// MaxChangePerUpdate rate-limits consecutive updates for a cell to
	// avoid price whiplash from bursty counts.
	MaxChangePerUpdate float64

	// Freshness is how long cached surge data is trusted; older entries
	// read as 1.0.
	Freshness time.Duration
}

// DefaultSurgeConfig mirrors production tuning.
func DefaultSurgeConfig() SurgeConfig {
	return SurgeConfig{
		MinDriversThreshold:   3,
		DemandSupplyThreshold: 1.5,
		MaxSurgeMultiplier:    3.0,
		SurgeStep:             0.1,
		MaxChangePerUpdate:    0.3,
		Freshness:             5 * time.Minute,
	}
}

// Engine is the pricing engine.
type Engine struct {
	configs     map[domain.Currency]*Config
	surgeConfig SurgeConfig
	surge       SurgeStore
}

// NewEngine builds an engine with the default rate tables. store must not
// be nil; use NewMemorySurgeStore for single-instance or test setups.
func NewEngine(store SurgeStore) *Engine {
	return &Engine{
		configs:     defaultConfigs(),
		surgeConfig: DefaultSurgeConfig(),
		surge:       store,
	}
}

// NewEngineWithConfig overrides the surge tuning.
func NewEngineWithConfig(store SurgeStore, sc SurgeConfig) *Engine {
	e := NewEngine(store)
	e.surgeConfig = sc
	return e
}

// CalculatePrice computes the full fare breakdown for one ride type.
// Unknown currencies fall back to the NGN table.
func (e *Engine) CalculatePrice(
	ctx context.Context,
	rideType domain.RideType,
	distanceM float64,
	durationS int64,
	currency domain.Currency,
	cellID string,
	promoDiscount int64,
) (*domain.PriceBreakdown, error) {
	config, ok := e.configs[currency]
	if !ok {
		config = e.configs[domain.CurrencyNGN]
		currency = domain.CurrencyNGN
	}

	baseFare := config.BaseFares[rideType]
	perKmRate := config.PerKmRates[rideType]
	perMinRate := config.PerMinuteRates[rideType]
	minFare := config.MinFares[rideType]

	distanceKm := distanceM / 1000.0
	durationMin := float64(durationS) / 60.0

	distanceFare := int64(distanceKm * float64(perKmRate))
	timeFare := int64(durationMin * float64(perMinRate))

	surgeMultiplier := e.GetSurgeMultiplier(ctx, cellID)

	subtotal := baseFare + distanceFare + timeFare
	surgeAmount := int64(float64(subtotal) * (surgeMultiplier - 1))

	total := subtotal + surgeAmount + config.BookingFee - promoDiscount
	if total < 0 {
		total = 0
	}
	if total < minFare {
		total = minFare
	}

	platformFee := int64(float64(total) * config.CommissionPercent)
	driverEarnings := total - platformFee

	return &domain.PriceBreakdown{
		BaseFare:        baseFare,
		DistanceFare:    distanceFare,
		TimeFare:        timeFare,
		SurgeMultiplier: surgeMultiplier,
		SurgeAmount:     surgeAmount,
		BookingFee:      config.BookingFee,
		TollFees:        0, // toll calculation is out of scope
		PromoDiscount:   promoDiscount,
		Total:           total,
		Currency:        currency,
		DriverEarnings:  driverEarnings,
		PlatformFee:     platformFee,
	}, nil
}

// GetPriceEstimate prices every ride type for display before booking.
func (e *Engine) GetPriceEstimate(
	ctx context.Context,
	distanceM float64,
	durationS int64,
	currency domain.Currency,
	cellID string,
) (map[domain.RideType]*domain.PriceBreakdown, error) {
	estimates := make(map[domain.RideType]*domain.PriceBreakdown, len(domain.AllRideTypes()))
	for _, rt := range domain.AllRideTypes() {
		price, err := e.CalculatePrice(ctx, rt, distanceM, durationS, currency, cellID, 0)
		if err != nil {
			continue
		}
		estimates[rt] = price
	}
	return estimates, nil
}

// GetSurgeMultiplier returns the active multiplier for a cell. Missing or
// stale data reads as 1.0.
func (e *Engine) GetSurgeMultiplier(ctx context.Context, cellID string) float64 {
	if cellID == "" {
		return 1.0
	}
	data, err := e.surge.SurgeData(ctx, cellID)
	if err != nil || data == nil {
		return 1.0
	}
	if time.Since(data.UpdatedAt) > e.surgeConfig.Freshness {
		return 1.0
	}
	return data.Multiplier
}

// UpdateSurge recomputes the multiplier for a cell from current demand and
// supply counts and caches it. The change versus the previous cached value
// is rate-limited to MaxChangePerUpdate.
func (e *Engine) UpdateSurge(ctx context.Context, cellID string, activeDrivers, pendingRequests int) float64 {
	var ratio float64
	if activeDrivers == 0 {
		// Punitive ratio: treat every pending request as doubled demand.
		ratio = float64(pendingRequests) * 2
	} else {
		ratio = float64(pendingRequests) / float64(activeDrivers)
	}

	multiplier := 1.0

	if activeDrivers < e.surgeConfig.MinDriversThreshold {
		multiplier = 1.0 + float64(e.surgeConfig.MinDriversThreshold-activeDrivers)*e.surgeConfig.SurgeStep
	}

	if ratio > e.surgeConfig.DemandSupplyThreshold {
		excess := ratio - e.surgeConfig.DemandSupplyThreshold
		multiplier = math.Max(multiplier, 1.0+excess*0.5)
	}

	if multiplier > e.surgeConfig.MaxSurgeMultiplier {
		multiplier = e.surgeConfig.MaxSurgeMultiplier
	}
	if multiplier < 1.0 {
		multiplier = 1.0
	}

	if existing, err := e.surge.SurgeData(ctx, cellID); err == nil && existing != nil {
		step := e.surgeConfig.MaxChangePerUpdate
		if diff := multiplier - existing.Multiplier; math.Abs(diff) > step {
			if diff > 0 {
				multiplier = existing.Multiplier + step
			} else {
				multiplier = existing.Multiplier - step
			}
		}
	}

	_ = e.surge.SetSurgeData(ctx, &SurgeData{
		CellID:          cellID,
		Multiplier:      multiplier,
		ActiveDrivers:   activeDrivers,
		PendingRequests: pendingRequests,
		UpdatedAt:       time.Now().UTC(),
	})

	return multiplier
}

func defaultConfigs() map[domain.Currency]*Config {
	return map[domain.Currency]*Config{
		domain.CurrencyNGN: {
			BaseFares: map[domain.RideType]int64{
				domain.RideTypeStandard: 30000, // ₦300
				domain.RideTypePremium:  50000,
				domain.RideTypeXL:       60000,
				domain.RideTypeBoda:     15000,
				domain.RideTypeTricycle: 20000,
			},
			PerKmRates: map[domain.RideType]int64{
				domain.RideTypeStandard: 15000, // ₦150/km
				domain.RideTypePremium:  25000,
				domain.RideTypeXL:       30000,
				domain.RideTypeBoda:     8000,
				domain.RideTypeTricycle: 10000,
			},
			PerMinuteRates: map[domain.RideType]int64{
				domain.RideTypeStandard: 2000, // ₦20/min
				domain.RideTypePremium:  3500,
				domain.RideTypeXL:       4000,
				domain.RideTypeBoda:     1000,
				domain.RideTypeTricycle: 1500,
			},
			MinFares: map[domain.RideType]int64{
				domain.RideTypeStandard: 50000, // ₦500
				domain.RideTypePremium:  80000,
				domain.RideTypeXL:       100000,
				domain.RideTypeBoda:     30000,
				domain.RideTypeTricycle: 35000,
			},
			BookingFee:        10000, // ₦100
			CommissionPercent: 0.20,
			Currency:          domain.CurrencyNGN,
		},
		domain.CurrencyKES: {
			BaseFares: map[domain.RideType]int64{
				domain.RideTypeStandard: 15000, // KES 150
				domain.RideTypePremium:  25000,
				domain.RideTypeXL:       30000,
				domain.RideTypeBoda:     8000,
				domain.RideTypeTricycle: 10000,
			},
			PerKmRates: map[domain.RideType]int64{
				domain.RideTypeStandard: 4000, // KES 40/km
				domain.RideTypePremium:  7000,
				domain.RideTypeXL:       8500,
				domain.RideTypeBoda:     2500,
				domain.RideTypeTricycle: 3000,
			},
			PerMinuteRates: map[domain.RideType]int64{
				domain.RideTypeStandard: 400, // KES 4/min
				domain.RideTypePremium:  700,
				domain.RideTypeXL:       850,
				domain.RideTypeBoda:     200,
				domain.RideTypeTricycle: 300,
			},
			MinFares: map[domain.RideType]int64{
				domain.RideTypeStandard: 20000, // KES 200
				domain.RideTypePremium:  35000,
				domain.RideTypeXL:       45000,
				domain.RideTypeBoda:     10000,
				domain.RideTypeTricycle: 15000,
			},
			BookingFee:        5000, // KES 50
			CommissionPercent: 0.20,
			Currency:          domain.CurrencyKES,
		},
		domain.CurrencyGHS: {
			BaseFares: map[domain.RideType]int64{
				domain.RideTypeStandard: 500, // GHS 5
				domain.RideTypePremium:  1000,
				domain.RideTypeXL:       1200,
				domain.RideTypeBoda:     250,
				domain.RideTypeTricycle: 350,
			},
			PerKmRates: map[domain.RideType]int64{
				domain.RideTypeStandard: 250, // GHS 2.50/km
				domain.RideTypePremium:  450,
				domain.RideTypeXL:       550,
				domain.RideTypeBoda:     150,
				domain.RideTypeTricycle: 180,
			},
			PerMinuteRates: map[domain.RideType]int64{
				domain.RideTypeStandard: 30, // GHS 0.30/min
				domain.RideTypePremium:  50,
				domain.RideTypeXL:       60,
				domain.RideTypeBoda:     15,
				domain.RideTypeTricycle: 20,
			},
			MinFares: map[domain.RideType]int64{
				domain.RideTypeStandard: 800, // GHS 8
				domain.RideTypePremium:  1500,
				domain.RideTypeXL:       2000,
				domain.RideTypeBoda:     400,
				domain.RideTypeTricycle: 500,
			},
			BookingFee:        100, // GHS 1
			CommissionPercent: 0.20,
			Currency:          domain.CurrencyGHS,
		},
	}
}
