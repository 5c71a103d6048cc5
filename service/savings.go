package service

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// savingsHistoryDepth bounds the per-session savings records kept.
const savingsHistoryDepth = 30

// Tariff is the two-tier energy pricing used to value night charging.
type Tariff struct {
	PeakEURPerKWh    decimal.Decimal
	OffPeakEURPerKWh decimal.Decimal
}

// NewTariff builds a tariff from plain float prices.
func NewTariff(peakEUR, offPeakEUR float64) Tariff {
	return Tariff{
		PeakEURPerKWh:    decimal.NewFromFloat(peakEUR),
		OffPeakEURPerKWh: decimal.NewFromFloat(offPeakEUR),
	}
}

// SavingsRecord values a single charge session: what the energy cost at
// the off-peak rate versus what it would have cost at the peak rate.
type SavingsRecord struct {
	Date        string          `json:"date"`
	ChargedKWh  decimal.Decimal `json:"charged_kwh"`
	OffPeakCost decimal.Decimal `json:"offpeak_cost_eur"`
	PeakCost    decimal.Decimal `json:"peak_cost_eur"`
	Savings     decimal.Decimal `json:"savings_eur"`
}

// SavingsSnapshot is the persistable state of the ledger.
type SavingsSnapshot struct {
	TotalChargedKWh    decimal.Decimal `json:"total_charged_kwh"`
	TotalCostEUR       decimal.Decimal `json:"total_cost_eur"`
	TheoreticalCostEUR decimal.Decimal `json:"theoretical_cost_eur"`
	TotalSavingsEUR    decimal.Decimal `json:"total_savings_eur"`
	MonthlyChargedKWh  decimal.Decimal `json:"monthly_charged_kwh"`
	MonthlySavingsEUR  decimal.Decimal `json:"monthly_savings_eur"`
	CurrentMonth       string          `json:"current_month"`
	History            []SavingsRecord `json:"history"`
}

// SavingsLedger accumulates the money saved by charging the battery at
// off-peak rates instead of buying the same energy at peak rates during
// the day. Monetary arithmetic uses decimals, never floats.
//
// Not safe for concurrent use; owned by the Service event loop.
type SavingsLedger struct {
	tariff Tariff
	state  SavingsSnapshot
}

// NewSavingsLedger creates an empty ledger for the given tariff.
func NewSavingsLedger(tariff Tariff) *SavingsLedger {
	return &SavingsLedger{tariff: tariff}
}

// RecordSession values a completed charge session and folds it into the
// running totals. The month bucket rolls over automatically.
func (l *SavingsLedger) RecordSession(date time.Time, chargedKWh float64) SavingsRecord {
	if chargedKWh < 0 {
		chargedKWh = 0
	}
	energy := decimal.NewFromFloat(chargedKWh)
	offPeakCost := energy.Mul(l.tariff.OffPeakEURPerKWh)
	peakCost := energy.Mul(l.tariff.PeakEURPerKWh)
	savings := peakCost.Sub(offPeakCost)

	rec := SavingsRecord{
		Date:        date.Format("2006-01-02"),
		ChargedKWh:  energy,
		OffPeakCost: offPeakCost,
		PeakCost:    peakCost,
		Savings:     savings,
	}

	month := date.Format("2006-01")
	if l.state.CurrentMonth != month {
		l.state.CurrentMonth = month
		l.state.MonthlyChargedKWh = decimal.Zero
		l.state.MonthlySavingsEUR = decimal.Zero
	}

	l.state.TotalChargedKWh = l.state.TotalChargedKWh.Add(energy)
	l.state.TotalCostEUR = l.state.TotalCostEUR.Add(offPeakCost)
	l.state.TheoreticalCostEUR = l.state.TheoreticalCostEUR.Add(peakCost)
	l.state.TotalSavingsEUR = l.state.TotalSavingsEUR.Add(savings)
	l.state.MonthlyChargedKWh = l.state.MonthlyChargedKWh.Add(energy)
	l.state.MonthlySavingsEUR = l.state.MonthlySavingsEUR.Add(savings)

	l.state.History = append(l.state.History, rec)
	if len(l.state.History) > savingsHistoryDepth {
		l.state.History = l.state.History[len(l.state.History)-savingsHistoryDepth:]
	}

	slog.Info("charge session valued",
		"date", rec.Date,
		"charged_kwh", chargedKWh,
		"savings_eur", savings.StringFixed(4))

	return rec
}

// TotalSavings returns the cumulative savings in EUR.
func (l *SavingsLedger) TotalSavings() decimal.Decimal {
	return l.state.TotalSavingsEUR
}

// Snapshot exports the ledger state for persistence.
func (l *SavingsLedger) Snapshot() SavingsSnapshot {
	cp := l.state
	cp.History = make([]SavingsRecord, len(l.state.History))
	copy(cp.History, l.state.History)
	return cp
}

// Restore bulk-loads a previously exported snapshot.
func (l *SavingsLedger) Restore(s SavingsSnapshot) {
	l.state = s
}
