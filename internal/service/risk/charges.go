package risk

import "github.com/shopspring/decimal"

// ChargeRates are the statutory and brokerage rates for option premium
// turnover. Percent values are fractions of turnover.
type ChargeRates struct {
	BrokeragePerOrder float64
	STTSellRate       float64
	ExchangeRate      float64
	SEBIPerCrore      float64
	StampBuyRate      float64
	GSTRate           float64
}

func DefaultChargeRates() ChargeRates {
	return ChargeRates{
		BrokeragePerOrder: 20,
		STTSellRate:       0.001,
		ExchangeRate:      0.0003503,
		SEBIPerCrore:      10,
		StampBuyRate:      0.00003,
		GSTRate:           0.18,
	}
}

// ChargeCalculator computes round-trip charges for a long option trade.
type ChargeCalculator struct {
	brokerage decimal.Decimal
	stt       decimal.Decimal
	exchange  decimal.Decimal
	sebi      decimal.Decimal
	stamp     decimal.Decimal
	gst       decimal.Decimal
}

var crore = decimal.NewFromInt(10_000_000)

func NewChargeCalculator(r ChargeRates) *ChargeCalculator {
	return &ChargeCalculator{
		brokerage: decimal.NewFromFloat(r.BrokeragePerOrder),
		stt:       decimal.NewFromFloat(r.STTSellRate),
		exchange:  decimal.NewFromFloat(r.ExchangeRate),
		sebi:      decimal.NewFromFloat(r.SEBIPerCrore).Div(crore),
		stamp:     decimal.NewFromFloat(r.StampBuyRate),
		gst:       decimal.NewFromFloat(r.GSTRate),
	}
}

// Charges returns the total charges for buying qty at entry and selling at
// exit, rounded to paise.
func (c *ChargeCalculator) Charges(entry, exit float64, qty int) float64 {
	if qty <= 0 {
		return 0
	}
	q := decimal.NewFromInt(int64(qty))
	buy := decimal.NewFromFloat(entry).Mul(q)
	sell := decimal.NewFromFloat(exit).Mul(q)
	turnover := buy.Add(sell)

	brokerage := c.brokerage.Mul(decimal.NewFromInt(2))
	stt := sell.Mul(c.stt)
	exch := turnover.Mul(c.exchange)
	sebi := turnover.Mul(c.sebi)
	stamp := buy.Mul(c.stamp)
	gst := brokerage.Add(exch).Add(sebi).Mul(c.gst)

	total := brokerage.Add(stt).Add(exch).Add(sebi).Add(stamp).Add(gst)
	return total.Round(2).InexactFloat64()
}

// PnL returns gross and net P&L for a long trade.
func (c *ChargeCalculator) PnL(entry, exit float64, qty int) (gross, charges, net float64) {
	g := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry)).Mul(decimal.NewFromInt(int64(qty)))
	charges = c.Charges(entry, exit, qty)
	gross = g.Round(2).InexactFloat64()
	net = g.Sub(decimal.NewFromFloat(charges)).Round(2).InexactFloat64()
	return gross, charges, net
}
