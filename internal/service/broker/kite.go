package broker

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"OptionPilot/internal/domain/models"
	"OptionPilot/internal/service/ratelimit"
	"OptionPilot/pkg/logger"
	apphttp "OptionPilot/pkg/http"
)

const kiteTimeLayout = "2006-01-02T15:04:05-0700"

type KiteConfig struct {
	BaseURL     string
	APIKey      string
	AccessToken string
	Product     string // MIS or NRML
	// Requests per second for the general and quote budgets.
	RateLimit      float64
	QuoteRateLimit float64
	Timeout        time.Duration
	// Location is the exchange timezone for naive timestamps.
	Location *time.Location
}

// Kite is a REST client for a Kite Connect style brokerage API.
type Kite struct {
	cfg     KiteConfig
	client  *apphttp.Client
	limiter *ratelimit.Limiter
	log     *logger.Logger
}

func NewKite(cfg KiteConfig, limiter *ratelimit.Limiter, log *logger.Logger) *Kite {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.kite.trade"
	}
	if cfg.Product == "" {
		cfg.Product = "MIS"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.QuoteRateLimit <= 0 {
		cfg.QuoteRateLimit = cfg.RateLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("IST", 5*60*60+30*60)
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	return &Kite{
		cfg:     cfg,
		client:  apphttp.NewClient(apphttp.WithTimeout(cfg.Timeout)),
		limiter: limiter,
		log:     log,
	}
}

func (k *Kite) headers() map[string]string {
	return map[string]string{
		"X-Kite-Version": "3",
		"Authorization":  fmt.Sprintf("token %s:%s", k.cfg.APIKey, k.cfg.AccessToken),
	}
}

func (k *Kite) do(ctx context.Context, budget string, opts *apphttp.RequestOptions) ([]byte, error) {
	rate := k.cfg.RateLimit
	if budget == "quote" {
		rate = k.cfg.QuoteRateLimit
	}
	if err := k.limiter.Wait(ctx, "kite/"+budget, max(rate, 1), rate); err != nil {
		return nil, err
	}
	if opts.Headers == nil {
		opts.Headers = k.headers()
	} else {
		for key, v := range k.headers() {
			opts.Headers[key] = v
		}
	}
	opts.URL = strings.TrimRight(k.cfg.BaseURL, "/") + opts.URL

	var body []byte
	if err := k.client.SendAndParse(ctx, opts, &body); err != nil {
		var se *apphttp.StatusError
		if errors.As(err, &se) {
			if msg := gjson.GetBytes(se.Body, "message").String(); msg != "" {
				return nil, fmt.Errorf("kite %s %d: %s: %w", budget, se.Code, msg, err)
			}
		}
		return nil, err
	}
	return body, nil
}

func (k *Kite) Quote(ctx context.Context, inst models.OptionRef) (models.Quote, error) {
	key := inst.Exchange + ":" + inst.Symbol
	body, err := k.do(ctx, "quote", &apphttp.RequestOptions{
		Method:      apphttp.MethodGet,
		URL:         "/quote",
		QueryParams: map[string][]string{"i": {key}},
	})
	if err != nil {
		return models.Quote{}, err
	}
	var data gjson.Result
	gjson.GetBytes(body, "data").ForEach(func(name, v gjson.Result) bool {
		if name.String() == key {
			data = v
			return false
		}
		return true
	})
	if !data.Exists() {
		return models.Quote{}, fmt.Errorf("quote %s: missing from response", key)
	}
	q := models.Quote{
		Bid: data.Get("depth.buy.0.price").Float(),
		Ask: data.Get("depth.sell.0.price").Float(),
	}
	if q.Bid <= 0 || q.Ask <= 0 {
		if ltp := data.Get("last_price").Float(); ltp > 0 && q.Bid <= 0 && q.Ask <= 0 {
			q.Bid, q.Ask = ltp, ltp
		}
	}
	return q, nil
}

func (k *Kite) PlaceOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	form := map[string]string{
		"tradingsymbol":    req.Instrument.Symbol,
		"exchange":         req.Instrument.Exchange,
		"transaction_type": string(req.Side),
		"order_type":       string(req.Kind),
		"quantity":         strconv.Itoa(req.Quantity),
		"product":          k.cfg.Product,
		"validity":         "DAY",
	}
	if req.Kind == models.Limit {
		form["price"] = strconv.FormatFloat(req.LimitPrice, 'f', 2, 64)
	}
	if req.Tag != "" {
		form["tag"] = req.Tag
	}
	body, err := k.do(ctx, "general", &apphttp.RequestOptions{
		Method:  apphttp.MethodPost,
		URL:     "/orders/regular",
		Headers: map[string]string{"Content-Type": apphttp.ContentTypeForm},
		Body:    form,
	})
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	id := gjson.GetBytes(body, "data.order_id").String()
	if id == "" {
		return "", errors.New("place order: empty order id")
	}
	return id, nil
}

func (k *Kite) OrderStatus(ctx context.Context, orderID string) (models.BrokerOrderStatus, error) {
	body, err := k.do(ctx, "general", &apphttp.RequestOptions{
		Method: apphttp.MethodGet,
		URL:    "/orders/" + orderID,
	})
	if err != nil {
		return models.BrokerOrderStatus{}, err
	}
	hist := gjson.GetBytes(body, "data").Array()
	if len(hist) == 0 {
		return models.BrokerOrderStatus{}, fmt.Errorf("order %s: empty history", orderID)
	}
	last := hist[len(hist)-1]
	st := models.BrokerOrderStatus{
		OrderID:   orderID,
		State:     mapKiteStatus(last.Get("status").String()),
		FilledQty: int(last.Get("filled_quantity").Int()),
		AvgPrice:  last.Get("average_price").Float(),
		Message:   last.Get("status_message").String(),
	}
	if ts := last.Get("order_timestamp").String(); ts != "" {
		st.UpdatedAt, _ = time.ParseInLocation(time.DateTime, ts, k.cfg.Location)
	}
	return st, nil
}

func mapKiteStatus(s string) models.BrokerOrderState {
	switch strings.ToUpper(s) {
	case "COMPLETE":
		return models.OrderComplete
	case "CANCELLED":
		return models.OrderCancelled
	case "REJECTED":
		return models.OrderRejected
	}
	return models.OrderOpen
}

func (k *Kite) CancelOrder(ctx context.Context, orderID string) error {
	_, err := k.do(ctx, "general", &apphttp.RequestOptions{
		Method: apphttp.MethodDelete,
		URL:    "/orders/regular/" + orderID,
	})
	return err
}

func (k *Kite) Positions(ctx context.Context) ([]models.BrokerPosition, error) {
	body, err := k.do(ctx, "general", &apphttp.RequestOptions{
		Method: apphttp.MethodGet,
		URL:    "/portfolio/positions",
	})
	if err != nil {
		return nil, err
	}
	var out []models.BrokerPosition
	gjson.GetBytes(body, "data.net").ForEach(func(_, p gjson.Result) bool {
		out = append(out, models.BrokerPosition{
			Symbol:   p.Get("tradingsymbol").String(),
			Quantity: int(p.Get("quantity").Int()),
			AvgPrice: p.Get("average_price").Float(),
		})
		return true
	})
	return out, nil
}

func (k *Kite) Margins(ctx context.Context) (models.Margins, error) {
	body, err := k.do(ctx, "general", &apphttp.RequestOptions{
		Method: apphttp.MethodGet,
		URL:    "/user/margins",
	})
	if err != nil {
		return models.Margins{}, err
	}
	avail := gjson.GetBytes(body, "data.equity.available")
	cash := avail.Get("live_balance").Float()
	if cash <= 0 {
		cash = avail.Get("cash").Float()
	}
	return models.Margins{AvailableCash: cash}, nil
}

// ListInstruments downloads the exchange instrument dump and keeps options.
func (k *Kite) ListInstruments(ctx context.Context, exchange string) ([]models.OptionRef, error) {
	body, err := k.do(ctx, "general", &apphttp.RequestOptions{
		Method: apphttp.MethodGet,
		URL:    "/instruments/" + exchange,
	})
	if err != nil {
		return nil, err
	}
	return parseInstrumentCSV(bytes.NewReader(body))
}

func parseInstrumentCSV(r io.Reader) ([]models.OptionRef, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("instrument header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, name := range []string{"instrument_token", "tradingsymbol", "name", "expiry", "strike", "tick_size", "lot_size", "instrument_type", "exchange"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("instrument dump missing column %q", name)
		}
	}

	var out []models.OptionRef
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("instrument row: %w", err)
		}
		side := models.OptionSide(rec[col["instrument_type"]])
		if side != models.Call && side != models.Put {
			continue
		}
		expiry, err := time.Parse(time.DateOnly, rec[col["expiry"]])
		if err != nil {
			continue
		}
		strike, _ := strconv.ParseFloat(rec[col["strike"]], 64)
		tick, _ := strconv.ParseFloat(rec[col["tick_size"]], 64)
		lot, _ := strconv.Atoi(rec[col["lot_size"]])
		out = append(out, models.OptionRef{
			ID:         rec[col["instrument_token"]],
			Symbol:     rec[col["tradingsymbol"]],
			Exchange:   rec[col["exchange"]],
			Underlying: strings.Trim(rec[col["name"]], `"`),
			Strike:     strike,
			Side:       side,
			Expiry:     expiry,
			LotSize:    lot,
			TickSize:   tick,
		})
	}
	return out, nil
}

// MinuteCandles fetches minute history for an instrument token.
func (k *Kite) MinuteCandles(ctx context.Context, instrumentID string, from, to time.Time) ([]models.Candle, error) {
	body, err := k.do(ctx, "general", &apphttp.RequestOptions{
		Method: apphttp.MethodGet,
		URL:    "/instruments/historical/" + instrumentID + "/minute",
		QueryParams: map[string][]string{
			"from": {from.Format(time.DateTime)},
			"to":   {to.Format(time.DateTime)},
		},
	})
	if err != nil {
		return nil, err
	}
	var out []models.Candle
	gjson.GetBytes(body, "data.candles").ForEach(func(_, row gjson.Result) bool {
		f := row.Array()
		if len(f) < 5 {
			return true
		}
		ts, err := time.Parse(kiteTimeLayout, f[0].String())
		if err != nil {
			k.log.Debug("skipping candle", logger.String("ts", f[0].String()), logger.Error(err))
			return true
		}
		out = append(out, models.Candle{
			OpenTime: ts,
			Open:     f[1].Float(),
			High:     f[2].Float(),
			Low:      f[3].Float(),
			Close:    f[4].Float(),
		})
		return true
	})
	return out, nil
}
