package execution

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/internal/venue"
)

var execLog = logrus.WithField("component", "execution")

// Adapter places follower-side contracts through the venue multiplexer
// using the venue's two-phase flow: request a priced proposal, then buy
// it at the quoted ask price.
type Adapter struct {
	mux      *venue.Multiplexer
	currency string
	timeout  time.Duration
}

// NewAdapter wires the adapter to a multiplexer. An empty currency
// defaults to USD; a zero timeout defers to the multiplexer's default.
func NewAdapter(mux *venue.Multiplexer, currency string, timeout time.Duration) *Adapter {
	if currency == "" {
		currency = "USD"
	}
	return &Adapter{mux: mux, currency: currency, timeout: timeout}
}

type proposalResponse struct {
	Proposal struct {
		ID       string  `json:"id"`
		AskPrice float64 `json:"ask_price"`
		Payout   float64 `json:"payout"`
	} `json:"proposal"`
}

type buyResponse struct {
	Buy struct {
		ContractID    int64   `json:"contract_id"`
		TransactionID int64   `json:"transaction_id"`
		BuyPrice      float64 `json:"buy_price"`
	} `json:"buy"`
}

// ExecuteTrade replicates a master order on the follower's account at
// the given stake. It returns the venue contract id on success; any
// failure in either phase returns an empty id and the error.
func (a *Adapter) ExecuteTrade(ctx context.Context, token string, order domain.MasterOrder, stake float64) (string, error) {
	proposal := map[string]any{
		"proposal":      1,
		"amount":        stake,
		"basis":         "stake",
		"contract_type": order.ContractType,
		"currency":      a.currency,
		"duration":      order.Duration,
		"duration_unit": order.DurationUnit,
		"symbol":        order.Instrument,
	}
	if order.Barrier != "" {
		proposal["barrier"] = order.Barrier
	}

	msg, err := a.mux.SendRequest(ctx, token, proposal, a.timeout)
	if err != nil {
		return "", errors.Wrap(err, "proposal request")
	}
	if err := msg.Err(); err != nil {
		return "", errors.Wrap(err, "proposal rejected")
	}
	var prop proposalResponse
	if err := msg.Decode(&prop); err != nil {
		return "", errors.Wrap(err, "decode proposal")
	}
	if prop.Proposal.ID == "" {
		return "", errors.New("proposal response missing id")
	}

	buy := map[string]any{
		"buy":   prop.Proposal.ID,
		"price": prop.Proposal.AskPrice,
	}
	msg, err = a.mux.SendRequest(ctx, token, buy, a.timeout)
	if err != nil {
		return "", errors.Wrap(err, "buy request")
	}
	if err := msg.Err(); err != nil {
		return "", errors.Wrap(err, "buy rejected")
	}
	var bought buyResponse
	if err := msg.Decode(&bought); err != nil {
		return "", errors.Wrap(err, "decode buy")
	}
	if bought.Buy.ContractID == 0 {
		return "", errors.New("buy response missing contract id")
	}

	contractID := strconv.FormatInt(bought.Buy.ContractID, 10)
	execLog.Infof("bought contract %s: symbol=%s stake=%.2f price=%.2f",
		contractID, order.Instrument, stake, bought.Buy.BuyPrice)
	return contractID, nil
}
