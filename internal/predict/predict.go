// Package predict supplies next-close price predictions from a recent
// candle window.
package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ladderbot/pkg/exchange"
)

// Predictor returns a predicted next close for a candle window.
type Predictor interface {
	Predict(ctx context.Context, symbol string, candles []exchange.Candle) (float64, error)
}

// Local fits a least-squares line through recent closes and extrapolates one
// step ahead. Cheap, dependency-free, good enough to bias the ladder.
type Local struct{}

// NewLocal builds the built-in trend predictor.
func NewLocal() *Local { return &Local{} }

// Predict extrapolates the close trend by one candle.
func (l *Local) Predict(ctx context.Context, symbol string, candles []exchange.Candle) (float64, error) {
	n := len(candles)
	if n == 0 {
		return 0, fmt.Errorf("empty candle window for %s", symbol)
	}
	if n == 1 {
		return candles[0].Close, nil
	}

	// Least squares over (index, close).
	var sumX, sumY, sumXY, sumXX float64
	for i, c := range candles {
		x := float64(i)
		sumX += x
		sumY += c.Close
		sumXY += x * c.Close
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return candles[n-1].Close, nil
	}
	slope := (fn*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / fn
	predicted := intercept + slope*fn
	if predicted <= 0 {
		return candles[n-1].Close, nil
	}
	return predicted, nil
}

// Remote queries an external model service over HTTP. The service receives
// the OHLCV window as JSON and answers with a predicted close.
type Remote struct {
	url        string
	httpClient *http.Client
}

// NewRemote builds a Remote predictor for the given endpoint.
func NewRemote(url string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Remote{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type remoteRequest struct {
	Symbol  string      `json:"symbol"`
	Candles [][]float64 `json:"candles"` // open, high, low, close, volume
}

type remoteResponse struct {
	Predicted float64 `json:"predicted"`
}

// Predict posts the window and returns the model's answer.
func (r *Remote) Predict(ctx context.Context, symbol string, candles []exchange.Candle) (float64, error) {
	if len(candles) == 0 {
		return 0, fmt.Errorf("empty candle window for %s", symbol)
	}
	rows := make([][]float64, len(candles))
	for i, c := range candles {
		rows[i] = []float64{c.Open, c.High, c.Low, c.Close, c.Volume}
	}
	body, err := json.Marshal(remoteRequest{Symbol: symbol, Candles: rows})
	if err != nil {
		return 0, fmt.Errorf("encode prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := r.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("prediction request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("prediction service returned %d", res.StatusCode)
	}

	var out remoteResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode prediction response: %w", err)
	}
	if out.Predicted <= 0 {
		return 0, fmt.Errorf("prediction service returned non-positive price %g", out.Predicted)
	}
	return out.Predicted, nil
}

// ForURL picks the remote predictor when a URL is configured, otherwise the
// local trend fit.
func ForURL(url string, timeout time.Duration) Predictor {
	if url != "" {
		return NewRemote(url, timeout)
	}
	return NewLocal()
}
