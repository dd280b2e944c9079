package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"chainflow/src/buffer"
	"chainflow/src/helpers"
	"chainflow/src/logger"
	"chainflow/src/models"
	"chainflow/src/timeframe"
)

// -----------------------------------------------------------------------------
// Dispatcher serializes a full rolling buffer into the causal-API CSV
// contract and posts it for chain detection.
//
// Payload shape: header + (rowCount-1) data rows + 1 placeholder row whose
// datetime is the next theoretical window start and whose numeric fields
// are all zero. rowCount+1 physical lines in total.
// -----------------------------------------------------------------------------

type Dispatcher struct {
	Config *models.MDispatchConfig
	Logger *logger.Logger
	Client *http.Client
}

const (
	headerOHLC       = "datetime,open,high,low,close"
	headerUnivariate = "datetime,value"
)

// -----------------------------------------------------------------------------

func NewDispatcher(cfg *models.MDispatchConfig, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		Config: cfg,
		Logger: log,
		// No global timeout: the request is cancelled through the caller's
		// context so dispatch never blocks shutdown.
		Client: &http.Client{},
	}
}

// -----------------------------------------------------------------------------

// Send serializes and posts one buffer. Returns (nil, nil) when the buffer
// does not yet hold rowCount-1 records or when the remote call fails; a
// failed dispatch is retried naturally by the next scheduled tick.
func (d *Dispatcher) Send(ctx context.Context, buf *buffer.RingBuffer, tf timeframe.Timeframe, univariate bool, symbol string) (*models.MChainSignal, error) {
	need := d.Config.RowCount - 1
	if buf.Size() < need {
		d.Logger.Debug("Buffer %s/%s holds %d/%d records, skipping dispatch", symbol, tf.Label, buf.Size(), need)
		return nil, nil
	}

	body, err := d.BuildPayload(buf, tf, univariate)
	if err != nil {
		return nil, err
	}

	url := d.Config.URL
	if univariate && d.Config.UnivariateURL != "" {
		url = d.Config.UnivariateURL
	}

	signal, err := d.post(ctx, url, body)
	if err != nil {
		d.Logger.Error("Dispatch for %s/%s failed: %v", symbol, tf.Label, err)
		return nil, nil
	}

	signal.Timeframe = tf.Label
	signal.Symbol = symbol
	return signal, nil
}

// -----------------------------------------------------------------------------

// BuildPayload renders the CSV body from the most recent rowCount-1 records.
func (d *Dispatcher) BuildPayload(buf *buffer.RingBuffer, tf timeframe.Timeframe, univariate bool) ([]byte, error) {
	records := buf.GetLatest(d.Config.RowCount - 1)
	if len(records) == 0 {
		return nil, fmt.Errorf("empty buffer")
	}

	var b bytes.Buffer
	if univariate {
		b.WriteString(headerUnivariate)
	} else {
		b.WriteString(headerOHLC)
	}
	b.WriteByte('\n')

	for _, rec := range records {
		b.WriteString(rec.CSVRow())
		b.WriteByte('\n')
	}

	// Placeholder row: next theoretical window start, zero fields.
	next := tf.NextWindow(records[len(records)-1].RecordTime())
	b.WriteString(next.UTC().Format(time.RFC3339))
	if univariate {
		b.WriteString(",0")
	} else {
		b.WriteString(",0,0,0,0")
	}
	b.WriteByte('\n')

	return b.Bytes(), nil
}

// -----------------------------------------------------------------------------

type chainResponse struct {
	Datetime      string `json:"datetime"`
	ChainDetected int    `json:"chain_detected"`
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte) (*models.MChainSignal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/csv")
	if d.Config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.Config.APIKey)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, helpers.NewRemoteAPIError("causal API request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, helpers.NewRemoteAPIError(fmt.Sprintf("causal API returned status %d", resp.StatusCode), nil)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, helpers.NewRemoteAPIError("causal API response unreadable", err)
	}

	var parsed chainResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, helpers.NewRemoteAPIError("causal API response undecodable", err)
	}

	dt, err := time.Parse(time.RFC3339, parsed.Datetime)
	if err != nil {
		return nil, helpers.NewRemoteAPIError("causal API returned bad datetime", err)
	}

	return &models.MChainSignal{
		Datetime:      dt.UTC(),
		ChainDetected: parsed.ChainDetected,
		ReceivedAt:    time.Now().UTC(),
	}, nil
}
