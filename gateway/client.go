package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.nhat.io/otelsql/attribute"
	"go.opentelemetry.io/otel/trace"

	u "git.sr.ht/~aondrejcak/mm-api/utils"
)

// ErrUnavailable marks transport-level failures: the caller may re-initiate,
// nothing was accepted by the gateway.
var ErrUnavailable = errors.New("payment gateway unavailable")

// RejectedError is a synchronous decline. The gateway never issued a
// correlation id, so no ledger entry exists for it.
type RejectedError struct {
	Code        string
	Description string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway rejected payment (%s): %s", e.Code, e.Description)
}

type PushResponse struct {
	CorrelationId   string `json:"correlationId"`
	CustomerMessage string `json:"customerMessage"`
}

type StatusResponse struct {
	Pending           bool   `json:"pending"`
	ResultCode        string `json:"resultCode"`
	ResultDescription string `json:"resultDescription"`
	TransactionId     string `json:"transactionId"`
	Amount            int64  `json:"amount"`
}

type Client struct {
	BaseUrl   string
	ApiKey    string
	ShortCode string

	Http   *http.Client
	Tracer trace.Tracer
}

func New(baseUrl, apiKey, shortCode string, tracer trace.Tracer) *Client {
	return &Client{
		BaseUrl:   baseUrl,
		ApiKey:    apiKey,
		ShortCode: shortCode,

		// the pull path is a bounded-latency blocking call
		Http:   &http.Client{Timeout: 30 * time.Second},
		Tracer: tracer,
	}
}

// InitiatePush triggers exactly one push prompt on the payer's instrument and
// returns the gateway-issued correlation id for it.
func (gw *Client) InitiatePush(ctx context.Context, amount int64, payerPhone string) (*PushResponse, error) {
	_, span := gw.Tracer.Start(ctx, "gateway.push_init")

	j, err := json.Marshal(&map[string]interface{}{
		"amount":     amount,
		"payerPhone": payerPhone,
		"shortCode":  gw.ShortCode,
	})
	if err != nil {
		return nil, u.SpanErrf(span, "could not marshal data: %v", err)
	}

	gwUrl := fmt.Sprintf("%s/v1/push/initiate", gw.BaseUrl)
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, gwUrl, bytes.NewBuffer(j))
	if err != nil {
		return nil, u.SpanErrf(span, "could not create request: %v", err)
	}

	requestId := uuid.NewString()
	r.Header.Add("Content-Type", "application/json")
	r.Header.Add("Authorization", "Bearer "+gw.ApiKey)
	r.Header.Add("X-Request-ID", requestId)
	span.SetAttributes(attribute.KeyValue("gw.request_id", requestId))

	rsp, err := gw.Http.Do(r)
	if err != nil {
		_ = u.SpanErrf(span, "could not execute request: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			log.Warn().Err(err).Msg("could not close response body")
		}
	}(rsp.Body)

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, u.SpanErrf(span, "could not read response body: %v", err)
	}
	span.SetAttributes(attribute.KeyValue("gw.response", string(body)))

	if rsp.StatusCode >= http.StatusInternalServerError {
		_ = u.SpanErrf(span, "gateway returned %d: %s", rsp.StatusCode, string(body))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, rsp.StatusCode)
	}

	if rsp.StatusCode != http.StatusCreated && rsp.StatusCode != http.StatusOK {
		var e struct {
			ErrorCode    string `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		}
		if err := json.Unmarshal(body, &e); err != nil || e.ErrorCode == "" {
			_ = u.SpanErrf(span, "gateway returned %d: %s", rsp.StatusCode, string(body))
			return nil, &RejectedError{Code: "UNKNOWN", Description: string(body)}
		}
		rejected := &RejectedError{Code: e.ErrorCode, Description: e.ErrorMessage}
		_ = u.SpanErr(span, rejected)
		return nil, rejected
	}

	var res PushResponse
	if err = json.Unmarshal(body, &res); err != nil {
		return nil, u.SpanErrf(span, "could not unmarshal data: %v", err)
	}
	if res.CorrelationId == "" {
		return nil, u.SpanErrf(span, "gateway accepted the push but returned no correlation id")
	}

	span.End()
	return &res, nil
}

// QueryStatus is the pull path: an on-demand status query for one attempt.
func (gw *Client) QueryStatus(ctx context.Context, correlationId string) (*StatusResponse, error) {
	_, span := gw.Tracer.Start(ctx, "gateway.push_status")

	gwUrl := fmt.Sprintf("%s/v1/push/status/%s", gw.BaseUrl, correlationId)
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, gwUrl, nil)
	if err != nil {
		return nil, u.SpanErrf(span, "could not create request: %v", err)
	}

	requestId := uuid.NewString()
	r.Header.Add("Authorization", "Bearer "+gw.ApiKey)
	r.Header.Add("X-Request-ID", requestId)
	span.SetAttributes(
		attribute.KeyValue("gw.request_id", requestId),
		attribute.KeyValue("gw.correlation_id", correlationId),
	)

	rsp, err := gw.Http.Do(r)
	if err != nil {
		_ = u.SpanErrf(span, "could not execute request: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			log.Warn().Err(err).Msg("could not close response body")
		}
	}(rsp.Body)

	if rsp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, rsp.StatusCode)
	}
	if rsp.StatusCode != http.StatusOK {
		return nil, u.SpanHttpErrf(span, rsp, "gateway returned a non-OK status code: %d", rsp.StatusCode)
	}

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, u.SpanErrf(span, "could not read response body: %v", err)
	}
	span.SetAttributes(attribute.KeyValue("gw.response", string(body)))

	var res StatusResponse
	if err = json.Unmarshal(body, &res); err != nil {
		return nil, u.SpanErrf(span, "could not unmarshal data: %v", err)
	}

	span.End()
	return &res, nil
}
