package exchangehost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go-exchange-rate-gateway/domain"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const ApiUrlBase = "https://api.exchangerate.host"

// Service wraps the exchangerate.host REST API
type Service interface {
	// FetchQuotes loads quotes for base against targets, or against every
	// supported currency when targets is empty.
	FetchQuotes(ctx context.Context, base domain.Currency, targets []domain.Currency) (domain.Quotes, error)

	// FetchConversion converts amount on the provider side.
	FetchConversion(ctx context.Context, from domain.Currency, to domain.Currency, amount domain.Amount) (domain.Amount, error)
}

// service exchangerate.host API
type service struct {
	// url base API url
	url string

	// accessKey credential sent as the access_key query parameter
	accessKey string

	// client for HTTP requests
	client http.Client
}

// NewService constructs a valid exchangerate.host Service.
// timeout bounds every call, including reading the response body.
func NewService(baseURL string, accessKey string, timeout time.Duration) Service {
	if baseURL == "" {
		baseURL = ApiUrlBase
	}
	return &service{
		url:       strings.TrimSuffix(baseURL, "/"),
		accessKey: accessKey,
		client: http.Client{
			Timeout: timeout,
		},
	}
}

// apiError is the error object the provider returns alongside success=false
type apiError struct {
	Code int    `json:"code"`
	Type string `json:"type"`
	Info string `json:"info"`
}

func (e *apiError) Error() string {
	if e.Info != "" {
		return fmt.Sprintf("provider error %d: %v", e.Code, e.Info)
	}
	return fmt.Sprintf("provider error %d: %v", e.Code, e.Type)
}

// FetchQuotes loads live quotes. Quote keys concatenate source and target codes.
func (s *service) FetchQuotes(ctx context.Context, base domain.Currency, targets []domain.Currency) (domain.Quotes, error) {
	type Response struct {
		Success bool
		Error   *apiError
		Source  string
		Quotes  map[string]float64 // maps "USDEUR" style pairs to rates
	}

	query := url.Values{}
	query.Set("access_key", s.accessKey)
	query.Set("source", string(base))
	if len(targets) > 0 {
		codes := make([]string, len(targets))
		for i, t := range targets {
			codes[i] = string(t)
		}
		query.Set("currencies", strings.Join(codes, ","))
	}

	var response Response
	if err := s.get(ctx, "/live", query, &response); err != nil {
		return domain.Quotes{}, domain.NewUpstreamError("fetch quotes", err)
	}
	if !response.Success {
		return domain.Quotes{}, domain.NewUpstreamError("fetch quotes", failure(response.Error))
	}
	if response.Quotes == nil {
		return domain.Quotes{}, domain.NewUpstreamError("fetch quotes", errors.New("response has no quotes"))
	}

	quotes := domain.Quotes{
		Source: domain.Currency(response.Source),
		Quotes: make(map[string]domain.Rate, len(response.Quotes)),
	}
	if quotes.Source == "" {
		quotes.Source = base
	}
	for k, v := range response.Quotes {
		quotes.Quotes[k] = domain.Rate(v)
	}
	return quotes, nil
}

// FetchConversion asks the provider to convert amount.
func (s *service) FetchConversion(ctx context.Context, from domain.Currency, to domain.Currency, amount domain.Amount) (domain.Amount, error) {
	type Response struct {
		Success bool
		Error   *apiError
		Result  *float64
	}

	query := url.Values{}
	query.Set("access_key", s.accessKey)
	query.Set("from", string(from))
	query.Set("to", string(to))
	query.Set("amount", strconv.FormatFloat(float64(amount), 'f', -1, 64))

	var response Response
	if err := s.get(ctx, "/convert", query, &response); err != nil {
		return 0, domain.NewUpstreamError("fetch conversion", err)
	}
	if !response.Success {
		return 0, domain.NewUpstreamError("fetch conversion", failure(response.Error))
	}
	if response.Result == nil {
		return 0, domain.NewUpstreamError("fetch conversion", errors.New("response has no result"))
	}
	return domain.Amount(*response.Result), nil
}

// get performs a GET request against path and decodes the JSON body into v.
func (s *service) get(ctx context.Context, path string, query url.Values, v any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building http request: %w", err)
	}
	httpResponse, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer httpResponse.Body.Close()

	bytes, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return fmt.Errorf("reading json: %w", err)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", httpResponse.StatusCode)
	}

	err = json.Unmarshal(bytes, v)
	if err != nil {
		return fmt.Errorf("decoding json: %w", err)
	}
	return nil
}

func failure(e *apiError) error {
	if e == nil {
		return errors.New("provider reported failure")
	}
	return e
}
