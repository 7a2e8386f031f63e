package http

import (
	"encoding/json"
	"go-exchange-rate-gateway/domain"
	"go-exchange-rate-gateway/exchange"
	"go-exchange-rate-gateway/history"
	"go-exchange-rate-gateway/ratelimit"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/shopspring/decimal"
)

// Server dependencies for HTTP Server functions
type Server struct {
	Service exchange.Service

	// History optional store of refreshed rates, the history route answers 404 without it
	History history.Repository

	// Metrics optional handler mounted on /metrics
	Metrics http.Handler

	// ClientIDHeader request header identifying the caller instead of the remote address,
	// empty unless a trusted proxy sets it
	ClientIDHeader string

	Logger log.Logger

	router  http.ServeMux
	handler http.Handler
}

type Option func(*Server)

func WithHistory(repository history.Repository) Option {
	return func(s *Server) {
		s.History = repository
	}
}

func WithMetrics(handler http.Handler) Option {
	return func(s *Server) {
		s.Metrics = handler
	}
}

func WithClientIDHeader(header string) Option {
	return func(s *Server) {
		s.ClientIDHeader = header
	}
}

func WithLogger(logger log.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

func NewServer(s exchange.Service, opts ...Option) *Server {
	server := &Server{
		Service: s,
		Logger:  log.NewNopLogger(),
		router:  http.ServeMux{},
	}
	for _, opt := range opts {
		opt(server)
	}
	server.routes()
	server.handler = server.requestID(server.accessLog(&server.router))
	return server
}

func (s *Server) routes() {
	s.router.Handle("GET /api/exchange-rate/rate", s.rate())
	s.router.Handle("GET /api/exchange-rate/all", s.allRates())
	s.router.Handle("GET /api/exchange-rate/convert", s.convert())
	s.router.Handle("GET /api/exchange-rate/convert-multiple", s.convertMultiple())
	s.router.Handle("GET /api/exchange-rate/history", s.history())
	s.router.Handle("DELETE /api/cache/clear", s.clearCache())
	if s.Metrics != nil {
		s.router.Handle("GET /metrics", s.Metrics)
	}
}

func (s *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(rw, r)
}

// rate produces HTTP handler for a single exchange rate
func (s *Server) rate() http.HandlerFunc {
	type response struct {
		From domain.Currency `json:"from"`
		To   domain.Currency `json:"to"`
		Rate domain.Rate     `json:"rate"`
	}

	return func(rw http.ResponseWriter, r *http.Request) {
		from, to := currencyParam(r, "from"), currencyParam(r, "to")

		ctx, admission := s.admissionContext(r)
		rate, err := s.Service.GetRate(ctx, from, to)
		limitHeaders(rw, admission)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, response{From: normalise(from), To: normalise(to), Rate: rate})
	}
}

// allRates produces HTTP handler for every rate of a base currency
func (s *Server) allRates() http.HandlerFunc {
	type response struct {
		From  domain.Currency `json:"from"`
		Rates domain.Rates    `json:"rates"`
	}

	return func(rw http.ResponseWriter, r *http.Request) {
		from := currencyParam(r, "from")

		ctx, admission := s.admissionContext(r)
		rates, err := s.Service.GetAllRates(ctx, from)
		limitHeaders(rw, admission)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, response{From: normalise(from), Rates: rates})
	}
}

// convert produces HTTP handler for currency conversions
func (s *Server) convert() http.HandlerFunc {
	type response struct {
		From   domain.Currency `json:"from"`
		To     domain.Currency `json:"to"`
		Amount domain.Amount   `json:"amount"`
		Result domain.Amount   `json:"result"`
	}

	return func(rw http.ResponseWriter, r *http.Request) {
		amount, err := amountParam(r)
		if err != nil {
			writeError(rw, err)
			return
		}
		from, to := currencyParam(r, "from"), currencyParam(r, "to")

		ctx, admission := s.admissionContext(r)
		result, err := s.Service.Convert(ctx, from, to, amount)
		limitHeaders(rw, admission)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, response{From: normalise(from), To: normalise(to), Amount: amount, Result: result})
	}
}

// convertMultiple produces HTTP handler converting into several currencies at once
func (s *Server) convertMultiple() http.HandlerFunc {
	type response struct {
		From    domain.Currency                   `json:"from"`
		Amount  domain.Amount                     `json:"amount"`
		Results map[domain.Currency]domain.Amount `json:"results"`
	}

	return func(rw http.ResponseWriter, r *http.Request) {
		amount, err := amountParam(r)
		if err != nil {
			writeError(rw, err)
			return
		}
		from := currencyParam(r, "from")
		var targets []domain.Currency
		for _, code := range strings.Split(r.URL.Query().Get("toCurrencies"), ",") {
			if code = strings.TrimSpace(code); code != "" {
				targets = append(targets, domain.Currency(code))
			}
		}

		ctx, admission := s.admissionContext(r)
		results, err := s.Service.ConvertMultiple(ctx, from, targets, amount)
		limitHeaders(rw, admission)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, response{From: normalise(from), Amount: amount, Results: results})
	}
}

// history produces HTTP handler listing recently refreshed rates of a pair
func (s *Server) history() http.HandlerFunc {
	type entry struct {
		Rate      domain.Rate `json:"rate"`
		FetchedAt time.Time   `json:"fetched_at"`
	}
	type response struct {
		From    domain.Currency `json:"from"`
		To      domain.Currency `json:"to"`
		History []entry         `json:"history"`
	}

	return func(rw http.ResponseWriter, r *http.Request) {
		if s.History == nil {
			writeJSON(rw, http.StatusNotFound, errorResponse{Error: "history is not enabled"})
			return
		}
		pair, err := domain.ParsePair(r.URL.Query().Get("from") + ":" + r.URL.Query().Get("to"))
		if err != nil {
			writeError(rw, err)
			return
		}
		limit := 0
		if q := r.URL.Query().Get("limit"); q != "" {
			if limit, err = strconv.Atoi(q); err != nil || limit < 0 {
				writeJSON(rw, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
				return
			}
		}

		snapshots, err := s.History.Latest(r.Context(), pair, limit)
		if err != nil {
			writeError(rw, err)
			return
		}
		res := response{From: pair.From, To: pair.To, History: make([]entry, len(snapshots))}
		for i, snapshot := range snapshots {
			res.History[i] = entry{Rate: snapshot.Rate, FetchedAt: snapshot.FetchedAt}
		}
		writeJSON(rw, http.StatusOK, res)
	}
}

// clearCache produces HTTP handler evicting a named cache
func (s *Server) clearCache() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			writeJSON(rw, http.StatusBadRequest, errorResponse{Error: "missing cache name"})
			return
		}
		if err := s.Service.ClearCache(r.Context(), name); err != nil {
			writeError(rw, err)
			return
		}
		rw.WriteHeader(http.StatusNoContent)
	}
}

func currencyParam(r *http.Request, name string) domain.Currency {
	return domain.Currency(r.URL.Query().Get(name))
}

// normalise echoes a currency the way the gateway validated it
func normalise(c domain.Currency) domain.Currency {
	return domain.Currency(strings.ToUpper(strings.TrimSpace(string(c))))
}

const (
	// maxAmountLength bounds the amount query parameter, and with it the digits parsed
	maxAmountLength = 64

	// maxAmountExponent bounds the decimal exponent of an amount in either direction
	maxAmountExponent = 64
)

// amountParam parses the amount query parameter. Sign checks are left to the gateway.
func amountParam(r *http.Request) (domain.Amount, error) {
	q := strings.TrimSpace(r.URL.Query().Get("amount"))
	if len(q) > maxAmountLength {
		return 0, invalidAmount(q[:maxAmountLength] + "...")
	}
	d, err := decimal.NewFromString(q)
	if err != nil {
		return 0, invalidAmount(q)
	}
	// converting 1e999999999 to a float expands 10^exp as a big.Int
	if exp := d.Exponent(); exp > maxAmountExponent || exp < -maxAmountExponent {
		return 0, invalidAmount(q)
	}
	return domain.Amount(d.InexactFloat64()), nil
}

func limitHeaders(rw http.ResponseWriter, admission *ratelimit.Result) {
	if admission.Limit == 0 {
		return
	}
	rw.Header().Set("X-Ratelimit-Limit", strconv.FormatInt(admission.Limit, 10))
	rw.Header().Set("X-Ratelimit-Remaining", strconv.FormatInt(admission.Remaining, 10))
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	enc := json.NewEncoder(rw)
	_ = enc.Encode(v)
}
