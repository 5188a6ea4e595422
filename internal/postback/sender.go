package postback

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Delivery results. Success is any 2xx/3xx response; everything else is
// classified so the attempt log and metrics can tell failure modes apart.
const (
	ResultDelivered         = "delivered"
	ResultTimeout           = "timeout"
	ResultConnectionRefused = "connection_refused"
	ResultDNSFailure        = "dns_failure"
	ResultHTTPError         = "http_error"
	ResultSuspended         = "suspended" // breaker open, request not attempted
	ResultError             = "error"
)

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Result         string
	HTTPStatus     int
	ResponseTimeMs int64
	ErrorMessage   string
}

func (o Outcome) Delivered() bool { return o.Result == ResultDelivered }

// Sender is the single delivery primitive shared by the dispatcher and the
// retry scheduler: one bounded-timeout HTTP call, classified.
type Sender struct {
	client   *http.Client
	breakers *breakerSet
	log      *zap.Logger
}

func NewSender(timeout time.Duration, failThreshold int, openFor time.Duration, log *zap.Logger) *Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		client:   &http.Client{Timeout: timeout},
		breakers: newBreakerSet(failThreshold, openFor),
		log:      log,
	}
}

// Send performs one attempt against the rendered postback. The timeout is
// hard: a hanging endpoint produces a timeout outcome and feeds the same
// retry path as any other failure.
func (s *Sender) Send(ctx context.Context, r *Rendered) Outcome {
	br := s.breakers.forURL(r.URL)
	if !br.TryAcquire() {
		return Outcome{Result: ResultSuspended, ErrorMessage: "endpoint suspended after consecutive failures"}
	}

	out := s.doSend(ctx, r)
	if out.Delivered() {
		br.OnSuccess()
	} else {
		br.OnFailure()
	}
	return out
}

func (s *Sender) doSend(ctx context.Context, r *Rendered) Outcome {
	var body io.Reader
	if r.Method == http.MethodPost && len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return Outcome{Result: ResultError, ErrorMessage: "build request: " + err.Error()}
	}
	if r.Method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return Outcome{
			Result:         classify(err),
			ResponseTimeMs: elapsed,
			ErrorMessage:   err.Error(),
		}
	}
	defer resp.Body.Close()
	// drain so the connection can be reused; cap it, advertisers sometimes
	// answer postbacks with entire HTML pages
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	out := Outcome{HTTPStatus: resp.StatusCode, ResponseTimeMs: elapsed}
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		out.Result = ResultDelivered
	} else {
		out.Result = ResultHTTPError
		out.ErrorMessage = "unexpected status " + resp.Status
	}
	return out
}

// classify maps transport errors onto the failure taxonomy.
func classify(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ResultDNSFailure
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ResultConnectionRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ResultTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ResultTimeout
	}
	return ResultError
}
