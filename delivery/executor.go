package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/xraph/courier/breaker"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/ratelimit"
	"github.com/xraph/courier/signature"
)

// Request headers set on every delivery.
const (
	HeaderSignature = signature.HeaderName
	HeaderID        = "X-Webhook-ID"
	HeaderEventType = "X-Webhook-Event-Type"
	HeaderAttempt   = "X-Webhook-Attempt"
)

// DefaultUserAgent identifies outbound requests.
const DefaultUserAgent = "Courier-Webhooks/1.0"

// Outcome is what an Execute call did with a claimed delivery.
type Outcome string

const (
	OutcomeDelivered    Outcome = "delivered"
	OutcomeRetry        Outcome = "retry"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeFailed       Outcome = "failed"
	OutcomeDeferred     Outcome = "deferred"
)

// EndpointLookup loads endpoints for dispatch.
type EndpointLookup interface {
	GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error)
}

// SecretSource returns an endpoint's plaintext signing secret.
type SecretSource interface {
	SecretFor(endpointID, ciphertext string) (string, error)
}

// Breaker is the circuit breaker consulted around each attempt.
type Breaker interface {
	Allow(ctx context.Context, endpointID string) (breaker.Decision, error)
	RecordSuccess(ctx context.Context, endpointID string) error
	RecordFailure(ctx context.Context, endpointID string) error
}

// URLChecker vets an endpoint URL at dispatch time.
type URLChecker interface {
	Check(ctx context.Context, rawURL string) error
}

// Deps are the collaborators of an Executor. Limiter and Guard are optional.
type Deps struct {
	Store     Store
	Endpoints EndpointLookup
	Secrets   SecretSource
	Breaker   Breaker
	Sender    Sender
	Guard     URLChecker
	Limiter   *ratelimit.Limiter
}

// ExecutorConfig tunes an Executor.
type ExecutorConfig struct {
	RequestTimeout time.Duration
	Backoff        Backoff
	UserAgent      string
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer
	Now            func() time.Time
}

// Result summarizes one Execute call.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Latency    time.Duration
	Err        error
}

// Executor performs a single attempt for a claimed delivery and records the
// outcome.
type Executor struct {
	deps   Deps
	cfg    ExecutorConfig
	signer *signature.Signer
	logger *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(deps Deps, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &Executor{
		deps:   deps,
		cfg:    cfg,
		signer: signature.NewSigner(cfg.Now),
		logger: logger,
	}
}

// Execute attempts d, which must carry the lease token of a successful Claim.
// The returned error is non-nil only when the outcome could not be recorded;
// in that case the lease will expire and another worker will pick d up.
func (e *Executor) Execute(ctx context.Context, d *Delivery) (Result, error) {
	epID := d.EndpointID.String()

	ep, err := e.deps.Endpoints.GetEndpoint(ctx, d.EndpointID)
	switch {
	case errors.Is(err, endpoint.ErrNotFound):
		return e.fail(ctx, d, "endpoint not found")
	case err != nil:
		return Result{}, err
	case !ep.Active():
		return e.fail(ctx, d, "endpoint disabled")
	}

	if e.deps.Limiter != nil {
		if ok, wait := e.deps.Limiter.Reserve(epID, ep.RateLimit); !ok {
			return e.postpone(ctx, d, e.cfg.Now().Add(wait), "rate_limited")
		}
	}

	if e.deps.Guard != nil {
		var ve *endpoint.ValidationError
		if err := e.deps.Guard.Check(ctx, ep.URL); errors.As(err, &ve) {
			return e.fail(ctx, d, "unsafe endpoint url: "+ve.Message)
		}
	}

	decision, err := e.deps.Breaker.Allow(ctx, epID)
	if err != nil {
		e.logger.WarnContext(ctx, "circuit breaker unavailable, allowing attempt",
			"endpoint_id", epID,
			"error", err,
		)
		decision = breaker.Decision{Allowed: true}
	}
	if !decision.Allowed {
		return e.postpone(ctx, d, decision.RetryAt, "circuit_open")
	}

	secret, err := e.deps.Secrets.SecretFor(epID, ep.SecretCiphertext)
	if err != nil {
		e.logger.ErrorContext(ctx, "endpoint secret unavailable",
			"endpoint_id", epID,
			"delivery_id", d.ID.String(),
			"error", err,
		)
		return e.fail(ctx, d, "secret decryption failed")
	}

	return e.attempt(ctx, d, ep, secret, decision.Probe)
}

func (e *Executor) attempt(ctx context.Context, d *Delivery, ep *endpoint.Endpoint, secret string, probe bool) (Result, error) {
	epID := ep.ID.String()
	attempt := d.AttemptCount + 1

	ctx, span := e.cfg.Tracer.StartDeliverySpan(ctx, d.ID.String(), d.EventID.String(), epID, attempt)

	body, err := json.Marshal(EnvelopeFor(d))
	if err != nil {
		e.cfg.Tracer.EndDeliverySpan(span, string(OutcomeFailed), 0, 0, err.Error())
		return e.fail(ctx, d, "encode envelope: "+err.Error())
	}
	sig, _ := e.signer.Sign(secret, body)

	headers := make(http.Header, len(ep.Headers)+6)
	for k, v := range ep.Headers {
		if !endpoint.IsReservedHeader(k) {
			headers.Set(k, v)
		}
	}
	headers.Set("Content-Type", "application/json")
	headers.Set("User-Agent", e.cfg.UserAgent)
	headers.Set(HeaderSignature, sig)
	headers.Set(HeaderID, d.ID.String())
	headers.Set(HeaderEventType, d.EventType)
	headers.Set(HeaderAttempt, strconv.Itoa(attempt))

	e.cfg.Metrics.AttemptStarted()
	resp, sendErr := e.deps.Sender.Send(ctx, &Request{
		URL:     ep.URL,
		Body:    body,
		Headers: headers,
		Timeout: e.cfg.RequestTimeout,
	})
	e.cfg.Metrics.AttemptFinished()

	if resp == nil {
		resp = &Response{}
	}
	if sendErr == nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		sendErr = &HTTPError{StatusCode: resp.StatusCode}
	}

	now := e.cfg.Now().UTC()
	d.AttemptCount = attempt
	d.LastResponseCode = resp.StatusCode
	d.LastResponse = resp.Body
	d.LastLatencyMs = int(resp.Latency.Milliseconds())
	d.LeaseExpiresAt = nil
	d.Touch(now)

	res := Result{StatusCode: resp.StatusCode, Latency: resp.Latency, Err: sendErr}

	if sendErr == nil {
		d.Status = StatusDelivered
		d.LastError = ""
		d.CompletedAt = &now
		res.Outcome = OutcomeDelivered
		if err := e.deps.Breaker.RecordSuccess(ctx, epID); err != nil {
			e.logger.WarnContext(ctx, "record breaker success failed", "endpoint_id", epID, "error", err)
		}
	} else {
		d.LastError = sendErr.Error()
		if err := e.deps.Breaker.RecordFailure(ctx, epID); err != nil {
			e.logger.WarnContext(ctx, "record breaker failure failed", "endpoint_id", epID, "error", err)
		}
		if d.AttemptCount >= d.MaxAttempts {
			d.Status = StatusDeadLettered
			d.CompletedAt = &now
			res.Outcome = OutcomeDeadLettered
		} else {
			d.Status = StatusPending
			d.NextAttemptAt = now.Add(e.cfg.Backoff.Delay(d.AttemptCount))
			res.Outcome = OutcomeRetry
		}
	}

	e.cfg.Tracer.EndDeliverySpan(span, string(res.Outcome), resp.StatusCode, d.LastLatencyMs, d.LastError)
	e.cfg.Metrics.RecordDelivery(string(res.Outcome), resp.Latency.Seconds())

	if err := e.deps.Store.CompleteAttempt(ctx, d); err != nil {
		e.logger.WarnContext(ctx, "could not record delivery attempt",
			"delivery_id", d.ID.String(),
			"error", err,
		)
		return res, err
	}

	attrs := []any{
		"delivery_id", d.ID.String(),
		"endpoint_id", epID,
		"attempt", d.AttemptCount,
		"status_code", resp.StatusCode,
		"latency_ms", d.LastLatencyMs,
		"probe", probe,
	}
	switch res.Outcome {
	case OutcomeDelivered:
		e.logger.DebugContext(ctx, "delivered", attrs...)
	case OutcomeRetry:
		e.logger.DebugContext(ctx, "retry scheduled", append(attrs, "next_attempt_at", d.NextAttemptAt, "error", d.LastError)...)
	case OutcomeDeadLettered:
		e.logger.WarnContext(ctx, "delivery dead-lettered", append(attrs, "error", d.LastError)...)
	}
	return res, nil
}

// postpone returns d to pending at retryAt without counting an attempt.
func (e *Executor) postpone(ctx context.Context, d *Delivery, retryAt time.Time, reason string) (Result, error) {
	now := e.cfg.Now().UTC()
	if !retryAt.After(now) {
		retryAt = now.Add(time.Second)
	}
	d.Status = StatusPending
	d.NextAttemptAt = retryAt.UTC()
	d.LeaseExpiresAt = nil
	d.Touch(now)

	e.cfg.Metrics.RecordDeferred(reason)
	if err := e.deps.Store.CompleteAttempt(ctx, d); err != nil {
		return Result{Outcome: OutcomeDeferred}, err
	}
	e.logger.DebugContext(ctx, "delivery deferred",
		"delivery_id", d.ID.String(),
		"endpoint_id", d.EndpointID.String(),
		"reason", reason,
		"next_attempt_at", d.NextAttemptAt,
	)
	return Result{Outcome: OutcomeDeferred}, nil
}

// fail terminates d as failed without counting an attempt.
func (e *Executor) fail(ctx context.Context, d *Delivery, reason string) (Result, error) {
	now := e.cfg.Now().UTC()
	d.Status = StatusFailed
	d.LastError = reason
	d.CompletedAt = &now
	d.LeaseExpiresAt = nil
	d.Touch(now)

	e.cfg.Metrics.RecordDelivery(string(OutcomeFailed), 0)
	if err := e.deps.Store.CompleteAttempt(ctx, d); err != nil {
		return Result{Outcome: OutcomeFailed}, err
	}
	e.logger.WarnContext(ctx, "delivery failed",
		"delivery_id", d.ID.String(),
		"endpoint_id", d.EndpointID.String(),
		"reason", reason,
	)
	return Result{Outcome: OutcomeFailed, Err: errors.New(reason)}, nil
}
