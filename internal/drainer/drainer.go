// Package drainer runs the ingestion loop: it blocks on the gift queue,
// validates each job, creates the transaction through the idempotency
// guard, and announces the locked escrow downstream.
package drainer

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"kithly/internal/bus"
	"kithly/internal/idempotency"
	"kithly/internal/kerrors"
	"kithly/internal/metrics"
	"kithly/internal/models"
	"kithly/internal/repositories"
	"kithly/internal/token"
)

const (
	popTimeout   = 5 * time.Second
	errorBackoff = 3 * time.Second

	// tokenInsertAttempts bounds the handshake collision retry.
	tokenInsertAttempts = 3
)

var phonePattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// GiftPayload is the JSON envelope on the ingestion queue.
type GiftPayload struct {
	TxID           string `json:"tx_id"`
	IdempotencyKey string `json:"idempotency_key"`
	ReceiverPhone  string `json:"receiver_phone"`
	ShopID         string `json:"shop_id"`
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	TxRef          string `json:"tx_ref,omitempty"`
}

// Validate rejects payloads that can never become a transaction.
func (p *GiftPayload) Validate() error {
	if _, err := uuid.Parse(p.TxID); err != nil {
		return kerrors.WithDetail(kerrors.ErrInvalidPayload, "tx_id %q is not a UUID", p.TxID)
	}
	if _, err := uuid.Parse(p.IdempotencyKey); err != nil {
		return kerrors.WithDetail(kerrors.ErrInvalidPayload, "idempotency_key %q is not a UUID", p.IdempotencyKey)
	}
	if !phonePattern.MatchString(p.ReceiverPhone) {
		return kerrors.WithDetail(kerrors.ErrInvalidPayload, "receiver_phone %q is not E.164", p.ReceiverPhone)
	}
	if p.ShopID == "" {
		return kerrors.WithDetail(kerrors.ErrInvalidPayload, "shop_id missing")
	}
	if p.ProductID == "" {
		return kerrors.WithDetail(kerrors.ErrInvalidPayload, "product_id missing")
	}
	if p.Quantity < 1 {
		return kerrors.WithDetail(kerrors.ErrInvalidPayload, "quantity %d", p.Quantity)
	}
	return nil
}

// Ref returns the external reference, falling back to the transaction id.
func (p *GiftPayload) Ref() string {
	if p.TxRef != "" {
		return p.TxRef
	}
	return p.TxID
}

// Drainer is the ingestion worker. Restartable; it never crashes the
// process on a bad job or a transient bus failure.
type Drainer struct {
	consumer bus.Consumer
	pub      bus.Publisher
	guard    *idempotency.Guard
	gifts    repositories.GiftRepository
	products repositories.ProductRepository

	acceptanceWindow time.Duration
	deadLetterQueue  string        // empty disables dead-lettering
	rawPusher        bus.RawPusher // carries dead-lettered payloads verbatim

	sleep func(ctx context.Context, d time.Duration)
}

// New creates a drainer. rawPusher may be nil when deadLetterQueue is empty.
func New(
	consumer bus.Consumer,
	pub bus.Publisher,
	rawPusher bus.RawPusher,
	guard *idempotency.Guard,
	gifts repositories.GiftRepository,
	products repositories.ProductRepository,
	acceptanceWindow time.Duration,
	deadLetterQueue string,
) *Drainer {
	if consumer == nil || pub == nil || guard == nil || gifts == nil || products == nil {
		panic("all drainer dependencies are required")
	}
	if deadLetterQueue != "" && rawPusher == nil {
		panic("raw pusher is required when dead-lettering is configured")
	}
	return &Drainer{
		consumer:         consumer,
		pub:              pub,
		rawPusher:        rawPusher,
		guard:            guard,
		gifts:            gifts,
		products:         products,
		acceptanceWindow: acceptanceWindow,
		deadLetterQueue:  deadLetterQueue,
		sleep:            sleepCtx,
	}
}

// Run drains the ingestion queue until the context is cancelled.
func (d *Drainer) Run(ctx context.Context) {
	log.Info().Str("queue", bus.QueueIngestionGifts).Msg("drainer started")
	for {
		if ctx.Err() != nil {
			log.Info().Msg("drainer stopped")
			return
		}

		raw, err := d.consumer.Pop(ctx, bus.QueueIngestionGifts, popTimeout)
		if err != nil {
			if errors.Is(err, bus.ErrEmpty) || errors.Is(err, context.Canceled) {
				continue
			}
			log.Error().Err(err).Msg("bus pop failed, backing off")
			d.sleep(ctx, errorBackoff)
			continue
		}

		if err := d.Process(ctx, raw); err != nil {
			// Already accounted for; the loop must keep draining.
			log.Error().Err(err).Msg("job processing failed")
		}
	}
}

// Process handles one raw job from the queue.
func (d *Drainer) Process(ctx context.Context, raw string) error {
	var payload GiftPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		metrics.JobsConsumed.WithLabelValues("invalid").Inc()
		log.Warn().Err(err).Str("payload", raw).Msg("malformed job dropped")
		d.deadLetter(ctx, raw)
		return nil
	}
	if err := payload.Validate(); err != nil {
		metrics.JobsConsumed.WithLabelValues("invalid").Inc()
		log.Warn().Err(err).Str("tx_id", payload.TxID).Msg("invalid job dropped")
		d.deadLetter(ctx, raw)
		return nil
	}

	gift, created, err := d.guard.WithIdempotency(ctx, payload.IdempotencyKey, func(ctx context.Context) (*models.GiftTransaction, error) {
		return d.create(ctx, &payload)
	})
	if err != nil {
		if errors.Is(err, kerrors.ErrKeyReserved) {
			// Another in-flight worker holds the key; it will commit.
			metrics.JobsConsumed.WithLabelValues("reserved").Inc()
			log.Info().Str("idempotency_key", payload.IdempotencyKey).Msg("key reserved elsewhere, skipping")
			return nil
		}
		metrics.JobsConsumed.WithLabelValues("error").Inc()
		return err
	}

	if !created {
		metrics.JobsConsumed.WithLabelValues("duplicate").Inc()
		log.Info().Str("tx_id", gift.TxID).Msg("duplicate ignored")
		return nil
	}

	metrics.JobsConsumed.WithLabelValues("created").Inc()
	log.Info().Str("tx_id", gift.TxID).Int("status", gift.StatusCode).Msg("gift created, escrow locked")

	if err := d.pub.Publish(ctx, bus.EventEscrowLocked, bus.EscrowLockedEvent{
		V:             bus.SchemaVersion,
		TxRef:         payload.Ref(),
		ReceiverPhone: gift.ReceiverPhone,
		HandshakeCode: gift.HandshakeToken,
	}); err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues(bus.EventEscrowLocked).Inc()
	return nil
}

// create builds the transaction row: handshake token with collision retry,
// status 100, or 110 with an acceptance deadline when the SKU is
// made-to-order.
func (d *Drainer) create(ctx context.Context, payload *GiftPayload) (*models.GiftTransaction, error) {
	status := models.StatusInitiated
	var deadline *time.Time

	product, err := d.products.FindBySKU(ctx, payload.ProductID)
	if err != nil && !errors.Is(err, kerrors.ErrNotFound) {
		return nil, err
	}
	if product != nil && product.IsMadeToOrder {
		status = models.StatusAwaitingAccept
		t := time.Now().UTC().Add(d.acceptanceWindow)
		deadline = &t
	}

	hsToken, err := d.freshToken(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	key := payload.IdempotencyKey
	gift := &models.GiftTransaction{
		TxID:               payload.TxID,
		IdempotencyKey:     &key,
		ReceiverPhone:      payload.ReceiverPhone,
		ShopID:             payload.ShopID,
		ProductID:          payload.ProductID,
		Quantity:           payload.Quantity,
		StatusCode:         status,
		StatusChangedAt:    now,
		HandshakeToken:     hsToken,
		AcceptanceDeadline: deadline,
	}
	if err := d.gifts.Insert(ctx, gift); err != nil {
		return nil, err
	}
	return gift, nil
}

// freshToken generates a handshake token not currently held by any live
// transaction.
func (d *Drainer) freshToken(ctx context.Context) (string, error) {
	for attempt := 0; attempt < tokenInsertAttempts; attempt++ {
		t, err := token.Generate()
		if err != nil {
			return "", err
		}
		taken, err := d.gifts.LiveTokenExists(ctx, t)
		if err != nil {
			return "", err
		}
		if !taken {
			return t, nil
		}
	}
	return "", errors.New("handshake token space exhausted after retries")
}

func (d *Drainer) deadLetter(ctx context.Context, raw string) {
	if d.deadLetterQueue == "" {
		return
	}
	if err := d.rawPusher.PushRaw(ctx, d.deadLetterQueue, raw); err != nil {
		log.Error().Err(err).Msg("dead-letter push failed")
		return
	}
	metrics.JobsConsumed.WithLabelValues("dead_lettered").Inc()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
