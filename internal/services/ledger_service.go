// Package services – LedgerService
//
// This file implements the vote registrar and the payment reconciler. Every
// mutation runs in a transaction that ends by recomputing the tally from the
// vote rows and the stored priority boost, then persisting it as the cached
// vote_count. The two cross-request invariants, one vote per (request,
// voter) and one boost per charge id, are enforced by unique indexes. Each
// transaction first takes a row lock on the feature request, which keeps the
// cached vote_count consistent under READ COMMITTED.
//
// Observability: public methods open OpenTelemetry spans and bump the
// ideabot_votes_total / ideabot_payments_total counters.
package services

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/ideabot/internal/domain"
	"github.com/tbourn/ideabot/internal/logging"
	"github.com/tbourn/ideabot/internal/repo"
)

// LedgerService owns votes, payments, and tallies.
type LedgerService struct {
	DB *gorm.DB

	// Boosts maps a payment kind to its vote increment.
	Boosts map[string]int
}

// PaymentInput describes one completed external charge.
type PaymentInput struct {
	ChargeID         string
	ProviderChargeID string
	RequestID        int64
	PayerID          int64
	Amount           int
	Currency         string
	Kind             string
}

// PaymentResult is the outcome of ApplyPayment. AlreadyProcessed is set when
// the charge id had been reconciled before; it is not an error.
type PaymentResult struct {
	Tally            domain.Tally
	AlreadyProcessed bool
}

// CastVote records voterID's vote on requestID and returns the new tally.
//
// Semantics:
//   - No prior vote: a vote row is inserted.
//   - Prior vote, same direction: the current tally is returned together with
//     ErrDuplicateVote; nothing is written.
//   - Prior vote, opposite direction: the row is flipped in place.
//
// Errors: ErrInvalidDirection, ErrRequestNotFound, ErrDuplicateVote, or the
// underlying DB error.
func (s *LedgerService) CastVote(ctx context.Context, requestID, voterID int64, direction string) (domain.Tally, error) {
	tr := otel.Tracer("services/LedgerService")
	ctx, span := tr.Start(ctx, "CastVote",
		trace.WithAttributes(
			attribute.Int64("request.id", requestID),
			attribute.Int64("voter.id", voterID),
			attribute.String("vote.direction", direction),
		),
	)
	defer span.End()

	direction = strings.ToLower(strings.TrimSpace(direction))
	if !domain.ValidDirection(direction) {
		return domain.Tally{}, ErrInvalidDirection
	}

	var (
		tally     domain.Tally
		duplicate bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := repo.GetRequestForUpdate(ctx, tx, requestID)
		if err != nil {
			return mapNotFound(err)
		}

		inserted, err := repo.InsertVote(ctx, tx, requestID, voterID, direction)
		if err != nil {
			return err
		}
		if !inserted {
			// A vote for this pair exists (possibly written concurrently).
			prev, err := repo.FindVote(ctx, tx, requestID, voterID)
			if err != nil {
				return err
			}
			if prev.Direction == direction {
				duplicate = true
			} else if _, err := repo.FlipVote(ctx, tx, prev.ID, prev.Direction, direction); err != nil {
				return err
			}
		}

		if duplicate {
			tally, err = currentTally(ctx, tx, req)
			return err
		}
		tally, err = recompute(ctx, tx, req)
		return err
	})
	if err != nil {
		votesTotal.WithLabelValues("cast", resultLabel(err)).Inc()
		recordSpanError(span, err)
		return domain.Tally{}, err
	}
	if duplicate {
		votesTotal.WithLabelValues("cast", resultDuplicate).Inc()
		return tally, ErrDuplicateVote
	}
	votesTotal.WithLabelValues("cast", resultOK).Inc()
	span.SetAttributes(attribute.Int("tally.total", tally.Total))
	return tally, nil
}

// RemoveVote deletes voterID's vote on requestID if present and returns the
// recomputed tally. Removing an absent vote is not an error.
func (s *LedgerService) RemoveVote(ctx context.Context, requestID, voterID int64) (domain.Tally, error) {
	tr := otel.Tracer("services/LedgerService")
	ctx, span := tr.Start(ctx, "RemoveVote",
		trace.WithAttributes(
			attribute.Int64("request.id", requestID),
			attribute.Int64("voter.id", voterID),
		),
	)
	defer span.End()

	var tally domain.Tally
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := repo.GetRequestForUpdate(ctx, tx, requestID)
		if err != nil {
			return mapNotFound(err)
		}
		if _, err := repo.DeleteVote(ctx, tx, requestID, voterID); err != nil {
			return err
		}
		tally, err = recompute(ctx, tx, req)
		return err
	})
	if err != nil {
		votesTotal.WithLabelValues("remove", resultLabel(err)).Inc()
		recordSpanError(span, err)
		return domain.Tally{}, err
	}
	votesTotal.WithLabelValues("remove", resultOK).Inc()
	return tally, nil
}

// ApplyPayment reconciles a completed charge exactly once per charge id.
//
// The payment row is inserted first, in its own statement, with
// boost_applied=false. The boost is then claimed and applied in one
// transaction together with the tally recompute. If that transaction fails,
// the row stays unapplied and a retry with the same charge id skips the
// insert and completes the boost.
func (s *LedgerService) ApplyPayment(ctx context.Context, in PaymentInput) (PaymentResult, error) {
	tr := otel.Tracer("services/LedgerService")
	ctx, span := tr.Start(ctx, "ApplyPayment",
		trace.WithAttributes(
			attribute.String("payment.charge_id", in.ChargeID),
			attribute.Int64("request.id", in.RequestID),
			attribute.String("payment.kind", in.Kind),
		),
	)
	defer span.End()

	res, err := s.applyPayment(ctx, in)
	switch {
	case err != nil:
		paymentsTotal.WithLabelValues(resultLabel(err)).Inc()
		recordSpanError(span, err)
	case res.AlreadyProcessed:
		paymentsTotal.WithLabelValues(resultReplayed).Inc()
	default:
		paymentsTotal.WithLabelValues(resultOK).Inc()
	}
	return res, err
}

func (s *LedgerService) applyPayment(ctx context.Context, in PaymentInput) (PaymentResult, error) {
	in.ChargeID = strings.TrimSpace(in.ChargeID)
	if in.ChargeID == "" || in.PayerID == 0 {
		return PaymentResult{}, ErrInvalidPayment
	}
	boost, ok := s.Boosts[in.Kind]
	if !ok || boost <= 0 {
		return PaymentResult{}, ErrUnknownPaymentKind
	}

	db := s.DB.WithContext(ctx)

	// 1) Seen before? The stored row is authoritative for the request id.
	requestID := in.RequestID
	prev, err := repo.GetPaymentByCharge(ctx, db, in.ChargeID)
	switch {
	case err == nil:
		requestID = prev.RequestID
		if prev.BoostApplied {
			t, err := s.tallyOf(ctx, db, requestID)
			return PaymentResult{Tally: t, AlreadyProcessed: true}, err
		}
		logging.Ctx(ctx).Warn().Str("charge_id", in.ChargeID).Msg("resuming unapplied payment boost")
	case errors.Is(err, repo.ErrNotFound):
		// 2) First sight: the request must exist before money is recorded against it.
		if _, err := repo.GetRequest(ctx, db, requestID); err != nil {
			return PaymentResult{}, mapNotFound(err)
		}
		p := &domain.Payment{
			ChargeID:         in.ChargeID,
			ProviderChargeID: in.ProviderChargeID,
			RequestID:        requestID,
			PayerID:          in.PayerID,
			Amount:           in.Amount,
			Currency:         in.Currency,
			Kind:             in.Kind,
			Boost:            boost,
		}
		if _, err := repo.InsertPayment(ctx, db, p); err != nil {
			return PaymentResult{}, err
		}
	default:
		return PaymentResult{}, err
	}

	// 3) Claim + boost + recompute, atomically.
	var (
		tally   domain.Tally
		claimed bool
	)
	err = db.Transaction(func(tx *gorm.DB) error {
		// Same lock order as CastVote and RemoveVote: request row first.
		if _, err := repo.GetRequestForUpdate(ctx, tx, requestID); err != nil {
			return mapNotFound(err)
		}
		p, err := repo.GetPaymentByCharge(ctx, tx, in.ChargeID)
		if err != nil {
			return err
		}
		claimed, err = repo.ClaimBoost(ctx, tx, in.ChargeID)
		if err != nil {
			return err
		}
		if claimed {
			if err := repo.AddPriorityBoost(ctx, tx, p.RequestID, p.Boost); err != nil {
				return mapNotFound(err)
			}
		}
		// Re-read so recompute sees the boost just added.
		req, err := repo.GetRequest(ctx, tx, p.RequestID)
		if err != nil {
			return mapNotFound(err)
		}
		tally, err = recompute(ctx, tx, req)
		return err
	})
	if err != nil {
		return PaymentResult{}, err
	}
	return PaymentResult{Tally: tally, AlreadyProcessed: !claimed}, nil
}

// Tally returns the current tally of a request without mutating anything.
func (s *LedgerService) Tally(ctx context.Context, requestID int64) (domain.Tally, error) {
	return s.tallyOf(ctx, s.DB.WithContext(ctx), requestID)
}

func (s *LedgerService) tallyOf(ctx context.Context, db *gorm.DB, requestID int64) (domain.Tally, error) {
	req, err := repo.GetRequest(ctx, db, requestID)
	if err != nil {
		return domain.Tally{}, mapNotFound(err)
	}
	return currentTally(ctx, db, req)
}

// currentTally derives the tally from vote rows and the stored boost.
func currentTally(ctx context.Context, db *gorm.DB, req *domain.FeatureRequest) (domain.Tally, error) {
	up, down, err := repo.CountVotes(ctx, db, req.ID)
	if err != nil {
		return domain.Tally{}, err
	}
	return domain.NewTally(req.ID, up, down, req.PriorityBoost), nil
}

// recompute derives the tally and persists it as the cached vote_count.
func recompute(ctx context.Context, db *gorm.DB, req *domain.FeatureRequest) (domain.Tally, error) {
	t, err := currentTally(ctx, db, req)
	if err != nil {
		return domain.Tally{}, err
	}
	if err := repo.SetVoteCount(ctx, db, req.ID, t.Total); err != nil {
		return domain.Tally{}, err
	}
	return t, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrRequestNotFound
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrRequestNotFound):
		return resultNotFound
	case errors.Is(err, ErrDuplicateVote):
		return resultDuplicate
	default:
		return resultError
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
