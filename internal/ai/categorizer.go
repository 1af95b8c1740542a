package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/spendalizer/internal/domain"
)

// Request is what a categorizer sees of a transaction.
type Request struct {
	OwnerID     string
	Description string
	Amount      decimal.Decimal
	Direction   domain.Direction

	// Categories visible to the owner; a suggestion must be one of them.
	Categories []domain.Category
}

// Suggestion is a category guess.
type Suggestion struct {
	CategoryID string  `json:"category_id"`
	Confidence float64 `json:"confidence"`
}

// Categorizer suggests a category for a transaction. ok is false when it has
// no suggestion. Implementations may return errors; callers go through Guard.
type Categorizer interface {
	Suggest(ctx context.Context, req Request) (s Suggestion, ok bool, err error)
}

// Disabled never suggests anything. Used when AI is turned off.
type Disabled struct{}

func (Disabled) Suggest(ctx context.Context, req Request) (Suggestion, bool, error) {
	return Suggestion{}, false, nil
}

// Guard wraps a Categorizer so that every failure, timeout, panic, unknown
// category id, or low-confidence answer comes back as "no suggestion".
type Guard struct {
	inner         Categorizer
	timeout       time.Duration
	minConfidence float64
	log           zerolog.Logger
}

// NewGuard creates a guarded categorizer
func NewGuard(inner Categorizer, timeout time.Duration, minConfidence float64, log zerolog.Logger) *Guard {
	if inner == nil {
		inner = Disabled{}
	}
	return &Guard{inner: inner, timeout: timeout, minConfidence: minConfidence, log: log}
}

// Suggest returns a category id visible to req.OwnerID, or ok=false.
func (g *Guard) Suggest(ctx context.Context, req Request) (s Suggestion, ok bool) {
	log := g.log.With().Str("owner_id", req.OwnerID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("AI categorizer panicked; treating as no suggestion")
			s, ok = Suggestion{}, false
		}
	}()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	s, ok, err := g.inner.Suggest(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("description", req.Description).Msg("AI categorizer failed; treating as no suggestion")
		return Suggestion{}, false
	}
	if !ok {
		return Suggestion{}, false
	}

	if !visible(s.CategoryID, req) {
		log.Warn().Str("category_id", s.CategoryID).Msg("AI suggested an unknown category; ignoring")
		return Suggestion{}, false
	}
	if s.Confidence < g.minConfidence {
		log.Debug().
			Str("category_id", s.CategoryID).
			Float64("confidence", s.Confidence).
			Msg("AI suggestion below confidence threshold; ignoring")
		return Suggestion{}, false
	}
	return s, true
}

func visible(id string, req Request) bool {
	for _, c := range req.Categories {
		if c.ID == id && c.VisibleTo(req.OwnerID) {
			return true
		}
	}
	return false
}

// describe renders the transaction for prompts and logs.
func describe(req Request) string {
	return fmt.Sprintf("%s %s %s", req.Direction, req.Amount.StringFixed(2), req.Description)
}
