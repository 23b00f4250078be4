// Package ordering pins the question sequence of an exam session.
package ordering

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/store"
)

// Resolver computes a session's question order once and reuses it on every
// later load of the same session.
type Resolver struct {
	store store.Store
	rng   *rand.Rand
	log   zerolog.Logger
}

// NewResolver creates a Resolver. A nil rng uses a randomly seeded source.
func NewResolver(s store.Store, rng *rand.Rand, log zerolog.Logger) *Resolver {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Resolver{
		store: s,
		rng:   rng,
		log:   log.With().Str("component", "question_order").Logger(),
	}
}

// Resolve returns questions in the order the session must present them.
func (r *Resolver) Resolve(ctx context.Context, sessionKey string, questions []model.QuestionForStudent, randomize bool) ([]model.QuestionForStudent, error) {
	if !randomize {
		return questions, nil
	}

	stored, ok, err := r.store.QuestionOrder(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("load question order: %w", err)
	}
	if ok {
		if ordered, matched := project(questions, stored); matched {
			return ordered, nil
		}
		// Questions changed server-side since the order was pinned. Natural
		// order is preferred over a partial reorder.
		r.log.Warn().
			Str("session", sessionKey).
			Int("stored", len(stored)).
			Int("fetched", len(questions)).
			Msg("Pinned question order no longer matches exam, using natural order")
		return questions, nil
	}

	ordered := r.shuffleGrouped(questions)
	ids := make([]string, len(ordered))
	for i, q := range ordered {
		ids[i] = q.ID.String()
	}
	if err := r.store.SaveQuestionOrder(ctx, sessionKey, ids); err != nil {
		return nil, fmt.Errorf("pin question order: %w", err)
	}
	return ordered, nil
}

// shuffleGrouped shuffles multiple-choice and essay questions independently
// and places the multiple-choice block first.
func (r *Resolver) shuffleGrouped(questions []model.QuestionForStudent) []model.QuestionForStudent {
	var mc, essay []model.QuestionForStudent
	for _, q := range questions {
		if q.QuestionType == model.QuestionTypeEssay {
			essay = append(essay, q)
		} else {
			mc = append(mc, q)
		}
	}
	Shuffle(r.rng, mc)
	Shuffle(r.rng, essay)
	return append(mc, essay...)
}

// Shuffle is an in-place Fisher–Yates permutation.
func Shuffle[T any](rng *rand.Rand, s []T) {
	for i := len(s) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}

// project arranges questions by ids. It fails unless ids and questions hold
// exactly the same identifier set.
func project(questions []model.QuestionForStudent, ids []string) ([]model.QuestionForStudent, bool) {
	if len(ids) != len(questions) {
		return nil, false
	}
	byID := make(map[string]model.QuestionForStudent, len(questions))
	for _, q := range questions {
		byID[q.ID.String()] = q
	}
	out := make([]model.QuestionForStudent, 0, len(ids))
	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			return nil, false
		}
		delete(byID, id)
		out = append(out, q)
	}
	return out, true
}
