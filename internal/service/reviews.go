package service

import (
	"context"
	"fmt"

	"github.com/and161185/medgate/internal/errs"
	"github.com/and161185/medgate/internal/model"
	"github.com/and161185/medgate/internal/repository"
)

const maxReviewText = 4096

// AddReview appends a review written by a currently consented doctor.
func (e *Engine) AddReview(ctx context.Context, caller, patient model.Identity, text string) (*model.DoctorReview, error) {
	if err := requireIdentities(caller, patient); err != nil {
		return nil, err
	}
	if err := e.validate.Var(text, fmt.Sprintf("required,max=%d", maxReviewText)); err != nil {
		return nil, fmt.Errorf("%w: review text: %v", errs.ErrInvalidArgument, err)
	}
	var rv model.DoctorReview
	err := e.store.UpdatePatient(ctx, patient, func(tx repository.Tx) error {
		if err := e.authorize(ctx, tx, ActionAddReview, caller, patient); err != nil {
			return err
		}
		now := e.now()
		rv = model.DoctorReview{Patient: patient, Doctor: caller, Text: text, CreatedAt: now}
		if err := tx.AppendReview(ctx, rv); err != nil {
			return err
		}
		ev := newEvent(model.EventReviewAdded, caller, patient, now)
		ev.Subject = caller
		ev.Review = &rv
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

// GetReviews returns the review log in append order.
func (e *Engine) GetReviews(ctx context.Context, caller, patient model.Identity) (out []model.DoctorReview, err error) {
	if err := requireIdentities(caller, patient); err != nil {
		return nil, err
	}
	err = e.store.View(ctx, func(r repository.Reader) error {
		if err := e.authorize(ctx, r, ActionGetReviews, caller, patient); err != nil {
			return err
		}
		out, err = r.Reviews(ctx, patient)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.DoctorReview{}
	}
	return out, nil
}
