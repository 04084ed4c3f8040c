// Package ensemble trains bagged regression ensembles on LUT-derived
// training data and applies them with an empirical uncertainty estimate:
// the per-sample mean and standard deviation across member predictions.
package ensemble

import (
	"fmt"
)

// Model is one trained regressor. Its expected input dimensionality is fixed
// at training time and validated on every prediction.
type Model interface {
	// PredictBatch returns one prediction per feature vector.
	PredictBatch(features [][]float64) ([]float64, error)

	// NumFeatures reports the trained input dimensionality.
	NumFeatures() int
}

// Backend fits regression models. A Fit call may return a non-nil model
// together with a *FitWarning error: the model is usable, but a tunable
// hyperparameter hit its default search boundary. Any other non-nil error is
// fatal and carries no model.
type Backend interface {
	Fit(features [][]float64, targets []float64) (Model, error)
}

// BoundedBackend is implemented by backends that can refit with an explicit
// corrected hyperparameter bound, as suggested by a FitWarning.
type BoundedBackend interface {
	Backend
	FitWithBound(features [][]float64, targets []float64, bound float64) (Model, error)
}

// FitWarning signals a recoverable training condition: the solver selected a
// hyperparameter at the edge of its default search range. Msg carries the
// suggested corrected bound in "name=value" form so the trainer can retry.
type FitWarning struct {
	Msg string
}

func (w *FitWarning) Error() string { return w.Msg }

// ShapeError reports a feature-dimensionality mismatch at predict time,
// after the single transpose-correction attempt failed too.
type ShapeError struct {
	Got, Want int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("ensemble: feature dimension %d does not match trained dimension %d", e.Got, e.Want)
}

// Ensemble is an ordered sequence of independently trained members for one
// target variable. Member order is not semantically meaningful but is stable,
// so averaging is reproducible.
type Ensemble struct {
	Models      []Model
	NumFeatures int
}

// Size returns the number of members.
func (e *Ensemble) Size() int { return len(e.Models) }
