package log

import (
	"context"
	"log/slog"

	crdb "github.com/cockroachdb/errors"

	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

// ErrFmtHandler is a slog handler that enriches records carrying an ErrAttr.
//
// It adds the stacktrace captured by cockroachdb/errors under StacktraceAttrKey and
// an ErrorCodeKey naming the typed error in the chain. When the chain holds a
// pipeline ModelError and the record has no StageKey yet, the failed stage is added
// as StageKey.
type ErrFmtHandler struct {
	handler slog.Handler
}

// WrapByErrFmtHandler wraps handler with ErrFmtHandler.
func WrapByErrFmtHandler(handler slog.Handler) slog.Handler {
	return &ErrFmtHandler{
		handler: handler,
	}
}

func (eh *ErrFmtHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return eh.handler.Enabled(ctx, l)
}

func (eh *ErrFmtHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	hasStage := false
	r.Attrs(func(attr slog.Attr) bool {
		switch attr.Key {
		case ErrAttrKey:
			if e, ok := attr.Value.Any().(error); ok && err == nil {
				err = e
			}
		case StageKey:
			hasStage = true
		}
		return true
	})
	if err == nil {
		return eh.handler.Handle(ctx, r)
	}

	if st := extractStacktrace(err); st != "" {
		r.AddAttrs(slog.String(StacktraceAttrKey, st))
	}
	if code := errorCode(err); code != "" {
		r.AddAttrs(slog.String(ErrorCodeKey, code))
	}
	var me *errors.ModelError
	if !hasStage && errors.As(err, &me) {
		r.AddAttrs(slog.String(StageKey, me.Kind))
	}
	return eh.handler.Handle(ctx, r)
}

func (eh *ErrFmtHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ErrFmtHandler{handler: eh.handler.WithAttrs(attrs)}
}

func (eh *ErrFmtHandler) WithGroup(g string) slog.Handler {
	return &ErrFmtHandler{handler: eh.handler.WithGroup(g)}
}

func extractStacktrace(err error) string {
	safeDetails := crdb.GetSafeDetails(err).SafeDetails
	if len(safeDetails) > 0 {
		return safeDetails[0]
	}
	return ""
}

// errorCode は連鎖に含まれる型付きエラーの種類を返す。ModelErrorは原因の種類を優先する
func errorCode(err error) string {
	var (
		shape      *errors.ShapeError
		notFitted  *errors.NotFittedError
		validation *errors.ValidationError
		numerical  *errors.NumericalError
		modelErr   *errors.ModelError
	)
	switch {
	case errors.Is(err, errors.ErrAllNoise):
		return "all_noise"
	case errors.Is(err, errors.ErrEmptyData):
		return "empty_input"
	case errors.As(err, &shape):
		return "shape"
	case errors.As(err, &notFitted):
		return "not_fitted"
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &numerical):
		return "numerical"
	case errors.As(err, &modelErr):
		return "model"
	}
	return ""
}
