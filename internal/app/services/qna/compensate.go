// internal/app/services/qna/compensate.go
package qna

import (
	"context"
	"errors"

	"github.com/dalemusser/askaway/internal/app/store/incidents"
	"github.com/dalemusser/askaway/internal/app/system/apperr"
	"github.com/dalemusser/askaway/internal/app/system/metrics"
	"github.com/dalemusser/askaway/internal/app/system/timeouts"
	"github.com/dalemusser/askaway/internal/domain/models"
	"go.uber.org/zap"
)

// revertStart deletes a session whose Created event could not be delivered.
func (s *Service) revertStart(ctx context.Context, sess models.QnASession, dispatchErr error) error {
	rctx, cancel := s.revertContext(ctx, "revert start session")
	defer cancel()
	revertErr := s.sessions.Delete(rctx, sess.ID)
	return s.compensated(rctx, incidents.OperationStartSession, sess, dispatchErr, revertErr)
}

// revertEnd reactivates a session whose Ended event could not be delivered
// and restores the version it had before it ended.
func (s *Service) revertEnd(ctx context.Context, ended models.QnASession, dispatchErr error) error {
	rctx, cancel := s.revertContext(ctx, "revert end session")
	defer cancel()
	revertErr := s.sessions.RevertEnd(rctx, ended.ID, ended.DataEventVersion)
	return s.compensated(rctx, incidents.OperationEndSession, ended, dispatchErr, revertErr)
}

// revertContext keeps the revert alive if the caller's request was canceled
// while the dispatch was failing.
func (s *Service) revertContext(ctx context.Context, op string) (context.Context, context.CancelFunc) {
	return timeouts.WithTimeout(context.WithoutCancel(ctx), timeouts.Medium(), s.log, op)
}

// compensated turns the outcome of a revert into the error the caller sees.
// A failed revert is logged once at critical severity and recorded as an
// incident; it is never swallowed.
func (s *Service) compensated(ctx context.Context, op string, sess models.QnASession, dispatchErr, revertErr error) error {
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("qna_session_id", sess.ID.Hex()),
		zap.String("conversation_id", sess.ConversationID),
		zap.Int64("version", sess.DataEventVersion),
		zap.NamedError("dispatch_error", dispatchErr),
	}

	if revertErr == nil {
		metrics.Compensations.WithLabelValues(op, "reverted").Inc()
		s.log.Warn("changes reverted after background job failure", fields...)
		return apperr.New(apperr.KindReverted, apperr.CodeChangesReverted,
			"changes reverted due to background job failure, please try again", dispatchErr)
	}

	metrics.Compensations.WithLabelValues(op, "failed").Inc()
	s.log.Error("revert failed after background job failure",
		append(fields, zap.String("severity", "critical"), zap.NamedError("revert_error", revertErr))...)

	if s.incidents != nil {
		inc, err := s.incidents.Log(ctx, incidents.Incident{
			Timestamp:        s.now(),
			Operation:        op,
			SessionID:        sess.ID,
			ConversationID:   sess.ConversationID,
			DataEventVersion: sess.DataEventVersion,
			DispatchError:    dispatchErr.Error(),
			RevertError:      revertErr.Error(),
		})
		if err != nil {
			s.log.Warn("incident not recorded", zap.String("qna_session_id", sess.ID.Hex()), zap.Error(err))
		} else {
			s.log.Info("incident recorded", zap.String("incident_id", inc.ID.Hex()))
		}
	}

	return apperr.New(apperr.KindFatal, apperr.CodeRevertFailed,
		"revert failed after background job failure", errors.Join(dispatchErr, revertErr))
}
