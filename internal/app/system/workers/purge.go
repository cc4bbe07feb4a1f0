// internal/app/system/workers/purge.go
package workers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dalemusser/liveplay/internal/app/system/apperr"
	"github.com/dalemusser/liveplay/internal/app/system/auditlog"
	"github.com/dalemusser/liveplay/internal/app/system/identity"
	"github.com/dalemusser/liveplay/internal/app/system/timeouts"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// PurgeReport counts what a purge deleted.
type PurgeReport struct {
	SessionID        string `json:"session_id" yaml:"session_id"`
	Participants     int64  `json:"participants" yaml:"participants"`
	Decisions        int64  `json:"decisions" yaml:"decisions"`
	RoleAssignments  int64  `json:"role_assignments" yaml:"role_assignments"`
	ReleasedNoExpiry int    `json:"released_no_expiry" yaml:"released_no_expiry"`
}

// Purge permanently deletes an archived session and everything it owns,
// once the session has been archived for the cooling-off period. The
// activity log is kept and gains a session_purged entry.
func (w *Sweeper) Purge(ctx context.Context, actor identity.Actor, sessionID primitive.ObjectID) (PurgeReport, error) {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Long(), w.log, "purge session")
	defer cancel()

	sess, err := w.set.Sessions.Get(ctx, sessionID)
	if err != nil {
		return PurgeReport{}, apperr.NotFoundOr(err, "session not found")
	}
	if !actor.CanManage(sess) {
		return PurgeReport{}, apperr.New(apperr.ErrForbidden, "not the host of this session")
	}
	if sess.Status != models.SessionArchived || sess.ArchivedAt == nil {
		return PurgeReport{}, apperr.New(apperr.ErrInvalidTransition, "only archived sessions can be deleted")
	}
	now := w.clock.Now()
	if eligible := sess.ArchivedAt.Add(w.cfg.PurgeCoolingOff); now.Before(eligible) {
		return PurgeReport{}, apperr.New(apperr.ErrInvalidTransition,
			"session can be deleted after "+eligible.Format("2006-01-02 15:04 MST"))
	}

	report := PurgeReport{SessionID: sess.ID.Hex()}

	ps, err := w.set.Participants.ListBySession(ctx, sess.ID)
	if err != nil {
		return report, fmt.Errorf("list participants: %w", err)
	}
	for _, p := range ps {
		if !p.NoExpiryReserved {
			continue
		}
		released, err := w.releaseReservation(ctx, p)
		if err != nil {
			return report, err
		}
		if released {
			report.ReleasedNoExpiry++
		}
	}

	if report.RoleAssignments, err = w.set.Roles.DeleteBySession(ctx, sess.ID); err != nil {
		return report, fmt.Errorf("delete roles: %w", err)
	}
	if report.Decisions, err = w.set.Decisions.DeleteBySession(ctx, sess.ID); err != nil {
		return report, fmt.Errorf("delete decisions: %w", err)
	}
	if report.Participants, err = w.set.Participants.DeleteBySession(ctx, sess.ID); err != nil {
		return report, fmt.Errorf("delete participants: %w", err)
	}
	if err := w.set.Sessions.Delete(ctx, sess.ID); err != nil {
		return report, fmt.Errorf("delete session: %w", apperr.NotFoundOr(err, "session not found"))
	}

	e := auditlog.Entry(sess, actor.HostID, models.EventSessionPurged, map[string]string{
		"code":         sess.Code,
		"participants": strconv.FormatInt(report.Participants, 10),
		"decisions":    strconv.FormatInt(report.Decisions, 10),
	})
	e.CreatedAt = now
	w.activity.Log(ctx, e)

	w.log.Info("session purged",
		zap.String("session_id", sess.ID.Hex()),
		zap.String("tenant_id", sess.TenantID),
		zap.Int64("participants", report.Participants),
		zap.Int64("decisions", report.Decisions))
	return report, nil
}

func (w *Sweeper) releaseReservation(ctx context.Context, p models.Participant) (bool, error) {
	flipped, err := w.set.Participants.ClearReservation(ctx, p.ID)
	if err != nil {
		return false, fmt.Errorf("clear reservation: %w", err)
	}
	if !flipped {
		return false, nil
	}
	if err := w.set.Quotas.Release(ctx, p.TenantID, w.clock.Now()); err != nil {
		return true, fmt.Errorf("release no-expiry slot: %w", err)
	}
	return true, nil
}
