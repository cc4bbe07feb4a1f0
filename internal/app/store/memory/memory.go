// Package memory implements the store interfaces in process memory.
//
// It backs the service tests and the store_backend=memory mode used for
// local development and single-instance demos. All repositories share one
// mutex, so every method is atomic with respect to every other.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dalemusser/liveplay/internal/app/store"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store holds every collection.
type Store struct {
	mu sync.Mutex

	sessions     map[primitive.ObjectID]models.Session
	participants map[primitive.ObjectID]models.Participant
	decisions    map[primitive.ObjectID]models.Decision
	votes        map[voteKey]models.Vote
	definitions  map[primitive.ObjectID]models.RoleDefinition
	assignments  map[primitive.ObjectID]models.RoleAssignment
	activity     []models.ActivityLogEntry
	quotas       map[string]int
}

type voteKey struct {
	decision    primitive.ObjectID
	participant primitive.ObjectID
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions:     make(map[primitive.ObjectID]models.Session),
		participants: make(map[primitive.ObjectID]models.Participant),
		decisions:    make(map[primitive.ObjectID]models.Decision),
		votes:        make(map[voteKey]models.Vote),
		definitions:  make(map[primitive.ObjectID]models.RoleDefinition),
		assignments:  make(map[primitive.ObjectID]models.RoleAssignment),
		quotas:       make(map[string]int),
	}
}

// Set returns the repositories backed by s.
func (s *Store) Set() store.Set {
	return store.Set{
		Sessions:     sessionRepo{s},
		Participants: participantRepo{s},
		Decisions:    decisionRepo{s},
		Roles:        roleRepo{s},
		Activity:     activityRepo{s},
		Quotas:       quotaRepo{s},
	}
}

func ptr(t time.Time) *time.Time { return &t }

/* -------------------------------- sessions -------------------------------- */

type sessionRepo struct{ s *Store }

func (r sessionRepo) Insert(_ context.Context, sess *models.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.sessions {
		if existing.Code == sess.Code {
			return store.ErrDuplicate
		}
	}
	if sess.ID.IsZero() {
		sess.ID = primitive.NewObjectID()
	}
	r.s.sessions[sess.ID] = *sess
	return nil
}

func (r sessionRepo) Get(_ context.Context, id primitive.ObjectID) (models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return models.Session{}, store.ErrNotFound
	}
	return sess, nil
}

func (r sessionRepo) GetByCode(_ context.Context, code string) (models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sess := range r.s.sessions {
		if sess.Code == code {
			return sess, nil
		}
	}
	return models.Session{}, store.ErrNotFound
}

func (r sessionRepo) ListByHost(_ context.Context, tenantID, hostID string, limit int) ([]models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Session
	for _, sess := range r.s.sessions {
		if sess.TenantID == tenantID && sess.HostID == hostID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r sessionRepo) AdvanceCursor(_ context.Context, id primitive.ObjectID, pos models.Position, now time.Time) (models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return models.Session{}, store.ErrNotFound
	}
	if sess.Status != models.SessionActive || pos.Before(sess.Position()) {
		return models.Session{}, store.ErrConflict
	}
	sess.CurrentStepIndex = pos.Step
	sess.CurrentPhaseIndex = pos.Phase
	sess.UpdatedAt = now
	r.s.sessions[id] = sess
	return sess, nil
}

func (r sessionRepo) UpdateStatus(_ context.Context, id primitive.ObjectID, from, to models.SessionStatus, now time.Time) (models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return models.Session{}, store.ErrNotFound
	}
	if sess.Status != from {
		return models.Session{}, store.ErrConflict
	}
	applySessionStatus(&sess, to, now)
	r.s.sessions[id] = sess
	return sess, nil
}

// applySessionStatus mirrors the Mongo store's stampsFor.
func applySessionStatus(sess *models.Session, to models.SessionStatus, now time.Time) {
	sess.Status = to
	sess.UpdatedAt = now
	switch to {
	case models.SessionPaused:
		sess.PausedAt = ptr(now)
	case models.SessionActive:
		sess.PausedAt = nil
	case models.SessionEnded, models.SessionCancelled:
		sess.EndedAt = ptr(now)
	case models.SessionArchived:
		sess.ArchivedAt = ptr(now)
	}
}

func (r sessionRepo) ReserveSeat(_ context.Context, id primitive.ObjectID, max int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if sess.ParticipantCount >= max {
		return store.ErrLimitReached
	}
	sess.ParticipantCount++
	r.s.sessions[id] = sess
	return nil
}

func (r sessionRepo) ReleaseSeat(_ context.Context, id primitive.ObjectID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if sess.ParticipantCount > 0 {
		sess.ParticipantCount--
		r.s.sessions[id] = sess
	}
	return nil
}

func (r sessionRepo) EndExpired(_ context.Context, now time.Time, limit int) ([]models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Session
	for _, id := range sortedSessionIDs(r.s.sessions) {
		if limit > 0 && len(out) >= limit {
			break
		}
		sess := r.s.sessions[id]
		if sess.Status.Finished() || sess.ExpiresAt == nil || sess.ExpiresAt.After(now) {
			continue
		}
		applySessionStatus(&sess, models.SessionEnded, now)
		r.s.sessions[id] = sess
		out = append(out, sess)
	}
	return out, nil
}

func (r sessionRepo) ArchiveEnded(_ context.Context, cutoff, now time.Time, limit int) ([]models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Session
	for _, id := range sortedSessionIDs(r.s.sessions) {
		if limit > 0 && len(out) >= limit {
			break
		}
		sess := r.s.sessions[id]
		if sess.Status != models.SessionEnded && sess.Status != models.SessionCancelled {
			continue
		}
		if sess.EndedAt == nil || !sess.EndedAt.Before(cutoff) {
			continue
		}
		applySessionStatus(&sess, models.SessionArchived, now)
		r.s.sessions[id] = sess
		out = append(out, sess)
	}
	return out, nil
}

func (r sessionRepo) Delete(_ context.Context, id primitive.ObjectID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.s.sessions, id)
	return nil
}

// sortedSessionIDs gives sweeps a stable order (ObjectIDs sort by creation).
func sortedSessionIDs(m map[primitive.ObjectID]models.Session) []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Hex() < ids[j].Hex() })
	return ids
}

/* ------------------------------ participants ------------------------------ */

type participantRepo struct{ s *Store }

func (r participantRepo) Insert(_ context.Context, p *models.Participant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.participants {
		if existing.Token == p.Token {
			return store.ErrDuplicate
		}
	}
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	r.s.participants[p.ID] = *p
	return nil
}

func (r participantRepo) Get(_ context.Context, id primitive.ObjectID) (models.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[id]
	if !ok {
		return models.Participant{}, store.ErrNotFound
	}
	return p, nil
}

func (r participantRepo) GetByToken(_ context.Context, token string) (models.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.participants {
		if p.Token == token {
			return p, nil
		}
	}
	return models.Participant{}, store.ErrNotFound
}

func (r participantRepo) ListBySession(_ context.Context, sessionID primitive.ObjectID) ([]models.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Participant
	for _, p := range r.s.participants {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func statusIn(s models.ParticipantStatus, set []models.ParticipantStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func applyParticipantStatus(p *models.Participant, to models.ParticipantStatus, reason string, now time.Time) {
	p.Status = to
	if reason != "" {
		p.StatusReason = reason
	}
	switch to {
	case models.ParticipantActive:
		p.DisconnectedAt = nil
	case models.ParticipantDisconnected, models.ParticipantKicked, models.ParticipantBlocked:
		p.DisconnectedAt = ptr(now)
	}
}

func (r participantRepo) UpdateStatus(_ context.Context, id primitive.ObjectID, from []models.ParticipantStatus, to models.ParticipantStatus, reason string, now time.Time) (models.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[id]
	if !ok {
		return models.Participant{}, store.ErrNotFound
	}
	if !statusIn(p.Status, from) {
		return models.Participant{}, store.ErrConflict
	}
	applyParticipantStatus(&p, to, reason, now)
	r.s.participants[id] = p
	return p, nil
}

func (r participantRepo) Touch(_ context.Context, id primitive.ObjectID, status models.ParticipantStatus, seenAt, activityAt time.Time) (models.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[id]
	if !ok {
		return models.Participant{}, store.ErrNotFound
	}
	if !p.Status.Present() {
		return models.Participant{}, store.ErrConflict
	}
	p.Status = status
	p.LastSeenAt = seenAt
	p.LastActivityAt = activityAt
	r.s.participants[id] = p
	return p, nil
}

func (r participantRepo) SetRole(_ context.Context, id primitive.ObjectID, role models.ParticipantRole) (models.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[id]
	if !ok {
		return models.Participant{}, store.ErrNotFound
	}
	if p.Status.Rejected() {
		return models.Participant{}, store.ErrConflict
	}
	p.Role = role
	r.s.participants[id] = p
	return p, nil
}

func (r participantRepo) Approve(_ context.Context, id primitive.ObjectID) (models.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[id]
	if !ok {
		return models.Participant{}, store.ErrNotFound
	}
	if !p.PendingApproval || p.Status.Rejected() {
		return models.Participant{}, store.ErrConflict
	}
	p.PendingApproval = false
	r.s.participants[id] = p
	return p, nil
}

func (r participantRepo) ExtendToken(_ context.Context, id primitive.ObjectID, prev, next time.Time) (models.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[id]
	if !ok {
		return models.Participant{}, store.ErrNotFound
	}
	if p.Status.Rejected() || p.TokenExpiresAt == nil || !p.TokenExpiresAt.Equal(prev) {
		return models.Participant{}, store.ErrConflict
	}
	p.TokenExpiresAt = ptr(next)
	r.s.participants[id] = p
	return p, nil
}

func (r participantRepo) RevokeToken(_ context.Context, id primitive.ObjectID, reason string, now time.Time) (models.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[id]
	if !ok {
		return models.Participant{}, store.ErrNotFound
	}
	if p.Status.Rejected() || (p.Status == models.ParticipantDisconnected && p.TokenExpired(now)) {
		return models.Participant{}, store.ErrConflict
	}
	if !p.TokenExpired(now) {
		p.TokenExpiresAt = ptr(now)
	}
	applyParticipantStatus(&p, models.ParticipantDisconnected, reason, now)
	r.s.participants[id] = p
	return p, nil
}

func (r participantRepo) ClearReservation(_ context.Context, id primitive.ObjectID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[id]
	if !ok || !p.NoExpiryReserved {
		return false, nil
	}
	p.NoExpiryReserved = false
	r.s.participants[id] = p
	return true, nil
}

func (r participantRepo) disconnectWhere(match func(models.Participant) bool, reason string, now time.Time, limit int) []models.Participant {
	ids := make([]primitive.ObjectID, 0, len(r.s.participants))
	for id := range r.s.participants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Hex() < ids[j].Hex() })

	var out []models.Participant
	for _, id := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		p := r.s.participants[id]
		if !p.Status.Present() || !match(p) {
			continue
		}
		applyParticipantStatus(&p, models.ParticipantDisconnected, reason, now)
		r.s.participants[id] = p
		out = append(out, p)
	}
	return out
}

func (r participantRepo) ExpireTokens(_ context.Context, now time.Time, limit int) ([]models.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.disconnectWhere(func(p models.Participant) bool {
		return p.TokenExpired(now)
	}, "token_expired", now, limit), nil
}

func (r participantRepo) DisconnectIdle(_ context.Context, cutoff, now time.Time, limit int) ([]models.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.disconnectWhere(func(p models.Participant) bool {
		return p.LastSeenAt.Before(cutoff)
	}, "idle", now, limit), nil
}

func (r participantRepo) DeleteBySession(_ context.Context, sessionID primitive.ObjectID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, p := range r.s.participants {
		if p.SessionID == sessionID {
			delete(r.s.participants, id)
			n++
		}
	}
	return n, nil
}

/* -------------------------------- decisions ------------------------------- */

type decisionRepo struct{ s *Store }

func (r decisionRepo) Insert(_ context.Context, d *models.Decision) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if d.ID.IsZero() {
		d.ID = primitive.NewObjectID()
	}
	r.s.decisions[d.ID] = *d
	return nil
}

func (r decisionRepo) Get(_ context.Context, id primitive.ObjectID) (models.Decision, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.decisions[id]
	if !ok {
		return models.Decision{}, store.ErrNotFound
	}
	return d, nil
}

func (r decisionRepo) ListBySession(_ context.Context, sessionID primitive.ObjectID) ([]models.Decision, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Decision
	for _, d := range r.s.decisions {
		if d.SessionID == sessionID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func applyDecisionStatus(d *models.Decision, to models.DecisionStatus, now time.Time) {
	d.Status = to
	switch to {
	case models.DecisionClosed:
		d.ClosedAt = ptr(now)
	case models.DecisionRevealed:
		if d.ClosedAt == nil {
			d.ClosedAt = ptr(now)
		}
		d.RevealedAt = ptr(now)
	}
}

func (r decisionRepo) UpdateStatus(_ context.Context, id primitive.ObjectID, from []models.DecisionStatus, to models.DecisionStatus, now time.Time) (models.Decision, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.decisions[id]
	if !ok {
		return models.Decision{}, store.ErrNotFound
	}
	matched := false
	for _, f := range from {
		if d.Status == f {
			matched = true
		}
	}
	if !matched {
		return models.Decision{}, store.ErrConflict
	}
	applyDecisionStatus(&d, to, now)
	r.s.decisions[id] = d
	return d, nil
}

func (r decisionRepo) CloseElapsed(_ context.Context, now time.Time, limit int) ([]models.Decision, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Decision
	for id, d := range r.s.decisions {
		if limit > 0 && len(out) >= limit {
			break
		}
		if d.Status != models.DecisionOpen || d.ClosesAt == nil || d.ClosesAt.After(now) {
			continue
		}
		applyDecisionStatus(&d, models.DecisionClosed, now)
		r.s.decisions[id] = d
		out = append(out, d)
	}
	return out, nil
}

func (r decisionRepo) UpsertVote(_ context.Context, v *models.Vote) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := voteKey{v.DecisionID, v.ParticipantID}
	if old, ok := r.s.votes[k]; ok {
		v.ID = old.ID
	} else if v.ID.IsZero() {
		v.ID = primitive.NewObjectID()
	}
	r.s.votes[k] = *v
	return nil
}

func (r decisionRepo) GetVote(_ context.Context, decisionID, participantID primitive.ObjectID) (models.Vote, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.votes[voteKey{decisionID, participantID}]
	if !ok {
		return models.Vote{}, store.ErrNotFound
	}
	return v, nil
}

func (r decisionRepo) Tally(_ context.Context, decisionID primitive.ObjectID, until *time.Time) (map[string]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := make(map[string]int)
	for k, v := range r.s.votes {
		if k.decision != decisionID {
			continue
		}
		if until != nil && v.CastAt.After(*until) {
			continue
		}
		counts[v.OptionKey]++
	}
	return counts, nil
}

// VoteCount returns the number of vote rows for a decision.
func (s *Store) VoteCount(decisionID primitive.ObjectID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.votes {
		if k.decision == decisionID {
			n++
		}
	}
	return n
}

func (r decisionRepo) DeleteBySession(_ context.Context, sessionID primitive.ObjectID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, v := range r.s.votes {
		if v.SessionID == sessionID {
			delete(r.s.votes, k)
		}
	}
	for id, d := range r.s.decisions {
		if d.SessionID == sessionID {
			delete(r.s.decisions, id)
			n++
		}
	}
	return n, nil
}

/* ---------------------------------- roles --------------------------------- */

type roleRepo struct{ s *Store }

func (r roleRepo) InsertDefinition(_ context.Context, d *models.RoleDefinition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if d.ID.IsZero() {
		d.ID = primitive.NewObjectID()
	}
	r.s.definitions[d.ID] = *d
	return nil
}

func (r roleRepo) GetDefinition(_ context.Context, id primitive.ObjectID) (models.RoleDefinition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.definitions[id]
	if !ok {
		return models.RoleDefinition{}, store.ErrNotFound
	}
	return d, nil
}

func (r roleRepo) ListDefinitions(_ context.Context, sessionID primitive.ObjectID) ([]models.RoleDefinition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.RoleDefinition
	for _, d := range r.s.definitions {
		if d.SessionID == sessionID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out, nil
}

func (r roleRepo) InsertAssignment(_ context.Context, a *models.RoleAssignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.assignments {
		if existing.SessionID == a.SessionID && existing.ParticipantID == a.ParticipantID {
			return store.ErrDuplicate
		}
	}
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	r.s.assignments[a.ID] = *a
	return nil
}

func (r roleRepo) GetAssignment(_ context.Context, sessionID, participantID primitive.ObjectID) (models.RoleAssignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.assignments {
		if a.SessionID == sessionID && a.ParticipantID == participantID {
			return a, nil
		}
	}
	return models.RoleAssignment{}, store.ErrNotFound
}

func (r roleRepo) ListAssignments(_ context.Context, sessionID primitive.ObjectID) ([]models.RoleAssignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.RoleAssignment
	for _, a := range r.s.assignments {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out, nil
}

func (r roleRepo) ReserveSlot(_ context.Context, roleDefinitionID primitive.ObjectID, max int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.definitions[roleDefinitionID]
	if !ok {
		return store.ErrNotFound
	}
	if max > 0 && d.AssignedCount >= max {
		return store.ErrLimitReached
	}
	d.AssignedCount++
	r.s.definitions[roleDefinitionID] = d
	return nil
}

func (r roleRepo) ReleaseSlot(_ context.Context, roleDefinitionID primitive.ObjectID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.definitions[roleDefinitionID]
	if !ok {
		return store.ErrNotFound
	}
	if d.AssignedCount > 0 {
		d.AssignedCount--
		r.s.definitions[roleDefinitionID] = d
	}
	return nil
}

func (r roleRepo) MarkRevealed(_ context.Context, id primitive.ObjectID, now time.Time) (models.RoleAssignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.assignments[id]
	if !ok {
		return models.RoleAssignment{}, store.ErrNotFound
	}
	if a.RevealedAt != nil {
		return models.RoleAssignment{}, store.ErrConflict
	}
	a.RevealedAt = ptr(now)
	r.s.assignments[id] = a
	return a, nil
}

func (r roleRepo) MarkSecretRevealed(_ context.Context, id primitive.ObjectID, now time.Time) (models.RoleAssignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.assignments[id]
	if !ok {
		return models.RoleAssignment{}, store.ErrNotFound
	}
	if a.SecretInstructionsRevealedAt != nil {
		return models.RoleAssignment{}, store.ErrConflict
	}
	a.SecretInstructionsRevealedAt = ptr(now)
	r.s.assignments[id] = a
	return a, nil
}

func (r roleRepo) DeleteBySession(_ context.Context, sessionID primitive.ObjectID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, a := range r.s.assignments {
		if a.SessionID == sessionID {
			delete(r.s.assignments, id)
			n++
		}
	}
	for id, d := range r.s.definitions {
		if d.SessionID == sessionID {
			delete(r.s.definitions, id)
		}
	}
	return n, nil
}

/* -------------------------------- activity -------------------------------- */

type activityRepo struct{ s *Store }

func (r activityRepo) Insert(_ context.Context, e models.ActivityLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e.ID.IsZero() {
		e.ID = primitive.NewObjectID()
	}
	r.s.activity = append(r.s.activity, e)
	return nil
}

func (r activityRepo) InsertMany(_ context.Context, entries []models.ActivityLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range entries {
		if e.ID.IsZero() {
			e.ID = primitive.NewObjectID()
		}
		r.s.activity = append(r.s.activity, e)
	}
	return nil
}

func (r activityRepo) ListBySession(_ context.Context, sessionID primitive.ObjectID, limit int) ([]models.ActivityLogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.ActivityLogEntry
	for i := len(r.s.activity) - 1; i >= 0; i-- {
		e := r.s.activity[i]
		if e.SessionID != sessionID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

/* --------------------------------- quotas --------------------------------- */

type quotaRepo struct{ s *Store }

func (r quotaRepo) Reserve(_ context.Context, tenantID string, limit int, _ time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.quotas[tenantID] >= limit {
		return store.ErrLimitReached
	}
	r.s.quotas[tenantID]++
	return nil
}

func (r quotaRepo) Release(_ context.Context, tenantID string, _ time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.quotas[tenantID] > 0 {
		r.s.quotas[tenantID]--
	}
	return nil
}

func (r quotaRepo) Outstanding(_ context.Context, tenantID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.quotas[tenantID], nil
}
