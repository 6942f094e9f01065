package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vanshika/iou/backend/internal/domain"
)

// MemoryStore keeps every entity in process memory. It backs tests and the
// "memory" store driver, and applies the same conditional-write rules as the
// database stores under a single mutex.
type MemoryStore struct {
	mu            sync.RWMutex
	seq           int64
	users         map[string]domain.User
	userByPhone   map[string]string
	ious          map[string]memIOU
	iouByToken    map[string]string
	archives      map[archiveKey]memArchive
	notifications map[string]memNotification
}

type memIOU struct {
	iou domain.IOU
	seq int64
}

type memArchive struct {
	archive domain.Archive
	seq     int64
}

type memNotification struct {
	n   domain.Notification
	seq int64
}

type archiveKey struct {
	userID string
	iouID  string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		userByPhone:   make(map[string]string),
		ious:          make(map[string]memIOU),
		iouByToken:    make(map[string]string),
		archives:      make(map[archiveKey]memArchive),
		notifications: make(map[string]memNotification),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) next() int64 {
	s.seq++
	return s.seq
}

func (s *MemoryStore) CreateUser(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.userByPhone[user.Phone]; ok {
		return domain.Conflict("phone already registered")
	}
	if _, ok := s.users[user.ID]; ok {
		return domain.Conflict("user id already exists")
	}
	s.users[user.ID] = cloneUser(user)
	s.userByPhone[user.Phone] = user.ID
	return nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) GetUserByPhone(_ context.Context, phone string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.userByPhone[phone]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *MemoryStore) SetInitialPinHash(_ context.Context, userID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok || u.PinHash != nil {
		return false, nil
	}
	u.PinHash = &hash
	s.users[userID] = u
	return true, nil
}

func (s *MemoryStore) UpdatePinHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.PinHash = &hash
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) CreateIOU(_ context.Context, iou domain.IOU) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ious[iou.ID]; ok {
		return domain.Conflict("iou already exists")
	}
	if _, ok := s.iouByToken[iou.ShareToken]; ok {
		return domain.Conflict("share token already exists")
	}
	s.ious[iou.ID] = memIOU{iou: cloneIOU(iou), seq: s.next()}
	s.iouByToken[iou.ShareToken] = iou.ID
	return nil
}

func (s *MemoryStore) GetIOU(_ context.Context, id string) (domain.IOU, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.ious[id]
	if !ok {
		return domain.IOU{}, domain.ErrNotFound
	}
	return cloneIOU(row.iou), nil
}

func (s *MemoryStore) GetIOUByShareToken(_ context.Context, token string) (domain.IOU, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.iouByToken[token]
	if !ok {
		return domain.IOU{}, domain.ErrNotFound
	}
	return cloneIOU(s.ious[id].iou), nil
}

func (s *MemoryStore) ListIOUsFrom(_ context.Context, userID string) ([]domain.IOU, error) {
	return s.filterIOUs(func(i domain.IOU) bool { return i.FromUserID == userID }), nil
}

func (s *MemoryStore) ListIOUsTo(_ context.Context, userID string) ([]domain.IOU, error) {
	return s.filterIOUs(func(i domain.IOU) bool {
		return i.ToUserID != nil && *i.ToUserID == userID
	}), nil
}

func (s *MemoryStore) ListUnlinkedIOUsByPhone(_ context.Context, phone string) ([]domain.IOU, error) {
	return s.filterIOUs(func(i domain.IOU) bool {
		return i.ToUserID == nil && i.ToPhone != nil && *i.ToPhone == phone
	}), nil
}

func (s *MemoryStore) filterIOUs(keep func(domain.IOU) bool) []domain.IOU {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]memIOU, 0)
	for _, row := range s.ious {
		if keep(row.iou) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(a, b int) bool {
		ta, tb := rows[a].iou.CreatedAt, rows[b].iou.CreatedAt
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return rows[a].seq > rows[b].seq
	})

	out := make([]domain.IOU, len(rows))
	for i, row := range rows {
		out[i] = cloneIOU(row.iou)
	}
	return out
}

func (s *MemoryStore) LinkIOUsByPhone(_ context.Context, phone, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var linked int64
	for id, row := range s.ious {
		i := row.iou
		if i.ToUserID != nil || i.ToPhone == nil || *i.ToPhone != phone || i.FromUserID == userID {
			continue
		}
		uid := userID
		row.iou.ToUserID = &uid
		s.ious[id] = row
		linked++
	}
	return linked, nil
}

func (s *MemoryStore) ClaimIOU(_ context.Context, iouID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.ious[iouID]
	if !ok || row.iou.ToUserID != nil {
		return false, nil
	}
	uid := userID
	row.iou.ToUserID = &uid
	s.ious[iouID] = row
	return true, nil
}

func (s *MemoryStore) MarkIOURepaid(_ context.Context, iouID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.ious[iouID]
	if !ok || row.iou.Status != domain.StatusPending {
		return false, nil
	}
	repaidAt := at
	row.iou.Status = domain.StatusRepaid
	row.iou.RepaidAt = &repaidAt
	s.ious[iouID] = row
	return true, nil
}

func (s *MemoryStore) ArchiveIOU(_ context.Context, archive domain.Archive) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := archiveKey{userID: archive.UserID, iouID: archive.IOUID}
	if _, ok := s.archives[key]; ok {
		return nil
	}
	s.archives[key] = memArchive{archive: archive, seq: s.next()}
	return nil
}

func (s *MemoryStore) UnarchiveIOU(_ context.Context, userID, iouID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.archives, archiveKey{userID: userID, iouID: iouID})
	return nil
}

func (s *MemoryStore) ListArchives(_ context.Context, userID string) ([]domain.Archive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]memArchive, 0)
	for key, row := range s.archives {
		if key.userID == userID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(a, b int) bool {
		ta, tb := rows[a].archive.ArchivedAt, rows[b].archive.ArchivedAt
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return rows[a].seq > rows[b].seq
	})

	out := make([]domain.Archive, len(rows))
	for i, row := range rows {
		out[i] = row.archive
	}
	return out, nil
}

func (s *MemoryStore) CreateNotification(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notifications[n.ID]; ok {
		return domain.Conflict("notification already exists")
	}
	s.notifications[n.ID] = memNotification{n: cloneNotification(n), seq: s.next()}
	return nil
}

func (s *MemoryStore) AcknowledgeNotification(_ context.Context, id, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.notifications[id]
	if !ok || row.n.UserID != userID {
		return false, nil
	}
	if row.n.AcknowledgedAt == nil {
		ackAt := at
		row.n.AcknowledgedAt = &ackAt
		s.notifications[id] = row
	}
	return true, nil
}

func (s *MemoryStore) AcknowledgeAllNotifications(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, row := range s.notifications {
		if row.n.UserID != userID || row.n.AcknowledgedAt != nil {
			continue
		}
		ackAt := at
		row.n.AcknowledgedAt = &ackAt
		s.notifications[id] = row
		count++
	}
	return count, nil
}

func (s *MemoryStore) ListUnacknowledgedNotifications(_ context.Context, userID string) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]memNotification, 0)
	for _, row := range s.notifications {
		if row.n.UserID == userID && row.n.AcknowledgedAt == nil {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(a, b int) bool {
		ta, tb := rows[a].n.CreatedAt, rows[b].n.CreatedAt
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return rows[a].seq > rows[b].seq
	})

	out := make([]domain.Notification, len(rows))
	for i, row := range rows {
		out[i] = cloneNotification(row.n)
	}
	return out, nil
}

func cloneUser(u domain.User) domain.User {
	u.PinHash = cloneString(u.PinHash)
	return u
}

func cloneIOU(i domain.IOU) domain.IOU {
	i.ToUserID = cloneString(i.ToUserID)
	i.ToPhone = cloneString(i.ToPhone)
	i.ToName = cloneString(i.ToName)
	i.Description = cloneString(i.Description)
	i.PhotoURL = cloneString(i.PhotoURL)
	i.RepaidAt = cloneTime(i.RepaidAt)
	return i
}

func cloneNotification(n domain.Notification) domain.Notification {
	n.AcknowledgedAt = cloneTime(n.AcknowledgedAt)
	return n
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
