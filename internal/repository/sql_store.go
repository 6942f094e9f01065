package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/vanshika/iou/backend/internal/domain"
)

const uniqueViolation = "23505"

// SQLStore persists entities in PostgreSQL through database/sql.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// OpenPostgres opens a pgx-backed connection pool and verifies it.
func OpenPostgres(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

const (
	userColumns         = `id, phone, display_name, pin_hash, created_at`
	iouColumns          = `id, from_user_id, to_user_id, to_phone, to_name, description, photo_url, status, share_token, created_at, repaid_at`
	notificationColumns = `id, user_id, iou_id, type, message, created_at, acknowledged_at`
)

const (
	insertUserSQL = `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5)`
	selectUserByIDSQL    = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	selectUserByPhoneSQL = `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	setInitialPinSQL     = `UPDATE users SET pin_hash = $2 WHERE id = $1 AND pin_hash IS NULL`
	updatePinSQL         = `UPDATE users SET pin_hash = $2 WHERE id = $1`

	insertIOUSQL = `
		INSERT INTO ious (` + iouColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	selectIOUByIDSQL    = `SELECT ` + iouColumns + ` FROM ious WHERE id = $1`
	selectIOUByTokenSQL = `SELECT ` + iouColumns + ` FROM ious WHERE share_token = $1`
	listIOUsFromSQL     = `
		SELECT ` + iouColumns + ` FROM ious
		WHERE from_user_id = $1
		ORDER BY created_at DESC, id DESC`
	listIOUsToSQL = `
		SELECT ` + iouColumns + ` FROM ious
		WHERE to_user_id = $1
		ORDER BY created_at DESC, id DESC`
	listUnlinkedByPhoneSQL = `
		SELECT ` + iouColumns + ` FROM ious
		WHERE to_phone = $1 AND to_user_id IS NULL
		ORDER BY created_at DESC, id DESC`
	linkByPhoneSQL = `
		UPDATE ious SET to_user_id = $2
		WHERE to_phone = $1 AND to_user_id IS NULL AND from_user_id <> $2`
	claimIOUSQL = `
		UPDATE ious SET to_user_id = $2
		WHERE id = $1 AND to_user_id IS NULL AND from_user_id <> $2
		RETURNING id`
	markRepaidSQL = `
		UPDATE ious SET status = 'repaid', repaid_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING id`

	insertArchiveSQL = `
		INSERT INTO archives (id, user_id, iou_id, archived_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, iou_id) DO NOTHING`
	deleteArchiveSQL = `DELETE FROM archives WHERE user_id = $1 AND iou_id = $2`
	listArchivesSQL  = `
		SELECT id, user_id, iou_id, archived_at FROM archives
		WHERE user_id = $1
		ORDER BY archived_at DESC, id DESC`

	insertNotificationSQL = `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	ackNotificationSQL = `
		UPDATE notifications SET acknowledged_at = COALESCE(acknowledged_at, $3)
		WHERE id = $1 AND user_id = $2`
	ackAllNotificationsSQL = `
		UPDATE notifications SET acknowledged_at = $2
		WHERE user_id = $1 AND acknowledged_at IS NULL`
	listUnackedSQL = `
		SELECT ` + notificationColumns + ` FROM notifications
		WHERE user_id = $1 AND acknowledged_at IS NULL
		ORDER BY created_at DESC, id DESC`
)

func (s *SQLStore) CreateUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx, insertUserSQL, u.ID, u.Phone, u.DisplayName, nullString(u.PinHash), u.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return domain.Conflict("phone already registered")
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return s.getUser(ctx, selectUserByIDSQL, id)
}

func (s *SQLStore) GetUserByPhone(ctx context.Context, phone string) (domain.User, error) {
	return s.getUser(ctx, selectUserByPhoneSQL, phone)
}

func (s *SQLStore) getUser(ctx context.Context, query, arg string) (domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (s *SQLStore) SetInitialPinHash(ctx context.Context, userID, hash string) (bool, error) {
	n, err := s.execAffected(ctx, setInitialPinSQL, userID, hash)
	if err != nil {
		return false, fmt.Errorf("set initial pin: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) UpdatePinHash(ctx context.Context, userID, hash string) error {
	n, err := s.execAffected(ctx, updatePinSQL, userID, hash)
	if err != nil {
		return fmt.Errorf("update pin: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLStore) CreateIOU(ctx context.Context, i domain.IOU) error {
	_, err := s.db.ExecContext(ctx, insertIOUSQL,
		i.ID, i.FromUserID, nullString(i.ToUserID), nullString(i.ToPhone), nullString(i.ToName),
		nullString(i.Description), nullString(i.PhotoURL), string(i.Status), i.ShareToken,
		i.CreatedAt.UTC(), nullTime(i.RepaidAt),
	)
	if isUniqueViolation(err) {
		return domain.Conflict("iou already exists")
	}
	if err != nil {
		return fmt.Errorf("insert iou: %w", err)
	}
	return nil
}

func (s *SQLStore) GetIOU(ctx context.Context, id string) (domain.IOU, error) {
	return s.getIOU(ctx, selectIOUByIDSQL, id)
}

func (s *SQLStore) GetIOUByShareToken(ctx context.Context, token string) (domain.IOU, error) {
	return s.getIOU(ctx, selectIOUByTokenSQL, token)
}

func (s *SQLStore) getIOU(ctx context.Context, query, arg string) (domain.IOU, error) {
	i, err := scanIOU(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IOU{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.IOU{}, fmt.Errorf("select iou: %w", err)
	}
	return i, nil
}

func (s *SQLStore) ListIOUsFrom(ctx context.Context, userID string) ([]domain.IOU, error) {
	return s.listIOUs(ctx, listIOUsFromSQL, userID)
}

func (s *SQLStore) ListIOUsTo(ctx context.Context, userID string) ([]domain.IOU, error) {
	return s.listIOUs(ctx, listIOUsToSQL, userID)
}

func (s *SQLStore) ListUnlinkedIOUsByPhone(ctx context.Context, phone string) ([]domain.IOU, error) {
	return s.listIOUs(ctx, listUnlinkedByPhoneSQL, phone)
}

func (s *SQLStore) listIOUs(ctx context.Context, query, arg string) ([]domain.IOU, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list ious query: %w", err)
	}
	defer rows.Close()

	out := make([]domain.IOU, 0)
	for rows.Next() {
		i, err := scanIOU(rows)
		if err != nil {
			return nil, fmt.Errorf("scan iou: %w", err)
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ious: %w", err)
	}
	return out, nil
}

func (s *SQLStore) LinkIOUsByPhone(ctx context.Context, phone, userID string) (int64, error) {
	n, err := s.execAffected(ctx, linkByPhoneSQL, phone, userID)
	if err != nil {
		return 0, fmt.Errorf("link ious by phone: %w", err)
	}
	return n, nil
}

func (s *SQLStore) ClaimIOU(ctx context.Context, iouID, userID string) (bool, error) {
	return s.returningID(ctx, "claim iou", claimIOUSQL, iouID, userID)
}

func (s *SQLStore) MarkIOURepaid(ctx context.Context, iouID string, at time.Time) (bool, error) {
	return s.returningID(ctx, "mark iou repaid", markRepaidSQL, iouID, at.UTC())
}

func (s *SQLStore) returningID(ctx context.Context, op, query string, args ...any) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (s *SQLStore) ArchiveIOU(ctx context.Context, a domain.Archive) error {
	if _, err := s.db.ExecContext(ctx, insertArchiveSQL, a.ID, a.UserID, a.IOUID, a.ArchivedAt.UTC()); err != nil {
		return fmt.Errorf("insert archive: %w", err)
	}
	return nil
}

func (s *SQLStore) UnarchiveIOU(ctx context.Context, userID, iouID string) error {
	if _, err := s.db.ExecContext(ctx, deleteArchiveSQL, userID, iouID); err != nil {
		return fmt.Errorf("delete archive: %w", err)
	}
	return nil
}

func (s *SQLStore) ListArchives(ctx context.Context, userID string) ([]domain.Archive, error) {
	rows, err := s.db.QueryContext(ctx, listArchivesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("list archives query: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Archive, 0)
	for rows.Next() {
		var a domain.Archive
		if err := rows.Scan(&a.ID, &a.UserID, &a.IOUID, &a.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scan archive: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	return out, nil
}

func (s *SQLStore) CreateNotification(ctx context.Context, n domain.Notification) error {
	_, err := s.db.ExecContext(ctx, insertNotificationSQL,
		n.ID, n.UserID, n.IOUID, string(n.Type), n.Message, n.CreatedAt.UTC(), nullTime(n.AcknowledgedAt),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *SQLStore) AcknowledgeNotification(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	n, err := s.execAffected(ctx, ackNotificationSQL, id, userID, at.UTC())
	if err != nil {
		return false, fmt.Errorf("acknowledge notification: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) AcknowledgeAllNotifications(ctx context.Context, userID string, at time.Time) (int64, error) {
	n, err := s.execAffected(ctx, ackAllNotificationsSQL, userID, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("acknowledge notifications: %w", err)
	}
	return n, nil
}

func (s *SQLStore) ListUnacknowledgedNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	rows, err := s.db.QueryContext(ctx, listUnackedSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications query: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Notification, 0)
	for rows.Next() {
		var (
			n     domain.Notification
			typ   string
			ackAt sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.IOUID, &typ, &n.Message, &n.CreatedAt, &ackAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = domain.NotificationType(typ)
		n.AcknowledgedAt = timePtr(ackAt)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

func (s *SQLStore) execAffected(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (domain.User, error) {
	var (
		u       domain.User
		pinHash sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Phone, &u.DisplayName, &pinHash, &u.CreatedAt); err != nil {
		return domain.User{}, err
	}
	u.PinHash = stringPtr(pinHash)
	return u, nil
}

func scanIOU(row scanner) (domain.IOU, error) {
	var (
		i                                    domain.IOU
		toUserID, toPhone, toName, desc, url sql.NullString
		status                               string
		repaidAt                             sql.NullTime
	)
	if err := row.Scan(&i.ID, &i.FromUserID, &toUserID, &toPhone, &toName, &desc, &url, &status, &i.ShareToken, &i.CreatedAt, &repaidAt); err != nil {
		return domain.IOU{}, err
	}
	i.ToUserID = stringPtr(toUserID)
	i.ToPhone = stringPtr(toPhone)
	i.ToName = stringPtr(toName)
	i.Description = stringPtr(desc)
	i.PhotoURL = stringPtr(url)
	i.Status = domain.IOUStatus(status)
	i.RepaidAt = timePtr(repaidAt)
	return i, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}
