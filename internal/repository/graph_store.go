package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/vanshika/iou/backend/internal/domain"
	"github.com/vanshika/iou/backend/internal/graph"
)

// GraphStore persists entities as a Neo4j graph:
//
//	(:User)-[:ISSUED]->(:IOU)-[:OWED_BY]->(:User)
//	(:User)-[:ARCHIVED]->(:IOU)
//	(:User)-[:HAS_NOTIFICATION]->(:Notification)-[:ABOUT]->(:IOU)
//
// Conditional writes bump the node's version property before testing their
// predicate. The write takes the node lock, so a concurrent transaction that
// already changed the node is visible by the time the predicate runs.
type GraphStore struct {
	client graph.Client
}

// NewGraphStore instantiates a GraphStore backed by the supplied graph client.
func NewGraphStore(client graph.Client) *GraphStore {
	return &GraphStore{client: client}
}

const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

var schemaStatements = []string{
	`CREATE CONSTRAINT user_id IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`,
	`CREATE CONSTRAINT user_phone IF NOT EXISTS FOR (u:User) REQUIRE u.phone IS UNIQUE`,
	`CREATE CONSTRAINT iou_id IF NOT EXISTS FOR (i:IOU) REQUIRE i.id IS UNIQUE`,
	`CREATE CONSTRAINT iou_share_token IF NOT EXISTS FOR (i:IOU) REQUIRE i.shareToken IS UNIQUE`,
	`CREATE CONSTRAINT notification_id IF NOT EXISTS FOR (n:Notification) REQUIRE n.id IS UNIQUE`,
	`CREATE INDEX iou_from_user IF NOT EXISTS FOR (i:IOU) ON (i.fromUserId)`,
	`CREATE INDEX iou_to_user IF NOT EXISTS FOR (i:IOU) ON (i.toUserId)`,
	`CREATE INDEX iou_to_phone IF NOT EXISTS FOR (i:IOU) ON (i.toPhone)`,
	`CREATE INDEX notification_user IF NOT EXISTS FOR (n:Notification) ON (n.userId)`,
}

// EnsureSchema creates the uniqueness constraints and lookup indexes.
func (s *GraphStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.client.ExecuteWrite(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

func (s *GraphStore) Ping(ctx context.Context) error {
	return s.client.VerifyConnectivity(ctx)
}

// Close releases the underlying driver.
func (s *GraphStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func (s *GraphStore) CreateUser(ctx context.Context, u domain.User) error {
	params := map[string]any{
		"phone": u.Phone,
		"props": map[string]any{
			"id":          u.ID,
			"phone":       u.Phone,
			"displayName": u.DisplayName,
			"pinHash":     optional(u.PinHash),
			"createdAt":   graph.FormatTime(u.CreatedAt),
		},
	}
	res, err := s.client.ExecuteWrite(ctx, createUserCypher, params)
	if isConstraintViolation(err) {
		return domain.Conflict("phone already registered")
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if res.Empty() {
		return domain.Conflict("phone already registered")
	}
	return nil
}

func (s *GraphStore) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return s.getUser(ctx, getUserByIDCypher, map[string]any{"id": id})
}

func (s *GraphStore) GetUserByPhone(ctx context.Context, phone string) (domain.User, error) {
	return s.getUser(ctx, getUserByPhoneCypher, map[string]any{"phone": phone})
}

func (s *GraphStore) getUser(ctx context.Context, cypher string, params map[string]any) (domain.User, error) {
	res, err := s.client.ExecuteRead(ctx, cypher, params)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if res.Empty() {
		return domain.User{}, domain.ErrNotFound
	}
	return userFromRecord(res.Records[0]), nil
}

func (s *GraphStore) SetInitialPinHash(ctx context.Context, userID, hash string) (bool, error) {
	res, err := s.client.ExecuteWrite(ctx, setInitialPinCypher, map[string]any{"id": userID, "pinHash": hash})
	if err != nil {
		return false, fmt.Errorf("set initial pin: %w", err)
	}
	return !res.Empty(), nil
}

func (s *GraphStore) UpdatePinHash(ctx context.Context, userID, hash string) error {
	res, err := s.client.ExecuteWrite(ctx, updatePinCypher, map[string]any{"id": userID, "pinHash": hash})
	if err != nil {
		return fmt.Errorf("update pin: %w", err)
	}
	if res.Empty() {
		return domain.ErrNotFound
	}
	return nil
}

func (s *GraphStore) CreateIOU(ctx context.Context, i domain.IOU) error {
	params := map[string]any{
		"fromUserId": i.FromUserID,
		"toUserId":   optional(i.ToUserID),
		"props":      iouProperties(i),
	}
	res, err := s.client.ExecuteWrite(ctx, createIOUCypher, params)
	if isConstraintViolation(err) {
		return domain.Conflict("iou already exists")
	}
	if err != nil {
		return fmt.Errorf("create iou %s: %w", i.ID, err)
	}
	if res.Empty() {
		return fmt.Errorf("create iou %s: creator %s: %w", i.ID, i.FromUserID, domain.ErrNotFound)
	}
	return nil
}

func (s *GraphStore) GetIOU(ctx context.Context, id string) (domain.IOU, error) {
	return s.getIOU(ctx, getIOUCypher, map[string]any{"id": id})
}

func (s *GraphStore) GetIOUByShareToken(ctx context.Context, token string) (domain.IOU, error) {
	return s.getIOU(ctx, getIOUByTokenCypher, map[string]any{"token": token})
}

func (s *GraphStore) getIOU(ctx context.Context, cypher string, params map[string]any) (domain.IOU, error) {
	res, err := s.client.ExecuteRead(ctx, cypher, params)
	if err != nil {
		return domain.IOU{}, fmt.Errorf("get iou: %w", err)
	}
	if res.Empty() {
		return domain.IOU{}, domain.ErrNotFound
	}
	return iouFromRecord(res.Records[0]), nil
}

func (s *GraphStore) ListIOUsFrom(ctx context.Context, userID string) ([]domain.IOU, error) {
	return s.listIOUs(ctx, listIOUsFromCypher, map[string]any{"userId": userID})
}

func (s *GraphStore) ListIOUsTo(ctx context.Context, userID string) ([]domain.IOU, error) {
	return s.listIOUs(ctx, listIOUsToCypher, map[string]any{"userId": userID})
}

func (s *GraphStore) ListUnlinkedIOUsByPhone(ctx context.Context, phone string) ([]domain.IOU, error) {
	return s.listIOUs(ctx, listUnlinkedByPhoneCypher, map[string]any{"phone": phone})
}

func (s *GraphStore) listIOUs(ctx context.Context, cypher string, params map[string]any) ([]domain.IOU, error) {
	res, err := s.client.ExecuteRead(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("list ious query: %w", err)
	}
	out := make([]domain.IOU, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, iouFromRecord(rec))
	}
	return out, nil
}

func (s *GraphStore) LinkIOUsByPhone(ctx context.Context, phone, userID string) (int64, error) {
	res, err := s.client.ExecuteWrite(ctx, linkByPhoneCypher, map[string]any{"phone": phone, "userId": userID})
	if err != nil {
		return 0, fmt.Errorf("link ious by phone: %w", err)
	}
	if res.Empty() {
		return 0, nil
	}
	return res.Records[0].Int("linked"), nil
}

func (s *GraphStore) ClaimIOU(ctx context.Context, iouID, userID string) (bool, error) {
	res, err := s.client.ExecuteWrite(ctx, claimIOUCypher, map[string]any{"id": iouID, "userId": userID})
	if err != nil {
		return false, fmt.Errorf("claim iou: %w", err)
	}
	return !res.Empty(), nil
}

func (s *GraphStore) MarkIOURepaid(ctx context.Context, iouID string, at time.Time) (bool, error) {
	res, err := s.client.ExecuteWrite(ctx, markRepaidCypher, map[string]any{"id": iouID, "repaidAt": graph.FormatTime(at)})
	if err != nil {
		return false, fmt.Errorf("mark iou repaid: %w", err)
	}
	return !res.Empty(), nil
}

func (s *GraphStore) ArchiveIOU(ctx context.Context, a domain.Archive) error {
	params := map[string]any{
		"id":         a.ID,
		"userId":     a.UserID,
		"iouId":      a.IOUID,
		"archivedAt": graph.FormatTime(a.ArchivedAt),
	}
	res, err := s.client.ExecuteWrite(ctx, archiveCypher, params)
	if err != nil {
		return fmt.Errorf("archive iou: %w", err)
	}
	if res.Empty() {
		return domain.ErrNotFound
	}
	return nil
}

func (s *GraphStore) UnarchiveIOU(ctx context.Context, userID, iouID string) error {
	if _, err := s.client.ExecuteWrite(ctx, unarchiveCypher, map[string]any{"userId": userID, "iouId": iouID}); err != nil {
		return fmt.Errorf("unarchive iou: %w", err)
	}
	return nil
}

func (s *GraphStore) ListArchives(ctx context.Context, userID string) ([]domain.Archive, error) {
	res, err := s.client.ExecuteRead(ctx, listArchivesCypher, map[string]any{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("list archives query: %w", err)
	}
	out := make([]domain.Archive, 0, len(res.Records))
	for _, rec := range res.Records {
		a := domain.Archive{
			ID:     rec.String("id"),
			UserID: userID,
			IOUID:  rec.String("iouId"),
		}
		if t := rec.Time("archivedAt"); t != nil {
			a.ArchivedAt = *t
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *GraphStore) CreateNotification(ctx context.Context, n domain.Notification) error {
	params := map[string]any{
		"userId": n.UserID,
		"iouId":  n.IOUID,
		"props": map[string]any{
			"id":             n.ID,
			"userId":         n.UserID,
			"iouId":          n.IOUID,
			"type":           string(n.Type),
			"message":        n.Message,
			"createdAt":      graph.FormatTime(n.CreatedAt),
			"acknowledgedAt": optionalTime(n.AcknowledgedAt),
		},
	}
	res, err := s.client.ExecuteWrite(ctx, createNotificationCypher, params)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	if res.Empty() {
		return fmt.Errorf("create notification for %s: %w", n.UserID, domain.ErrNotFound)
	}
	return nil
}

func (s *GraphStore) AcknowledgeNotification(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	params := map[string]any{"id": id, "userId": userID, "at": graph.FormatTime(at)}
	res, err := s.client.ExecuteWrite(ctx, ackNotificationCypher, params)
	if err != nil {
		return false, fmt.Errorf("acknowledge notification: %w", err)
	}
	return !res.Empty(), nil
}

func (s *GraphStore) AcknowledgeAllNotifications(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := s.client.ExecuteWrite(ctx, ackAllNotificationsCypher, map[string]any{"userId": userID, "at": graph.FormatTime(at)})
	if err != nil {
		return 0, fmt.Errorf("acknowledge notifications: %w", err)
	}
	if res.Empty() {
		return 0, nil
	}
	return res.Records[0].Int("acknowledged"), nil
}

func (s *GraphStore) ListUnacknowledgedNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	res, err := s.client.ExecuteRead(ctx, listUnackedCypher, map[string]any{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("list notifications query: %w", err)
	}
	out := make([]domain.Notification, 0, len(res.Records))
	for _, rec := range res.Records {
		n := domain.Notification{
			ID:             rec.String("id"),
			UserID:         rec.String("userId"),
			IOUID:          rec.String("iouId"),
			Type:           domain.NotificationType(rec.String("type")),
			Message:        rec.String("message"),
			AcknowledgedAt: rec.Time("acknowledgedAt"),
		}
		if t := rec.Time("createdAt"); t != nil {
			n.CreatedAt = *t
		}
		out = append(out, n)
	}
	return out, nil
}

func iouProperties(i domain.IOU) map[string]any {
	return map[string]any{
		"id":          i.ID,
		"fromUserId":  i.FromUserID,
		"toUserId":    optional(i.ToUserID),
		"toPhone":     optional(i.ToPhone),
		"toName":      optional(i.ToName),
		"description": optional(i.Description),
		"photoUrl":    optional(i.PhotoURL),
		"status":      string(i.Status),
		"shareToken":  i.ShareToken,
		"createdAt":   graph.FormatTime(i.CreatedAt),
		"repaidAt":    optionalTime(i.RepaidAt),
		"version":     int64(0),
	}
}

func userFromRecord(rec graph.Record) domain.User {
	u := domain.User{
		ID:          rec.String("id"),
		Phone:       rec.String("phone"),
		DisplayName: rec.String("displayName"),
		PinHash:     rec.OptString("pinHash"),
	}
	if t := rec.Time("createdAt"); t != nil {
		u.CreatedAt = *t
	}
	return u
}

func iouFromRecord(rec graph.Record) domain.IOU {
	i := domain.IOU{
		ID:          rec.String("id"),
		FromUserID:  rec.String("fromUserId"),
		ToUserID:    rec.OptString("toUserId"),
		ToPhone:     rec.OptString("toPhone"),
		ToName:      rec.OptString("toName"),
		Description: rec.OptString("description"),
		PhotoURL:    rec.OptString("photoUrl"),
		Status:      domain.IOUStatus(rec.String("status")),
		ShareToken:  rec.String("shareToken"),
		RepaidAt:    rec.Time("repaidAt"),
	}
	if t := rec.Time("createdAt"); t != nil {
		i.CreatedAt = *t
	}
	return i
}

// optional maps nil to a Cypher null, which SET treats as property removal.
func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return graph.FormatTime(*t)
}

func isConstraintViolation(err error) bool {
	var neoErr *neo4j.Neo4jError
	return errors.As(err, &neoErr) && neoErr.Code == constraintViolation
}

const userProjection = `
RETURN u.id AS id, u.phone AS phone, u.displayName AS displayName,
       u.pinHash AS pinHash, u.createdAt AS createdAt`

const iouProjection = `
RETURN i.id AS id, i.fromUserId AS fromUserId, i.toUserId AS toUserId,
       i.toPhone AS toPhone, i.toName AS toName, i.description AS description,
       i.photoUrl AS photoUrl, i.status AS status, i.shareToken AS shareToken,
       i.createdAt AS createdAt, i.repaidAt AS repaidAt`

const createUserCypher = `
OPTIONAL MATCH (existing:User {phone: $phone})
WITH existing
WHERE existing IS NULL
CREATE (u:User)
SET u = $props
RETURN u.id AS id
`

const getUserByIDCypher = `
MATCH (u:User {id: $id})` + userProjection

const getUserByPhoneCypher = `
MATCH (u:User {phone: $phone})` + userProjection

const setInitialPinCypher = `
MATCH (u:User {id: $id})
SET u.version = coalesce(u.version, 0) + 1
WITH u
WHERE u.pinHash IS NULL
SET u.pinHash = $pinHash
RETURN u.id AS id
`

const updatePinCypher = `
MATCH (u:User {id: $id})
SET u.pinHash = $pinHash, u.version = coalesce(u.version, 0) + 1
RETURN u.id AS id
`

const createIOUCypher = `
MATCH (from:User {id: $fromUserId})
CREATE (i:IOU)
SET i = $props
CREATE (from)-[:ISSUED]->(i)
WITH i
OPTIONAL MATCH (to:User {id: $toUserId})
FOREACH (_ IN CASE WHEN to IS NULL THEN [] ELSE [1] END |
	CREATE (i)-[:OWED_BY]->(to)
)
RETURN i.id AS id
`

const getIOUCypher = `
MATCH (i:IOU {id: $id})` + iouProjection

const getIOUByTokenCypher = `
MATCH (i:IOU {shareToken: $token})` + iouProjection

const listIOUsFromCypher = `
MATCH (i:IOU {fromUserId: $userId})` + iouProjection + `
ORDER BY i.createdAt DESC, i.id DESC
`

const listIOUsToCypher = `
MATCH (i:IOU {toUserId: $userId})` + iouProjection + `
ORDER BY i.createdAt DESC, i.id DESC
`

const listUnlinkedByPhoneCypher = `
MATCH (i:IOU {toPhone: $phone})
WHERE i.toUserId IS NULL` + iouProjection + `
ORDER BY i.createdAt DESC, i.id DESC
`

const linkByPhoneCypher = `
MATCH (u:User {id: $userId})
MATCH (i:IOU {toPhone: $phone})
WHERE i.fromUserId <> $userId
SET i.version = coalesce(i.version, 0) + 1
WITH u, i
WHERE i.toUserId IS NULL
SET i.toUserId = $userId
CREATE (i)-[:OWED_BY]->(u)
RETURN count(i) AS linked
`

const claimIOUCypher = `
MATCH (i:IOU {id: $id})
SET i.version = coalesce(i.version, 0) + 1
WITH i
WHERE i.toUserId IS NULL AND i.fromUserId <> $userId
MATCH (u:User {id: $userId})
SET i.toUserId = $userId
CREATE (i)-[:OWED_BY]->(u)
RETURN i.id AS id
`

const markRepaidCypher = `
MATCH (i:IOU {id: $id})
SET i.version = coalesce(i.version, 0) + 1
WITH i
WHERE i.status = 'pending'
SET i.status = 'repaid', i.repaidAt = $repaidAt
RETURN i.id AS id
`

const archiveCypher = `
MATCH (u:User {id: $userId})
MATCH (i:IOU {id: $iouId})
MERGE (u)-[a:ARCHIVED]->(i)
ON CREATE SET a.id = $id, a.archivedAt = $archivedAt
RETURN a.id AS id
`

const unarchiveCypher = `
MATCH (:User {id: $userId})-[a:ARCHIVED]->(:IOU {id: $iouId})
DELETE a
`

const listArchivesCypher = `
MATCH (:User {id: $userId})-[a:ARCHIVED]->(i:IOU)
RETURN a.id AS id, i.id AS iouId, a.archivedAt AS archivedAt
ORDER BY a.archivedAt DESC, a.id DESC
`

const createNotificationCypher = `
MATCH (u:User {id: $userId})
MATCH (i:IOU {id: $iouId})
CREATE (n:Notification)
SET n = $props
CREATE (u)-[:HAS_NOTIFICATION]->(n)
CREATE (n)-[:ABOUT]->(i)
RETURN n.id AS id
`

const ackNotificationCypher = `
MATCH (n:Notification {id: $id, userId: $userId})
SET n.acknowledgedAt = coalesce(n.acknowledgedAt, $at)
RETURN n.id AS id
`

const ackAllNotificationsCypher = `
MATCH (n:Notification {userId: $userId})
WHERE n.acknowledgedAt IS NULL
SET n.acknowledgedAt = $at
RETURN count(n) AS acknowledged
`

const listUnackedCypher = `
MATCH (n:Notification {userId: $userId})
WHERE n.acknowledgedAt IS NULL
RETURN n.id AS id, n.userId AS userId, n.iouId AS iouId, n.type AS type,
       n.message AS message, n.createdAt AS createdAt, n.acknowledgedAt AS acknowledgedAt
ORDER BY n.createdAt DESC, n.id DESC
`
