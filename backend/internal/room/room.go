// Package room stores study rooms: small groups joined by invite code,
// with a shared activity feed and a cached AI summary of the group.
package room

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/store"
	apperrors "sapling-graph/backend/pkg/errors"
	"sapling-graph/backend/pkg/logger"
)

// KindRoom is reported in not-found errors
const KindRoom = "room"

const maxInviteAttempts = 5

// Room is a study group
type Room struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	InviteCode  string     `json:"invite_code"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   *time.Time `json:"created_at"`
	MemberCount int        `json:"member_count"`
}

// Activity is one entry in a room's feed
type Activity struct {
	ID           string     `json:"id"`
	RoomID       string     `json:"room_id"`
	UserID       string     `json:"user_id"`
	UserName     string     `json:"user_name"`
	ActivityType string     `json:"activity_type"`
	ConceptName  string     `json:"concept_name,omitempty"`
	Detail       string     `json:"detail,omitempty"`
	CreatedAt    *time.Time `json:"created_at"`
}

// Service reads and writes rooms, memberships and activity
type Service struct {
	store      store.Store
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
	inviteCode func() string
}

// NewService creates a room service. A nil clock means UTC wall time.
func NewService(s store.Store, now func() time.Time) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:      s,
		logger:     logger.Get(),
		now:        now,
		newID:      uuid.NewString,
		inviteCode: NewInviteCode,
	}
}

// NewInviteCode draws a short code from the invite alphabet
func NewInviteCode() string {
	raw := uuid.New()
	alphabet := constants.InviteCodeAlphabet
	var b strings.Builder
	for i := 0; i < constants.InviteCodeLength; i++ {
		b.WriteByte(alphabet[int(raw[i])%len(alphabet)])
	}
	return b.String()
}

// NormalizeInviteCode trims and uppercases a code as typed by a user
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Create makes a room with a fresh invite code and adds the creator to it
func (s *Service) Create(ctx context.Context, userID, name string) (*Room, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = constants.DefaultRoomName
	}

	code, err := s.unusedInviteCode(ctx)
	if err != nil {
		return nil, err
	}
	created := s.now()
	r := &Room{
		ID:         s.newID(),
		Name:       name,
		InviteCode: code,
		CreatedBy:  userID,
		CreatedAt:  &created,
	}
	if err := s.store.Insert(ctx, constants.TableRooms, store.Row{
		"id":          r.ID,
		"name":        r.Name,
		"invite_code": r.InviteCode,
		"created_by":  userID,
		"created_at":  created,
	}); err != nil {
		return nil, err
	}
	if err := s.addMember(ctx, r.ID, userID); err != nil {
		return nil, err
	}
	if err := s.RecordActivity(ctx, r.ID, userID, constants.ActivityRoomCreated, "", ""); err != nil {
		return nil, err
	}

	r.MemberCount = 1
	s.logger.Info("Room created",
		zap.String("room_id", r.ID),
		zap.String("user_id", userID),
	)
	return r, nil
}

// Join adds a user to the room with the given invite code. Joining a room
// twice is a no-op.
func (s *Service) Join(ctx context.Context, userID, code string) (*Room, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}
	code = NormalizeInviteCode(code)
	if code == "" {
		return nil, apperrors.NewValidation("invite_code", "must not be empty")
	}

	rows, err := s.store.Select(ctx, constants.TableRooms, store.Where(store.Eq("invite_code", code)).WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewNotFound(KindRoom, code)
	}
	r := roomFromRow(rows[0])

	member, err := s.IsMember(ctx, r.ID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		if err := s.addMember(ctx, r.ID, userID); err != nil {
			return nil, err
		}
		if err := s.RecordActivity(ctx, r.ID, userID, constants.ActivityJoined, "", ""); err != nil {
			return nil, err
		}
		s.logger.Info("Room joined", zap.String("room_id", r.ID), zap.String("user_id", userID))
	}

	ids, err := s.MemberIDs(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.MemberCount = len(ids)
	return r, nil
}

// Get loads a room with its member count
func (s *Service) Get(ctx context.Context, roomID string) (*Room, error) {
	rows, err := s.store.Select(ctx, constants.TableRooms, store.Where(store.Eq("id", roomID)).WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewNotFound(KindRoom, roomID)
	}
	r := roomFromRow(rows[0])
	ids, err := s.MemberIDs(ctx, roomID)
	if err != nil {
		return nil, err
	}
	r.MemberCount = len(ids)
	return r, nil
}

// ListForUser returns the rooms a user belongs to, oldest membership first
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Room, error) {
	ids, err := s.RoomIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Room, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.store.Select(ctx, constants.TableRooms, store.Where(store.InStrings("id", ids)))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Room, len(rows))
	for _, row := range rows {
		byID[row.GetString("id")] = roomFromRow(row)
	}

	members, err := s.store.Select(ctx, constants.TableRoomMembers, store.Where(store.InStrings("room_id", ids)))
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if r, ok := byID[m.GetString("room_id")]; ok {
			r.MemberCount++
		}
	}

	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

// RoomIDs returns the ids of the rooms a user belongs to
func (s *Service) RoomIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.store.Select(ctx, constants.TableRoomMembers,
		store.Where(store.Eq("user_id", userID)).OrderBy("joined_at", false))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.GetString("room_id"))
	}
	return ids, nil
}

// MemberIDs returns a room's members in join order
func (s *Service) MemberIDs(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.store.Select(ctx, constants.TableRoomMembers,
		store.Where(store.Eq("room_id", roomID)).OrderBy("joined_at", false))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.GetString("user_id"))
	}
	return ids, nil
}

// IsMember reports whether the user belongs to the room
func (s *Service) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	rows, err := s.store.Select(ctx, constants.TableRoomMembers,
		store.Where(store.Eq("room_id", roomID), store.Eq("user_id", userID)).WithLimit(1))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// RecordActivity appends an entry to a room's feed
func (s *Service) RecordActivity(ctx context.Context, roomID, userID, activityType, conceptName, detail string) error {
	return s.store.Insert(ctx, constants.TableRoomActivity, store.Row{
		"id":            s.newID(),
		"room_id":       roomID,
		"user_id":       userID,
		"activity_type": activityType,
		"concept_name":  conceptName,
		"detail":        detail,
		"created_at":    s.now(),
	})
}

// Activity returns a room's most recent feed entries, newest first.
// UserName is left for the caller to fill.
func (s *Service) Activity(ctx context.Context, roomID string, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = constants.RoomActivityLimit
	}
	rows, err := s.store.Select(ctx, constants.TableRoomActivity,
		store.Where(store.Eq("room_id", roomID)).OrderBy("created_at", true).WithLimit(limit))
	if err != nil {
		return nil, err
	}
	out := make([]Activity, 0, len(rows))
	for _, row := range rows {
		out = append(out, Activity{
			ID:           row.GetString("id"),
			RoomID:       row.GetString("room_id"),
			UserID:       row.GetString("user_id"),
			ActivityType: row.GetString("activity_type"),
			ConceptName:  row.GetString("concept_name"),
			Detail:       row.GetString("detail"),
			CreatedAt:    row.GetTime("created_at"),
		})
	}
	return out, nil
}

// MemberHash fingerprints the member summary lines a room summary was
// written from
func MemberHash(lines []string) string {
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// CachedSummary returns the stored summary when it was written for the
// same member hash
func (s *Service) CachedSummary(ctx context.Context, roomID, hash string) (string, bool, error) {
	rows, err := s.store.Select(ctx, constants.TableRoomSummaries, store.Where(store.Eq("room_id", roomID)).WithLimit(1))
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 || rows[0].GetString("member_hash") != hash {
		return "", false, nil
	}
	return rows[0].GetString("summary"), true, nil
}

// SaveSummary stores a room summary keyed by member hash
func (s *Service) SaveSummary(ctx context.Context, roomID, hash, summary string) error {
	return s.store.Upsert(ctx, constants.TableRoomSummaries, store.Row{
		"id":          s.newID(),
		"room_id":     roomID,
		"summary":     summary,
		"member_hash": hash,
		"updated_at":  s.now(),
	}, "room_id")
}

func (s *Service) unusedInviteCode(ctx context.Context) (string, error) {
	for i := 0; i < maxInviteAttempts; i++ {
		code := s.inviteCode()
		rows, err := s.store.Select(ctx, constants.TableRooms, store.Where(store.Eq("invite_code", code)).WithLimit(1))
		if err != nil {
			return "", err
		}
		if len(rows) == 0 {
			return code, nil
		}
		s.logger.Debug("Invite code collision", zap.String("code", code))
	}
	return "", apperrors.NewValidation("invite_code", "could not allocate an unused code")
}

func (s *Service) addMember(ctx context.Context, roomID, userID string) error {
	return s.store.Insert(ctx, constants.TableRoomMembers, store.Row{
		"id":        s.newID(),
		"room_id":   roomID,
		"user_id":   userID,
		"joined_at": s.now(),
	})
}

func roomFromRow(row store.Row) *Room {
	return &Room{
		ID:         row.GetString("id"),
		Name:       row.GetString("name"),
		InviteCode: row.GetString("invite_code"),
		CreatedBy:  row.GetString("created_by"),
		CreatedAt:  row.GetTime("created_at"),
	}
}
