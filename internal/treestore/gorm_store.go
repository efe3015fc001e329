package treestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// treeRecord is one stored leaf: a slash path and its JSON value.
type treeRecord struct {
	Path      string `gorm:"primaryKey;type:varchar(512)"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (treeRecord) TableName() string { return "tree_records" }

// GormStore keeps the tree in a relational table, one row per record.
// Works with the sqlite and postgres drivers. Subscriptions observe
// mutations made through this process.
type GormStore struct {
	db  *gorm.DB
	hub *hub
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&treeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate tree_records: %w", err)
	}
	return &GormStore{db: db, hub: newHub()}, nil
}

func (s *GormStore) Read(ctx context.Context, path string) (Snapshot, error) {
	return readPath(ctx, gormLeaves{s.db}, path)
}

func (s *GormStore) Write(ctx context.Context, path string, value any) error {
	if err := writePath(ctx, gormLeaves{s.db}, path, value); err != nil {
		return err
	}
	s.hub.notify(s, path)
	return nil
}

func (s *GormStore) Merge(ctx context.Context, path string, partial map[string]any) error {
	if err := mergePath(ctx, gormLeaves{s.db}, path, partial); err != nil {
		return err
	}
	s.hub.notify(s, path)
	return nil
}

func (s *GormStore) Delete(ctx context.Context, path string) error {
	if err := deletePath(ctx, gormLeaves{s.db}, path); err != nil {
		return err
	}
	s.hub.notify(s, path)
	return nil
}

func (s *GormStore) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	initial, err := s.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	id, ch := s.hub.subscribe(path, initial)
	sub := newSubscription(ch, func() { s.hub.unsubscribe(id) })
	bindContext(ctx, sub)
	return sub, nil
}

type gormLeaves struct {
	db *gorm.DB
}

func (g gormLeaves) getLeaf(ctx context.Context, path string) (json.RawMessage, bool, error) {
	var rec treeRecord
	err := g.db.WithContext(ctx).First(&rec, "path = ?", path).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return json.RawMessage(rec.Value), true, nil
}

func (g gormLeaves) scanLeaves(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	var recs []treeRecord
	err := g.db.WithContext(ctx).
		Where("path LIKE ? ESCAPE '\\'", likeEscape(prefix)+"%").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", prefix, err)
	}
	out := make(map[string]json.RawMessage, len(recs))
	for _, rec := range recs {
		out[strings.TrimPrefix(rec.Path, prefix)] = json.RawMessage(rec.Value)
	}
	return out, nil
}

func (g gormLeaves) putLeaf(ctx context.Context, path string, raw json.RawMessage) error {
	rec := treeRecord{Path: path, Value: string(raw), UpdatedAt: time.Now()}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (g gormLeaves) deleteLeaf(ctx context.Context, path string) error {
	if err := g.db.WithContext(ctx).Delete(&treeRecord{}, "path = ?", path).Error; err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func (g gormLeaves) deletePrefix(ctx context.Context, prefix string) error {
	err := g.db.WithContext(ctx).
		Where("path LIKE ? ESCAPE '\\'", likeEscape(prefix)+"%").
		Delete(&treeRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete under %s: %w", prefix, err)
	}
	return nil
}

func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
