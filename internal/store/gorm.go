package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/mission-game-backend/internal/engine"
)

type RoomRecord struct {
	ID            string         `gorm:"primaryKey;size:36"`
	Code          string         `gorm:"uniqueIndex;size:16;not null"`
	Phase         string         `gorm:"size:32;not null;index"`
	Version       int            `gorm:"not null"`
	PhaseVersion  int            `gorm:"not null"`
	PhaseDeadline time.Time      `gorm:"not null"`
	Game          datatypes.JSON `gorm:"not null"`
	Settings      datatypes.JSON `gorm:"not null"`
	Rules         datatypes.JSON `gorm:"not null"`
	LastActivity  time.Time      `gorm:"index;not null"`
	CreatedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time

	Players []PlayerRecord `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE"`
}

func (RoomRecord) TableName() string { return "rooms" }

type PlayerRecord struct {
	RoomID      string `gorm:"primaryKey;size:36"`
	PlayerID    string `gorm:"primaryKey;size:36"`
	Seat        int    `gorm:"not null"`
	Name        string `gorm:"size:64;not null"`
	Host        bool   `gorm:"not null;default:false"`
	Ready       bool   `gorm:"not null;default:false"`
	Role        string `gorm:"size:16"`
	Connection  string `gorm:"size:16;not null"`
	TokenDigest string `gorm:"size:64"`
	JoinedAt    time.Time
}

func (PlayerRecord) TableName() string { return "room_players" }

// Gorm is a Store backed by postgres or sqlite.
type Gorm struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema. postgres:// and
// postgresql:// URLs select the postgres driver; anything else is handed to
// sqlite.
func Open(dsn string, log *zap.Logger) (*Gorm, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(log.Named("gorm")), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.AutoMigrate(&RoomRecord{}, &PlayerRecord{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *Gorm) LoadRoom(ctx context.Context, code string) (engine.Room, error) {
	var rec RoomRecord
	err := g.db.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB { return db.Order("seat") }).
		Where("code = ?", code).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Room{}, ErrNotFound
	}
	if err != nil {
		return engine.Room{}, fmt.Errorf("load room %s: %w", code, err)
	}
	return fromRecord(rec)
}

func (g *Gorm) SaveRoom(ctx context.Context, room engine.Room, expectedVersion int) error {
	rec, err := toRecord(room)
	if err != nil {
		return err
	}

	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if expectedVersion == 0 {
			var existing RoomRecord
			err := tx.Select("id", "version").Where("code = ?", room.Code).First(&existing).Error
			switch {
			case err == nil && (existing.ID != room.ID || existing.Version != 0):
				return &ConflictError{Code: room.Code, Expected: 0, Actual: existing.Version}
			case err == nil:
				// A never-mutated room saved twice; fall through to update.
			case errors.Is(err, gorm.ErrRecordNotFound):
				return tx.Create(&rec).Error
			default:
				return err
			}
		}

		res := tx.Model(&RoomRecord{}).
			Where("id = ? AND version = ?", room.ID, expectedVersion).
			Updates(map[string]any{
				"phase":          rec.Phase,
				"version":        rec.Version,
				"phase_version":  rec.PhaseVersion,
				"phase_deadline": rec.PhaseDeadline,
				"game":           rec.Game,
				"settings":       rec.Settings,
				"rules":          rec.Rules,
				"last_activity":  rec.LastActivity,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var cur RoomRecord
			err := tx.Select("version").Where("id = ?", room.ID).First(&cur).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			return &ConflictError{Code: room.Code, Expected: expectedVersion, Actual: cur.Version}
		}

		if err := tx.Where("room_id = ?", room.ID).Delete(&PlayerRecord{}).Error; err != nil {
			return err
		}
		if len(rec.Players) == 0 {
			return nil
		}
		return tx.Create(&rec.Players).Error
	})
}

func (g *Gorm) DeleteRoom(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", id).Delete(&PlayerRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&RoomRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (g *Gorm) ActiveCodes(ctx context.Context) ([]string, error) {
	var codes []string
	err := g.db.WithContext(ctx).Model(&RoomRecord{}).
		Where("phase <> ?", string(engine.PhaseGameOver)).
		Order("code").
		Pluck("code", &codes).Error
	return codes, err
}

func toRecord(r engine.Room) (RoomRecord, error) {
	game, err := json.Marshal(r.Game)
	if err != nil {
		return RoomRecord{}, fmt.Errorf("encode game: %w", err)
	}
	settings, err := json.Marshal(r.Settings)
	if err != nil {
		return RoomRecord{}, fmt.Errorf("encode settings: %w", err)
	}
	rules, err := json.Marshal(r.Rules)
	if err != nil {
		return RoomRecord{}, fmt.Errorf("encode rules: %w", err)
	}

	rec := RoomRecord{
		ID:            r.ID,
		Code:          r.Code,
		Phase:         string(r.Phase),
		Version:       r.Version,
		PhaseVersion:  r.PhaseVersion,
		PhaseDeadline: r.PhaseDeadline.UTC(),
		Game:          datatypes.JSON(game),
		Settings:      datatypes.JSON(settings),
		Rules:         datatypes.JSON(rules),
		LastActivity:  r.LastActivity.UTC(),
		CreatedAt:     r.CreatedAt.UTC(),
		Players:       make([]PlayerRecord, len(r.Players)),
	}
	for i, p := range r.Players {
		rec.Players[i] = PlayerRecord{
			RoomID:      r.ID,
			PlayerID:    p.ID,
			Seat:        i,
			Name:        p.Name,
			Host:        p.Host,
			Ready:       p.Ready,
			Role:        string(p.Role),
			Connection:  string(p.Connection),
			TokenDigest: p.TokenDigest,
			JoinedAt:    p.JoinedAt.UTC(),
		}
	}
	return rec, nil
}

func fromRecord(rec RoomRecord) (engine.Room, error) {
	r := engine.Room{
		ID:            rec.ID,
		Code:          rec.Code,
		Phase:         engine.Phase(rec.Phase),
		Version:       rec.Version,
		PhaseVersion:  rec.PhaseVersion,
		PhaseDeadline: rec.PhaseDeadline.UTC(),
		LastActivity:  rec.LastActivity.UTC(),
		CreatedAt:     rec.CreatedAt.UTC(),
		Players:       make([]engine.Player, len(rec.Players)),
	}
	if err := json.Unmarshal(rec.Game, &r.Game); err != nil {
		return engine.Room{}, fmt.Errorf("decode game of room %s: %w", rec.Code, err)
	}
	if err := json.Unmarshal(rec.Settings, &r.Settings); err != nil {
		return engine.Room{}, fmt.Errorf("decode settings of room %s: %w", rec.Code, err)
	}
	if err := json.Unmarshal(rec.Rules, &r.Rules); err != nil {
		return engine.Room{}, fmt.Errorf("decode rules of room %s: %w", rec.Code, err)
	}
	for i, p := range rec.Players {
		r.Players[i] = engine.Player{
			ID:          p.PlayerID,
			Name:        p.Name,
			Host:        p.Host,
			Ready:       p.Ready,
			Role:        engine.Role(p.Role),
			Connection:  engine.ConnState(p.Connection),
			TokenDigest: p.TokenDigest,
			JoinedAt:    p.JoinedAt.UTC(),
		}
	}
	return r, nil
}
