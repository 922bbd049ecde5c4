package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/maxkarpets/exitwatch/internal/domain"
	"github.com/maxkarpets/exitwatch/internal/pricing"
	"github.com/maxkarpets/exitwatch/internal/storage"
	"github.com/maxkarpets/exitwatch/internal/storage/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormLogger adapts zap to gorm's logger.Interface.
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	if err != nil && err != gorm.ErrRecordNotFound {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}

	if l.logLevel >= logger.Info {
		l.zapLogger.Info("trace", fields...)
	}
}

type postgresStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStorage connects to Postgres, retrying with exponential backoff while
// the database comes up.
func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	gormLogger := newGormLogger(zapLogger.Named("gorm"))

	open := func() (*gorm.DB, error) {
		return gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormLogger,
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
			SkipDefaultTransaction: true,
		})
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second

	notify := func(err error, wait time.Duration) {
		zapLogger.Warn("Database not ready, retrying",
			zap.Duration("backoff", wait), zap.Error(err))
	}

	db, err := backoff.Retry(context.Background(), open,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(5),
		backoff.WithNotify(notify))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStorage{
		db:     db,
		logger: zapLogger,
	}, nil
}

// NewStorageWithDB wraps an existing gorm handle. Used by tests.
func NewStorageWithDB(db *gorm.DB, zapLogger *zap.Logger) storage.Storage {
	return &postgresStorage{db: db, logger: zapLogger}
}

func (p *postgresStorage) RunMigrations() error {
	var lockObtained bool
	err := p.db.Raw("SELECT pg_try_advisory_lock(3301)").Scan(&lockObtained).Error
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer p.db.Exec("SELECT pg_advisory_unlock(3301)")

	err = p.db.AutoMigrate(
		&models.Position{},
		&models.APIConfig{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (p *postgresStorage) ListOpen(ctx context.Context, userID string, ids []string) ([]*domain.Position, error) {
	query := p.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("status = ?", string(domain.StatusOpen))
	if len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}

	var rows []*models.Position
	if err := query.Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	positions := make([]*domain.Position, 0, len(rows))
	for _, row := range rows {
		positions = append(positions, row.ToDomain())
	}
	return positions, nil
}

func (p *postgresStorage) ApplyPricePatches(ctx context.Context, patches []storage.PricePatch) error {
	var lastErr error
	for _, patch := range patches {
		err := p.db.WithContext(ctx).Model(&models.Position{}).
			Where("id = ? AND status <> ?", patch.PositionID, string(domain.StatusClosed)).
			Updates(map[string]interface{}{
				"current_price": patch.CurrentPrice,
				"current_value": patch.CurrentValue,
				"pnl_percent":   patch.PnLPercent,
				"pnl_value":     patch.PnLValue,
				"updated_at":    patch.UpdatedAt,
			}).Error
		if err != nil {
			p.logger.Error("Failed to apply price patch",
				zap.String("position_id", patch.PositionID), zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}

func (p *postgresStorage) ClaimForExit(ctx context.Context, positionID string) (bool, error) {
	tx := p.db.WithContext(ctx).Model(&models.Position{}).
		Where("id = ? AND status = ?", positionID, string(domain.StatusOpen)).
		Updates(map[string]interface{}{
			"status":     string(domain.StatusPending),
			"updated_at": time.Now().UTC(),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (p *postgresStorage) Release(ctx context.Context, positionID string) error {
	return p.db.WithContext(ctx).Model(&models.Position{}).
		Where("id = ? AND status = ?", positionID, string(domain.StatusPending)).
		Updates(map[string]interface{}{
			"status":     string(domain.StatusOpen),
			"updated_at": time.Now().UTC(),
		}).Error
}

func (p *postgresStorage) Close(ctx context.Context, positionID string, rec storage.CloseRecord) error {
	tx := p.db.WithContext(ctx).Model(&models.Position{}).
		Where("id = ? AND status = ?", positionID, string(domain.StatusPending)).
		Updates(map[string]interface{}{
			"status":        string(domain.StatusClosed),
			"exit_reason":   string(rec.Reason),
			"exit_price":    rec.ExitPrice,
			"exit_tx_id":    rec.ExitTxID,
			"current_price": rec.ExitPrice,
			"current_value": rec.CurrentValue,
			"pnl_percent":   rec.PnLPercent,
			"pnl_value":     rec.PnLValue,
			"closed_at":     rec.ClosedAt,
			"updated_at":    rec.ClosedAt,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("position %s not in pending state", positionID)
	}
	return nil
}

func (p *postgresStorage) EnabledPriceSources(ctx context.Context) ([]pricing.SourceConfig, error) {
	var rows []*models.APIConfig
	err := p.db.WithContext(ctx).
		Where("enabled = ?", true).
		Where("kind NOT IN ?", []string{models.KindTradeAPI, models.KindPrimaryRPC}).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	configs := make([]pricing.SourceConfig, 0, len(rows))
	for _, row := range rows {
		configs = append(configs, pricing.SourceConfig{
			Kind:    pricing.SourceKind(row.Kind),
			BaseURL: row.BaseURL,
			APIKey:  row.APIKey,
			Enabled: row.Enabled,
		})
	}
	return configs, nil
}

func (p *postgresStorage) TradeAPI(ctx context.Context) (*storage.TradeAPIConfig, error) {
	var row models.APIConfig
	err := p.db.WithContext(ctx).
		Where("kind = ? AND enabled = ?", models.KindTradeAPI, true).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &storage.TradeAPIConfig{
		BaseURL: row.BaseURL,
		APIKey:  row.APIKey,
		Enabled: row.Enabled,
	}, nil
}

func (p *postgresStorage) PrimaryRPC(ctx context.Context) (string, error) {
	var row models.APIConfig
	err := p.db.WithContext(ctx).
		Where("kind = ? AND enabled = ?", models.KindPrimaryRPC, true).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.BaseURL, nil
}

func (p *postgresStorage) CloseDB() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
