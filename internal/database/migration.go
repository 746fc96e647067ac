package database

import (
	"fmt"

	"github.com/wfunc/simon-game/internal/config"
	"github.com/wfunc/simon-game/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB, cfg *config.DatabaseConfig, log *zap.Logger) error {
	if db == nil {
		return fmt.Errorf("数据库未初始化")
	}
	if log == nil {
		log = zap.NewNop()
	}

	if cfg != nil {
		if path := migrationLockTarget(cfg); path != "" {
			lockFile, err := acquireMigrationLock(path, log)
			if err != nil {
				log.Error("无法获取迁移锁", zap.Error(err))
				return fmt.Errorf("获取迁移锁失败: %w", err)
			}
			defer releaseMigrationLock(lockFile, log)
		}
	}

	log.Info("开始数据库迁移...")

	for _, model := range models.AllModels() {
		if err := db.AutoMigrate(model); err != nil {
			log.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return fmt.Errorf("迁移 %T 失败: %w", model, err)
		}
		log.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}

	log.Info("数据库迁移完成", zap.Int("models", len(models.AllModels())))
	return nil
}

// migrationLockTarget 只有文件型 sqlite 需要迁移锁
func migrationLockTarget(cfg *config.DatabaseConfig) string {
	switch cfg.Driver {
	case "sqlite", "sqlite3":
		return sqliteFilePath(cfg.DSN)
	default:
		return ""
	}
}
