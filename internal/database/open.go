package database

import (
	"fmt"

	glebarez "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// 支持的方言
const (
	DialectSQLite   = "sqlite"  // 纯 Go（glebarez/sqlite），默认
	DialectSQLite3  = "sqlite3" // cgo（mattn/go-sqlite3）
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// Dialector 根据方言名选择 GORM 驱动
func Dialector(dialect, dsn string) (gorm.Dialector, error) {
	switch dialect {
	case DialectSQLite, "":
		return glebarez.Open(dsn), nil
	case DialectSQLite3:
		return sqlite.Open(dsn), nil
	case DialectPostgres, "postgresql":
		return postgres.Open(dsn), nil
	case DialectMySQL:
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database dialect: %s (supported: sqlite, sqlite3, postgres, mysql)", dialect)
	}
}

// IsSQLite 判断方言是否为 SQLite 家族
func IsSQLite(dialect string) bool {
	return dialect == "" || dialect == DialectSQLite || dialect == DialectSQLite3
}

// Open 打开数据库连接，GORM 自身日志静默，由调用方的 zap 记录
func Open(dialect, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := Dialector(dialect, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	logger.Info("database connected", zap.String("dialect", dialect))
	return db, nil
}
