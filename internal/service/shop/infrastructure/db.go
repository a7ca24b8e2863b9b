// internal/service/shop/infrastructure/db.go
package infrastructure

import (
	"context"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"storefront/internal/service/shop/domain"
)

const mysqlDuplicateEntry = 1062

// Open 按 driver（mysql / sqlite）打开数据库。sqlite 只用于本地开发和测试。
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = gormmysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, errors.Errorf("unsupported storage driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}

	if driver == "mysql" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "get sql.DB")
		}
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	zlog.Info().Str("driver", driver).Msg("✅ Database connected")
	return db, nil
}

// Migrate 建表/补齐索引。
func Migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(AllModels()...), "auto migrate")
}

type txKey struct{}

// GormTxRunner 实现 domain.TxRunner：事务句柄放进 ctx，仓储通过 conn 取用。
type GormTxRunner struct {
	db *gorm.DB
}

func NewGormTxRunner(db *gorm.DB) *GormTxRunner {
	return &GormTxRunner{db: db}
}

// WithinTx 已经在事务中时直接复用外层事务。
func (r *GormTxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// conn 返回 ctx 中的事务，没有则返回普通连接。
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// inTx 保证 fn 在事务中执行：复用 ctx 中的事务或新开一个。
func inTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(tx.WithContext(ctx))
	}
	return db.WithContext(ctx).Transaction(fn)
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// translate 把驱动层错误转换成领域错误，其它错误附上操作信息。
func translate(err error, entity, id, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.NewNotFound(entity, id)
	case isDuplicate(err):
		return domain.NewConflict(entity, "%s already exists", id)
	default:
		return errors.Wrapf(err, "%s %s %s", op, entity, id)
	}
}
