package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autoclose/internal/autoclose"
	"autoclose/internal/store"
	storemodel "autoclose/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type (
	tradeModel          = storemodel.TradeModel
	runModel            = storemodel.RunModel
	recommendationModel = storemodel.RecommendationModel
	instanceModel       = storemodel.InstanceModel
	monitorStatusModel  = storemodel.MonitorStatusModel
)

const monitorStatusRowID = 1

// GormStore implements autoclose.Repository on Gorm + SQLite.
type GormStore struct {
	db    *gorm.DB
	nowFn func() time.Time
}

var _ autoclose.Repository = (*GormStore)(nil)

// NewGormStore opens (and migrates) the trade database. "file:" DSNs and ":memory:" are used verbatim.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	dsn := path
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&tradeModel{},
		&runModel{},
		&recommendationModel{},
		&instanceModel{},
		&monitorStatusModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if isPrivateMemory(dsn) {
		// 私有内存库只存在于单个连接上。
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxIdleTime(0)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		// SQLite + WAL: allow a small amount of parallelism for HTTP status reads.
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &GormStore{db: db, nowFn: time.Now}, nil
}

func isPrivateMemory(dsn string) bool {
	if dsn == ":memory:" {
		return true
	}
	return strings.Contains(dsn, "mode=memory") && !strings.Contains(dsn, "cache=shared")
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for health checks.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

// --------------------- Open trades -------------------------

// ListOpenTrades 读取所有未终结的模拟单，并批量补齐推荐/Run/实例上下文（避免 N+1）。
func (s *GormStore) ListOpenTrades(ctx context.Context) ([]autoclose.OpenTrade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	db := s.db.WithContext(ctx)
	var trades []tradeModel
	if err := db.Where("status IN ? AND pnl IS NULL", statusStrings(autoclose.OpenStatuses)).
		Order("created_at ASC, id ASC").
		Find(&trades).Error; err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, nil
	}

	recIDs := make([]string, 0, len(trades))
	runIDs := make([]string, 0, len(trades))
	for _, t := range trades {
		if t.RecommendationID != nil && *t.RecommendationID != "" {
			recIDs = append(recIDs, *t.RecommendationID)
		}
		if t.RunID != "" {
			runIDs = append(runIDs, t.RunID)
		}
	}
	recs := make(map[string]recommendationModel)
	if len(recIDs) > 0 {
		var list []recommendationModel
		if err := db.Where("id IN ?", recIDs).Find(&list).Error; err != nil {
			return nil, err
		}
		for _, r := range list {
			recs[r.ID] = r
		}
	}
	instanceByRun := make(map[string]instanceModel)
	if len(runIDs) > 0 {
		var runs []runModel
		if err := db.Where("id IN ?", runIDs).Find(&runs).Error; err != nil {
			return nil, err
		}
		instIDs := make([]string, 0, len(runs))
		for _, r := range runs {
			if r.InstanceID != "" {
				instIDs = append(instIDs, r.InstanceID)
			}
		}
		insts := make(map[string]instanceModel)
		if len(instIDs) > 0 {
			var list []instanceModel
			if err := db.Where("id IN ?", instIDs).Find(&list).Error; err != nil {
				return nil, err
			}
			for _, in := range list {
				insts[in.ID] = in
			}
		}
		for _, r := range runs {
			if in, ok := insts[r.InstanceID]; ok {
				instanceByRun[r.ID] = in
			}
		}
	}

	out := make([]autoclose.OpenTrade, 0, len(trades))
	for _, t := range trades {
		ot := autoclose.OpenTrade{Trade: tradeFromModel(t)}
		if t.RecommendationID != nil {
			if r, ok := recs[*t.RecommendationID]; ok {
				ot.SignalTime = r.AnalyzedAt
				ot.RecommendationStrategyName = r.StrategyName
				ot.RecommendationStrategyType = r.StrategyType
				ot.RecommendationMeta = []byte(r.StrategyMetadata)
			}
		}
		if in, ok := instanceByRun[t.RunID]; ok {
			ot.InstanceStrategyName = in.StrategyName
		}
		out = append(out, ot)
	}
	return out, nil
}

// --------------------- Transitions -------------------------

// ApplyTransition 在一个事务里按状态守卫更新交易并累加 Run 统计；
// 守卫未命中返回 store.ErrTradeStale，Run 不存在时整体回滚。
func (s *GormStore) ApplyTransition(ctx context.Context, tr autoclose.Transition) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if strings.TrimSpace(tr.TradeID) == "" || len(tr.From) == 0 {
		return fmt.Errorf("transition requires trade id and source statuses")
	}
	now := s.nowFn().UTC()
	updates := map[string]interface{}{
		"status":     string(tr.To),
		"updated_at": now,
	}
	setTime := func(col string, v *time.Time) {
		if v != nil {
			updates[col] = v.UTC()
		}
	}
	setFloat := func(col string, v *float64) {
		if v != nil {
			updates[col] = *v
		}
	}
	setTime("filled_at", tr.FilledAt)
	setTime("closed_at", tr.ClosedAt)
	setTime("cancelled_at", tr.CancelledAt)
	setFloat("fill_price", tr.FillPrice)
	setFloat("pair_fill_price", tr.PairFillPrice)
	setFloat("exit_price", tr.ExitPrice)
	setFloat("pair_exit_price", tr.PairExitPrice)
	setFloat("pnl", tr.PnL)
	setFloat("pnl_percent", tr.PnLPercent)
	if tr.ExitReason != "" {
		updates["exit_reason"] = tr.ExitReason
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&tradeModel{}).
			Where("id = ? AND status IN ? AND pnl IS NULL", tr.TradeID, statusStrings(tr.From)).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("trade %s: %w", tr.TradeID, store.ErrTradeStale)
		}
		if !tr.AffectsRun() {
			return nil
		}
		win, loss := 0, 1
		if tr.Win() {
			win, loss = 1, 0
		}
		res = tx.Model(&runModel{}).Where("id = ?", tr.RunID).Updates(map[string]interface{}{
			"total_pnl":  gorm.Expr("total_pnl + ?", *tr.PnL),
			"win_count":  gorm.Expr("win_count + ?", win),
			"loss_count": gorm.Expr("loss_count + ?", loss),
			"updated_at": now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("run %s: %w", tr.RunID, store.ErrNotFound)
		}
		return nil
	})
}

// --------------------- Monitor status -------------------------

func (s *GormStore) SaveMonitorStatus(ctx context.Context, st autoclose.MonitorStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	m := monitorStatusModel{
		ID:         monitorStatusRowID,
		Running:    st.Running,
		PassID:     st.PassID,
		StartedAt:  st.StartedAt.UTC(),
		FinishedAt: st.FinishedAt,
		LastError:  st.LastError,
		UpdatedAt:  s.nowFn().UTC(),
	}
	if st.Summary != nil {
		raw, err := json.Marshal(st.Summary)
		if err != nil {
			return err
		}
		m.Summary = datatypes.JSON(raw)
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

// LoadMonitorStatus returns the last persisted pass status; ok=false before the first pass.
func (s *GormStore) LoadMonitorStatus(ctx context.Context) (autoclose.MonitorStatus, bool, error) {
	if s == nil || s.db == nil {
		return autoclose.MonitorStatus{}, false, fmt.Errorf("gorm store 未初始化")
	}
	var m monitorStatusModel
	err := s.db.WithContext(ctx).First(&m, monitorStatusRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return autoclose.MonitorStatus{}, false, nil
	}
	if err != nil {
		return autoclose.MonitorStatus{}, false, err
	}
	st := autoclose.MonitorStatus{
		Running:    m.Running,
		PassID:     m.PassID,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
		LastError:  m.LastError,
	}
	if len(m.Summary) > 0 {
		var sum autoclose.Summary
		if err := json.Unmarshal(m.Summary, &sum); err != nil {
			return st, true, fmt.Errorf("decode monitor summary: %w", err)
		}
		st.Summary = &sum
	}
	return st, true, nil
}

// --------------------- Seeding / lookups -------------------------

// RunStats is the aggregate row of one run.
type RunStats struct {
	ID         string
	InstanceID string
	TotalPnL   float64
	WinCount   int
	LossCount  int
}

func (s *GormStore) CreateInstance(ctx context.Context, id, name, strategyName string) error {
	return s.db.WithContext(ctx).Create(&instanceModel{ID: id, Name: name, StrategyName: strategyName}).Error
}

func (s *GormStore) CreateRun(ctx context.Context, id, instanceID string) error {
	return s.db.WithContext(ctx).Create(&runModel{ID: id, InstanceID: instanceID}).Error
}

func (s *GormStore) CreateRecommendation(ctx context.Context, id, symbol, strategyName, strategyType string, analyzedAt *time.Time, metadata []byte) error {
	rec := recommendationModel{
		ID:           id,
		Symbol:       symbol,
		StrategyName: strategyName,
		StrategyType: strategyType,
		AnalyzedAt:   analyzedAt,
	}
	if len(metadata) > 0 {
		rec.StrategyMetadata = datatypes.JSON(metadata)
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// CreateTrade inserts a new trade; status defaults to pending_fill.
func (s *GormStore) CreateTrade(ctx context.Context, t autoclose.Trade) error {
	if t.Status == "" {
		t.Status = autoclose.StatusPendingFill
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.nowFn()
	}
	m := tradeToModel(t)
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) GetTrade(ctx context.Context, id string) (autoclose.Trade, error) {
	var m tradeModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return autoclose.Trade{}, fmt.Errorf("trade %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return autoclose.Trade{}, err
	}
	return tradeFromModel(m), nil
}

func (s *GormStore) GetRun(ctx context.Context, id string) (RunStats, error) {
	var m runModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RunStats{}, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return RunStats{}, err
	}
	return RunStats{ID: m.ID, InstanceID: m.InstanceID, TotalPnL: m.TotalPnL, WinCount: m.WinCount, LossCount: m.LossCount}, nil
}

// --------------------- Mapping -------------------------

func tradeFromModel(m tradeModel) autoclose.Trade {
	t := autoclose.Trade{
		ID:               m.ID,
		RunID:            m.RunID,
		CycleID:          deref(m.CycleID),
		RecommendationID: deref(m.RecommendationID),
		Symbol:           m.Symbol,
		Side:             autoclose.Side(m.Side),
		StrategyType:     m.StrategyType,
		StrategyName:     m.StrategyName,
		Timeframe:        m.Timeframe,
		EntryPrice:       m.EntryPrice,
		StopLoss:         m.StopLoss,
		TakeProfit:       m.TakeProfit,
		Quantity:         m.Quantity,
		CreatedAt:        m.CreatedAt,
		FilledAt:         m.FilledAt,
		ClosedAt:         m.ClosedAt,
		CancelledAt:      m.CancelledAt,
		FillPrice:        m.FillPrice,
		PairFillPrice:    m.PairFillPrice,
		ExitPrice:        m.ExitPrice,
		PairExitPrice:    m.PairExitPrice,
		ExitReason:       deref(m.ExitReason),
		Status:           autoclose.Status(m.Status),
		PnL:              m.PnL,
		PnLPercent:       m.PnLPercent,
	}
	if m.PairSymbol != nil && *m.PairSymbol != "" {
		t.Meta = autoclose.SpreadMeta{
			PairSymbol:     *m.PairSymbol,
			PairEntryPrice: derefFloat(m.PairEntryPrice),
			PairQuantity:   derefFloat(m.PairQuantity),
			Beta:           derefFloat(m.Beta),
			SpreadMean:     derefFloat(m.SpreadMean),
			SpreadStd:      derefFloat(m.SpreadStd),
		}
	}
	return t
}

func tradeToModel(t autoclose.Trade) tradeModel {
	m := tradeModel{
		ID:               t.ID,
		RunID:            t.RunID,
		CycleID:          optString(t.CycleID),
		RecommendationID: optString(t.RecommendationID),
		Symbol:           t.Symbol,
		Side:             string(t.Side),
		StrategyType:     t.StrategyType,
		StrategyName:     t.StrategyName,
		Timeframe:        t.Timeframe,
		EntryPrice:       t.EntryPrice,
		StopLoss:         t.StopLoss,
		TakeProfit:       t.TakeProfit,
		Quantity:         t.Quantity,
		CreatedAt:        t.CreatedAt.UTC(),
		FilledAt:         t.FilledAt,
		ClosedAt:         t.ClosedAt,
		CancelledAt:      t.CancelledAt,
		FillPrice:        t.FillPrice,
		PairFillPrice:    t.PairFillPrice,
		ExitPrice:        t.ExitPrice,
		PairExitPrice:    t.PairExitPrice,
		ExitReason:       optString(t.ExitReason),
		Status:           string(t.Status),
		PnL:              t.PnL,
		PnLPercent:       t.PnLPercent,
	}
	if spread, ok := t.Meta.(autoclose.SpreadMeta); ok && spread.PairSymbol != "" {
		m.PairSymbol = optString(spread.PairSymbol)
		m.PairEntryPrice = &spread.PairEntryPrice
		m.PairQuantity = &spread.PairQuantity
		m.Beta = &spread.Beta
		m.SpreadMean = &spread.SpreadMean
		m.SpreadStd = &spread.SpreadStd
	}
	return m
}

func statusStrings(list []autoclose.Status) []string {
	out := make([]string, 0, len(list))
	for _, st := range list {
		out = append(out, string(st))
	}
	return out
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func optString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
