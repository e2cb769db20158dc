// Package alerts implements the alert dispatch core (component G):
// filtering, per-channel rate limiting, durable logging of outbound
// alert attempts, and fan-out to transports over a dedicated worker
// pool. The transport itself (HTTP webhook call, chat-service embed
// formatting) is an external collaborator; this package only defines
// the Transport contract it calls through.
package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sqryxz/mts-signal-pipeline/internal/errs"
	"github.com/sqryxz/mts-signal-pipeline/internal/workers"
	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
	"github.com/sqryxz/mts-signal-pipeline/pkg/utils"
)

// Transport sends one alert to its external channel and reports the
// provider's message id on success. Implementations are the out-of-scope
// HTTP webhook collaborator (or a test double).
type Transport interface {
	Send(ctx context.Context, target string, signal types.TradingSignal) (externalMessageID string, err error)
}

// TransportFunc adapts a plain function to Transport.
type TransportFunc func(ctx context.Context, target string, signal types.TradingSignal) (string, error)

func (f TransportFunc) Send(ctx context.Context, target string, signal types.TradingSignal) (string, error) {
	return f(ctx, target, signal)
}

// Route binds one strategy to the channel it dispatches through.
type Route struct {
	ChannelName string
	Config      types.DispatcherChannelConfig
	Transport   Transport
}

// Config bounds the dispatcher's retry behavior for transport calls.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig returns the standard bounded-retry settings.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, RetryDelay: 500 * time.Millisecond}
}

// Dispatcher is the alert dispatch core. It owns a small bounded worker
// pool (injected, shared with the orchestrator's fan-out budget) that
// runs each delivery (transport call and database writes) as its own
// task. Deliveries are not serialized per channel: alerts for the same
// channel can be sent and recorded concurrently. Submission is a
// non-blocking enqueue.
type Dispatcher struct {
	logger *zap.Logger
	db     *sql.DB
	pool   *workers.Pool
	cfg    Config

	mu     sync.Mutex
	routes map[string]Route                  // strategy name -> route
	lastOK map[string]time.Time              // "channel|asset" -> last successful dispatch
}

// NewDispatcher opens (creating if absent) the sqlite-backed alert log
// at dbPath and prepares the discord_alerts table. pool is started by
// the caller (typically shared with the orchestrator); Dispatch only
// submits tasks to it.
func NewDispatcher(logger *zap.Logger, dbPath string, pool *workers.Pool, cfg Config) (*Dispatcher, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errs.StoreError(errs.Context{Component: "alerts.dispatcher"}, fmt.Sprintf("open sqlite: %v", err))
	}
	d := &Dispatcher{
		logger: logger,
		db:     db,
		pool:   pool,
		cfg:    cfg,
		routes: make(map[string]Route),
		lastOK: make(map[string]time.Time),
	}
	if err := d.migrate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) migrate() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS discord_alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_type TEXT NOT NULL,
			symbol TEXT NOT NULL,
			signal_type TEXT NOT NULL,
			price TEXT NOT NULL,
			confidence REAL NOT NULL,
			strength TEXT NOT NULL,
			position_size REAL NOT NULL,
			stop_loss TEXT,
			take_profit TEXT,
			strategy_name TEXT NOT NULL,
			webhook_url TEXT NOT NULL,
			discord_message_id TEXT,
			sent_at TEXT NOT NULL,
			success INTEGER NOT NULL,
			error_message TEXT,
			alert_data TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`)
	if err != nil {
		return errs.StoreError(errs.Context{Component: "alerts.dispatcher.migrate"}, err.Error())
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_discord_alerts_symbol ON discord_alerts(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_discord_alerts_sent_at ON discord_alerts(sent_at)`,
		`CREATE INDEX IF NOT EXISTS idx_discord_alerts_signal_type ON discord_alerts(signal_type)`,
	} {
		if _, err := d.db.Exec(stmt); err != nil {
			return errs.StoreError(errs.Context{Component: "alerts.dispatcher.migrate"}, err.Error())
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (d *Dispatcher) Close() error { return d.db.Close() }

// RegisterRoute binds strategyName's alerts to a channel, config, and
// transport. Re-registering a strategy replaces its route.
func (d *Dispatcher) RegisterRoute(strategyName string, route Route) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[strategyName] = route
}

// Dispatch filters and enqueues every signal whose strategy has a
// registered route, returning immediately. Unrouted strategies are
// silently dropped, matching the aggregator's "ignore unknown producers"
// policy.
func (d *Dispatcher) Dispatch(ctx context.Context, sigs []types.TradingSignal) {
	for _, sig := range sigs {
		d.mu.Lock()
		route, ok := d.routes[sig.StrategyName]
		d.mu.Unlock()
		if !ok {
			continue
		}
		if !d.passesFilters(route, sig) {
			continue
		}
		sig := sig
		if err := d.pool.SubmitFunc(func() error {
			return d.deliver(ctx, route, sig)
		}); err != nil {
			d.logger.Warn("alert dispatch queue rejected submission",
				zap.String("strategy", sig.StrategyName), zap.String("asset", sig.Asset), zap.Error(err))
		}
	}
}

func (d *Dispatcher) passesFilters(route Route, sig types.TradingSignal) bool {
	cfg := route.Config
	if sig.Confidence < cfg.MinConfidence {
		return false
	}
	if sig.SignalStrength.Less(cfg.MinStrength) {
		return false
	}
	if len(cfg.EnabledAssets) > 0 && !contains(cfg.EnabledAssets, sig.Asset) {
		return false
	}
	if len(cfg.EnabledSignalTypes) > 0 && !containsType(cfg.EnabledSignalTypes, sig.SignalType) {
		return false
	}
	key := route.ChannelName + "|" + sig.Asset
	d.mu.Lock()
	last, seen := d.lastOK[key]
	d.mu.Unlock()
	if seen && time.Since(last) < time.Duration(cfg.RateLimitSeconds)*time.Second {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsType(list []types.SignalType, v types.SignalType) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// deliver runs the logging protocol: insert a pending row, invoke the
// transport (with bounded retries), then update the row with the
// outcome. Transport failure is handled as a value — it is recorded on
// the row, never propagated to the caller.
func (d *Dispatcher) deliver(ctx context.Context, route Route, sig types.TradingSignal) error {
	record := toRecord(route.ChannelName, sig)
	id, err := d.insertPending(ctx, record)
	if err != nil {
		d.logger.Error("alert log insert failed", zap.Error(err))
		return nil
	}

	retryCfg := utils.RetryConfig{
		MaxAttempts:  maxInt(1, d.cfg.MaxRetries),
		InitialDelay: d.cfg.RetryDelay,
		MaxDelay:     d.cfg.RetryDelay * 8,
		Multiplier:   2.0,
	}
	externalID, sendErr := utils.Retry(retryCfg, func() (string, error) {
		return route.Transport.Send(ctx, route.Config.Target, sig)
	})

	outcome := outcome{success: sendErr == nil, externalMessageID: externalID}
	if sendErr != nil {
		outcome.errorMessage = sendErr.Error()
	} else {
		d.mu.Lock()
		d.lastOK[route.ChannelName+"|"+sig.Asset] = time.Now()
		d.mu.Unlock()
	}

	if err := d.updateOutcome(ctx, id, outcome); err != nil {
		d.logger.Error("alert log update failed", zap.Int64("id", id), zap.Error(err))
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

type outcome struct {
	success           bool
	externalMessageID string
	errorMessage      string
}

func toRecord(channelName string, sig types.TradingSignal) types.DiscordAlertRecord {
	data, _ := json.Marshal(sig)
	return types.DiscordAlertRecord{
		AlertType:     string(sig.SignalType),
		Symbol:        sig.Asset,
		SignalType:    sig.SignalType,
		Price:         sig.Price,
		Confidence:    sig.Confidence,
		Strength:      sig.SignalStrength,
		PositionSize:  sig.PositionSize,
		StopLoss:      sig.StopLoss,
		TakeProfit:    sig.TakeProfit,
		StrategyName:  sig.StrategyName,
		WebhookTarget: channelName,
		SentAt:        time.Now().UTC(),
		AlertData:     string(data),
	}
}

// insertPending writes a not-yet-sent row and returns its id, obtained
// before the transport is invoked so the update path is well-defined.
func (d *Dispatcher) insertPending(ctx context.Context, r types.DiscordAlertRecord) (int64, error) {
	var stopLoss, takeProfit sql.NullString
	if r.StopLoss != nil {
		stopLoss = sql.NullString{String: r.StopLoss.String(), Valid: true}
	}
	if r.TakeProfit != nil {
		takeProfit = sql.NullString{String: r.TakeProfit.String(), Valid: true}
	}
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO discord_alerts
			(alert_type, symbol, signal_type, price, confidence, strength, position_size,
			 stop_loss, take_profit, strategy_name, webhook_url, discord_message_id,
			 sent_at, success, error_message, alert_data, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,NULL,?,0,NULL,?,?)`,
		r.AlertType, r.Symbol, string(r.SignalType), r.Price.String(), r.Confidence, string(r.Strength),
		r.PositionSize, stopLoss, takeProfit, r.StrategyName, r.WebhookTarget,
		r.SentAt.Format(time.RFC3339), r.AlertData, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, errs.StoreError(errs.Context{Component: "alerts.dispatcher", Asset: r.Symbol}, fmt.Sprintf("insert: %v", err))
	}
	return res.LastInsertId()
}

// updateOutcome applies the final success/failure outcome to a
// previously inserted row. This is the one update every row ever
// receives: the success flag is set exactly once per attempt.
func (d *Dispatcher) updateOutcome(ctx context.Context, id int64, o outcome) error {
	var msgID, errMsg sql.NullString
	if o.externalMessageID != "" {
		msgID = sql.NullString{String: o.externalMessageID, Valid: true}
	} else if o.success {
		// transports that don't mint an id still get a correlation token
		msgID = sql.NullString{String: uuid.NewString(), Valid: true}
	}
	if o.errorMessage != "" {
		errMsg = sql.NullString{String: o.errorMessage, Valid: true}
	}
	_, err := d.db.ExecContext(ctx, `
		UPDATE discord_alerts SET success = ?, discord_message_id = ?, error_message = ?
		WHERE id = ?`, o.success, msgID, errMsg, id)
	if err != nil {
		return errs.StoreError(errs.Context{Component: "alerts.dispatcher"}, fmt.Sprintf("update id=%d: %v", id, err))
	}
	return nil
}

// BulkUpdateOutcomes applies a batch of {id: success} outcomes in a
// single transaction.
func (d *Dispatcher) BulkUpdateOutcomes(ctx context.Context, outcomes map[int64]bool) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.StoreError(errs.Context{Component: "alerts.dispatcher"}, fmt.Sprintf("begin tx: %v", err))
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE discord_alerts SET success = ? WHERE id = ?`)
	if err != nil {
		tx.Rollback()
		return errs.StoreError(errs.Context{Component: "alerts.dispatcher"}, fmt.Sprintf("prepare: %v", err))
	}
	defer stmt.Close()
	for id, success := range outcomes {
		if _, err := stmt.ExecContext(ctx, success, id); err != nil {
			tx.Rollback()
			return errs.StoreError(errs.Context{Component: "alerts.dispatcher"}, fmt.Sprintf("exec id=%d: %v", id, err))
		}
	}
	return tx.Commit()
}

// Recent returns the most recently logged alert rows, newest first,
// used by the orchestrator's health/status query.
func (d *Dispatcher) Recent(ctx context.Context, limit int) ([]types.DiscordAlertRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, alert_type, symbol, signal_type, price, confidence, strength, position_size,
		       stop_loss, take_profit, strategy_name, webhook_url, discord_message_id,
		       sent_at, success, error_message, alert_data
		FROM discord_alerts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errs.StoreError(errs.Context{Component: "alerts.dispatcher"}, fmt.Sprintf("query recent: %v", err))
	}
	defer rows.Close()

	var out []types.DiscordAlertRecord
	for rows.Next() {
		var r types.DiscordAlertRecord
		var priceStr string
		var stopLoss, takeProfit, msgID, errMsg sql.NullString
		var sentAt string
		var success int
		if err := rows.Scan(&r.ID, &r.AlertType, &r.Symbol, &r.SignalType, &priceStr, &r.Confidence,
			&r.Strength, &r.PositionSize, &stopLoss, &takeProfit, &r.StrategyName, &r.WebhookTarget,
			&msgID, &sentAt, &success, &errMsg, &r.AlertData); err != nil {
			return nil, errs.StoreError(errs.Context{Component: "alerts.dispatcher"}, fmt.Sprintf("scan: %v", err))
		}
		r.Price = mustDecimal(priceStr)
		if stopLoss.Valid {
			d := mustDecimal(stopLoss.String)
			r.StopLoss = &d
		}
		if takeProfit.Valid {
			d := mustDecimal(takeProfit.String)
			r.TakeProfit = &d
		}
		if msgID.Valid {
			r.ExternalMessageID = &msgID.String
		}
		if errMsg.Valid {
			r.ErrorMessage = &errMsg.String
		}
		r.SentAt, _ = time.Parse(time.RFC3339, sentAt)
		r.Success = success != 0
		out = append(out, r)
	}
	return out, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
