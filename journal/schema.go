package journal

const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	signal_id TEXT NOT NULL DEFAULT '',
	instrument TEXT NOT NULL,
	direction TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	units REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	stop_loss REAL NOT NULL DEFAULT 0,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	realized_pl REAL NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_close_time ON trades(close_time);
`

const tradeColumns = `trade_id, signal_id, instrument, direction, source, units, entry_price, exit_price, stop_loss, open_time, close_time, realized_pl, reason`
