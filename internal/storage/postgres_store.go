package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/example/parkswap/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing pool.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Close() error { return p.db.Close() }

const alertColumns = `id, owner_id, owner_email, status, price, available_in_minutes, created_at, updated_at,
	address, lat, lon, reserved_by_id, reserved_by_name, reserved_by_photo,
	reserved_by_car_brand, reserved_by_car_model, reserved_by_car_color, reserved_by_car_plate`

func (p *PostgresStore) CreateAlert(ctx context.Context, a *models.Alert) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO alerts(`+alertColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		a.ID, a.OwnerID, a.OwnerEmail, a.Status, a.Price, a.AvailableInMinutes, a.CreatedAt, a.UpdatedAt,
		a.Address, a.Loc.Lat, a.Loc.Lon, a.ReservedByID, a.ReservedByName, a.ReservedByPhoto,
		a.ReservedByCarBrand, a.ReservedByCarModel, a.ReservedByCarColor, a.ReservedByCarPlate)
	return err
}

func (p *PostgresStore) UpdateAlert(ctx context.Context, a *models.Alert) error {
	res, err := p.db.ExecContext(ctx, `UPDATE alerts SET status=$1, price=$2, available_in_minutes=$3, created_at=$4, updated_at=$5,
		address=$6, lat=$7, lon=$8, reserved_by_id=$9, reserved_by_name=$10, reserved_by_photo=$11,
		reserved_by_car_brand=$12, reserved_by_car_model=$13, reserved_by_car_color=$14, reserved_by_car_plate=$15
		WHERE id=$16`,
		a.Status, a.Price, a.AvailableInMinutes, a.CreatedAt, a.UpdatedAt,
		a.Address, a.Loc.Lat, a.Loc.Lon, a.ReservedByID, a.ReservedByName, a.ReservedByPhoto,
		a.ReservedByCarBrand, a.ReservedByCarModel, a.ReservedByCarColor, a.ReservedByCarPlate, a.ID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (p *PostgresStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=$1`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return a, err
}

func (p *PostgresStore) FilterAlerts(ctx context.Context, f AlertFilter) ([]*models.Alert, error) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		n := strconv.Itoa(len(args))
		where = append(where, "(owner_id=$"+n+" OR owner_email=$"+n+")")
	}
	if f.BuyerID != "" {
		args = append(args, f.BuyerID)
		where = append(where, "reserved_by_id=$"+strconv.Itoa(len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		where = append(where, "status = ANY($"+strconv.Itoa(len(args))+")")
	}
	q := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DeleteAlert(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM alerts WHERE id=$1`, id)
	return err
}

const requestColumns = `id, alert_id, seller_id, buyer_id, buyer_email, buyer_name, buyer_photo,
	buyer_car_brand, buyer_car_model, buyer_car_color, buyer_car_plate, status, eta_seconds, created_at, responded_at`

func (p *PostgresStore) CreateRequest(ctx context.Context, r *models.ReservationRequest) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO reservation_requests(`+requestColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		r.ID, r.AlertID, r.SellerID, r.Buyer.ID, r.Buyer.Email, r.Buyer.Name, r.Buyer.Photo,
		r.Buyer.CarBrand, r.Buyer.CarModel, r.Buyer.CarColor, r.Buyer.CarPlate, r.Status, r.ETASeconds, r.CreatedAt, r.RespondedAt)
	return err
}

func (p *PostgresStore) UpdateRequest(ctx context.Context, r *models.ReservationRequest) error {
	res, err := p.db.ExecContext(ctx, `UPDATE reservation_requests SET status=$1, eta_seconds=$2, responded_at=$3 WHERE id=$4`,
		r.Status, r.ETASeconds, r.RespondedAt, r.ID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.ReservationRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM reservation_requests WHERE id=$1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) FilterRequests(ctx context.Context, alertID string) ([]*models.ReservationRequest, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM reservation_requests WHERE alert_id=$1 ORDER BY created_at`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.ReservationRequest, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateTransaction(ctx context.Context, t *models.SettlementRecord) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO transactions(id, alert_id, outcome, amount, seller_id, buyer_id, seller_cancelled_or_moved,
		seller_credit, buyer_credit, platform_fee, created_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t.ID, t.AlertID, t.Outcome, t.Amount, t.SellerID, t.BuyerID, t.SellerCancelledOrMoved,
		t.SellerCredit, t.BuyerCredit, t.PlatformFee, t.CreatedAt)
	return err
}

func (p *PostgresStore) FilterTransactions(ctx context.Context, f TransactionFilter) ([]*models.SettlementRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, alert_id, outcome, amount, seller_id, buyer_id, seller_cancelled_or_moved,
		seller_credit, buyer_credit, platform_fee, created_at FROM transactions
		WHERE ($1 = '' OR alert_id = $1) AND ($2 = '' OR seller_id = $2 OR buyer_id = $2) ORDER BY created_at`, f.AlertID, f.UserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.SettlementRecord, 0)
	for rows.Next() {
		var t models.SettlementRecord
		if err := rows.Scan(&t.ID, &t.AlertID, &t.Outcome, &t.Amount, &t.SellerID, &t.BuyerID, &t.SellerCancelledOrMoved,
			&t.SellerCredit, &t.BuyerCredit, &t.PlatformFee, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO notifications(id, user_id, type, alert_id, request_id, title, text, read, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`, n.ID, n.UserID, n.Type, n.AlertID, n.RequestID, n.Title, n.Text, n.Read, n.CreatedAt)
	return err
}

func (p *PostgresStore) FilterNotifications(ctx context.Context, userID string) ([]*models.Notification, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, user_id, type, alert_id, request_id, title, text, read, created_at
		FROM notifications WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Notification, 0)
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.AlertID, &n.RequestID, &n.Title, &n.Text, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateNotification(ctx context.Context, n *models.Notification) error {
	res, err := p.db.ExecContext(ctx, `UPDATE notifications SET read=$1, title=$2, text=$3 WHERE id=$4`, n.Read, n.Title, n.Text, n.ID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(s scanner) (*models.Alert, error) {
	var a models.Alert
	err := s.Scan(&a.ID, &a.OwnerID, &a.OwnerEmail, &a.Status, &a.Price, &a.AvailableInMinutes, &a.CreatedAt, &a.UpdatedAt,
		&a.Address, &a.Loc.Lat, &a.Loc.Lon, &a.ReservedByID, &a.ReservedByName, &a.ReservedByPhoto,
		&a.ReservedByCarBrand, &a.ReservedByCarModel, &a.ReservedByCarColor, &a.ReservedByCarPlate)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanRequest(s scanner) (*models.ReservationRequest, error) {
	var r models.ReservationRequest
	err := s.Scan(&r.ID, &r.AlertID, &r.SellerID, &r.Buyer.ID, &r.Buyer.Email, &r.Buyer.Name, &r.Buyer.Photo,
		&r.Buyer.CarBrand, &r.Buyer.CarModel, &r.Buyer.CarColor, &r.Buyer.CarPlate, &r.Status, &r.ETASeconds, &r.CreatedAt, &r.RespondedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ApplyMigrations executes every .sql file in dir in lexical order. The
// statements are written to be idempotent.
func (p *PostgresStore) ApplyMigrations(ctx context.Context, dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	applied := make([]string, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return applied, fmt.Errorf("read %s: %w", f, err)
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return applied, fmt.Errorf("exec %s: %w", filepath.Base(f), err)
		}
		applied = append(applied, filepath.Base(f))
	}
	return applied, nil
}
