package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"
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

func (p *PostgresStore) SaveOrder(o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(`INSERT INTO orders(id, rider_id, restaurant_name, restaurant_lat, restaurant_lon, customer_name, customer_phone, delivery_address, customer_lat, customer_lon, items, delivery_fee, distance_km, estimated_minutes, pickup_otp, delivery_otp, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		o.ID, o.RiderID, o.RestaurantName, o.RestaurantLoc.Lat, o.RestaurantLoc.Lon,
		o.CustomerName, o.CustomerPhone, o.DeliveryAddress, o.CustomerLoc.Lat, o.CustomerLoc.Lon,
		items, o.DeliveryFee, o.DistanceKm, o.EstimatedMinutes, o.PickupOTP, o.DeliveryOTP,
		o.Status, o.CreatedAt, o.UpdatedAt)
	return err
}

func (p *PostgresStore) GetOrder(id string) (*Order, error) {
	row := p.db.QueryRow(`SELECT id, rider_id, restaurant_name, restaurant_lat, restaurant_lon, customer_name, customer_phone, delivery_address, customer_lat, customer_lon, items, delivery_fee, distance_km, estimated_minutes, pickup_otp, delivery_otp, status, created_at, updated_at FROM orders WHERE id=$1`, id)
	var o Order
	var items []byte
	err := row.Scan(&o.ID, &o.RiderID, &o.RestaurantName, &o.RestaurantLoc.Lat, &o.RestaurantLoc.Lon,
		&o.CustomerName, &o.CustomerPhone, &o.DeliveryAddress, &o.CustomerLoc.Lat, &o.CustomerLoc.Lon,
		&items, &o.DeliveryFee, &o.DistanceKm, &o.EstimatedMinutes, &o.PickupOTP, &o.DeliveryOTP,
		&o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, err
		}
	}
	return &o, nil
}

func (p *PostgresStore) UpdateStatus(id, status, riderID string) error {
	var err error
	if riderID != "" {
		_, err = p.db.Exec(`UPDATE orders SET status=$1, rider_id=$2, updated_at=$3 WHERE id=$4`, status, riderID, time.Now(), id)
	} else {
		_, err = p.db.Exec(`UPDATE orders SET status=$1, updated_at=$2 WHERE id=$3`, status, time.Now(), id)
	}
	return err
}
