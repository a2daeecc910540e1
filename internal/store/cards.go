// ABOUTME: Card binding persistence and the assignment decision table
// ABOUTME: Enforces the 1:1 card-to-user mapping, monotonic counters, and MAC learning

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GetCardBinding retrieves the binding for a card identifier.
func (s *SQLiteStore) GetCardBinding(ctx context.Context, cardID string) (*CardBinding, error) {
	query := `
		SELECT id, user_id, card_id, last_ctr, static_mac, created_at
		FROM cards
		WHERE card_id = ?
	`
	return scanBinding(s.db.QueryRowContext(ctx, query, cardID))
}

// GetUserBinding retrieves the binding owned by a user.
func (s *SQLiteStore) GetUserBinding(ctx context.Context, userID int64) (*CardBinding, error) {
	query := `
		SELECT id, user_id, card_id, last_ctr, static_mac, created_at
		FROM cards
		WHERE user_id = ?
	`
	return scanBinding(s.db.QueryRowContext(ctx, query, userID))
}

// ListBindings returns all card bindings, oldest first.
func (s *SQLiteStore) ListBindings(ctx context.Context) ([]*CardBinding, error) {
	query := `
		SELECT id, user_id, card_id, last_ctr, static_mac, created_at
		FROM cards
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying bindings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bindings []*CardBinding
	for rows.Next() {
		var b CardBinding
		var staticMAC sql.NullString
		var createdAtStr string

		if err := rows.Scan(&b.ID, &b.UserID, &b.CardID, &b.LastCtr, &staticMAC, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning binding: %w", err)
		}

		b.StaticMAC = staticMAC.String
		b.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		bindings = append(bindings, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bindings: %w", err)
	}

	return bindings, nil
}

// Assign records a card tap or explicit registration for a user. The whole
// decision runs in one transaction so the lookup-then-write cannot race:
//
//   - card unbound, user unbound: insert a new binding (card_registered)
//   - card unbound, user bound to another card: repoint the user's row to
//     the new card (card_registered); the learned MAC is replaced, not kept,
//     since it belonged to the previous card
//   - card bound to this user: counter must be strictly greater than
//     last_ctr when supplied, otherwise ErrReplayDetected; the counter and
//     learned MAC are refreshed (card_verified)
//   - card bound to someone else: ErrCardOwnedByOther, nothing mutated
//
// mac is stored lowercased. A nil ctr means the caller had no counter
// (explicit /card/register); such calls carry no replay protection.
func (s *SQLiteStore) Assign(ctx context.Context, userID int64, cardID string, ctr *int64, mac string) (*AssignmentResult, error) {
	macValue := strings.ToLower(strings.TrimSpace(mac))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ownerID, lastCtr int64
	err = tx.QueryRowContext(ctx,
		"SELECT user_id, last_ctr FROM cards WHERE card_id = ?", cardID,
	).Scan(&ownerID, &lastCtr)

	var result *AssignmentResult
	switch {
	case err == nil:
		result, err = s.assignExisting(ctx, tx, userID, cardID, ownerID, lastCtr, ctr, macValue)
	case errors.Is(err, sql.ErrNoRows):
		result, err = s.assignNew(ctx, tx, userID, cardID, ctr, macValue)
	default:
		return nil, fmt.Errorf("querying card binding: %w", err)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing assignment: %w", err)
	}

	s.logger.Info("card assignment persisted",
		"user_id", result.UserID,
		"card_id", result.CardID,
		"status", result.Status,
		"last_ctr", result.LastCtr,
	)
	return result, nil
}

// assignExisting handles a card that already has a row: either an owner-match
// re-confirmation or an ownership conflict.
func (s *SQLiteStore) assignExisting(ctx context.Context, tx *sql.Tx, userID int64, cardID string, ownerID, lastCtr int64, ctr *int64, mac string) (*AssignmentResult, error) {
	if ownerID != userID {
		return nil, ErrCardOwnedByOther
	}

	newCtr := lastCtr
	if ctr != nil {
		if *ctr <= lastCtr {
			return nil, fmt.Errorf("%w: ctr %d <= last_ctr %d", ErrReplayDetected, *ctr, lastCtr)
		}
		newCtr = *ctr
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE cards SET last_ctr = ? WHERE card_id = ?", newCtr, cardID,
	); err != nil {
		return nil, fmt.Errorf("updating counter: %w", err)
	}

	if err := persistStaticMAC(ctx, tx, cardID, mac); err != nil {
		return nil, err
	}

	return &AssignmentResult{
		Status:    StatusCardVerified,
		CardID:    cardID,
		UserID:    userID,
		LastCtr:   newCtr,
		IsNewCard: false,
	}, nil
}

// assignNew handles a card with no row: insert, or repoint the user's
// existing row to enforce one card per user.
func (s *SQLiteStore) assignNew(ctx context.Context, tx *sql.Tx, userID int64, cardID string, ctr *int64, mac string) (*AssignmentResult, error) {
	var priorCtr int64
	var priorCardID string
	err := tx.QueryRowContext(ctx,
		"SELECT card_id, last_ctr FROM cards WHERE user_id = ?", userID,
	).Scan(&priorCardID, &priorCtr)

	var newCtr int64
	switch {
	case err == nil:
		// User already owns a different card: repoint the row. The learned
		// MAC is replaced because it authenticated the previous card.
		newCtr = priorCtr
		if ctr != nil {
			newCtr = *ctr
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE cards SET card_id = ?, last_ctr = ?, static_mac = ? WHERE user_id = ?",
			cardID, newCtr, nullableMAC(mac), userID,
		); err != nil {
			if isUniqueConstraintError(err) {
				return nil, ErrCardOwnedByOther
			}
			return nil, fmt.Errorf("repointing binding: %w", err)
		}
		s.logger.Info("binding repointed", "user_id", userID, "old_card_id", priorCardID, "new_card_id", cardID)

	case errors.Is(err, sql.ErrNoRows):
		newCtr = 0
		if ctr != nil {
			newCtr = *ctr
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO cards (user_id, card_id, last_ctr, static_mac, created_at) VALUES (?, ?, ?, ?, ?)",
			userID, cardID, newCtr, nullableMAC(mac), time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			if isUniqueConstraintError(err) {
				// Lost a race: the card was bound between lookup and insert
				return nil, ErrCardOwnedByOther
			}
			return nil, fmt.Errorf("inserting binding: %w", err)
		}

	default:
		return nil, fmt.Errorf("querying user binding: %w", err)
	}

	return &AssignmentResult{
		Status:    StatusCardRegistered,
		CardID:    cardID,
		UserID:    userID,
		LastCtr:   newCtr,
		IsNewCard: true,
	}, nil
}

// persistStaticMAC records a learned authenticator. Empty values never
// overwrite a previously learned MAC.
func persistStaticMAC(ctx context.Context, tx *sql.Tx, cardID, mac string) error {
	if mac == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE cards SET static_mac = ? WHERE card_id = ?", mac, cardID,
	); err != nil {
		return fmt.Errorf("persisting static mac: %w", err)
	}
	return nil
}

// nullableMAC converts an empty MAC to NULL for storage.
func nullableMAC(mac string) sql.NullString {
	if mac == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: mac, Valid: true}
}

// scanBinding reads a single card binding row.
func scanBinding(row *sql.Row) (*CardBinding, error) {
	var b CardBinding
	var staticMAC sql.NullString
	var createdAtStr string

	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.CardID,
		&b.LastCtr,
		&staticMAC,
		&createdAtStr,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBindingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying card binding: %w", err)
	}

	b.StaticMAC = staticMAC.String
	b.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &b, nil
}
