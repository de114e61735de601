package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bitwar/backend/go/internal/v1/ranking"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// EnsureActiveSeason returns the current season, creating the first one or
// rolling an expired one over as needed.
func (s *Store) EnsureActiveSeason(ctx context.Context, now time.Time) (*types.Season, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	season, err := s.ensureActiveSeasonTx(ctx, tx, now)
	if err != nil {
		return nil, err
	}
	return season, tx.Commit(ctx)
}

// TopRankings lists the current season's leaderboard, best rating first.
func (s *Store) TopRankings(ctx context.Context, limit int) ([]types.Ranking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.username, r.season_id, r.rating, r.wins, r.losses, r.total_matches
		FROM rankings r
		JOIN seasons s ON s.id = r.season_id
		WHERE s.is_active = true
		ORDER BY r.rating DESC, r.username
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Ranking
	for rows.Next() {
		var r types.Ranking
		if err := rows.Scan(&r.Username, &r.SeasonID, &r.Rating, &r.Wins, &r.Losses, &r.TotalMatches); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UserStats returns lifetime battle counters for one user. Users who never
// battled get zeroes, not an error.
func (s *Store) UserStats(ctx context.Context, username string) (*types.UserStats, error) {
	stats := &types.UserStats{Username: username}
	err := s.pool.QueryRow(ctx, `
		SELECT total_battles, battles_won FROM user_stats WHERE username = $1
	`, username).Scan(&stats.TotalBattles, &stats.BattlesWon)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return stats, nil
}

// ensureActiveSeasonTx locks the active season row so concurrent battles
// agree on which season their ratings land in.
func (s *Store) ensureActiveSeasonTx(ctx context.Context, tx pgx.Tx, now time.Time) (*types.Season, error) {
	var season types.Season
	err := tx.QueryRow(ctx, `
		SELECT id, name, start_date, end_date, is_active FROM seasons
		WHERE is_active = true
		ORDER BY start_date DESC
		LIMIT 1
		FOR UPDATE
	`).Scan(&season.ID, &season.Name, &season.StartDate, &season.EndDate, &season.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.startSeason(ctx, tx, ranking.FirstSeasonName, now)
	}
	if err != nil {
		return nil, err
	}

	if !ranking.SeasonExpired(season.StartDate, now) {
		return &season, nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE seasons SET is_active = false, end_date = $2 WHERE id = $1
	`, season.ID, now); err != nil {
		return nil, err
	}
	return s.startSeason(ctx, tx, ranking.NextSeasonName(season.Name), now)
}

func (s *Store) startSeason(ctx context.Context, tx pgx.Tx, name string, now time.Time) (*types.Season, error) {
	season := types.Season{Name: name, StartDate: now, IsActive: true}
	if err := tx.QueryRow(ctx, `
		INSERT INTO seasons (name, start_date, is_active)
		VALUES ($1, $2, true)
		RETURNING id
	`, name, now).Scan(&season.ID); err != nil {
		return nil, err
	}
	return &season, nil
}

// applyDuelElo rates a decided 1v1 as soon as the winner finishes. The loser
// is the other participant, preferring whoever is still in the room.
func (s *Store) applyDuelElo(ctx context.Context, tx pgx.Tx, roomID, winner string, now time.Time) error {
	var loser string
	err := tx.QueryRow(ctx, `
		SELECT username FROM room_participants
		WHERE room_id = $1 AND username <> $2
		ORDER BY CASE WHEN status = 'joined' THEN 0 ELSE 1 END, joined_at
		LIMIT 1
	`, roomID, winner).Scan(&loser)
	if errors.Is(err, pgx.ErrNoRows) {
		// Opponent never joined, nothing to rate.
		return nil
	}
	if err != nil {
		return err
	}

	season, err := s.ensureActiveSeasonTx(ctx, tx, now)
	if err != nil {
		return err
	}
	ratings, err := s.rankingRatings(ctx, tx, season.ID, []string{winner, loser})
	if err != nil {
		return err
	}

	dWinner, dLoser := ranking.Duel(ratings[winner], ratings[loser])
	if err := s.adjustRanking(ctx, tx, season.ID, winner, dWinner, true); err != nil {
		return err
	}
	return s.adjustRanking(ctx, tx, season.ID, loser, dLoser, false)
}

// applySquadElo rates a free-for-all at completion. positions[i] belongs to
// users[i]; non-finishers arrive here already sharing the last place.
func (s *Store) applySquadElo(ctx context.Context, tx pgx.Tx, users []string, positions []int, now time.Time) error {
	if len(users) < 2 {
		return nil
	}

	season, err := s.ensureActiveSeasonTx(ctx, tx, now)
	if err != nil {
		return err
	}
	byUser, err := s.rankingRatings(ctx, tx, season.ID, users)
	if err != nil {
		return err
	}

	ratings := make([]float64, len(users))
	for i, u := range users {
		ratings[i] = byUser[u]
	}
	deltas := ranking.Squad(ratings, positions)
	for i, u := range users {
		if err := s.adjustRanking(ctx, tx, season.ID, u, deltas[i], positions[i] == 1); err != nil {
			return err
		}
	}
	return nil
}

// rankingRatings creates missing ranking rows at the default rating, then
// locks them in username order to keep concurrent battles deadlock free.
func (s *Store) rankingRatings(ctx context.Context, tx pgx.Tx, seasonID int64, usernames []string) (map[string]float64, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO rankings (username, season_id)
		SELECT u, $1 FROM unnest($2::text[]) AS u
		ON CONFLICT (username, season_id) DO NOTHING
	`, seasonID, usernames); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT username, rating FROM rankings
		WHERE season_id = $1 AND username = ANY($2)
		ORDER BY username
		FOR UPDATE
	`, seasonID, usernames)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ratings := make(map[string]float64, len(usernames))
	for rows.Next() {
		var (
			u string
			r float64
		)
		if err := rows.Scan(&u, &r); err != nil {
			return nil, err
		}
		ratings[u] = r
	}
	return ratings, rows.Err()
}

func (s *Store) adjustRanking(ctx context.Context, tx pgx.Tx, seasonID int64, username string, delta float64, won bool) error {
	_, err := tx.Exec(ctx, `
		UPDATE rankings
		SET rating = rating + $3,
		    wins = wins + CASE WHEN $4 THEN 1 ELSE 0 END,
		    losses = losses + CASE WHEN $4 THEN 0 ELSE 1 END,
		    total_matches = total_matches + 1
		WHERE season_id = $1 AND username = $2
	`, seasonID, username, delta, won)
	return err
}
