package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/martius-lab/teamproject-competition-server/internal/models"
	"github.com/martius-lab/teamproject-competition-server/internal/service"
	"github.com/martius-lab/teamproject-competition-server/pkg/database"
)

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create registers a new account with a fresh access token and the default
// rating. The plaintext password is hashed before it reaches the database.
func (r *UserRepository) Create(username, password string, role models.UserRole) (*models.User, error) {
	passwordHash, err := models.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	token := uuid.NewString()
	rating := models.DefaultRating()

	query := `
		INSERT INTO users (username, password, token, role, mu, sigma)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING user_id
	`

	user := &models.User{
		Username:     username,
		PasswordHash: passwordHash,
		Token:        token,
		Role:         role,
		Rating:       rating,
	}
	err = r.db.QueryRow(query, username, passwordHash, token, string(role), rating.Mu, rating.Sigma).
		Scan(&user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// ResolveToken maps an access token to its user ID.
func (r *UserRepository) ResolveToken(token string) (int, error) {
	query := `SELECT user_id FROM users WHERE token = $1`

	var userID int
	err := r.db.QueryRow(query, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, service.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve token: %w", err)
	}

	return userID, nil
}

func (r *UserRepository) Get(userID int) (*models.User, error) {
	query := `
		SELECT user_id, username, password, token, role, mu, sigma
		FROM users
		WHERE user_id = $1
	`

	user := &models.User{}
	err := r.db.QueryRow(query, userID).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Token,
		&user.Role,
		&user.Rating.Mu,
		&user.Rating.Sigma,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, service.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

func (r *UserRepository) FindByUsername(username string) (*models.User, error) {
	query := `
		SELECT user_id, username, password, token, role, mu, sigma
		FROM users
		WHERE username = $1
	`

	user := &models.User{}
	err := r.db.QueryRow(query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Token,
		&user.Role,
		&user.Rating.Mu,
		&user.Rating.Sigma,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, service.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return user, nil
}

// MatchmakingParameters returns the user's current skill estimate.
func (r *UserRepository) MatchmakingParameters(userID int) (models.Rating, error) {
	query := `SELECT mu, sigma FROM users WHERE user_id = $1`

	var rating models.Rating
	err := r.db.QueryRow(query, userID).Scan(&rating.Mu, &rating.Sigma)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Rating{}, service.ErrNotFound
	}
	if err != nil {
		return models.Rating{}, fmt.Errorf("failed to get rating: %w", err)
	}

	return rating, nil
}

func (r *UserRepository) SetMatchmakingParameters(userID int, rating models.Rating) error {
	query := `UPDATE users SET mu = $1, sigma = $2 WHERE user_id = $3`

	result, err := r.db.Exec(query, rating.Mu, rating.Sigma, userID)
	if err != nil {
		return fmt.Errorf("failed to set rating: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set rating: %w", err)
	}
	if affected == 0 {
		return service.ErrNotFound
	}

	return nil
}

// UpdateRatings writes both users' new ratings in one transaction. Updates
// run in user ID order so concurrent game finishes cannot deadlock.
func (r *UserRepository) UpdateRatings(user1ID int, rating1 models.Rating, user2ID int, rating2 models.Rating) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin rating update: %w", err)
	}
	defer tx.Rollback()

	first, firstRating := user1ID, rating1
	second, secondRating := user2ID, rating2
	if second < first {
		first, second = second, first
		firstRating, secondRating = secondRating, firstRating
	}

	query := `UPDATE users SET mu = $1, sigma = $2 WHERE user_id = $3`
	if _, err := tx.Exec(query, firstRating.Mu, firstRating.Sigma, first); err != nil {
		return fmt.Errorf("failed to update rating of user %d: %w", first, err)
	}
	if _, err := tx.Exec(query, secondRating.Mu, secondRating.Sigma, second); err != nil {
		return fmt.Errorf("failed to update rating of user %d: %w", second, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rating update: %w", err)
	}
	return nil
}
