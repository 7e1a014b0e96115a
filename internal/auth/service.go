// Package auth handles user accounts and JWT access tokens.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Claims carried inside the access token. Subject is the user ID.
type Claims struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

type User struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	IsAdmin     bool   `json:"is_admin"`
}

const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	user_id       TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_admin      INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL
);
`

type Config struct {
	SecretKey   string
	TokenExpiry time.Duration
}

// Service authenticates users against the users table and issues HS256
// tokens.
type Service struct {
	db     *sql.DB
	cfg    Config
	logger *zap.Logger
}

// NewService prepares the users table and seeds the development accounts on
// an empty database.
func NewService(db *sql.DB, cfg Config, logger *zap.Logger) (*Service, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("auth: secret key is required")
	}
	if cfg.TokenExpiry <= 0 {
		cfg.TokenExpiry = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if _, err := db.Exec(usersSchema); err != nil {
		return nil, fmt.Errorf("migrate users table: %w", err)
	}

	s := &Service{db: db, cfg: cfg, logger: logger.With(zap.String("component", "auth"))}

	if err := s.seedDefaultUsers(); err != nil {
		return nil, err
	}

	return s, nil
}

// seedDefaultUsers creates the development accounts when the table is empty.
func (s *Service) seedDefaultUsers() error {
	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, u := range []struct {
		username string
		password string
		isAdmin  bool
	}{
		{"user1", "password123", false},
		{"admin", "admin123", true},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash seed password: %w", err)
		}
		_, err = s.db.Exec(
			`INSERT INTO users (user_id, username, password_hash, is_admin, created_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), u.username, string(hash), u.isAdmin, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.username, err)
		}
	}

	s.logger.Info("seeded default users", zap.Strings("usernames", []string{"user1", "admin"}))
	return nil
}

func (s *Service) userByUsername(ctx context.Context, username string) (User, string, error) {
	var u User
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, password_hash, is_admin FROM users WHERE username = ?`,
		username,
	).Scan(&u.UserID, &u.Username, &hash, &u.IsAdmin)
	if err == sql.ErrNoRows {
		return User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return User{}, "", fmt.Errorf("query user: %w", err)
	}
	return u, hash, nil
}

// Login checks credentials and returns a fresh access token.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	user, hash, err := s.userByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issueToken(user)
}

// Register creates a new non-admin account and logs it in.
func (s *Service) Register(ctx context.Context, username, password string) (*LoginResponse, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := User{UserID: uuid.NewString(), Username: username}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, username, password_hash, is_admin, created_at) VALUES (?, ?, ?, 0, ?)`,
		user.UserID, username, string(hash), time.Now().UTC(),
	)
	if err != nil {
		// UNIQUE violation on username.
		return nil, ErrUsernameTaken
	}

	return s.issueToken(user)
}

// ChangePassword verifies the old password before storing the new hash.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash FROM users WHERE user_id = ?`, userID,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("query user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(oldPassword)) != nil {
		return ErrInvalidCredentials
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE user_id = ?`, string(newHash), userID,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *Service) issueToken(user User) (*LoginResponse, error) {
	now := time.Now()
	claims := Claims{
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenExpiry)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.SecretKey))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		UserID:      user.UserID,
		Username:    user.Username,
		IsAdmin:     user.IsAdmin,
	}, nil
}

// VerifyToken parses and validates an access token.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.SecretKey), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
