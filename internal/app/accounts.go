package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"medquiz-service/internal/domain"
)

// SignUpInput registers a new account with its profile.
type SignUpInput struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	Name        string `json:"name" validate:"required,max=120"`
	Affiliation string `json:"affiliation" validate:"max=200"`
}

// ProfileInput updates the editable profile fields.
type ProfileInput struct {
	Name        string `json:"name" validate:"required,max=120"`
	Affiliation string `json:"affiliation" validate:"max=200"`
}

// Token is a signed session token handed to the client.
type Token struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Claims are the verified parts of a token.
type Claims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// AccountService handles sign-up, sign-in and profiles.
type AccountService struct {
	accounts AccountRepository
	profiles ProfileRepository
	denylist TokenDenylist
	images   ImageStore
	secret   []byte
	ttl      time.Duration
	cost     int
	validate *validator.Validate
	now      func() time.Time
	log      *zap.Logger
}

type AccountOption func(*AccountService)

// WithBcryptCost lowers hashing cost, for tests.
func WithBcryptCost(cost int) AccountOption {
	return func(s *AccountService) { s.cost = cost }
}

func WithAccountLogger(log *zap.Logger) AccountOption {
	return func(s *AccountService) { s.log = log }
}

func NewAccountService(accounts AccountRepository, profiles ProfileRepository, denylist TokenDenylist, images ImageStore, secret string, ttl time.Duration, opts ...AccountOption) *AccountService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &AccountService{
		accounts: accounts,
		profiles: profiles,
		denylist: denylist,
		images:   images,
		secret:   []byte(secret),
		ttl:      ttl,
		cost:     bcrypt.DefaultCost,
		validate: validator.New(),
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AccountService) SignUp(ctx context.Context, in SignUpInput) (domain.Profile, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	in.Affiliation = strings.TrimSpace(in.Affiliation)
	if err := s.validate.Struct(in); err != nil {
		return domain.Profile{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	if _, err := s.accounts.AccountByEmail(ctx, in.Email); err == nil {
		return domain.Profile{}, domain.ErrEmailTaken
	} else if !errors.Is(err, domain.ErrAccountNotFound) {
		return domain.Profile{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	account := domain.Account{ID: uuid.NewString(), Email: in.Email, PasswordHash: string(hash), CreatedAt: now}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return domain.Profile{}, err
	}
	profile := domain.Profile{UserID: account.ID, Name: in.Name, Affiliation: in.Affiliation, UpdatedAt: now}
	if err := s.profiles.UpsertProfile(ctx, profile); err != nil {
		return domain.Profile{}, err
	}
	s.log.Info("account created", zap.String("user", account.ID))
	return profile, nil
}

func (s *AccountService) SignIn(ctx context.Context, email, password string) (Token, error) {
	account, err := s.accounts.AccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, domain.ErrAccountNotFound) {
		return Token{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return Token{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Token{}, domain.ErrInvalidCredentials
	}

	now := s.now()
	expires := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   account.ID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Token: signed, UserID: account.ID, ExpiresAt: expires}, nil
}

// Authenticate verifies a token and rejects revoked ones.
func (s *AccountService) Authenticate(ctx context.Context, token string) (Claims, error) {
	var registered jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &registered, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid || registered.Subject == "" || registered.ExpiresAt == nil {
		return Claims{}, domain.ErrUnauthenticated
	}

	revoked, err := s.denylist.IsRevoked(ctx, registered.ID)
	if err != nil {
		return Claims{}, err
	}
	if revoked {
		return Claims{}, domain.ErrUnauthenticated
	}
	return Claims{UserID: registered.Subject, TokenID: registered.ID, ExpiresAt: registered.ExpiresAt.Time}, nil
}

// SignOut revokes the token for the rest of its lifetime.
func (s *AccountService) SignOut(ctx context.Context, token string) error {
	claims, err := s.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	ttl := claims.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.denylist.Revoke(ctx, claims.TokenID, ttl)
}

func (s *AccountService) Profile(ctx context.Context, userID string) (domain.Profile, error) {
	return s.profiles.GetProfile(ctx, userID)
}

func (s *AccountService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (domain.Profile, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Affiliation = strings.TrimSpace(in.Affiliation)
	if err := s.validate.Struct(in); err != nil {
		return domain.Profile{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return domain.Profile{}, err
	}
	profile.Name = in.Name
	profile.Affiliation = in.Affiliation
	profile.UpdatedAt = s.now()
	if err := s.profiles.UpsertProfile(ctx, profile); err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}

func (s *AccountService) UploadAvatar(ctx context.Context, userID, filename string, body io.Reader) (domain.Profile, error) {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return domain.Profile{}, err
	}
	url, err := storeImage(ctx, s.images, "avatars", filename, body)
	if err != nil {
		return domain.Profile{}, err
	}
	profile.AvatarURL = url
	profile.UpdatedAt = s.now()
	if err := s.profiles.UpsertProfile(ctx, profile); err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}

// Owner resolves the display name used on results.
func (s *AccountService) Owner(ctx context.Context, userID string) Owner {
	owner := Owner{UserID: userID, DisplayName: "Anonymous"}
	if profile, err := s.profiles.GetProfile(ctx, userID); err == nil && profile.Name != "" {
		owner.DisplayName = profile.Name
	}
	return owner
}
