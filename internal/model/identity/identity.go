package identity

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"max.ks1230/grants-portal/internal/entity/grant"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/logger"
	"max.ks1230/grants-portal/internal/model/customerr"
)

const (
	invalidCredentials = "Invalid credentials!"
	// bcrypt rejects longer input
	maxPasswordBytes = 72
)

type userStorage interface {
	CreateUser(ctx context.Context, p grant.Profile, rec grant.Record) error
	GetUser(ctx context.Context, email string) (grant.Profile, grant.Record, error)
	SetProfilePicture(ctx context.Context, email, ref string) error
}

type pictureStore interface {
	PutPicture(ctx context.Context, email string, doc *submission.Document) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

type grantYear interface {
	CurrentYear() int
	Defaults() grant.Defaults
}

type config interface {
	Secret() string
	TokenTTL() time.Duration
	BcryptCost() int
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Designation string `json:"designation"`
	Phone       string `json:"phno"`
}

// UserRef identifies the authenticated caller.
type UserRef struct {
	Email string
	Role  string
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Role      string    `json:"role"`
}

type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Option func(*Service)

// WithPictureStore enables profile picture uploads.
func WithPictureStore(pictures pictureStore) Option {
	return func(s *Service) { s.pictures = pictures }
}

type Service struct {
	storage  userStorage
	grants   grantYear
	pictures pictureStore
	secret   []byte
	ttl      time.Duration
	cost     int
	now      func() time.Time
}

func NewService(storage userStorage, grants grantYear, config config, opts ...Option) (*Service, error) {
	if config.Secret() == "" {
		return nil, errors.New("jwt secret is not configured")
	}
	cost := config.BcryptCost()
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.Errorf("bcrypt cost %d out of range", cost)
	}
	s := &Service{
		storage: storage,
		grants:  grants,
		secret:  []byte(config.Secret()),
		ttl:     config.TokenTTL(),
		cost:    cost,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register stores a new user with full allowances for the current year.
func (s *Service) Register(ctx context.Context, req RegisterRequest) error {
	email := normalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return customerr.New(customerr.MissingField, "a valid email is required")
	}
	if req.Password == "" {
		return customerr.New(customerr.MissingField, "password is required")
	}
	if len(req.Password) > maxPasswordBytes {
		return customerr.Newf(customerr.MissingField, "password must be at most %d bytes", maxPasswordBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return customerr.Wrap(customerr.MissingField, err, "password is too long")
	}
	if err != nil {
		return errors.Wrap(err, "hash password")
	}

	profile := grant.Profile{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		Role:         strings.TrimSpace(req.Role),
		Designation:  strings.TrimSpace(req.Designation),
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: string(hash),
	}
	rec := grant.NewRecord(email, s.grants.Defaults(), s.grants.CurrentYear())
	if err = s.storage.CreateUser(ctx, profile, rec); err != nil {
		if customerr.Is(err, customerr.AlreadyExists) {
			return customerr.Wrap(customerr.AlreadyExists, err, "User already exists!")
		}
		return errors.Wrap(err, "register")
	}

	logger.Info("user registered", zap.String("email", email), zap.String("role", profile.Role))
	return nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	profile, _, err := s.storage.GetUser(ctx, email)
	if err != nil {
		if customerr.Is(err, customerr.UserNotFound) {
			return Session{}, customerr.New(customerr.Unauthorized, invalidCredentials)
		}
		return Session{}, errors.Wrap(err, "login")
	}
	if err = bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)); err != nil {
		return Session{}, customerr.New(customerr.Unauthorized, invalidCredentials)
	}

	expires := s.now().Add(s.ttl)
	claims := &Claims{
		Email: profile.Email,
		Role:  profile.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   profile.Email,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Session{}, errors.Wrap(err, "sign token")
	}
	return Session{Token: token, ExpiresAt: expires, Role: profile.Role}, nil
}

// Resolve validates a bearer token and returns the user it was issued to.
func (s *Service) Resolve(token string) (UserRef, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid || claims.Email == "" {
		return UserRef{}, customerr.Wrap(customerr.Unauthorized, err, "invalid token")
	}
	return UserRef{Email: claims.Email, Role: claims.Role}, nil
}

func (s *Service) Profile(ctx context.Context, email string) (grant.Profile, error) {
	profile, _, err := s.storage.GetUser(ctx, email)
	if err != nil {
		return grant.Profile{}, errors.Wrap(err, "profile")
	}
	profile.PasswordHash = ""
	return profile, nil
}

// UploadPicture stores a new profile picture and points the profile at it.
func (s *Service) UploadPicture(ctx context.Context, email string, doc *submission.Document) (string, error) {
	if s.pictures == nil {
		return "", errors.New("profile pictures are not configured")
	}
	ref, err := s.pictures.PutPicture(ctx, email, doc)
	if err != nil {
		return "", err
	}
	if err = s.storage.SetProfilePicture(ctx, email, ref); err != nil {
		return "", errors.Wrap(err, "upload picture")
	}
	logger.Info("profile picture updated", zap.String("email", email))
	return ref, nil
}

// Picture returns the stored profile picture and its reference.
func (s *Service) Picture(ctx context.Context, email string) ([]byte, string, error) {
	profile, _, err := s.storage.GetUser(ctx, email)
	if err != nil {
		return nil, "", errors.Wrap(err, "picture")
	}
	if profile.PictureRef == "" || s.pictures == nil {
		return nil, "", customerr.New(customerr.NotFound, "Profile picture not found")
	}
	data, err := s.pictures.Get(ctx, profile.PictureRef)
	if err != nil {
		return nil, "", errors.Wrap(err, "picture")
	}
	return data, profile.PictureRef, nil
}
