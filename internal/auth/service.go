package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"OpportunityFinder/internal/config"
	"OpportunityFinder/pkg/apperrors"
	"OpportunityFinder/pkg/backoff"
	"OpportunityFinder/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const resetTokenTTL = 15 * time.Minute

var (
	ErrInvalidCredentials = apperrors.New(apperrors.CodeInvalidCredentials, "auth", "Invalid credentials", http.StatusUnauthorized)
	ErrEmailRegistered    = apperrors.New(apperrors.CodeAlreadyExists, "auth", "Email already registered", http.StatusConflict)
	ErrInvalidResetToken  = apperrors.New(apperrors.CodeInvalidToken, "auth", "Invalid or expired reset token", http.StatusUnauthorized)
	ErrEmployeeNotFound   = apperrors.NotFound("employee", "Employee profile not found")
	ErrEmptyProfileUpdate = apperrors.NewBadRequestError("No profile fields to update")
)

type Service struct {
	store     EmployeeStore
	tokens    *TokenManager
	mailer    config.EmailSender
	cfg       *config.Config
	retry     backoff.Policy
	mu        sync.RWMutex
	observers []IdentityObserver
}

func NewService(store EmployeeStore, tokens *TokenManager, mailer config.EmailSender, cfg *config.Config) *Service {
	return &Service{
		store:  store,
		tokens: tokens,
		mailer: mailer,
		cfg:    cfg,
		retry:  backoff.Policy{MaxAttempts: 3, BaseDelay: cfg.RetryBaseDelay},
	}
}

// OnIdentityChange registers fn to be called after every successful register or login.
func (s *Service) OnIdentityChange(fn IdentityObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Service) publishIdentity(identity Identity) {
	s.mu.RLock()
	observers := append([]IdentityObserver(nil), s.observers...)
	s.mu.RUnlock()
	for _, fn := range observers {
		fn(identity)
	}
}

func (s *Service) accessFor(email string) string {
	if s.cfg.IsAdmin(email) {
		return AccessAdmin
	}
	return AccessMember
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*TokenResponse, error) {
	email := NormalizeEmail(req.Email)

	existing, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailRegistered
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}

	now := time.Now().UTC()
	employee := &Employee{
		ID:           primitive.NewObjectID(),
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		Role:         strings.TrimSpace(req.Role),
		Industry:     strings.TrimSpace(req.Industry),
		Domain:       strings.TrimSpace(req.Domain),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.create(ctx, employee); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailRegistered
		}
		return nil, storeError(err)
	}

	return s.issue(employee)
}

func (s *Service) Login(ctx context.Context, cred Credential) (*TokenResponse, error) {
	employee, err := s.findByEmail(ctx, NormalizeEmail(cred.Email))
	if err != nil {
		return nil, err
	}
	if employee == nil || !CheckPasswordHash(cred.Password, employee.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(employee)
}

func (s *Service) issue(employee *Employee) (*TokenResponse, error) {
	identity := Identity{Email: employee.Email, DisplayName: employee.Name, Access: s.accessFor(employee.Email)}
	token, err := s.tokens.GenerateJWT(identity.DisplayName, identity.Email, identity.Access)
	if err != nil {
		return nil, apperrors.InternalError(fmt.Errorf("token not generated: %w", err))
	}
	s.publishIdentity(identity)
	return &TokenResponse{Token: token, Employee: employee}, nil
}

// ForgotPassword stores a short-lived reset token and emails a reset link to the employee.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	employee, err := s.findByEmail(ctx, email)
	if err != nil {
		return err
	}
	if employee == nil {
		return ErrEmployeeNotFound
	}

	resetToken, err := s.tokens.GenerateResetToken(email, resetTokenTTL)
	if err != nil {
		return apperrors.InternalError(err)
	}
	err = backoff.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.store.SetResetToken(ctx, email, resetToken)
	})
	if err != nil {
		return storeError(err)
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", strings.TrimRight(s.cfg.PublicURL, "/"), resetToken)
	body := fmt.Sprintf("<p>Click the link to reset your password: <a href=\"%s\">%s</a></p>", link, link)
	if err := s.mailer.SendEmail(ctx, email, "Password Reset", body); err != nil {
		logger.L().Error("Failed to send reset password email", zap.String("email", email), zap.Error(err))
		return apperrors.Wrap(err, apperrors.CodeExternalServiceError, "auth", "Failed to send reset password email", http.StatusBadGateway)
	}
	return nil
}

// ResetPassword accepts only the latest token issued by ForgotPassword.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	email, err := s.tokens.ParseResetToken(token)
	if err != nil {
		return ErrInvalidResetToken
	}

	employee, err := s.findByEmail(ctx, email)
	if err != nil {
		return err
	}
	if employee == nil || employee.ResetToken != token {
		return ErrInvalidResetToken
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return apperrors.InternalError(err)
	}
	err = backoff.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.store.SetPassword(ctx, email, hash)
	})
	if err != nil {
		return storeError(err)
	}
	return nil
}

func (s *Service) Profile(ctx context.Context, email string) (*Employee, error) {
	employee, err := s.findByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if employee == nil {
		return nil, ErrEmployeeNotFound
	}
	return employee, nil
}

func (s *Service) UpdateProfile(ctx context.Context, email string, update ProfileUpdate) (*Employee, error) {
	if update.Empty() {
		return nil, ErrEmptyProfileUpdate
	}
	trim(update.Name)
	trim(update.Role)
	trim(update.Industry)
	trim(update.Domain)

	var employee *Employee
	err := backoff.Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		employee, err = s.store.UpdateProfile(ctx, NormalizeEmail(email), update)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	if employee == nil {
		return nil, ErrEmployeeNotFound
	}
	return employee, nil
}

func (s *Service) ListEmployees(ctx context.Context) ([]*Employee, error) {
	var employees []*Employee
	err := backoff.Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		employees, err = s.store.List(ctx)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	return employees, nil
}

func (s *Service) findByEmail(ctx context.Context, email string) (*Employee, error) {
	var employee *Employee
	err := backoff.Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		employee, err = s.store.FindByEmail(ctx, email)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	return employee, nil
}

// create inserts employee with retries. A retry that hits the unique email index is checked
// against the stored document, since the earlier attempt may have landed.
func (s *Service) create(ctx context.Context, employee *Employee) error {
	attempts := 0
	return backoff.Retry(ctx, s.retry, func(ctx context.Context) error {
		attempts++
		err := s.store.Create(ctx, employee)
		if attempts > 1 && errors.Is(err, ErrEmailTaken) {
			stored, findErr := s.store.FindByEmail(ctx, employee.Email)
			if findErr == nil && stored != nil && stored.ID == employee.ID {
				return nil
			}
		}
		return err
	})
}

func storeError(err error) error {
	switch {
	case errors.Is(err, backoff.ErrExhausted), backoff.IsTransient(err):
		return apperrors.Unavailable("employee", err)
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrEmployeeNotFound
	default:
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "employee", "Employee store error", http.StatusInternalServerError)
	}
}

func trim(field *string) {
	if field != nil {
		*field = strings.TrimSpace(*field)
	}
}
