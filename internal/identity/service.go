package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"attendtrack/internal/apperr"
	"attendtrack/internal/auth"
	"attendtrack/internal/cloudinary"
	"attendtrack/internal/queue"
)

const minPasswordLen = 6

// Store is the persistence the service needs. *Repository implements it.
type Store interface {
	Create(ctx context.Context, u User) (User, error)
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, f UserFilter) ([]User, error)
	Update(ctx context.Context, u User) (User, error)
	UpdatePassword(ctx context.Context, id, hash string) error
	Delete(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (Stats, error)
}

// ImageStore keeps user photos. *cloudinary.Client implements it.
type ImageStore interface {
	UploadBase64(ctx context.Context, data string) (*cloudinary.UploadResult, error)
	Destroy(ctx context.Context, publicID string) error
}

// Publisher enqueues face gallery jobs.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Service manages the roster and authentication.
type Service struct {
	store  Store
	images ImageStore
	jobs   Publisher
	issuer auth.Issuer
	log    *zap.Logger
}

// NewService wires the service. images and jobs may be nil.
func NewService(store Store, images ImageStore, jobs Publisher, issuer auth.Issuer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, images: images, jobs: jobs, issuer: issuer, log: log}
}

// Register creates a user. Public signups always get role=user.
func (s *Service) Register(ctx context.Context, in NewUser, asAdmin bool) (User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if in.Name == "" {
		return User{}, apperr.Validation("name is required")
	}
	if err := validateEmail(in.Email); err != nil {
		return User{}, err
	}
	if len(in.Password) < minPasswordLen {
		return User{}, apperr.Validation(fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}

	role := auth.RoleUser
	if asAdmin && in.Role != "" {
		if !validRole(in.Role) {
			return User{}, apperr.Validation("role must be admin or user")
		}
		role = in.Role
	}

	existing, err := s.store.GetByEmail(ctx, in.Email)
	if err != nil {
		return User{}, fmt.Errorf("lookup email: %w", err)
	}
	if existing != nil {
		return User{}, apperr.Conflict("user already exists with this email")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	u := User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         role,
		Department:   strings.TrimSpace(in.Department),
		EmployeeID:   strings.TrimSpace(in.EmployeeID),
		IsActive:     true,
	}
	if in.Image != "" {
		u.ImageURL, u.ImagePublicID = s.upload(ctx, in.Image)
	}

	created, err := s.store.Create(ctx, u)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return User{}, apperr.Conflict("user already exists with this email")
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	if in.Image != "" {
		s.publish(ctx, queue.TypeFaceEnroll, queue.FaceJob{UserID: created.ID, Image: in.Image})
	}
	s.log.Info("user registered", zap.String("user_id", created.ID), zap.String("role", created.Role))
	return created, nil
}

// Login checks credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, apperr.Validation("please provide email and password")
	}
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return Session{}, fmt.Errorf("lookup email: %w", err)
	}
	if u == nil {
		return Session{}, apperr.Unauthorized("invalid credentials")
	}
	if !u.IsActive {
		return Session{}, apperr.Unauthorized("account deactivated")
	}
	if !auth.CheckPassword(password, u.PasswordHash) {
		return Session{}, apperr.Unauthorized("invalid credentials")
	}

	tok, err := s.issuer.Issue(u.ID, u.Role)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: tok.AccessToken, ExpiresAt: tok.ExpiresAt, User: *u}, nil
}

// Get returns a user or NotFound.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return User{}, apperr.NotFound("user not found")
	}
	return *u, nil
}

func (s *Service) List(ctx context.Context, f UserFilter) ([]User, error) {
	if f.Role != "" && !validRole(f.Role) {
		return nil, apperr.Validation("role must be admin or user")
	}
	users, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("user stats: %w", err)
	}
	return st, nil
}

// Update applies patch to user id. Admins may change any field. Users may
// change only their own name, email and photo; other fields they send are
// ignored.
func (s *Service) Update(ctx context.Context, actor Actor, id string, patch UserPatch) (User, error) {
	if !actor.IsAdmin() && actor.ID != id {
		return User{}, apperr.Forbidden("not authorized to update this user")
	}
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	if cur == nil {
		return User{}, apperr.NotFound("user not found")
	}
	u := *cur

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return User{}, apperr.Validation("name cannot be empty")
		}
		u.Name = name
	}
	if patch.Email != nil {
		email := normalizeEmail(*patch.Email)
		if err := validateEmail(email); err != nil {
			return User{}, err
		}
		u.Email = email
	}
	if actor.IsAdmin() {
		if patch.Role != nil {
			if !validRole(*patch.Role) {
				return User{}, apperr.Validation("role must be admin or user")
			}
			u.Role = *patch.Role
		}
		if patch.Department != nil {
			u.Department = strings.TrimSpace(*patch.Department)
		}
		if patch.EmployeeID != nil {
			u.EmployeeID = strings.TrimSpace(*patch.EmployeeID)
		}
		if patch.IsActive != nil {
			u.IsActive = *patch.IsActive
		}
	}

	newImage := patch.Image != nil && *patch.Image != ""
	oldPublicID := u.ImagePublicID
	if newImage {
		if url, publicID := s.upload(ctx, *patch.Image); publicID != "" {
			u.ImageURL, u.ImagePublicID = url, publicID
		}
	}

	updated, err := s.store.Update(ctx, u)
	if err != nil {
		if u.ImagePublicID != oldPublicID {
			s.destroy(ctx, u.ImagePublicID)
		}
		if errors.Is(err, ErrDuplicateEmail) {
			return User{}, apperr.Conflict("email already in use")
		}
		return User{}, fmt.Errorf("update user: %w", err)
	}

	if newImage {
		if oldPublicID != "" && oldPublicID != updated.ImagePublicID {
			s.destroy(ctx, oldPublicID)
		}
		s.publish(ctx, queue.TypeFaceEnroll, queue.FaceJob{UserID: updated.ID, Image: *patch.Image})
	}
	return updated, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string) error {
	if current == "" || next == "" {
		return apperr.Validation("please provide current and new password")
	}
	if len(next) < minPasswordLen {
		return apperr.Validation(fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return apperr.NotFound("user not found")
	}
	if !auth.CheckPassword(current, u.PasswordHash) {
		return apperr.Unauthorized("current password is incorrect")
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, id, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// Delete removes the user, their photo, their gallery face and, through the
// cascade, their attendance records.
func (s *Service) Delete(ctx context.Context, id string) error {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return apperr.NotFound("user not found")
	}
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if !ok {
		return apperr.NotFound("user not found")
	}
	if u.ImagePublicID != "" {
		s.destroy(ctx, u.ImagePublicID)
	}
	s.publish(ctx, queue.TypeFaceDelete, queue.FaceJob{UserID: id})
	s.log.Info("user deleted", zap.String("user_id", id))
	return nil
}

// upload stores a photo. Failures are logged and the caller proceeds
// without one.
func (s *Service) upload(ctx context.Context, image string) (url, publicID string) {
	if s.images == nil {
		s.log.Warn("image storage not configured, photo dropped")
		return "", ""
	}
	res, err := s.images.UploadBase64(ctx, image)
	if err != nil {
		s.log.Warn("photo upload failed", zap.Error(err))
		return "", ""
	}
	return res.SecureURL, res.PublicID
}

func (s *Service) destroy(ctx context.Context, publicID string) {
	if s.images == nil {
		return
	}
	if err := s.images.Destroy(ctx, publicID); err != nil {
		s.log.Warn("photo destroy failed", zap.String("public_id", publicID), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, typ string, job queue.FaceJob) {
	if s.jobs == nil {
		return
	}
	msg, err := queue.NewMessage(typ, job)
	if err == nil {
		err = s.jobs.Publish(ctx, msg)
	}
	if err != nil {
		s.log.Warn("face job publish failed", zap.String("type", typ), zap.String("user_id", job.UserID), zap.Error(err))
	}
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

func validateEmail(e string) error {
	if e == "" {
		return apperr.Validation("email is required")
	}
	if _, err := mail.ParseAddress(e); err != nil {
		return apperr.Validation("email is invalid")
	}
	return nil
}
