package users

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/eventhorizon/server/internal/audit"
	"github.com/eventhorizon/server/internal/domain/ids"
	"github.com/eventhorizon/server/internal/filestore"
	"github.com/eventhorizon/server/internal/sanitize"
	"github.com/eventhorizon/server/internal/validation"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the cost factor for password hashes.
const BcryptCost = 12

// maxAvatarUpload caps the raw upload read into memory before compression.
const maxAvatarUpload = 32 << 20

type SignUpInput struct {
	Username string `json:"username" validate:"required,max=150,username"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type AccountInput struct {
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
	Email     string `json:"email" validate:"required,email,max=254"`
}

type ProfileInput struct {
	Bio         string `json:"bio" validate:"max=500"`
	Location    string `json:"location" validate:"max=30"`
	PhoneNumber string `json:"phone_number" validate:"max=15"`
}

// GitHubProfile is the identity returned by the GitHub OAuth flow.
type GitHubProfile struct {
	ID    int64
	Login string
	Email string
	Name  string
}

type Service struct {
	repo      Repository
	media     filestore.Backend
	audit     *audit.Logger
	validator *validation.Validator
	logger    zerolog.Logger
	cost      int
	now       func() time.Time
}

// NewService creates the user service. media stores avatars and may be nil
// when uploads are disabled.
func NewService(repo Repository, media filestore.Backend, auditLogger *audit.Logger, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		media:     media,
		audit:     auditLogger,
		validator: validation.New(),
		logger:    logger.With().Str("component", "users").Logger(),
		cost:      BcryptCost,
		now:       time.Now,
	}
}

// SignUp creates an active, non-staff user with a password.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	user, err := s.create(ctx, in.Username, in.Email, in.Password, false, nil, "", "")
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("user signed up")
	return user, nil
}

// CreateSuperuser creates a staff user. Used by the createsuperuser command.
func (s *Service) CreateSuperuser(ctx context.Context, in SignUpInput) (*User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	user, err := s.create(ctx, in.Username, in.Email, in.Password, true, nil, "", "")
	if err != nil {
		return nil, err
	}
	s.record(ctx, "user.superuser_created", user.ID, user)
	return user, nil
}

func (s *Service) create(ctx context.Context, username, email, password string, staff bool, githubID *int64, first, last string) (*User, error) {
	var hash string
	if password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		hash = string(h)
	}
	id, err := ids.NewULID()
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}
	user, err := s.repo.Create(ctx, CreateParams{
		ID:           id,
		Username:     username,
		Email:        email,
		FirstName:    first,
		LastName:     last,
		PasswordHash: hash,
		IsStaff:      staff,
		GitHubID:     githubID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUsernameTaken):
			return nil, validation.FieldErrors{{Field: "username", Message: "A user with that username already exists."}}
		case errors.Is(err, ErrEmailTaken):
			return nil, validation.FieldErrors{{Field: "email", Message: "A user is already registered with this email address."}}
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate checks a username or email and password.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.repo.GetByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Spend the same time as a real comparison.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			s.loginFailed(ctx, login, "unknown_user")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.HasPassword() || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.loginFailed(ctx, login, "invalid_password")
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		s.loginFailed(ctx, login, "inactive")
		return nil, ErrInactive
	}
	s.touch(ctx, user)
	return user, nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("eventhorizon-dummy-password"), bcrypt.MinCost)

func (s *Service) loginFailed(ctx context.Context, login, reason string) {
	s.logger.Warn().Str("login", login).Str("reason", reason).Msg("login failed")
	if s.audit != nil {
		s.audit.LogFailure(ctx, "user.login", login, map[string]string{"reason": reason})
	}
}

func (s *Service) touch(ctx context.Context, user *User) {
	now := s.now().UTC()
	if err := s.repo.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record last login")
		return
	}
	user.LastLogin = &now
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns one page of users for staff listings.
func (s *Service) List(ctx context.Context, limit, offset int) ([]User, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// UpdateAccount changes the name and email of a user.
func (s *Service) UpdateAccount(ctx context.Context, id string, in AccountInput) (*User, error) {
	in.FirstName = sanitize.Text(in.FirstName)
	in.LastName = sanitize.Text(in.LastName)
	in.Email = normalizeEmail(in.Email)
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	err := s.repo.UpdateAccount(ctx, id, AccountParams(in))
	if errors.Is(err, ErrEmailTaken) {
		return nil, validation.FieldErrors{{Field: "email", Message: "A user is already registered with this email address."}}
	}
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	return s.repo.GetByID(ctx, id)
}

// UpdateProfile replaces bio, location and phone number. The avatar is
// left untouched.
func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileInput) (*User, error) {
	in.Bio = sanitize.Text(in.Bio)
	in.Location = sanitize.Text(in.Location)
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	profile := Profile{
		Bio:         in.Bio,
		Location:    in.Location,
		PhoneNumber: in.PhoneNumber,
		AvatarPath:  user.Profile.AvatarPath,
	}
	if err := s.repo.UpdateProfile(ctx, id, profile); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	user.Profile = profile
	return user, nil
}

// CleanSocialLinks drops rows without a URL and validates the rest. A URL
// without a platform is an error.
func CleanSocialLinks(links []SocialLink) ([]SocialLink, error) {
	var errs validation.FieldErrors
	out := make([]SocialLink, 0, len(links))
	for i, link := range links {
		link.URL = strings.TrimSpace(link.URL)
		link.Platform = strings.TrimSpace(link.Platform)
		if link.URL == "" {
			continue
		}
		field := fmt.Sprintf("social_links[%d]", i)
		switch {
		case link.Platform == "":
			errs.Add(field+".platform", "Please select a platform for the entered URL.")
		case !validPlatform(link.Platform):
			errs.Add(field+".platform", fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", link.Platform))
		}
		if len(link.URL) > 200 {
			errs.Add(field+".url", "Ensure this field has no more than 200 characters.")
		} else if validation.ValidateURL(link.URL, "url", false) != nil {
			errs.Add(field+".url", "Enter a valid URL.")
		}
		out = append(out, link)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReplaceSocialLinks stores the cleaned links in place of the current set.
func (s *Service) ReplaceSocialLinks(ctx context.Context, id string, links []SocialLink) ([]SocialLink, error) {
	cleaned, err := CleanSocialLinks(links)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceSocialLinks(ctx, id, cleaned); err != nil {
		return nil, fmt.Errorf("replace social links: %w", err)
	}
	return cleaned, nil
}

// AvatarResult reports what UpdateAvatar stored.
type AvatarResult struct {
	Path           string
	OriginalSize   int64
	StoredSize     int64
	Compressed     bool
	PreviousPath   string
	PreviousDelete error
}

// UpdateAvatar stores a new avatar for the user. Decodable images are
// compressed to JPEG; anything the decoders reject (SVG, for instance) is
// stored as uploaded, provided the extension is an image type.
func (s *Service) UpdateAvatar(ctx context.Context, id string, r io.Reader, filename string) (*AvatarResult, error) {
	if s.media == nil {
		return nil, errors.New("avatar storage is not configured")
	}
	if !filestore.ValidateImageExtension(filename, nil) {
		return nil, validation.FieldErrors{{
			Field:   "avatar",
			Message: "Upload a valid image. Allowed extensions are: " + strings.Join(filestore.ImageExtensions, ", ") + ".",
		}}
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, maxAvatarUpload+1))
	if err != nil {
		return nil, fmt.Errorf("read avatar: %w", err)
	}
	if len(data) == 0 {
		return nil, validation.FieldErrors{{Field: "avatar", Message: "The submitted file is empty."}}
	}
	if len(data) > maxAvatarUpload {
		return nil, validation.FieldErrors{{Field: "avatar", Message: "The submitted file is too large."}}
	}

	result := &AvatarResult{OriginalSize: int64(len(data))}
	stored := data
	name := filename
	compressed, err := CompressImage(data, DefaultCompressOptions)
	switch {
	case err == nil:
		stored = compressed
		name = strings.TrimSuffix(path.Base(filename), path.Ext(filename)) + ".jpg"
		result.Compressed = true
	case errors.Is(err, ErrImageTooLarge):
		return nil, validation.FieldErrors{{Field: "avatar", Message: "The image dimensions are too large."}}
	default:
		s.logger.Warn().Err(err).Str("user_id", id).Msg("avatar compression failed, storing original")
	}
	result.StoredSize = int64(len(stored))

	saved, err := s.media.Save(ctx, filestore.AvatarPath(id, name), bytes.NewReader(stored))
	if err != nil {
		return nil, fmt.Errorf("store avatar: %w", err)
	}
	if err := s.repo.SetAvatar(ctx, id, saved); err != nil {
		_ = s.media.Delete(ctx, saved)
		return nil, fmt.Errorf("set avatar: %w", err)
	}
	result.Path = saved

	if prev := user.Profile.AvatarPath; prev != "" && prev != saved {
		result.PreviousPath = prev
		result.PreviousDelete = s.media.Delete(ctx, prev)
	}

	evt := s.logger.Info().Str("user_id", id).Str("path", saved)
	if result.Compressed && result.OriginalSize > 0 {
		evt = evt.
			Str("original", filestore.FormatFileSize(result.OriginalSize)).
			Str("compressed", filestore.FormatFileSize(result.StoredSize)).
			Float64("reduction_pct", (1-float64(result.StoredSize)/float64(result.OriginalSize))*100)
	}
	evt.Msg("avatar updated")
	return result, nil
}

// UploadNotice is the message shown before a large avatar is processed,
// or "" when the upload is small.
func UploadNotice(size int64) string {
	switch {
	case size > 5*1024*1024:
		return "Large image detected. Your image will be automatically compressed to ensure fast loading times."
	case size > 1024*1024:
		return "Your image will be optimized for web viewing to ensure the best performance."
	}
	return ""
}

// AvatarURL resolves the public URL of the user's avatar, or "" when unset.
func (s *Service) AvatarURL(ctx context.Context, user *User) string {
	if s.media == nil || user.Profile.AvatarPath == "" {
		return ""
	}
	url, err := s.media.URL(ctx, user.Profile.AvatarPath)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("failed to resolve avatar url")
		return ""
	}
	return url
}

// LoginWithGitHub finds the user linked to the GitHub account, links an
// existing user with the same email, or creates a new user. New usernames
// come from the GitHub login, suffixed on collision.
func (s *Service) LoginWithGitHub(ctx context.Context, gh GitHubProfile) (*User, error) {
	if gh.ID == 0 {
		return nil, errors.New("github profile has no id")
	}

	user, err := s.repo.GetByGitHubID(ctx, gh.ID)
	if err == nil {
		return s.finishSocialLogin(ctx, user)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	email := normalizeEmail(gh.Email)
	if email != "" {
		user, err = s.repo.GetByEmail(ctx, email)
		switch {
		case err == nil:
			if err := s.repo.LinkGitHub(ctx, user.ID, gh.ID); err != nil {
				return nil, fmt.Errorf("link github account: %w", err)
			}
			user.GitHubID = &gh.ID
			s.record(ctx, "user.github_linked", user.ID, user)
			return s.finishSocialLogin(ctx, user)
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}

	username, err := s.availableUsername(ctx, gh.Login)
	if err != nil {
		return nil, err
	}
	first, last, _ := strings.Cut(strings.TrimSpace(gh.Name), " ")
	id := gh.ID
	user, err = s.create(ctx, username, email, "", false, &id, truncate(first, 150), truncate(last, 150))
	if err != nil {
		return nil, err
	}
	s.record(ctx, "user.github_signup", user.ID, user)
	return s.finishSocialLogin(ctx, user)
}

func (s *Service) finishSocialLogin(ctx context.Context, user *User) (*User, error) {
	if !user.IsActive {
		return nil, ErrInactive
	}
	s.touch(ctx, user)
	return user, nil
}

var usernameStrip = regexp.MustCompile(`[^\w.@+-]`)

func (s *Service) availableUsername(ctx context.Context, login string) (string, error) {
	base := truncate(usernameStrip.ReplaceAllString(login, ""), 140)
	if base == "" {
		base = "user"
	}
	candidate := base
	for i := 0; i < 10; i++ {
		exists, err := s.repo.UsernameExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = base + "-" + ids.RandomHex(4)
	}
	return "", fmt.Errorf("no available username for %q", login)
}

// SetPassword replaces the user's password.
func (s *Service) SetPassword(ctx context.Context, id, password string) error {
	if len(password) < 8 {
		return validation.FieldErrors{{Field: "password", Message: "Ensure this field has at least 8 characters."}}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repo.SetPassword(ctx, id, string(hash))
}

func (s *Service) record(ctx context.Context, action, actor string, user *User) {
	if s.audit == nil {
		return
	}
	s.audit.LogSuccess(ctx, action, actor, "user", user.ID, map[string]string{
		"username": user.Username,
	})
}

func normalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(email); err == nil && addr.Name == "" {
		email = addr.Address
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}
	return local + "@" + strings.ToLower(domain)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
