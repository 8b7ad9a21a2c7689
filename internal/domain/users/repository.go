package users

import (
	"context"
	"errors"
	"time"

	"github.com/eventhorizon/server/internal/domain/events"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username is already taken")
	ErrEmailTaken         = errors.New("email is already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInactive           = errors.New("user account is disabled")
	ErrInvalidImage       = errors.New("upload a valid image")
	ErrImageTooLarge      = errors.New("image dimensions are too large")
)

type User struct {
	ID           string
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	IsStaff      bool
	IsActive     bool
	GitHubID     *int64
	DateJoined   time.Time
	LastLogin    *time.Time
	Profile      Profile
	SocialLinks  []SocialLink
}

// Summary is the part of a user embedded in events and registrations.
func (u *User) Summary() events.UserSummary {
	return events.UserSummary{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// HasPassword reports whether the user can log in with a password. Users
// created through GitHub have none until they set one.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Profile is created together with its user.
type Profile struct {
	Bio         string `json:"bio"`
	Location    string `json:"location"`
	PhoneNumber string `json:"phone_number"`
	AvatarPath  string `json:"-"`
}

// Social link platforms.
const (
	PlatformGitHub    = "github"
	PlatformTwitter   = "twitter"
	PlatformLinkedIn  = "linkedin"
	PlatformInstagram = "instagram"
	PlatformFacebook  = "facebook"
	PlatformWebsite   = "website"
	PlatformOther     = "other"
)

// Platforms lists the platforms in display order with their labels.
var Platforms = []struct{ Value, Label string }{
	{PlatformGitHub, "GitHub"},
	{PlatformTwitter, "Twitter/X"},
	{PlatformLinkedIn, "LinkedIn"},
	{PlatformInstagram, "Instagram"},
	{PlatformFacebook, "Facebook"},
	{PlatformWebsite, "Personal Website"},
	{PlatformOther, "Other"},
}

func validPlatform(p string) bool {
	for _, known := range Platforms {
		if known.Value == p {
			return true
		}
	}
	return false
}

type SocialLink struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

type CreateParams struct {
	ID           string
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	IsStaff      bool
	GitHubID     *int64
}

type AccountParams struct {
	FirstName string
	LastName  string
	Email     string
}

type Repository interface {
	// Create stores the user and an empty profile. It returns
	// ErrUsernameTaken or ErrEmailTaken on conflicts.
	Create(ctx context.Context, params CreateParams) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	// GetByLogin matches the username, or the email case-insensitively.
	GetByLogin(ctx context.Context, login string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByGitHubID(ctx context.Context, githubID int64) (*User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	UpdateAccount(ctx context.Context, id string, params AccountParams) error
	UpdateProfile(ctx context.Context, id string, profile Profile) error
	SetAvatar(ctx context.Context, id, path string) error
	ReplaceSocialLinks(ctx context.Context, id string, links []SocialLink) error
	LinkGitHub(ctx context.Context, id string, githubID int64) error
	SetPassword(ctx context.Context, id, hash string) error
	SetStaff(ctx context.Context, id string, staff bool) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, limit, offset int) ([]User, int, error)
}
