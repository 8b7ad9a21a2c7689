package users

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eventhorizon/server/internal/filestore"
	"github.com/eventhorizon/server/internal/validation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memRepo struct {
	mu    sync.Mutex
	users map[string]*User
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[string]*User{}}
}

func (r *memRepo) Create(_ context.Context, p CreateParams) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == p.Username {
			return nil, ErrUsernameTaken
		}
		if p.Email != "" && strings.EqualFold(u.Email, p.Email) {
			return nil, ErrEmailTaken
		}
	}
	u := &User{
		ID:           p.ID,
		Username:     p.Username,
		Email:        p.Email,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		PasswordHash: p.PasswordHash,
		IsStaff:      p.IsStaff,
		IsActive:     true,
		GitHubID:     p.GitHubID,
		DateJoined:   time.Now(),
	}
	r.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (r *memRepo) find(match func(*User) bool) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) update(id string, fn func(*User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*User, error) {
	return r.find(func(u *User) bool { return u.ID == id })
}

func (r *memRepo) GetByLogin(_ context.Context, login string) (*User, error) {
	return r.find(func(u *User) bool { return u.Username == login || strings.EqualFold(u.Email, login) })
}

func (r *memRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	return r.find(func(u *User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *memRepo) GetByGitHubID(_ context.Context, id int64) (*User, error) {
	return r.find(func(u *User) bool { return u.GitHubID != nil && *u.GitHubID == id })
}

func (r *memRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := r.find(func(u *User) bool { return u.Username == username })
	return err == nil, nil
}

func (r *memRepo) UpdateAccount(_ context.Context, id string, p AccountParams) error {
	if other, err := r.find(func(u *User) bool { return u.ID != id && strings.EqualFold(u.Email, p.Email) }); err == nil && other != nil {
		return ErrEmailTaken
	}
	return r.update(id, func(u *User) {
		u.FirstName, u.LastName, u.Email = p.FirstName, p.LastName, p.Email
	})
}

func (r *memRepo) UpdateProfile(_ context.Context, id string, p Profile) error {
	return r.update(id, func(u *User) { u.Profile = p })
}

func (r *memRepo) SetAvatar(_ context.Context, id, path string) error {
	return r.update(id, func(u *User) { u.Profile.AvatarPath = path })
}

func (r *memRepo) ReplaceSocialLinks(_ context.Context, id string, links []SocialLink) error {
	return r.update(id, func(u *User) { u.SocialLinks = append([]SocialLink(nil), links...) })
}

func (r *memRepo) LinkGitHub(_ context.Context, id string, githubID int64) error {
	return r.update(id, func(u *User) { u.GitHubID = &githubID })
}

func (r *memRepo) SetPassword(_ context.Context, id, hash string) error {
	return r.update(id, func(u *User) { u.PasswordHash = hash })
}

func (r *memRepo) SetStaff(_ context.Context, id string, staff bool) error {
	return r.update(id, func(u *User) { u.IsStaff = staff })
}

func (r *memRepo) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(u *User) { u.LastLogin = &at })
}

func (r *memRepo) List(_ context.Context, limit, offset int) ([]User, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]User, 0, len(r.users))
	for _, u := range r.users {
		all = append(all, *u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Username < all[j].Username })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func newTestService(t *testing.T) (*Service, *memRepo, *filestore.LocalBackend) {
	t.Helper()
	media, err := filestore.NewLocalBackend(t.TempDir(), "http://localhost:8000/files", filestore.KindMedia)
	require.NoError(t, err)
	repo := newMemRepo()
	svc := NewService(repo, media, nil, zerolog.Nop())
	svc.cost = bcrypt.MinCost
	return svc, repo, media
}

func signUp(t *testing.T, svc *Service, username string) *User {
	t.Helper()
	user, err := svc.SignUp(context.Background(), SignUpInput{
		Username: username,
		Email:    username + "@Example.COM",
		Password: "correct horse battery",
	})
	require.NoError(t, err)
	return user
}

func TestSignUpAndAuthenticate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	user := signUp(t, svc, "yuri")
	require.Equal(t, "yuri@example.com", user.Email)
	require.True(t, user.IsActive)
	require.False(t, user.IsStaff)
	require.NotEqual(t, "correct horse battery", user.PasswordHash)

	got, err := svc.Authenticate(ctx, "yuri", "correct horse battery")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
	require.NotNil(t, got.LastLogin)

	got, err = svc.Authenticate(ctx, "YURI@example.com", "correct horse battery")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	_, err = svc.Authenticate(ctx, "yuri", "wrong password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody", "correct horse battery")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateInactive(t *testing.T) {
	svc, repo, _ := newTestService(t)
	user := signUp(t, svc, "valentina")
	require.NoError(t, repo.update(user.ID, func(u *User) { u.IsActive = false }))

	_, err := svc.Authenticate(context.Background(), "valentina", "correct horse battery")
	require.ErrorIs(t, err, ErrInactive)
}

func TestSignUpValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	signUp(t, svc, "neil")

	tests := []struct {
		name  string
		input SignUpInput
		field string
	}{
		{"missing username", SignUpInput{Email: "a@example.com", Password: "longenough"}, "username"},
		{"bad username", SignUpInput{Username: "has space", Email: "a@example.com", Password: "longenough"}, "username"},
		{"bad email", SignUpInput{Username: "buzz", Email: "not-an-email", Password: "longenough"}, "email"},
		{"short password", SignUpInput{Username: "buzz", Email: "buzz@example.com", Password: "short"}, "password"},
		{"taken username", SignUpInput{Username: "neil", Email: "other@example.com", Password: "longenough"}, "username"},
		{"taken email", SignUpInput{Username: "buzz", Email: "NEIL@example.com", Password: "longenough"}, "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SignUp(ctx, tt.input)
			var fieldErrs validation.FieldErrors
			require.True(t, errors.As(err, &fieldErrs), "got %v", err)
			require.Equal(t, tt.field, fieldErrs[0].Field)
		})
	}
}

func TestCreateSuperuser(t *testing.T) {
	svc, _, _ := newTestService(t)
	user, err := svc.CreateSuperuser(context.Background(), SignUpInput{
		Username: "admin",
		Email:    "admin@example.com",
		Password: "supersecret",
	})
	require.NoError(t, err)
	require.True(t, user.IsStaff)
}

func TestUpdateAccountAndProfile(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	user := signUp(t, svc, "sally")
	signUp(t, svc, "mae")

	updated, err := svc.UpdateAccount(ctx, user.ID, AccountInput{FirstName: " Sally ", LastName: "Ride", Email: "sally@nasa.gov"})
	require.NoError(t, err)
	require.Equal(t, "Sally", updated.FirstName)
	require.Equal(t, "sally@nasa.gov", updated.Email)

	_, err = svc.UpdateAccount(ctx, user.ID, AccountInput{Email: "mae@example.com"})
	var fieldErrs validation.FieldErrors
	require.True(t, errors.As(err, &fieldErrs))
	require.Equal(t, "email", fieldErrs[0].Field)

	profile, err := svc.UpdateProfile(ctx, user.ID, ProfileInput{
		Bio:         "First American woman in space <script>alert(1)</script>",
		Location:    "Houston",
		PhoneNumber: "555-0100",
	})
	require.NoError(t, err)
	require.NotContains(t, profile.Profile.Bio, "<script>")
	require.Equal(t, "Houston", profile.Profile.Location)

	_, err = svc.UpdateProfile(ctx, user.ID, ProfileInput{Location: strings.Repeat("x", 31)})
	require.True(t, errors.As(err, &fieldErrs))
	require.Equal(t, "location", fieldErrs[0].Field)
}

func TestCleanSocialLinks(t *testing.T) {
	links, err := CleanSocialLinks([]SocialLink{
		{Platform: PlatformGitHub, URL: "https://github.com/sally"},
		{Platform: PlatformTwitter, URL: ""},
		{Platform: "", URL: "  "},
	})
	require.NoError(t, err)
	require.Equal(t, []SocialLink{{Platform: PlatformGitHub, URL: "https://github.com/sally"}}, links)

	_, err = CleanSocialLinks([]SocialLink{{URL: "https://example.com"}})
	var fieldErrs validation.FieldErrors
	require.True(t, errors.As(err, &fieldErrs))
	require.Equal(t, "social_links[0].platform", fieldErrs[0].Field)
	require.Equal(t, "Please select a platform for the entered URL.", fieldErrs[0].Message)

	_, err = CleanSocialLinks([]SocialLink{{Platform: "myspace", URL: "https://example.com"}})
	require.True(t, errors.As(err, &fieldErrs))

	_, err = CleanSocialLinks([]SocialLink{{Platform: PlatformWebsite, URL: "not a url"}})
	require.True(t, errors.As(err, &fieldErrs))
	require.Equal(t, "social_links[0].url", fieldErrs[0].Field)
}

func TestReplaceSocialLinks(t *testing.T) {
	svc, repo, _ := newTestService(t)
	user := signUp(t, svc, "chris")

	_, err := svc.ReplaceSocialLinks(context.Background(), user.ID, []SocialLink{
		{Platform: PlatformWebsite, URL: "https://chris.example.com"},
	})
	require.NoError(t, err)
	stored, _ := repo.GetByID(context.Background(), user.ID)
	require.Len(t, stored.SocialLinks, 1)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestUpdateAvatar(t *testing.T) {
	svc, repo, media := newTestService(t)
	ctx := context.Background()
	user := signUp(t, svc, "mae")

	first, err := svc.UpdateAvatar(ctx, user.ID, bytes.NewReader(pngBytes(t, 64, 48)), "me.png")
	require.NoError(t, err)
	require.True(t, first.Compressed)
	require.True(t, strings.HasPrefix(first.Path, "avatars/users/"+user.ID+"/"))
	require.True(t, strings.HasSuffix(first.Path, ".jpg"))

	stored, _ := repo.GetByID(ctx, user.ID)
	require.Equal(t, first.Path, stored.Profile.AvatarPath)
	require.Equal(t, "http://localhost:8000/files/media/"+first.Path, svc.AvatarURL(ctx, stored))

	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="1" height="1"></svg>`)
	second, err := svc.UpdateAvatar(ctx, user.ID, bytes.NewReader(svg), "logo.svg")
	require.NoError(t, err)
	require.False(t, second.Compressed)
	require.True(t, strings.HasSuffix(second.Path, ".svg"))
	require.Equal(t, first.Path, second.PreviousPath)
	require.NoError(t, second.PreviousDelete)

	exists, err := media.Exists(ctx, first.Path)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestUpdateAvatarRejectsExtension(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := signUp(t, svc, "gus")

	_, err := svc.UpdateAvatar(context.Background(), user.ID, strings.NewReader("MZ"), "virus.exe")
	var fieldErrs validation.FieldErrors
	require.True(t, errors.As(err, &fieldErrs))
	require.Equal(t, "avatar", fieldErrs[0].Field)

	_, err = svc.UpdateAvatar(context.Background(), user.ID, strings.NewReader(""), "empty.png")
	require.True(t, errors.As(err, &fieldErrs))
}

func TestUpdateAvatarRejectsHugeDimensions(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	user := signUp(t, svc, "rex")

	_, err := svc.UpdateAvatar(ctx, user.ID, bytes.NewReader(pngHeader(60000, 60000)), "bomb.png")
	var fieldErrs validation.FieldErrors
	require.True(t, errors.As(err, &fieldErrs), "got %v", err)
	require.Equal(t, "avatar", fieldErrs[0].Field)

	stored, _ := repo.GetByID(ctx, user.ID)
	require.Empty(t, stored.Profile.AvatarPath)
}

func TestUploadNotice(t *testing.T) {
	require.Empty(t, UploadNotice(500*1024))
	require.Contains(t, UploadNotice(2*1024*1024), "optimized for web viewing")
	require.Contains(t, UploadNotice(6*1024*1024), "Large image detected")
}

func TestLoginWithGitHub(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	existing := signUp(t, svc, "octo")

	// Same email links the existing account.
	linked, err := svc.LoginWithGitHub(ctx, GitHubProfile{ID: 42, Login: "octocat", Email: "OCTO@example.com"})
	require.NoError(t, err)
	require.Equal(t, existing.ID, linked.ID)
	require.NotNil(t, linked.GitHubID)
	require.EqualValues(t, 42, *linked.GitHubID)

	again, err := svc.LoginWithGitHub(ctx, GitHubProfile{ID: 42, Login: "renamed"})
	require.NoError(t, err)
	require.Equal(t, existing.ID, again.ID)

	// Unknown account with a colliding login gets a suffixed username.
	created, err := svc.LoginWithGitHub(ctx, GitHubProfile{ID: 7, Login: "octo", Email: "new@example.com", Name: "Mona Lisa"})
	require.NoError(t, err)
	require.NotEqual(t, existing.ID, created.ID)
	require.True(t, strings.HasPrefix(created.Username, "octo-"))
	require.Equal(t, "Mona", created.FirstName)
	require.Equal(t, "Lisa", created.LastName)
	require.False(t, created.HasPassword())

	_, err = svc.Authenticate(ctx, created.Username, "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSetPassword(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	user := signUp(t, svc, "john")

	require.Error(t, svc.SetPassword(ctx, user.ID, "short"))
	require.NoError(t, svc.SetPassword(ctx, user.ID, "a much longer one"))
	_, err := svc.Authenticate(ctx, "john", "a much longer one")
	require.NoError(t, err)
}

func TestList(t *testing.T) {
	svc, _, _ := newTestService(t)
	for _, name := range []string{"c", "a", "b"} {
		signUp(t, svc, name)
	}
	page, total, err := svc.List(context.Background(), 2, 1)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, page, 2)
	require.Equal(t, "b", page[0].Username)
}
