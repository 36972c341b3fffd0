package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"attendtrack/internal/apperr"
	"attendtrack/internal/auth"
	"attendtrack/internal/cloudinary"
	"attendtrack/internal/queue"
)

type fakeStore struct {
	mu     sync.Mutex
	users  map[string]User
	nextID int
}

var _ Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore { return &fakeStore{users: map[string]User{}} }

func (f *fakeStore) Create(_ context.Context, u User) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, x := range f.users {
		if x.Email == u.Email {
			return User{}, ErrDuplicateEmail
		}
	}
	f.nextID++
	if u.ID == "" {
		u.ID = "u" + string(rune('0'+f.nextID))
	}
	u.CreatedAt = time.Now()
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeStore) GetByEmail(_ context.Context, email string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) List(_ context.Context, flt UserFilter) ([]User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []User
	for _, u := range f.users {
		if flt.Role != "" && u.Role != flt.Role {
			continue
		}
		if flt.Search != "" && !strings.Contains(strings.ToLower(u.Name), strings.ToLower(flt.Search)) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeStore) Update(_ context.Context, u User) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, x := range f.users {
		if id != u.ID && x.Email == u.Email {
			return User{}, ErrDuplicateEmail
		}
	}
	u.PasswordHash = f.users[u.ID].PasswordHash
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeStore) UpdatePassword(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[id]
	u.PasswordHash = hash
	f.users[id] = u
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.users[id]
	delete(f.users, id)
	return ok, nil
}

func (f *fakeStore) Stats(context.Context) (Stats, error) { return Stats{}, nil }

type fakeImages struct {
	uploads   int
	destroyed []string
	failNext  bool
}

func (f *fakeImages) UploadBase64(context.Context, string) (*cloudinary.UploadResult, error) {
	if f.failNext {
		f.failNext = false
		return nil, errors.New("cloudinary down")
	}
	f.uploads++
	id := "photos/p" + string(rune('0'+f.uploads))
	return &cloudinary.UploadResult{PublicID: id, SecureURL: "https://cdn.test/" + id}, nil
}

func (f *fakeImages) Destroy(_ context.Context, id string) error {
	f.destroyed = append(f.destroyed, id)
	return nil
}

type fakeJobs struct{ msgs []queue.Message }

func (f *fakeJobs) Publish(_ context.Context, m queue.Message) error {
	f.msgs = append(f.msgs, m)
	return nil
}

func newTestService() (*Service, *fakeStore, *fakeImages, *fakeJobs) {
	st, img, jobs := newFakeStore(), &fakeImages{}, &fakeJobs{}
	svc := NewService(st, img, jobs, auth.Issuer{Name: "t", Key: "k", TTL: time.Hour}, nil)
	return svc, st, img, jobs
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("Public signup forces user role", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		u, err := svc.Register(ctx, NewUser{Name: "Ann", Email: "Ann@Example.com", Password: "secret1", Role: auth.RoleAdmin}, false)
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if u.Role != auth.RoleUser || u.Email != "ann@example.com" || !u.IsActive {
			t.Errorf("user = %+v", u)
		}
		if u.PasswordHash == "secret1" || !auth.CheckPassword("secret1", u.PasswordHash) {
			t.Error("password not hashed")
		}
	})

	t.Run("Admin chooses role", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		u, err := svc.Register(ctx, NewUser{Name: "Root", Email: "root@example.com", Password: "secret1", Role: auth.RoleAdmin}, true)
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if u.Role != auth.RoleAdmin {
			t.Errorf("role = %q, want admin", u.Role)
		}
	})

	t.Run("Duplicate email conflicts", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		in := NewUser{Name: "Ann", Email: "ann@example.com", Password: "secret1"}
		if _, err := svc.Register(ctx, in, false); err != nil {
			t.Fatal(err)
		}
		_, err := svc.Register(ctx, in, false)
		if apperr.KindOf(err) != apperr.KindConflict {
			t.Errorf("second Register() error = %v, want conflict", err)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		bad := []NewUser{
			{Email: "a@b.c", Password: "secret1"},
			{Name: "A", Email: "not-an-email", Password: "secret1"},
			{Name: "A", Email: "a@b.c", Password: "123"},
		}
		for _, in := range bad {
			if _, err := svc.Register(ctx, in, false); apperr.KindOf(err) != apperr.KindValidation {
				t.Errorf("Register(%+v) error = %v, want validation", in, err)
			}
		}
	})

	t.Run("Photo uploads and enrolls face", func(t *testing.T) {
		svc, _, img, jobs := newTestService()
		u, err := svc.Register(ctx, NewUser{Name: "Ann", Email: "ann@example.com", Password: "secret1", Image: "data:image/png;base64,AA"}, false)
		if err != nil {
			t.Fatal(err)
		}
		if u.ImagePublicID == "" || img.uploads != 1 {
			t.Errorf("photo not stored: %+v", u)
		}
		if len(jobs.msgs) != 1 || jobs.msgs[0].Type != queue.TypeFaceEnroll {
			t.Fatalf("jobs = %+v", jobs.msgs)
		}
		var job queue.FaceJob
		_ = jobs.msgs[0].Decode(&job)
		if job.UserID != u.ID {
			t.Errorf("job user = %q, want %q", job.UserID, u.ID)
		}
	})

	t.Run("Upload failure does not block registration", func(t *testing.T) {
		svc, _, img, _ := newTestService()
		img.failNext = true
		u, err := svc.Register(ctx, NewUser{Name: "Ann", Email: "ann@example.com", Password: "secret1", Image: "data:x"}, false)
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if u.ImageURL != "" {
			t.Errorf("ImageURL = %q, want empty", u.ImageURL)
		}
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService()
	u, _ := svc.Register(ctx, NewUser{Name: "Ann", Email: "ann@example.com", Password: "secret1"}, false)

	sess, err := svc.Login(ctx, "ANN@example.com ", "secret1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	claims, err := auth.Parse(sess.Token, "k", "t")
	if err != nil || claims.Subject != u.ID || claims.Role != auth.RoleUser {
		t.Errorf("token claims = %+v, err = %v", claims, err)
	}

	tests := []struct {
		name  string
		email string
		pw    string
		want  string
	}{
		{name: "Unknown email", email: "x@example.com", pw: "secret1", want: "invalid credentials"},
		{name: "Wrong password", email: "ann@example.com", pw: "wrong", want: "invalid credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tt.email, tt.pw)
			if apperr.KindOf(err) != apperr.KindUnauthorized || apperr.Message(err) != tt.want {
				t.Errorf("Login() error = %v", err)
			}
		})
	}

	deactivated := st.users[u.ID]
	deactivated.IsActive = false
	st.users[u.ID] = deactivated
	if _, err := svc.Login(ctx, "ann@example.com", "secret1"); apperr.Message(err) != "account deactivated" {
		t.Errorf("Login() inactive error = %v", err)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	svc, _, img, jobs := newTestService()
	u, _ := svc.Register(ctx, NewUser{Name: "Ann", Email: "ann@example.com", Password: "secret1", Image: "data:a"}, false)
	other, _ := svc.Register(ctx, NewUser{Name: "Bob", Email: "bob@example.com", Password: "secret1"}, false)
	jobs.msgs = nil

	self := Actor{ID: u.ID, Role: auth.RoleUser}
	admin := Actor{ID: "admin", Role: auth.RoleAdmin}
	str := func(s string) *string { return &s }
	no := false

	if _, err := svc.Update(ctx, self, other.ID, UserPatch{Name: str("x")}); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("updating another user error = %v, want forbidden", err)
	}

	got, err := svc.Update(ctx, self, u.ID, UserPatch{Name: str("Annie"), Role: str(auth.RoleAdmin), Department: str("Ops"), IsActive: &no})
	if err != nil {
		t.Fatalf("self Update() error = %v", err)
	}
	if got.Name != "Annie" || got.Role != auth.RoleUser || got.Department != "" || !got.IsActive {
		t.Errorf("self update changed admin-only fields: %+v", got)
	}

	got, err = svc.Update(ctx, admin, u.ID, UserPatch{Department: str("Ops"), IsActive: &no})
	if err != nil {
		t.Fatalf("admin Update() error = %v", err)
	}
	if got.Department != "Ops" || got.IsActive {
		t.Errorf("admin update = %+v", got)
	}

	oldPhoto := got.ImagePublicID
	got, err = svc.Update(ctx, self, u.ID, UserPatch{Image: str("data:b")})
	if err != nil {
		t.Fatal(err)
	}
	if got.ImagePublicID == oldPhoto || len(img.destroyed) != 1 || img.destroyed[0] != oldPhoto {
		t.Errorf("photo replacement: new %q, destroyed %v", got.ImagePublicID, img.destroyed)
	}
	if len(jobs.msgs) != 1 || jobs.msgs[0].Type != queue.TypeFaceEnroll {
		t.Errorf("jobs = %+v", jobs.msgs)
	}

	if _, err := svc.Update(ctx, admin, u.ID, UserPatch{Email: str("bob@example.com")}); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("duplicate email update error = %v, want conflict", err)
	}
	img.destroyed = nil
	kept := got.ImagePublicID
	if _, err := svc.Update(ctx, self, u.ID, UserPatch{Email: str("bob@example.com"), Image: str("data:c")}); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("failed update with photo error = %v, want conflict", err)
	}
	if len(img.destroyed) != 1 || img.destroyed[0] == kept {
		t.Errorf("upload of a failed update not cleaned up: destroyed %v, kept %q", img.destroyed, kept)
	}
	if cur, _ := svc.Get(ctx, u.ID); cur.ImagePublicID != kept {
		t.Errorf("stored photo = %q, want %q", cur.ImagePublicID, kept)
	}

	if _, err := svc.Update(ctx, admin, "missing", UserPatch{}); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("missing user update error = %v, want not found", err)
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService()
	u, _ := svc.Register(ctx, NewUser{Name: "Ann", Email: "ann@example.com", Password: "secret1"}, false)

	if err := svc.ChangePassword(ctx, u.ID, "wrong", "secret2"); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Errorf("ChangePassword() wrong current = %v", err)
	}
	if err := svc.ChangePassword(ctx, u.ID, "secret1", "secret2"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if _, err := svc.Login(ctx, "ann@example.com", "secret2"); err != nil {
		t.Errorf("Login() with new password error = %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, st, img, jobs := newTestService()
	u, _ := svc.Register(ctx, NewUser{Name: "Ann", Email: "ann@example.com", Password: "secret1", Image: "data:a"}, false)
	jobs.msgs = nil

	if err := svc.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := st.users[u.ID]; ok {
		t.Error("user still stored")
	}
	if len(img.destroyed) != 1 {
		t.Errorf("destroyed = %v", img.destroyed)
	}
	if len(jobs.msgs) != 1 || jobs.msgs[0].Type != queue.TypeFaceDelete {
		t.Errorf("jobs = %+v", jobs.msgs)
	}
	if err := svc.Delete(ctx, u.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("second Delete() error = %v, want not found", err)
	}
}
