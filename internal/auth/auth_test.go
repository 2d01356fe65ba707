package auth

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the users table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'operator',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func testUser(t *testing.T, username, password string, role Role) *User {
	t.Helper()

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	return &User{
		Username:     username,
		DisplayName:  "Test " + username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		hash, err := HashPassword("correct horse battery staple")
		if err != nil {
			t.Fatalf("HashPassword() error = %v", err)
		}
		if !strings.HasPrefix(hash, "$argon2id$") {
			t.Errorf("hash = %q, want argon2id PHC format", hash)
		}

		ok, err := VerifyPassword("correct horse battery staple", hash)
		if err != nil {
			t.Fatalf("VerifyPassword() error = %v", err)
		}
		if !ok {
			t.Error("VerifyPassword() = false for correct password")
		}
	})

	t.Run("wrong password fails", func(t *testing.T) {
		hash, err := HashPassword("secret")
		if err != nil {
			t.Fatalf("HashPassword() error = %v", err)
		}

		ok, err := VerifyPassword("not-the-secret", hash)
		if err != nil {
			t.Fatalf("VerifyPassword() error = %v", err)
		}
		if ok {
			t.Error("VerifyPassword() = true for wrong password")
		}
	})

	t.Run("salts differ between hashes", func(t *testing.T) {
		h1, _ := HashPassword("same") //nolint:errcheck // checked above
		h2, _ := HashPassword("same") //nolint:errcheck // checked above
		if h1 == h2 {
			t.Error("two hashes of the same password are identical")
		}
	})

	t.Run("malformed hash rejected", func(t *testing.T) {
		if _, err := VerifyPassword("x", "not-a-phc-string"); err == nil {
			t.Error("VerifyPassword() error = nil for malformed hash")
		}
	})
}

func TestAccessTokens(t *testing.T) {
	const secret = "test-secret"
	user := &User{ID: "usr-1", Username: "operator1", Role: RoleOperator}

	t.Run("round trip", func(t *testing.T) {
		token, err := GenerateAccessToken(user, secret, 15)
		if err != nil {
			t.Fatalf("GenerateAccessToken() error = %v", err)
		}

		claims, err := ParseToken(token, secret)
		if err != nil {
			t.Fatalf("ParseToken() error = %v", err)
		}
		if claims.Subject != "usr-1" {
			t.Errorf("subject = %q, want usr-1", claims.Subject)
		}
		if claims.Username != "operator1" {
			t.Errorf("username = %q, want operator1", claims.Username)
		}
		if claims.Role != RoleOperator {
			t.Errorf("role = %q, want operator", claims.Role)
		}
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		token, err := GenerateAccessToken(user, secret, 15)
		if err != nil {
			t.Fatalf("GenerateAccessToken() error = %v", err)
		}

		if _, err := ParseToken(token, "other-secret"); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
		}
	})

	t.Run("garbage rejected", func(t *testing.T) {
		if _, err := ParseToken("not.a.token", secret); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
		}
	})
}

func TestIsValidUsername(t *testing.T) {
	valid := []string{"admin", "operator.1", "night-shift", "a_b", "A1"}
	for _, u := range valid {
		if !IsValidUsername(u) {
			t.Errorf("IsValidUsername(%q) = false, want true", u)
		}
	}

	invalid := []string{"", "has space", "has/slash", strings.Repeat("x", 65)}
	for _, u := range invalid {
		if IsValidUsername(u) {
			t.Errorf("IsValidUsername(%q) = true, want false", u)
		}
	}
}

func TestSQLiteUserRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	t.Run("create and fetch", func(t *testing.T) {
		user := testUser(t, "operator1", "pw", RoleOperator)
		if err := repo.Create(ctx, user); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if user.ID == "" {
			t.Error("Create() left ID empty")
		}

		got, err := repo.GetByUsername(ctx, "operator1")
		if err != nil {
			t.Fatalf("GetByUsername() error = %v", err)
		}
		if got.Role != RoleOperator || !got.IsActive {
			t.Errorf("got = %+v, want active operator", got)
		}
	})

	t.Run("duplicate username conflicts", func(t *testing.T) {
		dup := testUser(t, "operator1", "pw2", RoleOperator)
		if err := repo.Create(ctx, dup); !errors.Is(err, ErrUsernameExists) {
			t.Errorf("Create() error = %v, want ErrUsernameExists", err)
		}
	})

	t.Run("unknown user returns not found", func(t *testing.T) {
		if _, err := repo.GetByUsername(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
			t.Errorf("GetByUsername() error = %v, want ErrUserNotFound", err)
		}
	})

	t.Run("update mutable fields", func(t *testing.T) {
		got, err := repo.GetByUsername(ctx, "operator1")
		if err != nil {
			t.Fatalf("GetByUsername() error = %v", err)
		}

		got.DisplayName = "Night Shift"
		got.IsActive = false
		if err := repo.Update(ctx, got); err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		again, err := repo.GetByID(ctx, got.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if again.DisplayName != "Night Shift" || again.IsActive {
			t.Errorf("after update = %+v, want inactive Night Shift", again)
		}
	})

	t.Run("delete", func(t *testing.T) {
		user := testUser(t, "temp", "pw", RoleOperator)
		if err := repo.Create(ctx, user); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if err := repo.Delete(ctx, user.ID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if err := repo.Delete(ctx, user.ID); !errors.Is(err, ErrUserNotFound) {
			t.Errorf("second Delete() error = %v, want ErrUserNotFound", err)
		}
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Service, *SQLiteUserRepository) {
		db := setupTestDB(t)
		repo := NewUserRepository(db)
		return NewService(repo, "test-secret", 15), repo
	}

	t.Run("valid credentials yield token", func(t *testing.T) {
		service, repo := setup(t)
		if err := repo.Create(ctx, testUser(t, "operator1", "pw", RoleOperator)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		token, user, err := service.Login(ctx, "operator1", "pw")
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		if user.Username != "operator1" {
			t.Errorf("user = %+v, want operator1", user)
		}

		claims, err := service.Verify(token)
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if claims.Username != "operator1" {
			t.Errorf("claims username = %q, want operator1", claims.Username)
		}
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		service, repo := setup(t)
		if err := repo.Create(ctx, testUser(t, "operator1", "pw", RoleOperator)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		if _, _, err := service.Login(ctx, "operator1", "nope"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("unknown user indistinguishable from wrong password", func(t *testing.T) {
		service, _ := setup(t)

		if _, _, err := service.Login(ctx, "ghost", "pw"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("inactive account rejected", func(t *testing.T) {
		service, repo := setup(t)
		user := testUser(t, "operator1", "pw", RoleOperator)
		user.IsActive = false
		if err := repo.Create(ctx, user); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		if _, _, err := service.Login(ctx, "operator1", "pw"); !errors.Is(err, ErrUserInactive) {
			t.Errorf("Login() error = %v, want ErrUserInactive", err)
		}
	})
}

func TestSeedAdmin(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("creates admin when no users exist", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewUserRepository(db)

		password, err := SeedAdmin(ctx, repo, logger)
		if err != nil {
			t.Fatalf("SeedAdmin() error = %v", err)
		}
		if password == "" {
			t.Fatal("SeedAdmin() returned empty password")
		}

		admin, err := repo.GetByUsername(ctx, "admin")
		if err != nil {
			t.Fatalf("GetByUsername() error = %v", err)
		}
		if admin.Role != RoleAdmin || !admin.IsActive {
			t.Errorf("seeded admin = %+v, want active admin", admin)
		}

		ok, err := VerifyPassword(password, admin.PasswordHash)
		if err != nil || !ok {
			t.Errorf("generated password does not verify (ok=%v, err=%v)", ok, err)
		}
	})

	t.Run("skips when users exist", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewUserRepository(db)
		if err := repo.Create(ctx, testUser(t, "existing", "pw", RoleAdmin)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		password, err := SeedAdmin(ctx, repo, logger)
		if err != nil {
			t.Fatalf("SeedAdmin() error = %v", err)
		}
		if password != "" {
			t.Errorf("SeedAdmin() password = %q, want empty (skip)", password)
		}
	})
}
