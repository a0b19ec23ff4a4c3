package main

import (
	"path/filepath"
	"testing"

	"github.com/citabot/citabot/internal/store"
)

func testFlags(dsn, provider string) Flags {
	empty := ""
	falseVal := false
	return Flags{
		qrOutput:  &empty,
		numeric:   &falseVal,
		stateDir:  &empty,
		dbDSN:     &dsn,
		waDSN:     &empty,
		openaiKey: &empty,
		apiAddr:   &empty,
		provider:  &provider,
		selfPhone: &empty,
		timezone:  &empty,
	}
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "CITABOT_STATE_DIR", "API_ADDR", "PORT",
		"MESSAGING_PROVIDER", "SCHEDULER_TIMEZONE",
	} {
		t.Setenv(key, "")
	}

	config := loadEnvironmentConfig()
	if config.StateDir != DefaultStateDir {
		t.Errorf("StateDir = %s, want %s", config.StateDir, DefaultStateDir)
	}
	if config.Provider != DefaultProvider {
		t.Errorf("Provider = %s, want %s", config.Provider, DefaultProvider)
	}
	if want := filepath.Join(DefaultStateDir, DefaultDBFileName); config.DatabaseURL != want {
		t.Errorf("DatabaseURL = %s, want %s", config.DatabaseURL, want)
	}
}

func TestLoadEnvironmentConfigPortFallback(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("PORT", "3210")

	config := loadEnvironmentConfig()
	if config.APIAddr != ":3210" {
		t.Errorf("APIAddr = %s, want :3210", config.APIAddr)
	}
}

func TestEnsureDirectoriesExist(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "nested", "citabot.db")

	if err := ensureDirectoriesExist(testFlags(dsn, DefaultProvider)); err != nil {
		t.Fatalf("ensureDirectoriesExist failed: %v", err)
	}
}

func TestBuildRepoInMemoryWithoutDSN(t *testing.T) {
	repo, err := buildRepo(testFlags("", DefaultProvider))
	if err != nil {
		t.Fatalf("buildRepo failed: %v", err)
	}
	defer repo.Close()
	if _, ok := repo.(*store.InMemoryRepo); !ok {
		t.Errorf("expected in-memory repo, got %T", repo)
	}
}

func TestBuildRepoSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "citabot.db")
	repo, err := buildRepo(testFlags(dsn, DefaultProvider))
	if err != nil {
		t.Fatalf("buildRepo failed: %v", err)
	}
	defer repo.Close()
	if _, ok := repo.(*store.SQLiteRepo); !ok {
		t.Errorf("expected SQLite repo, got %T", repo)
	}
}

func TestBuildFallbackServiceUnknownProvider(t *testing.T) {
	if _, err := buildFallbackService(testFlags("", "smoke-signals")); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestBuildFallbackServiceUltraMsgRequiresCredentials(t *testing.T) {
	if _, err := buildFallbackService(testFlags("", "ultramsg")); err == nil {
		t.Error("expected error without UltraMsg credentials")
	}
}
