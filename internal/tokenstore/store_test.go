package tokenstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"signin/pkg/oauth"
)

func testCredential(id, accessToken string) *oauth.Credential {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &oauth.Credential{
		ID:           id,
		AccessToken:  accessToken,
		IDToken:      "eyJhbGciOiJub25lIn0.eyJzdWIiOiJ1c2VyLTEifQ.",
		RefreshToken: "refresh-" + id,
		TokenType:    "Bearer",
		ExpiresAt:    now.Add(time.Hour),
		Scopes:       []string{"openid", "profile", "offline_access"},
		Issuer:       "https://example.okta.com",
		CreatedAt:    now,
	}
}

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("load empty returns nil", func(t *testing.T) {
		store := newStore(t)
		cred, err := store.Load(context.Background())
		require.NoError(t, err)
		assert.Nil(t, cred)
	})

	t.Run("save then load round trips", func(t *testing.T) {
		store := newStore(t)
		want := testCredential("cred-1", "access-1")
		require.NoError(t, store.Save(context.Background(), want))

		got, err := store.Load(context.Background())
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, want.Equal(got), "loaded credential differs: %+v", got)
	})

	t.Run("save overwrites the single slot", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Save(context.Background(), testCredential("cred-1", "access-1")))
		require.NoError(t, store.Save(context.Background(), testCredential("cred-2", "access-2")))

		got, err := store.Load(context.Background())
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "cred-2", got.ID)
		assert.Equal(t, "access-2", got.AccessToken)
	})

	t.Run("clear is idempotent", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Save(context.Background(), testCredential("cred-1", "access-1")))
		require.NoError(t, store.Clear(context.Background()))
		require.NoError(t, store.Clear(context.Background()))

		got, err := store.Load(context.Background())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("save rejects nil", func(t *testing.T) {
		store := newStore(t)
		assert.Error(t, store.Save(context.Background(), nil))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	cred := testCredential("cred-1", "access-1")
	require.NoError(t, store.Save(context.Background(), cred))

	cred.Scopes[0] = "mutated"
	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "openid", got.Scopes[0])
}

func TestFileStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewFileStore(filepath.Join(t.TempDir(), "nested", "credential.json"))
	})
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	runStoreContract(t, func(t *testing.T) Store {
		store := NewKeyringStore("signin-test", t.Name())
		require.NoError(t, store.Clear(context.Background()))
		return store
	})
}

func TestKeyringStore_Defaults(t *testing.T) {
	store := NewKeyringStore("", "")
	assert.Equal(t, DefaultKeyringService, store.service)
	assert.Equal(t, defaultKeyringAccount, store.account)
}

func TestRedisStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		store := NewRedisStore(client, "", 0)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestRedisStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "signin:test", time.Minute)
	defer store.Close()

	require.NoError(t, store.Save(context.Background(), testCredential("cred-1", "access-1")))
	assert.Equal(t, time.Minute, mr.TTL("signin:test"))

	mr.FastForward(2 * time.Minute)
	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOpenRedis_RequiresAddress(t *testing.T) {
	_, err := OpenRedis(Config{Backend: BackendRedis})
	assert.Error(t, err)
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		store, err := OpenSQLite(filepath.Join(t.TempDir(), "credential.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.db")

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), testCredential("cred-1", "access-1")))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "cred-1", got.ID)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     Config
		want    any
		wantErr bool
	}{
		{name: "memory", cfg: Config{Backend: BackendMemory}, want: &MemoryStore{}},
		{name: "file", cfg: Config{Backend: BackendFile, Path: filepath.Join(dir, "c.json")}, want: &FileStore{}},
		{name: "default is file", cfg: Config{Path: filepath.Join(dir, "d.json")}, want: &FileStore{}},
		{name: "keyring", cfg: Config{Backend: BackendKeyring}, want: &KeyringStore{}},
		{name: "sqlite", cfg: Config{Backend: BackendSQLite, Path: filepath.Join(dir, "c.db")}, want: &SQLiteStore{}},
		{name: "unknown", cfg: Config{Backend: "floppy"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer store.Close()
			assert.IsType(t, tt.want, store)
		})
	}
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := Open(Config{Backend: BackendRedis, RedisAddr: mr.Addr(), RedisKey: "k"})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(context.Background(), testCredential("cred-1", "access-1")))
	assert.True(t, mr.Exists("k"))
}

func TestDecodeRecord_Corrupt(t *testing.T) {
	for name, data := range map[string]string{
		"not json":        "{",
		"wrong version":   `{"version":7,"credential":{"access_token":"a"}}`,
		"missing cred":    `{"version":1}`,
		"no access token": `{"version":1,"credential":{"id":"x"}}`,
	} {
		_, err := decodeRecord([]byte(data))
		assert.ErrorIs(t, err, ErrCorruptRecord, name)
	}
}

func TestStores_ConcurrentSaveAndLoad(t *testing.T) {
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(filepath.Join(t.TempDir(), "credential.json")),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			a := testCredential("cred-a", "access-a")
			b := testCredential("cred-b", "access-b")
			require.NoError(t, store.Save(context.Background(), a))

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(2)
				go func(i int) {
					defer wg.Done()
					next := a
					if i%2 == 0 {
						next = b
					}
					assert.NoError(t, store.Save(context.Background(), next))
				}(i)
				go func() {
					defer wg.Done()
					got, err := store.Load(context.Background())
					if assert.NoError(t, err) && assert.NotNil(t, got) {
						assert.True(t, got.Equal(a) || got.Equal(b), "observed partial credential %+v", got)
					}
				}()
			}
			wg.Wait()
		})
	}
}
