package tokenfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		TokenType:    "Bearer",
		Expiry:       time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	sf, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Nil(t, sf)
	assert.NoError(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	require.NoError(t, Save(path, &File{Token: testToken(), Identity: "a@b.com"}))

	sf, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, sf)
	assert.Equal(t, "access-123", sf.Token.AccessToken)
	assert.Equal(t, "refresh-456", sf.Token.RefreshToken)
	assert.Equal(t, "a@b.com", sf.Identity)
	assert.False(t, sf.SavedAt.IsZero())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestSave_RejectsMissingToken(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "s.json"), &File{Identity: "x"})
	assert.Error(t, err)
}

func TestLoad_MissingTokenField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"identity":"a@b.com"}`), FilePerms))

	sf, err := Load(path)
	assert.Nil(t, sf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing token field")
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json}`), FilePerms))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestSaveToken_KeepsIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, Save(path, &File{Token: testToken(), Identity: "a@b.com"}))

	refreshed := testToken()
	refreshed.AccessToken = "access-new"
	require.NoError(t, SaveToken(path, refreshed))

	sf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "access-new", sf.Token.AccessToken)
	assert.Equal(t, "a@b.com", sf.Identity)
}

func TestSetIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	assert.Error(t, SetIdentity(path, "a@b.com"), "no session yet")

	require.NoError(t, Save(path, &File{Token: testToken()}))
	require.NoError(t, SetIdentity(path, "a@b.com"))

	sf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", sf.Identity)
}

func TestRemove_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, Save(path, &File{Token: testToken()}))

	require.NoError(t, Remove(path))
	require.NoError(t, Remove(path))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
