package images

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestStoreInitMovesStagingToCleanup(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, os.MkdirAll(filepath.Join(s.StagingDir(), "stale-id"), 0o755))

	require.NoError(t, s.Init())
	for _, dir := range []string{s.ImagesDir(), s.StagingDir(), s.CleanupDir(), s.RestoreImagesDir()} {
		assert.DirExists(t, dir)
	}
	assert.NoDirExists(t, filepath.Join(s.StagingDir(), "stale-id"))
	assert.DirExists(t, filepath.Join(s.CleanupDir(), "stale-id"))

	require.NoError(t, s.PurgeCleanup())
	entries, err := os.ReadDir(s.CleanupDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStoreCreateListClone(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Init())

	cfg, err := s.Create("base", 1, PlatformVersion{Major: 13, Minor: 1})
	require.NoError(t, err)
	assert.Len(t, cfg.MachineIdentifier, 16)
	assert.NotEmpty(t, cfg.MACAddress)

	_, err = s.Create("base", 1, PlatformVersion{Major: 13})
	assert.ErrorIs(t, err, ErrImageExists)
	_, err = s.Create("../escape", 1, PlatformVersion{Major: 13})
	assert.ErrorIs(t, err, ErrInvalidName)

	// A directory without a configuration is not an image.
	require.NoError(t, os.MkdirAll(filepath.Join(s.ImagesDir(), "partial"), 0o755))

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"base"}, names)
	assert.True(t, s.Exists("base"))
	assert.False(t, s.Exists("partial"))

	info, err := os.Stat(filepath.Join(s.Path("base"), MainStorageFile))
	require.NoError(t, err)
	assert.Equal(t, int64(1)<<30, info.Size())

	dir, clone, err := s.Clone("base", "1234")
	require.NoError(t, err)
	assert.Equal(t, s.StagingPath("1234"), dir)
	assert.Equal(t, cfg.MachineIdentifier, clone.MachineIdentifier)
	assert.Equal(t, cfg.SSHPublicKey, clone.SSHPublicKey)
	assert.FileExists(t, filepath.Join(dir, AuxiliaryStorageFile))

	_, _, err = s.Clone("missing", "5678")
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestLoadConfigurationDefaultsVersion(t *testing.T) {
	dir := t.TempDir()
	raw := `{"machineIdentifier":"AQI=","hardwareModel":"","sshPrivateKey":"p","sshPublicKey":"k"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigurationFile), []byte(raw), 0o600))

	cfg, err := LoadConfiguration(dir)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, cfg.MachineIdentifier)
	assert.Equal(t, "13.0.0", cfg.PlatformVersion().String())
}

func TestParsePlatformVersion(t *testing.T) {
	tests := []struct {
		in   string
		want PlatformVersion
		ok   bool
	}{
		{"13", PlatformVersion{Major: 13}, true},
		{"13.1", PlatformVersion{Major: 13, Minor: 1}, true},
		{"12.0.1", PlatformVersion{Major: 12, Patch: 1}, true},
		{"13.x", PlatformVersion{}, false},
		{"1.2.3.4", PlatformVersion{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePlatformVersion(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateSSHKeyPair(t *testing.T) {
	priv, pub, err := GenerateSSHKeyPair("Host")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pub, "ssh-ed25519 "))
	assert.True(t, strings.HasSuffix(pub, " Host"))

	signer, err := ssh.ParsePrivateKey([]byte(priv))
	require.NoError(t, err)
	parsed, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pub))
	require.NoError(t, err)
	assert.Equal(t, parsed.Marshal(), signer.PublicKey().Marshal())
}
