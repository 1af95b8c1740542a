package archivestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dvloznov/spendalizer/internal/config"
)

func TestLocalStore_PutGetList(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir(), "backups")
	require.NoError(t, err)

	loc, err := s.Put(ctx, "backup_manual_alice_20240301-120000.zip", []byte("one"))
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(loc))

	_, err = s.Put(ctx, "pre_restore_alice_20240301-130000.zip", []byte("two"))
	require.NoError(t, err)

	data, err := s.Get(ctx, loc)
	require.NoError(t, err)
	require.Equal(t, []byte("one"), data)

	data, err = s.Get(ctx, "pre_restore_alice_20240301-130000.zip")
	require.NoError(t, err)
	require.Equal(t, []byte("two"), data)

	objs, err := s.List(ctx, "backup_")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	require.Equal(t, "backup_manual_alice_20240301-120000.zip", objs[0].Name)
	require.Equal(t, int64(3), objs[0].Size)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestLocalStore_RejectsEscapes(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	_, err = s.Put(ctx, "../evil.zip", []byte("x"))
	require.Error(t, err)

	_, err = s.Get(ctx, "../../etc/passwd")
	require.Error(t, err)

	_, err = s.Get(ctx, "missing.zip")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestParseGCSURI(t *testing.T) {
	bucket, obj, err := ParseGCSURI("gs://my-bucket/backups/a.zip")
	require.NoError(t, err)
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "backups/a.zip", obj)

	_, _, err = ParseGCSURI("s3://bucket/a.zip")
	require.Error(t, err)
	_, _, err = ParseGCSURI("gs://bucket-only")
	require.Error(t, err)
}

func TestNew_LocalDriver(t *testing.T) {
	s, err := New(context.Background(), config.ArchiveConfig{
		Driver: config.ArchiveLocal,
		Prefix: "backups",
		Local:  config.LocalArchive{Dir: t.TempDir()},
	})
	require.NoError(t, err)
	defer s.Close()
	require.IsType(t, &LocalStore{}, s)

	_, err = New(context.Background(), config.ArchiveConfig{Driver: "ftp"})
	require.Error(t, err)
}
