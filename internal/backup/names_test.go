package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestArchiveNames(t *testing.T) {
	at := time.Date(2024, 6, 2, 3, 4, 5, 0, time.UTC)

	require.Equal(t, "backup_scheduled_alice_20240602-030405.zip", ArchiveName(KindScheduled, "alice", at))
	require.Equal(t, "pre_restore_a_b_c_20240602-030405.zip", ArchiveName(KindPreRestore, "a/b c", at))
	require.Equal(t, "SpendAlizer-20240602-030405.zip", DownloadName(at))
}

func TestOwnsArchive(t *testing.T) {
	at := time.Date(2024, 6, 2, 3, 4, 5, 0, time.UTC)

	for _, kind := range []Kind{KindManual, KindScheduled, KindPreRestore} {
		require.True(t, OwnsArchive(ArchiveName(kind, "alice", at), "alice"), kind)
	}
	require.False(t, OwnsArchive(ArchiveName(KindManual, "alice_bob", at), "alice"))
	require.False(t, OwnsArchive(ArchiveName(KindManual, "bob", at), "alice"))
	require.False(t, OwnsArchive("notes.txt", "alice"))
}
