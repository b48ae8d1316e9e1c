package service

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelog/internal/models"
	"carelog/internal/repository"
)

func TestBackupRoundTrip(t *testing.T) {
	src := newLogFixture(t)
	ctx := context.Background()

	_, err := src.env.logs.Create(ctx, src.teacher.ID, src.input("Circle time", 4))
	require.NoError(t, err)
	custom := &models.Category{Name: "Play", Color: "#ff8800"}
	require.NoError(t, repository.NewCategoryRepository(src.env.db).Create(ctx, custom))
	withCustom := src.input("Lego tower", 5)
	withCustom.CategoryID = &custom.ID
	_, err = src.env.logs.Create(ctx, src.owner.ID, withCustom)
	require.NoError(t, err)
	require.NoError(t, src.env.settings.SetRegistrationOpen(ctx, false))

	var buf bytes.Buffer
	backup, err := NewBackupService(src.env.db, zerolog.Nop()).ExportToWriter(ctx, &buf)
	require.NoError(t, err)
	assert.Len(t, backup.Profiles, 3)
	assert.Len(t, backup.Children, 1)
	assert.Len(t, backup.Relations, 3)
	assert.Len(t, backup.Logs, 2)

	dst := newTestEnv(t)
	restore := NewBackupService(dst.db, zerolog.Nop())
	summary, err := restore.ImportFromReader(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Imported["users"])
	assert.Equal(t, 2, summary.Imported["logs"])
	assert.Equal(t, 1, summary.Imported["categories"], "only the custom category is new")

	logs, err := dst.logs.List(ctx, src.owner.ID, repository.LogQuery{})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	names := []string{logs[0].CategoryName, logs[1].CategoryName}
	assert.Contains(t, names, "Play")

	open, err := dst.settings.IsRegistrationOpen(ctx)
	require.NoError(t, err)
	assert.False(t, open)

	// Importing again merges without duplicating.
	summary, err = restore.ImportFromReader(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Zero(t, summary.Imported["logs"])
	assert.Equal(t, 2, summary.Skipped["logs"])

	require.NoError(t, restore.Clear(ctx))
	logs, err = dst.logs.List(ctx, src.owner.ID, repository.LogQuery{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	env := newTestEnv(t)
	_, err := NewBackupService(env.db, zerolog.Nop()).ImportFromReader(context.Background(), strings.NewReader(`{"version":"9"}`))
	assert.ErrorContains(t, err, "unsupported backup version")
}
