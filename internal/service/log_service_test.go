package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelog/internal/insights"
	"carelog/internal/models"
	"carelog/internal/repository"
)

type logFixture struct {
	env      *testEnv
	owner    *models.Profile
	teacher  *models.Profile
	observer *models.Profile
	child    *models.Child
	category models.Category
}

func newLogFixture(t *testing.T) *logFixture {
	t.Helper()
	env := newTestEnv(t)
	ctx := context.Background()

	f := &logFixture{
		env:      env,
		owner:    env.profile(t, "ana@example.com", "Ana Torres", models.RoleParent),
		teacher:  env.profile(t, "ben@example.com", "Ben Ruiz", models.RoleTeacher),
		observer: env.profile(t, "obs@example.com", "Olga Paz", models.RoleParent),
	}
	child, err := env.children.Create(ctx, f.owner.ID, models.ChildInput{Name: "Lucia"})
	require.NoError(t, err)
	f.child = child

	require.NoError(t, env.children.AddMember(ctx, f.owner.ID, child.ID, MemberInput{Email: "ben@example.com", RelationshipType: models.RelationshipTeacher}))
	require.NoError(t, env.children.AddMember(ctx, f.owner.ID, child.ID, MemberInput{Email: "obs@example.com", RelationshipType: models.RelationshipObserver}))

	categories, err := env.logs.Categories(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, categories)
	f.category = categories[0]
	return f
}

func (f *logFixture) input(title string, mood int) models.LogInput {
	return models.LogInput{
		ChildID:        f.child.ID,
		CategoryID:     &f.category.ID,
		Title:          title,
		Content:        "observed at school",
		MoodScore:      &mood,
		IntensityLevel: models.IntensityLow,
		LogDate:        time.Now().UTC().Add(-time.Hour),
	}
}

func TestCreateLogPermissions(t *testing.T) {
	f := newLogFixture(t)
	ctx := context.Background()

	l, err := f.env.logs.Create(ctx, f.teacher.ID, f.input("Good morning", 4))
	require.NoError(t, err)
	assert.Equal(t, f.teacher.ID, l.LoggedBy)

	_, err = f.env.logs.Create(ctx, f.observer.ID, f.input("Watching", 3))
	assert.ErrorIs(t, err, ErrForbidden, "observers cannot log")

	stranger := f.env.profile(t, "x@example.com", "Xavi Gil", models.RoleTeacher)
	_, err = f.env.logs.Create(ctx, stranger.ID, f.input("Nope", 3))
	assert.ErrorIs(t, err, ErrChildNotFound)

	bad := f.input("Too happy", 6)
	_, err = f.env.logs.Create(ctx, f.owner.ID, bad)
	assert.Error(t, err)

	missingCategory := f.input("Odd category", 3)
	unknown := int64(9999)
	missingCategory.CategoryID = &unknown
	_, err = f.env.logs.Create(ctx, f.owner.ID, missingCategory)
	assert.ErrorIs(t, err, ErrCategoryNotFound)

	require.NoError(t, f.env.children.Archive(ctx, f.owner.ID, f.child.ID, true))
	_, err = f.env.logs.Create(ctx, f.owner.ID, f.input("Archived", 3))
	assert.ErrorIs(t, err, ErrForbidden, "archived children take no new logs")
}

func TestReviewAndDeleteLog(t *testing.T) {
	f := newLogFixture(t)
	ctx := context.Background()

	l, err := f.env.logs.Create(ctx, f.teacher.ID, f.input("Lunch", 3))
	require.NoError(t, err)

	assert.ErrorIs(t, f.env.logs.MarkReviewed(ctx, f.observer.ID, l.ID), ErrForbidden)
	require.NoError(t, f.env.logs.MarkReviewed(ctx, f.owner.ID, l.ID))

	got, err := f.env.logs.Get(ctx, f.teacher.ID, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana Torres", got.ReviewerName)
	assert.Equal(t, "Ben Ruiz", got.LoggedByName)
	assert.Equal(t, f.category.Name, got.CategoryName)
	assert.Equal(t, insights.StatusReviewed, insights.StatusOf(got))

	// The observer can read but not delete; the owner can delete anyone's log.
	assert.ErrorIs(t, f.env.logs.Delete(ctx, f.observer.ID, l.ID), ErrForbidden)
	require.NoError(t, f.env.logs.Delete(ctx, f.owner.ID, l.ID))
	_, err = f.env.logs.Get(ctx, f.owner.ID, l.ID)
	assert.ErrorIs(t, err, ErrLogNotFound)

	own, err := f.env.logs.Create(ctx, f.teacher.ID, f.input("Nap", 2))
	require.NoError(t, err)
	require.NoError(t, f.env.logs.Delete(ctx, f.teacher.ID, own.ID), "authors delete their own logs")
}

func TestScheduleFollowUp(t *testing.T) {
	f := newLogFixture(t)
	ctx := context.Background()

	in := f.input("Fell on the playground", 2)
	in.FollowUpRequired = true
	l, err := f.env.logs.Create(ctx, f.owner.ID, in)
	require.NoError(t, err)

	got, err := f.env.logs.Get(ctx, f.owner.ID, l.ID)
	require.NoError(t, err)
	assert.Equal(t, insights.StatusFollowUpPending, insights.StatusOf(got))

	assert.Error(t, f.env.logs.ScheduleFollowUp(ctx, f.owner.ID, l.ID, in.LogDate.AddDate(0, 0, -1)))
	require.NoError(t, f.env.logs.ScheduleFollowUp(ctx, f.owner.ID, l.ID, in.LogDate.AddDate(0, 0, 2)))

	got, err = f.env.logs.Get(ctx, f.owner.ID, l.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FollowUpDate)
	assert.NotEqual(t, insights.StatusFollowUpPending, insights.StatusOf(got))

	plain, err := f.env.logs.Create(ctx, f.owner.ID, f.input("Nothing to follow", 3))
	require.NoError(t, err)
	assert.Error(t, f.env.logs.ScheduleFollowUp(ctx, f.owner.ID, plain.ID, time.Now()))
}

func TestListLogsForProfile(t *testing.T) {
	f := newLogFixture(t)
	ctx := context.Background()

	for _, title := range []string{"one", "two", "three"} {
		_, err := f.env.logs.Create(ctx, f.teacher.ID, f.input(title, 3))
		require.NoError(t, err)
	}

	logs, err := f.env.logs.List(ctx, f.observer.ID, repository.LogQuery{ChildID: f.child.ID})
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	stranger := f.env.profile(t, "x@example.com", "Xavi Gil", models.RoleTeacher)
	logs, err = f.env.logs.List(ctx, stranger.ID, repository.LogQuery{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestReportBuildAndExport(t *testing.T) {
	f := newLogFixture(t)
	ctx := context.Background()

	for _, mood := range []int{2, 2, 4, 5} {
		_, err := f.env.logs.Create(ctx, f.owner.ID, f.input("entry", mood))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	// A second child the teacher can see but not export.
	other, err := f.env.children.Create(ctx, f.owner.ID, models.ChildInput{Name: "Mateo"})
	require.NoError(t, err)
	require.NoError(t, f.env.children.AddMember(ctx, f.owner.ID, other.ID, MemberInput{Email: "ben@example.com", RelationshipType: models.RelationshipTeacher}))
	otherLog := f.input("other child", 3)
	otherLog.ChildID = other.ID
	_, err = f.env.logs.Create(ctx, f.owner.ID, otherLog)
	require.NoError(t, err)

	report, err := f.env.reports.Build(ctx, f.owner.ID, insights.DefaultLogFilters(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 5, report.Stats.TotalLogs)
	assert.Len(t, report.Children, 2)
	assert.Equal(t, 1, report.Stats.ActiveCategories)

	onlyLucia := insights.DefaultLogFilters(time.Now())
	onlyLucia.ChildID = f.child.ID
	report, err = f.env.reports.Build(ctx, f.owner.ID, onlyLucia)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Stats.TotalLogs)
	assert.InDelta(t, 2.5, report.Stats.ImprovementTrend, 1e-9)
	assert.Equal(t, insights.TrendImproving, report.Trend)

	// Teacher has no export rights on either child by default.
	var buf bytes.Buffer
	n, err := f.env.reports.Export(ctx, &buf, f.teacher.ID, insights.DefaultLogFilters(time.Now()), FormatCSV)
	require.NoError(t, err)
	assert.Zero(t, n)
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1, "header only")

	buf.Reset()
	n, err = f.env.reports.Export(ctx, &buf, f.owner.ID, insights.DefaultLogFilters(time.Now()), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	rows, err = csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 6)
	assert.Equal(t, csvHeader, rows[0])

	buf.Reset()
	_, err = f.env.reports.Export(ctx, &buf, f.owner.ID, onlyLucia, FormatJSON)
	require.NoError(t, err)
	var doc struct {
		Stats insights.ReportStats `json:"stats"`
		Logs  []map[string]any     `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Len(t, doc.Logs, 4)
	assert.Equal(t, 4, doc.Stats.TotalLogs)

	_, err = f.env.reports.Export(ctx, &buf, f.owner.ID, onlyLucia, ExportFormat("pdf"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParseExportFormat(t *testing.T) {
	f, err := ParseExportFormat("json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", f.ContentType())

	_, err = ParseExportFormat("xlsx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestCSVExportNeutralizesFormulas(t *testing.T) {
	logs := []models.LogWithDetails{{
		Log: models.Log{
			Title:          "=HYPERLINK(\"http://evil.example\")",
			Content:        "-2+3",
			IntensityLevel: models.IntensityMedium,
			LogDate:        time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		},
		ChildName:    "@Lucia",
		CategoryName: "+Sleep",
		LoggedByName: "Ana Torres",
	}}

	var buf bytes.Buffer
	require.NoError(t, writeCSV(&buf, logs))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	row := rows[1]
	assert.Equal(t, "'@Lucia", row[1])
	assert.Equal(t, "'+Sleep", row[2])
	assert.Equal(t, "'=HYPERLINK(\"http://evil.example\")", row[3])
	assert.Equal(t, "'-2+3", row[4])
	assert.Equal(t, "Ana Torres", row[9])
}
