package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lenteraid/transparency-api/internal/models"
	appErrors "github.com/lenteraid/transparency-api/pkg/errors"
)

type mockProgramRepo struct {
	programs    map[string]*models.Program
	createCalls int
}

func newMockProgramRepo(seed ...*models.Program) *mockProgramRepo {
	m := &mockProgramRepo{programs: make(map[string]*models.Program)}
	for _, p := range seed {
		m.programs[p.ID] = p
	}
	return m
}

func (m *mockProgramRepo) List(_ context.Context, _ models.ProgramFilter) ([]models.Program, int, error) {
	out := make([]models.Program, 0, len(m.programs))
	for _, p := range m.programs {
		out = append(out, *p)
	}
	return out, len(out), nil
}

func (m *mockProgramRepo) FindByID(_ context.Context, id string) (*models.Program, error) {
	p, ok := m.programs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *p
	return &clone, nil
}

func (m *mockProgramRepo) Create(_ context.Context, program *models.Program) error {
	m.createCalls++
	if program.ID == "" {
		program.ID = "prog-1"
	}
	clone := *program
	m.programs[program.ID] = &clone
	return nil
}

func (m *mockProgramRepo) Update(_ context.Context, program *models.Program) error {
	clone := *program
	m.programs[program.ID] = &clone
	return nil
}

func (m *mockProgramRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.programs[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.programs, id)
	return nil
}

func strPtr(s string) *string { return &s }

func validProgramRequest() CreateProgramRequest {
	return CreateProgramRequest{
		Title:         "Literacy Workshop",
		CommunityName: "Kampung Melati",
		StartDate:     time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestProgramCreateDefaultsToDraft(t *testing.T) {
	repo := newMockProgramRepo()
	svc := NewProgramService(repo, nil, zap.NewNop())

	program, err := svc.Create(context.Background(), validProgramRequest())
	require.NoError(t, err)
	assert.Equal(t, models.ProgramStatusDraft, program.Status)
	assert.NotNil(t, program.Attendees)
	assert.NotNil(t, program.Tutors)
}

func TestProgramCreateRejectsEndBeforeStart(t *testing.T) {
	svc := NewProgramService(newMockProgramRepo(), nil, zap.NewNop())

	req := validProgramRequest()
	end := req.StartDate.AddDate(0, 0, -1)
	req.EndDate = &end

	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Len(t, appErr.Fields, 1)
	assert.Equal(t, "end_date", appErr.Fields[0].Field)
}

func TestProgramCreateValidatesAttendeeVariants(t *testing.T) {
	svc := NewProgramService(newMockProgramRepo(), nil, zap.NewNop())

	req := validProgramRequest()
	req.Attendees = models.AttendeeList{
		{Type: models.AttendeeMember, Name: strPtr("named member")},
		{Type: models.AttendeeGuest, UserID: strPtr("user-7")},
		{Type: "visitor"},
	}

	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	appErr := appErrors.FromError(err)

	fields := make(map[string]string)
	for _, fe := range appErr.Fields {
		fields[fe.Field] = fe.Code
	}
	assert.Equal(t, appErrors.ReasonRequired, fields["attendees[0].user_id"])
	assert.Equal(t, appErrors.ReasonForbidden, fields["attendees[0].name"])
	assert.Equal(t, appErrors.ReasonRequired, fields["attendees[1].name"])
	assert.Equal(t, appErrors.ReasonForbidden, fields["attendees[1].user_id"])
	assert.Equal(t, appErrors.ReasonInvalid, fields["attendees[2].type"])
}

func TestProgramCreateValidatesTutorVariants(t *testing.T) {
	svc := NewProgramService(newMockProgramRepo(), nil, zap.NewNop())

	req := validProgramRequest()
	req.Tutors = models.TutorList{
		{Type: models.TutorInternal},
		{Type: models.TutorExternal, UserID: strPtr("user-2")},
		// Internal tutors may carry a display name.
		{Type: models.TutorInternal, UserID: strPtr("user-3"), Name: strPtr("Pak Agus")},
	}

	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	appErr := appErrors.FromError(err)

	fields := make(map[string]string)
	for _, fe := range appErr.Fields {
		fields[fe.Field] = fe.Code
	}
	assert.Equal(t, appErrors.ReasonRequired, fields["tutors[0].user_id"])
	assert.Equal(t, appErrors.ReasonRequired, fields["tutors[1].name"])
	assert.Equal(t, appErrors.ReasonForbidden, fields["tutors[1].user_id"])
	assert.NotContains(t, fields, "tutors[2].name")
}

func TestProgramUpdateRequiresAtLeastOneField(t *testing.T) {
	svc := NewProgramService(newMockProgramRepo(), nil, zap.NewNop())

	_, err := svc.Update(context.Background(), "prog-1", UpdateProgramRequest{})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Len(t, appErr.Fields, 1)
	assert.Equal(t, appErrors.ReasonEmpty, appErr.Fields[0].Code)
}

func TestProgramUpdateRechecksDateOrderAfterMerge(t *testing.T) {
	start := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 5)
	existing := &models.Program{
		ID:            "prog-1",
		Title:         "Literacy Workshop",
		CommunityName: "Kampung Melati",
		Status:        models.ProgramStatusDraft,
		StartDate:     start,
		EndDate:       &end,
	}
	svc := NewProgramService(newMockProgramRepo(existing), nil, zap.NewNop())

	// Moving the start past the existing end must fail even though the
	// request itself carries no end date.
	newStart := end.AddDate(0, 0, 1)
	_, err := svc.Update(context.Background(), "prog-1", UpdateProgramRequest{StartDate: &newStart})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Len(t, appErr.Fields, 1)
	assert.Equal(t, "end_date", appErr.Fields[0].Field)
}

func TestProgramUpdatePublishes(t *testing.T) {
	existing := &models.Program{
		ID:            "prog-1",
		Title:         "Literacy Workshop",
		CommunityName: "Kampung Melati",
		Status:        models.ProgramStatusDraft,
		StartDate:     time.Now(),
	}
	svc := NewProgramService(newMockProgramRepo(existing), nil, zap.NewNop())

	published := models.ProgramStatusPublished
	program, err := svc.Update(context.Background(), "prog-1", UpdateProgramRequest{Status: &published})
	require.NoError(t, err)
	assert.Equal(t, models.ProgramStatusPublished, program.Status)
}

func TestProgramGetNotFound(t *testing.T) {
	svc := NewProgramService(newMockProgramRepo(), nil, zap.NewNop())

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
