package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow/docflow/internal/shared"
)

func stepNames(steps []Step) []string {
	names := make([]string, 0, len(steps))
	for _, st := range steps {
		names = append(names, st.Name)
	}
	return names
}

func facility(speaker string, sound, projector, tech bool) FacilityData {
	return FacilityData{
		Facility:       "Auditorium",
		EventDate:      time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		StartTime:      "08:00",
		EndTime:        "12:00",
		GuestSpeaker:   speaker,
		SoundSystem:    sound,
		Projector:      projector,
		TechnicalNeeds: tech,
	}
}

func TestFacilityWithoutSpeakerOrTechnicalNeeds(t *testing.T) {
	r := NewResolver(newCampusDirectory())
	for _, speaker := range []string{"", "None", " n/a ", "NA"} {
		steps, err := r.Resolve(context.Background(), submitter(), facility(speaker, false, false, false))
		require.NoError(t, err)
		names := stepNames(steps)
		assert.Equal(t, []string{creatorStepName, PositionCSCAdviser, PositionCollegeDean, PositionSSCPresident, PositionOSADirector, PositionFacilities}, names, "speaker %q", speaker)
		assert.NotContains(t, names, PositionInformationOffice)
		assert.NotContains(t, names, PositionSecurityHead)
		assert.NotContains(t, names, PositionTechnicalSupport)
	}
}

func TestFacilityConditionalSteps(t *testing.T) {
	r := NewResolver(newCampusDirectory())
	steps, err := r.Resolve(context.Background(), submitter(), facility("Dr. Santos", false, true, false))
	require.NoError(t, err)
	names := stepNames(steps)
	assert.Equal(t, []string{creatorStepName, PositionCSCAdviser, PositionCollegeDean, PositionSSCPresident, PositionOSADirector,
		PositionFacilities, PositionTechnicalSupport, PositionInformationOffice, PositionSecurityHead}, names)

	for _, st := range steps {
		switch st.Name {
		case PositionTechnicalSupport, PositionInformationOffice, PositionSecurityHead:
			assert.False(t, st.IsGating, "%s follows the facilities gate", st.Name)
		default:
			assert.True(t, st.IsGating, st.Name)
		}
	}
}

func TestTopCouncilProposalBypass(t *testing.T) {
	r := NewResolver(newCampusDirectory())
	president := shared.Actor{ID: 201, Role: shared.RoleStudent, Position: "ssc president", Department: testDepartment, Name: "Council President"}
	steps, err := r.Resolve(context.Background(), president, ProposalData{Objectives: "x", Venue: "y"})
	require.NoError(t, err)
	names := stepNames(steps)
	assert.Equal(t, []string{creatorStepName, PositionSSCAdviser, PositionOSADirector, PositionVPAcademicAffairs, PositionUniversityPresident}, names)
	assert.NotContains(t, names, PositionCSCAdviser)
	assert.NotContains(t, names, PositionCollegeDean)
	assert.NotContains(t, names, PositionSSCPresident)
}

func TestResolveNumbersStepsAndSeedsStatuses(t *testing.T) {
	dir := newCampusDirectory()
	delete(dir.byPosition, directoryKey(PositionCollegeDean, testDepartment))
	r := NewResolver(dir)

	steps, err := r.Resolve(context.Background(), submitter(), SafData{Purpose: "Summit", SSCAmount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.NotContains(t, stepNames(steps), PositionCollegeDean)
	for i, st := range steps {
		assert.Equal(t, i+1, st.Order)
		if i == 0 {
			assert.Equal(t, StepPending, st.Status)
			assert.Equal(t, submitter().ID, st.Assignee.ID)
			assert.Equal(t, shared.KindStudent, st.Assignee.Kind)
			continue
		}
		assert.Equal(t, StepQueued, st.Status)
	}
	last := steps[len(steps)-1]
	assert.Equal(t, PositionAccountingOffice, last.Name)
	assert.True(t, last.IsFundTrigger)
	assert.False(t, last.IsGating)
}

func TestDepartmentScopedStepsUseSubmitterDepartment(t *testing.T) {
	r := NewResolver(newCampusDirectory())
	outsider := submitter()
	outsider.Department = "CBA"
	steps, err := r.Resolve(context.Background(), outsider, ProposalData{Objectives: "x", Venue: "y"})
	require.NoError(t, err)
	names := stepNames(steps)
	assert.NotContains(t, names, PositionCSCAdviser)
	assert.NotContains(t, names, PositionCollegeDean)
	assert.Contains(t, names, PositionSSCPresident)
}

func TestPlanDemotionWithoutGate(t *testing.T) {
	plan, err := Plan(submitter(), CommunicationData{ApprovedBy: []PersonRef{{ID: 106, Kind: shared.KindEmployee}}, NotedBy: []PersonRef{{ID: 104, Kind: shared.KindEmployee}}})
	require.NoError(t, err)
	require.Len(t, plan, 3)
	for _, spec := range plan {
		assert.True(t, spec.IsGating)
	}
	assert.Equal(t, "Noted by", plan[1].Name)
	assert.Equal(t, "Approved by", plan[2].Name)
}

func TestCommunicationSkipsUnknownPeople(t *testing.T) {
	r := NewResolver(newCampusDirectory())
	steps, err := r.Resolve(context.Background(), submitter(), CommunicationData{
		ApprovedBy: []PersonRef{{ID: 106, Kind: shared.KindEmployee}, {ID: 999, Kind: shared.KindEmployee}, {ID: 201, Kind: shared.KindEmployee}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{creatorStepName, "Approved by: University President Officer"}, stepNames(steps))
}
