package workflow

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/docflow/docflow/internal/shared"
	"github.com/docflow/docflow/internal/signatory"
)

// Signatory positions used by the routing templates.
const (
	PositionCSCAdviser          = "CSC Adviser"
	PositionCollegeDean         = "College Dean"
	PositionSSCPresident        = "SSC President"
	PositionSSCAdviser          = "SSC Adviser"
	PositionOSADirector         = "OSA Director"
	PositionVPAcademicAffairs   = "VP for Academic Affairs"
	PositionUniversityPresident = "University President"
	PositionVPFinance           = "VP for Finance"
	PositionAccountingOffice    = "Accounting Office"
	PositionFacilities          = "Facilities Management"
	PositionTechnicalSupport    = "Technical Support"
	PositionInformationOffice   = "Information Office"
	PositionSecurityHead        = "Security Head"

	// TopCouncilPosition is the highest student-council rank.
	TopCouncilPosition = PositionSSCPresident

	creatorStepName = "Creator Signature"
)

// StepSpec describes one step before a signatory is assigned.
type StepSpec struct {
	Name              string
	Role              string
	Position          string
	DepartmentScoped  bool
	SkipForTopCouncil bool
	IsGating          bool
	IsFundTrigger     bool
	// Person is set when the submitter picked the signatory explicitly.
	Person *PersonRef
	// Creator marks the pre-activated submitter signature.
	Creator bool
}

type routeTemplate struct {
	gate  string
	steps []StepSpec
}

func councilChain() []StepSpec {
	return []StepSpec{
		{Name: PositionCSCAdviser, Role: shared.RoleEmployee, Position: PositionCSCAdviser, DepartmentScoped: true, SkipForTopCouncil: true},
		{Name: PositionCollegeDean, Role: shared.RoleEmployee, Position: PositionCollegeDean, DepartmentScoped: true, SkipForTopCouncil: true},
		{Name: PositionSSCPresident, Role: shared.RoleStudent, Position: PositionSSCPresident, SkipForTopCouncil: true},
	}
}

func office(position string) StepSpec {
	return StepSpec{Name: position, Role: shared.RoleEmployee, Position: position}
}

var foldNone = map[string]struct{}{"": {}, "none": {}, "n/a": {}, "na": {}}

func hasGuestSpeaker(name string) bool {
	_, blank := foldNone[cases.Fold().String(strings.TrimSpace(name))]
	return !blank
}

func templateFor(data FormData) (routeTemplate, error) {
	switch d := data.(type) {
	case ProposalData:
		steps := append(councilChain(),
			office(PositionSSCAdviser),
			office(PositionOSADirector),
			office(PositionVPAcademicAffairs),
			office(PositionUniversityPresident),
		)
		return routeTemplate{gate: PositionUniversityPresident, steps: steps}, nil
	case SafData:
		accounting := office(PositionAccountingOffice)
		accounting.IsFundTrigger = true
		steps := append(councilChain(),
			office(PositionSSCAdviser),
			office(PositionOSADirector),
			office(PositionVPFinance),
			accounting,
		)
		return routeTemplate{gate: PositionVPFinance, steps: steps}, nil
	case FacilityData:
		steps := append(councilChain(),
			office(PositionOSADirector),
			office(PositionFacilities),
		)
		if d.SoundSystem || d.Projector || d.TechnicalNeeds {
			steps = append(steps, office(PositionTechnicalSupport))
		}
		if hasGuestSpeaker(d.GuestSpeaker) {
			steps = append(steps, office(PositionInformationOffice), office(PositionSecurityHead))
		}
		return routeTemplate{gate: PositionFacilities, steps: steps}, nil
	case CommunicationData:
		steps := make([]StepSpec, 0, len(d.NotedBy)+len(d.ApprovedBy))
		for i := range d.NotedBy {
			p := d.NotedBy[i]
			steps = append(steps, StepSpec{Name: "Noted by", Person: &p})
		}
		for i := range d.ApprovedBy {
			p := d.ApprovedBy[i]
			steps = append(steps, StepSpec{Name: "Approved by", Person: &p})
		}
		return routeTemplate{steps: steps}, nil
	}
	return routeTemplate{}, fmt.Errorf("%w: unsupported form data %T", ErrValidation, data)
}

// Plan derives the ordered step specifications for a submission without consulting the
// directory. Step 1 is always the submitter's own signature.
func Plan(submitter shared.Actor, data FormData) ([]StepSpec, error) {
	tpl, err := templateFor(data)
	if err != nil {
		return nil, err
	}
	topCouncil := strings.EqualFold(submitter.Position, TopCouncilPosition)

	plan := []StepSpec{{Name: creatorStepName, Creator: true, IsGating: true}}
	gateSeen := false
	for _, spec := range tpl.steps {
		if topCouncil && spec.SkipForTopCouncil {
			continue
		}
		spec.IsGating = !gateSeen
		if tpl.gate != "" && spec.Position == tpl.gate {
			gateSeen = true
		}
		plan = append(plan, spec)
	}
	return plan, nil
}

// Directory is the signatory lookup used at document creation.
type Directory interface {
	Resolve(ctx context.Context, q signatory.Query) (signatory.Signatory, bool, error)
	ResolveByID(ctx context.Context, kind shared.AssigneeKind, id int64) (signatory.Signatory, bool, error)
}

// Resolver turns a plan into concrete, numbered steps.
type Resolver struct {
	directory Directory
}

// NewResolver constructs a Resolver.
func NewResolver(directory Directory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve plans the route for a submission and assigns every step. Steps whose signatory cannot
// be found are left out; the remaining steps are numbered from 1 without gaps.
func (r *Resolver) Resolve(ctx context.Context, submitter shared.Actor, data FormData) ([]Step, error) {
	plan, err := Plan(submitter, data)
	if err != nil {
		return nil, err
	}
	steps := make([]Step, 0, len(plan))
	for _, spec := range plan {
		assignee, ok, err := r.assign(ctx, submitter, spec)
		if err != nil {
			return nil, fmt.Errorf("workflow: resolve %s: %w", spec.Name, err)
		}
		if !ok {
			continue
		}
		name := spec.Name
		if spec.Person != nil && assignee.Name != "" {
			name = fmt.Sprintf("%s: %s", spec.Name, assignee.Name)
		}
		status := StepQueued
		if spec.Creator {
			status = StepPending
		}
		steps = append(steps, Step{
			Order:         len(steps) + 1,
			Name:          name,
			Assignee:      assignee,
			Status:        status,
			IsGating:      spec.IsGating,
			IsFundTrigger: spec.IsFundTrigger,
		})
	}
	return steps, nil
}

func (r *Resolver) assign(ctx context.Context, submitter shared.Actor, spec StepSpec) (Assignee, bool, error) {
	if spec.Creator {
		return Assignee{ID: submitter.ID, Kind: submitter.Kind(), Name: submitter.Name}, true, nil
	}
	if r.directory == nil {
		return Assignee{}, false, nil
	}
	var (
		sig signatory.Signatory
		ok  bool
		err error
	)
	if spec.Person != nil {
		sig, ok, err = r.directory.ResolveByID(ctx, spec.Person.Kind, spec.Person.ID)
	} else {
		q := signatory.Query{Role: spec.Role, Position: spec.Position}
		if spec.DepartmentScoped {
			q.Department = submitter.Department
		}
		sig, ok, err = r.directory.Resolve(ctx, q)
	}
	if err != nil || !ok {
		return Assignee{}, false, err
	}
	return Assignee{ID: sig.ID, Kind: sig.Kind, Name: sig.Name}, true, nil
}
