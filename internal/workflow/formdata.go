package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/docflow/docflow/internal/shared"
)

// FormData is the typed payload of a document. The concrete type is selected by DocType.
type FormData interface {
	DocType() DocType
	check() error
}

// ProposalData is the payload of a project proposal.
type ProposalData struct {
	Objectives   string          `json:"objectives" validate:"required"`
	Venue        string          `json:"venue" validate:"required"`
	StartDate    time.Time       `json:"start_date" validate:"required"`
	EndDate      time.Time       `json:"end_date" validate:"required"`
	Participants int             `json:"participants" validate:"gte=0"`
	Budget       decimal.Decimal `json:"budget"`
}

// DocType implements FormData.
func (ProposalData) DocType() DocType { return DocTypeProposal }

func (p ProposalData) check() error {
	if p.EndDate.Before(p.StartDate) {
		return fmt.Errorf("%w: end_date before start_date", ErrValidation)
	}
	if p.Budget.IsNegative() {
		return fmt.Errorf("%w: budget must not be negative", ErrValidation)
	}
	return nil
}

// SafItem is one requested expense line.
type SafItem struct {
	Description string          `json:"description" validate:"required"`
	Quantity    int             `json:"quantity" validate:"gt=0"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// SafData is the payload of a student allocated funds request. SSCAmount draws from the
// council-wide fund, CSCAmount from the submitter's college fund.
type SafData struct {
	Purpose   string          `json:"purpose" validate:"required"`
	SSCAmount decimal.Decimal `json:"ssc_amount"`
	CSCAmount decimal.Decimal `json:"csc_amount"`
	Items     []SafItem       `json:"items" validate:"dive"`
}

// DocType implements FormData.
func (SafData) DocType() DocType { return DocTypeSAF }

func (s SafData) check() error {
	if s.SSCAmount.IsNegative() || s.CSCAmount.IsNegative() {
		return fmt.Errorf("%w: requested amounts must not be negative", ErrValidation)
	}
	if s.SSCAmount.IsZero() && s.CSCAmount.IsZero() {
		return fmt.Errorf("%w: at least one fund amount is required", ErrValidation)
	}
	for i, item := range s.Items {
		if item.UnitCost.IsNegative() {
			return fmt.Errorf("%w: item %d unit_cost must not be negative", ErrValidation, i)
		}
	}
	return nil
}

// FacilityData is the payload of a facility reservation request.
type FacilityData struct {
	Facility          string    `json:"facility" validate:"required"`
	EventDate         time.Time `json:"event_date" validate:"required"`
	StartTime         string    `json:"start_time" validate:"required"`
	EndTime           string    `json:"end_time" validate:"required"`
	ExpectedAttendees int       `json:"expected_attendees" validate:"gte=0"`
	GuestSpeaker      string    `json:"guest_speaker"`
	SoundSystem       bool      `json:"sound_system"`
	Projector         bool      `json:"projector"`
	TechnicalNeeds    bool      `json:"technical_needs"`
	TechnicalNotes    string    `json:"technical_notes"`
}

// DocType implements FormData.
func (FacilityData) DocType() DocType { return DocTypeFacility }

func (FacilityData) check() error { return nil }

// PersonRef names an individual picked by the submitter.
type PersonRef struct {
	ID   int64               `json:"id" validate:"required,gt=0"`
	Kind shared.AssigneeKind `json:"kind" validate:"required,oneof=student employee"`
}

// CommunicationData is the payload of a communication letter.
type CommunicationData struct {
	Recipient  string      `json:"recipient" validate:"required"`
	Subject    string      `json:"subject" validate:"required"`
	Body       string      `json:"body" validate:"required"`
	NotedBy    []PersonRef `json:"noted_by" validate:"dive"`
	ApprovedBy []PersonRef `json:"approved_by" validate:"required,min=1,dive"`
}

// DocType implements FormData.
func (CommunicationData) DocType() DocType { return DocTypeCommunication }

func (CommunicationData) check() error { return nil }

// DecodeFormData parses raw JSON into the payload type selected by t.
func DecodeFormData(t DocType, raw []byte) (FormData, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: form_data required", ErrValidation)
	}
	var (
		data FormData
		err  error
	)
	switch t {
	case DocTypeProposal:
		var v ProposalData
		err = json.Unmarshal(raw, &v)
		data = v
	case DocTypeSAF:
		var v SafData
		err = json.Unmarshal(raw, &v)
		data = v
	case DocTypeFacility:
		var v FacilityData
		err = json.Unmarshal(raw, &v)
		data = v
	case DocTypeCommunication:
		var v CommunicationData
		err = json.Unmarshal(raw, &v)
		data = v
	default:
		return nil, fmt.Errorf("%w: unknown doc_type %q", ErrValidation, t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: form_data: %v", ErrValidation, err)
	}
	return data, nil
}

// EncodeFormData serialises the payload for storage.
func EncodeFormData(data FormData) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(data)
}
