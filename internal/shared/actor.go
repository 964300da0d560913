package shared

import (
	"net/http"
	"strconv"
	"strings"
)

// Headers populated by the authenticating gateway in front of the service.
const (
	HeaderActorID         = "X-Actor-ID"
	HeaderActorRole       = "X-Actor-Role"
	HeaderActorPosition   = "X-Actor-Position"
	HeaderActorDepartment = "X-Actor-Department"
	HeaderActorName       = "X-Actor-Name"
)

// Actor roles.
const (
	RoleStudent  = "student"
	RoleEmployee = "employee"
	RoleAdmin    = "admin"
)

// AssigneeKind distinguishes the two signatory populations.
type AssigneeKind string

const (
	KindStudent  AssigneeKind = "student"
	KindEmployee AssigneeKind = "employee"
)

// Actor is the caller identity passed explicitly into every workflow operation.
type Actor struct {
	ID         int64
	Role       string
	Position   string
	Department string
	Name       string
}

// Kind maps the actor role onto the signatory population it belongs to.
func (a Actor) Kind() AssigneeKind {
	if strings.EqualFold(a.Role, RoleStudent) {
		return KindStudent
	}
	return KindEmployee
}

// ActorFromHeaders reads the gateway headers. The boolean is false when no usable id is present.
func ActorFromHeaders(h http.Header) (Actor, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(h.Get(HeaderActorID)), 10, 64)
	if err != nil || id <= 0 {
		return Actor{}, false
	}
	return Actor{
		ID:         id,
		Role:       strings.ToLower(strings.TrimSpace(h.Get(HeaderActorRole))),
		Position:   strings.TrimSpace(h.Get(HeaderActorPosition)),
		Department: strings.TrimSpace(h.Get(HeaderActorDepartment)),
		Name:       strings.TrimSpace(h.Get(HeaderActorName)),
	}, true
}
