package service

import (
	"github.com/pusherbot/pusherbot/internal/store/model"
	"github.com/thoas/go-funk"
)

type CompletionPolicy string

const (
	CompleteByRequester   CompletionPolicy = "requester"
	CompleteByClaimant    CompletionPolicy = "claimant"
	CompleteByParticipant CompletionPolicy = "participant"
)

// Actor is the user behind an interaction, with the role ids they hold.
type Actor struct {
	ID          string
	DisplayName string
	Roles       []string
}

func NewActor(id, displayName string, roles ...string) Actor {
	return Actor{ID: id, DisplayName: displayName, Roles: roles}
}

// HasAnyRole reports whether the actor holds at least one of the roles.
func (a Actor) HasAnyRole(roleIDs ...string) bool {
	if len(roleIDs) == 0 || len(a.Roles) == 0 {
		return false
	}
	return len(funk.IntersectString(a.Roles, roleIDs)) > 0
}

// AuthorizationPolicy holds the role rules of the board. All predicates are
// pure functions of the actor and, where relevant, the job.
type AuthorizationPolicy struct {
	MemberRoleIDs []string
	AdminRoleIDs  []string
	WorkerRoleID  string
	SuperAdminID  string
	Completion    CompletionPolicy
}

// CanCreate allows members and admins to post jobs. Without configured
// member roles everybody may post.
func (p *AuthorizationPolicy) CanCreate(actor Actor) bool {
	if len(p.MemberRoleIDs) == 0 {
		return true
	}
	return actor.HasAnyRole(p.MemberRoleIDs...) || actor.HasAnyRole(p.AdminRoleIDs...)
}

func (p *AuthorizationPolicy) CanClaim(actor Actor) bool {
	if p.WorkerRoleID == "" {
		return false
	}
	return actor.HasAnyRole(p.WorkerRoleID)
}

// CanCancel allows both parties of a claim to give it up.
func (p *AuthorizationPolicy) CanCancel(actor Actor, job model.Job) bool {
	return job.IsParticipant(actor.ID) || p.isSuperAdmin(actor)
}

func (p *AuthorizationPolicy) CanComplete(actor Actor, job model.Job) bool {
	claimantID, _ := job.Claimant()
	switch p.Completion {
	case CompleteByClaimant:
		return claimantID != "" && actor.ID == claimantID
	case CompleteByParticipant:
		return job.IsParticipant(actor.ID)
	default:
		return actor.ID == job.RequesterID
	}
}

func (p *AuthorizationPolicy) CanAdminister(actor Actor) bool {
	return actor.HasAnyRole(p.AdminRoleIDs...) || p.isSuperAdmin(actor)
}

func (p *AuthorizationPolicy) CanForceClose(actor Actor) bool {
	return p.isSuperAdmin(actor)
}

// CanTakePermanent allows workers who are not admins; admins act as coordinators.
func (p *AuthorizationPolicy) CanTakePermanent(actor Actor) bool {
	return p.CanClaim(actor) && !actor.HasAnyRole(p.AdminRoleIDs...)
}

// CanClosePermanent allows admins and the participants of the channel.
func (p *AuthorizationPolicy) CanClosePermanent(actor Actor, participant bool) bool {
	return participant || p.CanAdminister(actor)
}

func (p *AuthorizationPolicy) isSuperAdmin(actor Actor) bool {
	return p.SuperAdminID != "" && actor.ID == p.SuperAdminID
}
