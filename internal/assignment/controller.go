// Package assignment mediates assign/unassign operations on questions: it
// patches the cached assignee view optimistically, dispatches the persistent
// mutation, then reconciles the cache (commit or rollback) against the
// outcome. Successful assigns trigger one report regeneration per distinct
// company among the newly assigned users; unassigns never do.
package assignment

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"greenledger/api/internal/questionnaire"
	"greenledger/api/internal/rbac"
)

type Action string

const (
	ActionAssign   Action = "assign"
	ActionUnassign Action = "unassign"
)

var (
	ErrNotAllowed = errors.New("assignment not allowed for role")
	ErrCancelled  = errors.New("assignment cancelled")
	// ErrOperationInFlight rejects a second operation on a question whose
	// previous operation has not reconciled yet, instead of clobbering the
	// rollback snapshot.
	ErrOperationInFlight = errors.New("assignment operation already in flight for question")
	// ErrUnassignActive is returned by mutators that refuse to dispatch an
	// assign while the unassign guard is engaged.
	ErrUnassignActive = errors.New("unassign in progress")
)

// MutationError carries a server-provided message for user display.
type MutationError struct {
	Message string
	Err     error
}

func (e *MutationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *MutationError) Unwrap() error { return e.Err }

// Request is one user-initiated operation. Users carries the full assignee
// records so the optimistic patch can render them before the mutation lands;
// for unassign only the IDs matter.
type Request struct {
	StandardID string
	QuestionID string
	Users      []questionnaire.AssignedUser
	Year       int
	Action     Action
	ActorRole  rbac.Role
}

func (r Request) userIDs() []string {
	ids := make([]string, len(r.Users))
	for i, u := range r.Users {
		ids[i] = u.ID
	}
	return ids
}

// MutationRequest is the wire shape of the persistent mutation.
type MutationRequest struct {
	QuestionID string   `json:"questionId"`
	UserIDs    []string `json:"users"`
	Year       int      `json:"year"`
	Action     Action   `json:"action"`
}

// MutationResponse tolerates every disambiguation signal being present,
// absent or contradictory; classification never trusts it over the locally
// recorded action.
type MutationResponse struct {
	AssignedUsers   []questionnaire.AssignedUser `json:"assignedUsers,omitempty"`
	UnassignedUsers []string                     `json:"unassignedUsers,omitempty"`
	Action          string                       `json:"action,omitempty"`
	Message         string                       `json:"message,omitempty"`
}

// Cache is the locally cached "who is assigned to what" view. Patch is a
// manual edit outside the normal refresh flow; the controller keeps the
// rollback snapshots itself.
type Cache interface {
	SelectAssignees(ctx context.Context, standardID, questionID string) ([]questionnaire.AssignedUser, error)
	PatchAssignees(ctx context.Context, standardID, questionID string, users []questionnaire.AssignedUser) error
}

// Mutator performs the persistent assign/unassign. Implementations receive
// the controller's Guard at construction and must refuse assign dispatches
// while it is engaged.
type Mutator interface {
	Mutate(ctx context.Context, req MutationRequest) (MutationResponse, error)
}

// ReportTrigger regenerates the derived report for one company.
type ReportTrigger interface {
	TriggerReport(ctx context.Context, standardID, companyID, questionID string, year int) error
}

// Confirmer is the blocking confirmation surface. The HTTP layer supplies an
// always-yes implementation since the remote client already confirmed.
type Confirmer interface {
	Confirm(prompt string) bool
}

// Notifier is the toast/notification surface.
type Notifier interface {
	Success(ctx context.Context, message string)
	Error(ctx context.Context, message string)
}

type snapshot struct {
	standardID string
	action     Action
	users      []questionnaire.AssignedUser
}

type Controller struct {
	cache   Cache
	mutator Mutator
	reports ReportTrigger
	confirm Confirmer
	notify  Notifier
	guard   *Guard

	mu        sync.Mutex
	snapshots map[string]snapshot
	seen      map[string]struct{}
	seenOrder []string
}

// seenLimit bounds the duplicate-delivery window: the controller remembers
// the fingerprints of this many reconciled responses, evicting oldest-first.
const seenLimit = 1024

func New(cache Cache, mutator Mutator, reports ReportTrigger, confirm Confirmer, notify Notifier, guard *Guard) *Controller {
	if guard == nil {
		guard = NewGuard()
	}
	return &Controller{
		cache:     cache,
		mutator:   mutator,
		reports:   reports,
		confirm:   confirm,
		notify:    notify,
		guard:     guard,
		snapshots: make(map[string]snapshot),
		seen:      make(map[string]struct{}),
	}
}

// Guard exposes the coordination token for call sites that construct
// competing mutations.
func (c *Controller) Guard() *Guard { return c.guard }

func (c *Controller) Assign(ctx context.Context, req Request) error {
	req.Action = ActionAssign
	return c.run(ctx, req)
}

func (c *Controller) Unassign(ctx context.Context, req Request) error {
	req.Action = ActionUnassign
	return c.run(ctx, req)
}

func (c *Controller) run(ctx context.Context, req Request) error {
	if !rbac.CanAssign(req.ActorRole) {
		c.notify.Error(ctx, "You do not have permission to change question assignments.")
		return ErrNotAllowed
	}

	if !c.confirm.Confirm(confirmPrompt(req)) {
		return ErrCancelled
	}

	previous, err := c.cache.SelectAssignees(ctx, req.StandardID, req.QuestionID)
	if err != nil {
		return fmt.Errorf("select assignees: %w", err)
	}

	c.mu.Lock()
	if _, inFlight := c.snapshots[req.QuestionID]; inFlight {
		c.mu.Unlock()
		return ErrOperationInFlight
	}
	c.snapshots[req.QuestionID] = snapshot{
		standardID: req.StandardID,
		action:     req.Action,
		users:      previous,
	}
	c.mu.Unlock()

	if req.Action == ActionUnassign {
		c.guard.Engage()
	}

	patched := applyAction(previous, req)
	if err := c.cache.PatchAssignees(ctx, req.StandardID, req.QuestionID, patched); err != nil {
		c.clearSnapshot(req.QuestionID)
		if req.Action == ActionUnassign {
			c.guard.Release()
		}
		return fmt.Errorf("optimistic patch: %w", err)
	}

	resp, mutErr := c.mutator.Mutate(ctx, MutationRequest{
		QuestionID: req.QuestionID,
		UserIDs:    req.userIDs(),
		Year:       req.Year,
		Action:     req.Action,
	})
	return c.reconcile(ctx, req, resp, mutErr)
}

// reconcile commits or rolls back one operation. It is safe to call more
// than once with the same response: duplicate deliveries are recognized by
// fingerprint and skipped, within a window of the last seenLimit responses.
func (c *Controller) reconcile(ctx context.Context, req Request, resp MutationResponse, mutErr error) error {
	if mutErr != nil {
		c.rollback(ctx, req)
		c.notify.Error(ctx, failureMessage(mutErr))
		if req.Action == ActionUnassign {
			c.guard.Release()
		}
		return mutErr
	}

	fp := fingerprint(req.QuestionID, resp)
	c.mu.Lock()
	if _, dup := c.seen[fp]; dup {
		c.mu.Unlock()
		return nil
	}
	c.seen[fp] = struct{}{}
	c.seenOrder = append(c.seenOrder, fp)
	if len(c.seenOrder) > seenLimit {
		delete(c.seen, c.seenOrder[0])
		c.seenOrder = c.seenOrder[1:]
	}
	delete(c.snapshots, req.QuestionID)
	c.mu.Unlock()

	action := classify(req.Action, c.guard.Active(), resp)
	if action == ActionAssign {
		c.notify.Success(ctx, "Users assigned successfully.")
		c.regenerateReports(ctx, req, resp)
		return nil
	}

	c.notify.Success(ctx, "Users unassigned successfully.")
	c.guard.Release()
	return nil
}

// regenerateReports fires one trigger per distinct company among the newly
// assigned users. The guard is consulted immediately before every call: a
// concurrent unassign, however it was detected, wins.
func (c *Controller) regenerateReports(ctx context.Context, req Request, resp MutationResponse) {
	assigned := resp.AssignedUsers
	if len(assigned) == 0 {
		assigned = req.Users
	}

	requested := make(map[string]struct{}, len(req.Users))
	for _, u := range req.Users {
		requested[u.ID] = struct{}{}
	}

	done := make(map[string]struct{})
	for _, user := range assigned {
		if _, ok := requested[user.ID]; !ok {
			continue
		}
		if user.CompanyID == "" {
			continue
		}
		if _, ok := done[user.CompanyID]; ok {
			continue
		}
		done[user.CompanyID] = struct{}{}

		if c.guard.Active() {
			log.Printf("assignment: unassign guard active, skipping report regeneration for company %s", user.CompanyID)
			continue
		}
		if err := c.reports.TriggerReport(ctx, req.StandardID, user.CompanyID, req.QuestionID, req.Year); err != nil {
			log.Printf("assignment: report regeneration for company %s failed: %v", user.CompanyID, err)
		}
	}
}

func (c *Controller) rollback(ctx context.Context, req Request) {
	c.mu.Lock()
	snap, ok := c.snapshots[req.QuestionID]
	delete(c.snapshots, req.QuestionID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := c.cache.PatchAssignees(ctx, snap.standardID, req.QuestionID, snap.users); err != nil {
		log.Printf("assignment: rollback for question %s failed: %v", req.QuestionID, err)
	}
}

func (c *Controller) clearSnapshot(questionID string) {
	c.mu.Lock()
	delete(c.snapshots, questionID)
	c.mu.Unlock()
}

// classify resolves assign vs. unassign with the documented precedence:
// the locally recorded action at call time wins outright; the guard and the
// response shape only matter for a response with no recorded action.
func classify(recorded Action, guardActive bool, resp MutationResponse) Action {
	if recorded == ActionAssign || recorded == ActionUnassign {
		return recorded
	}
	if guardActive {
		return ActionUnassign
	}
	if len(resp.UnassignedUsers) > 0 || resp.Action == string(ActionUnassign) {
		return ActionUnassign
	}
	return ActionAssign
}

func applyAction(current []questionnaire.AssignedUser, req Request) []questionnaire.AssignedUser {
	if req.Action == ActionUnassign {
		removed := make(map[string]struct{}, len(req.Users))
		for _, u := range req.Users {
			removed[u.ID] = struct{}{}
		}
		kept := make([]questionnaire.AssignedUser, 0, len(current))
		for _, u := range current {
			if _, gone := removed[u.ID]; !gone {
				kept = append(kept, u)
			}
		}
		return kept
	}

	existing := make(map[string]struct{}, len(current))
	merged := make([]questionnaire.AssignedUser, 0, len(current)+len(req.Users))
	for _, u := range current {
		existing[u.ID] = struct{}{}
		merged = append(merged, u)
	}
	for _, u := range req.Users {
		if _, dup := existing[u.ID]; !dup {
			merged = append(merged, u)
		}
	}
	return merged
}

// fingerprint identifies one delivered response: question, the sorted
// assigned user IDs, and a hash of the payload itself. Deliberately not the
// mutable current-action flag, which can change between delivery and
// processing.
func fingerprint(questionID string, resp MutationResponse) string {
	ids := make([]string, len(resp.AssignedUsers))
	for i, u := range resp.AssignedUsers {
		ids[i] = u.ID
	}
	sort.Strings(ids)

	payload, _ := json.Marshal(resp)
	payloadSum := sha1.Sum(payload)

	sum := sha1.Sum([]byte(questionID + "|" + strings.Join(ids, ",") + "|" + hex.EncodeToString(payloadSum[:])))
	return hex.EncodeToString(sum[:])
}

func confirmPrompt(req Request) string {
	if req.Action == ActionUnassign {
		return fmt.Sprintf("Remove %d user(s) from this question for %d?", len(req.Users), req.Year)
	}
	return fmt.Sprintf("Assign %d user(s) to this question for %d?", len(req.Users), req.Year)
}

func failureMessage(err error) string {
	var mutErr *MutationError
	if errors.As(err, &mutErr) && mutErr.Message != "" {
		return mutErr.Message
	}
	return "Could not update assignment. Please try again."
}
