// Package resolver expands a message's recipient specs into a flat,
// deduplicated delivery list. School-admin specs are late-bound: the
// school's current administrator is looked up here, at send time.
package resolver

import (
	"context"
	"log/slog"
	"strings"

	"github.com/campussite/messaging/internal/messaging/domain"
)

// School is the slice of the CMS school record the resolver needs.
type School struct {
	ID          string
	Name        string
	AdminUserID *string
}

// User is the slice of the CMS user record the resolver needs.
type User struct {
	ID          string
	Email       string
	DisplayName string
}

// Directory is the lookup port into the school/user management subsystem.
type Directory interface {
	GetSchool(ctx context.Context, schoolRef string) (*School, error)
	GetUser(ctx context.Context, userRef string) (*User, error)
}

// Resolver turns recipient specs into deliverable addresses.
type Resolver struct {
	directory Directory
	logger    *slog.Logger
}

func New(directory Directory, logger *slog.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		logger:    logger.With("component", "resolver"),
	}
}

// Resolve never returns an error: every failure is a typed entry in the
// unresolved list so one bad spec cannot block the remaining valid
// recipients. The resolved list is deduplicated by lowercased email,
// first-seen display name wins. Callers must treat an empty resolved list
// as a message-level failure, not as a send to nobody.
func (r *Resolver) Resolve(ctx context.Context, specs []domain.RecipientSpec) ([]domain.ResolvedRecipient, []domain.UnresolvedRecipient) {
	resolved := make([]domain.ResolvedRecipient, 0, len(specs))
	var unresolved []domain.UnresolvedRecipient
	seen := make(map[string]int, len(specs))

	add := func(email, displayName, specID string) {
		if i, dup := seen[email]; dup {
			// The address is already on the list; the duplicate spec still
			// counts as included in the send.
			resolved[i].SpecIDs = append(resolved[i].SpecIDs, specID)
			return
		}
		seen[email] = len(resolved)
		resolved = append(resolved, domain.ResolvedRecipient{Email: email, DisplayName: displayName, SpecIDs: []string{specID}})
	}

	for _, spec := range specs {
		switch spec.Kind {
		case domain.RecipientKindExternal:
			email, ok := normalizeEmail(spec.Email)
			if !ok {
				r.logger.WarnContext(ctx, "Recipient address failed validation", "message_id", spec.MessageID, "spec_id", spec.ID)
				unresolved = append(unresolved, domain.UnresolvedRecipient{Spec: spec, Reason: domain.ReasonInvalidAddress})
				continue
			}
			displayName := ""
			if spec.DisplayName != nil {
				displayName = *spec.DisplayName
			}
			add(email, displayName, spec.ID)

		case domain.RecipientKindSchoolAdmin:
			recipient, reason := r.resolveSchoolAdmin(ctx, spec)
			if recipient == nil {
				unresolved = append(unresolved, domain.UnresolvedRecipient{Spec: spec, Reason: reason})
				continue
			}
			add(recipient.Email, recipient.DisplayName, spec.ID)

		default:
			// Unknown kinds are data corruption; report rather than drop.
			r.logger.ErrorContext(ctx, "Unknown recipient spec kind", "kind", spec.Kind, "spec_id", spec.ID)
			unresolved = append(unresolved, domain.UnresolvedRecipient{Spec: spec, Reason: domain.ReasonInvalidAddress})
		}
	}

	return resolved, unresolved
}

// resolveSchoolAdmin walks schoolRef -> school -> admin user -> email.
// Each hop fails with its own reason so operators can tell "no admin
// assigned" apart from a data integrity problem.
func (r *Resolver) resolveSchoolAdmin(ctx context.Context, spec domain.RecipientSpec) (*domain.ResolvedRecipient, domain.FailureReason) {
	if spec.SchoolRef == nil || *spec.SchoolRef == "" {
		return nil, domain.ReasonSchoolNotFound
	}

	school, err := r.directory.GetSchool(ctx, *spec.SchoolRef)
	if err != nil || school == nil {
		r.logger.WarnContext(ctx, "School lookup failed", "school_ref", *spec.SchoolRef, "error", err)
		return nil, domain.ReasonSchoolNotFound
	}

	if school.AdminUserID == nil || *school.AdminUserID == "" {
		return nil, domain.ReasonSchoolHasNoAdmin
	}

	admin, err := r.directory.GetUser(ctx, *school.AdminUserID)
	if err != nil || admin == nil {
		r.logger.WarnContext(ctx, "Admin user lookup failed", "school_ref", *spec.SchoolRef, "admin_user_id", *school.AdminUserID, "error", err)
		return nil, domain.ReasonAdminUserMissing
	}

	adminEmail := admin.Email
	email, ok := normalizeEmail(&adminEmail)
	if !ok {
		// An unusable stored address is indistinguishable from a missing
		// user record from the operator's point of view.
		return nil, domain.ReasonAdminUserMissing
	}

	displayName := admin.DisplayName
	if displayName == "" {
		displayName = school.Name
	}
	return &domain.ResolvedRecipient{Email: email, DisplayName: displayName}, ""
}

// normalizeEmail trims and lowercases the address and checks it has exactly
// one "@" with non-empty local and domain parts.
func normalizeEmail(raw *string) (string, bool) {
	if raw == nil {
		return "", false
	}
	email := strings.ToLower(strings.TrimSpace(*raw))
	at := strings.Index(email, "@")
	if at <= 0 || at != strings.LastIndex(email, "@") || at == len(email)-1 {
		return "", false
	}
	return email, true
}
