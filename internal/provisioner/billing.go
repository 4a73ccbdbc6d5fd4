package provisioner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"postdeck/pkg/logging"
	"postdeck/pkg/models"
)

// Activation describes a paid subscription that needs a workspace and a
// distribution profile behind it.
type Activation struct {
	// WorkspaceID from the billing metadata, if the checkout was started
	// for an existing workspace.
	WorkspaceID          string
	StripeCustomerID     string
	StripeSubscriptionID string
	BillingEmail         string
	Tier                 string
	DisplayName          string
}

// ActivationResult reports how the activation was resolved.
type ActivationResult struct {
	WorkspaceID string
	// Created is true when a new workspace row was made for this actor.
	Created bool
	Provision *Result
}

// EnsureWorkspace resolves a subscription activation to exactly one
// workspace and provisions it. Three cases:
//
//  1. The resolved workspace already owns a profile: update its billing
//     identity and skip provisioning.
//  2. A sibling workspace owned by the same actor (matched by billing
//     email or Stripe customer) exists without a profile: link the billing
//     identity to that sibling and provision it, instead of creating a
//     second workspace.
//  3. The actor owns no workspace: create workspace and profile together,
//     then link the billing identity.
func (p *Provisioner) EnsureWorkspace(ctx context.Context, act Activation) (*ActivationResult, error) {
	workspaceID, err := p.resolveWorkspace(ctx, act)
	if err != nil {
		return nil, err
	}

	created := false
	if workspaceID == "" {
		workspaceID, err = p.createWorkspace(ctx, act)
		if err != nil {
			return nil, err
		}
		created = true
	} else {
		if err := p.linkBillingIdentity(ctx, workspaceID, act); err != nil {
			return nil, err
		}
	}

	result, provErr := p.Provision(ctx, workspaceID, act.DisplayName)
	if provErr != nil {
		// The workspace exists and is flagged for repair; the caller
		// still learns which workspace the activation landed on.
		return &ActivationResult{WorkspaceID: workspaceID, Created: created}, provErr
	}

	return &ActivationResult{
		WorkspaceID: workspaceID,
		Created:     created,
		Provision:   result,
	}, nil
}

// resolveWorkspace finds the workspace this activation belongs to: explicit
// metadata first, then the Stripe customer, then a sibling by billing
// email. Returns "" when the actor owns no workspace.
func (p *Provisioner) resolveWorkspace(ctx context.Context, act Activation) (string, error) {
	if act.WorkspaceID != "" {
		var id string
		err := p.db.QueryRowContext(ctx,
			`SELECT id FROM herald.workspaces WHERE id = $1`, act.WorkspaceID).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("failed to look up workspace by id: %w", err)
		}
		p.logger.WithField("workspace_id", act.WorkspaceID).
			Warn("Billing metadata references unknown workspace, falling back to customer lookup")
	}

	if act.StripeCustomerID != "" {
		var id string
		err := p.db.QueryRowContext(ctx,
			`SELECT id FROM herald.workspaces WHERE stripe_customer_id = $1`,
			act.StripeCustomerID).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("failed to look up workspace by customer: %w", err)
		}
	}

	if act.BillingEmail != "" {
		// Oldest sibling first so repeated activations land on the same row.
		var id string
		err := p.db.QueryRowContext(ctx, `
			SELECT id FROM herald.workspaces
			WHERE billing_email = $1
			ORDER BY created_at ASC
			LIMIT 1
		`, act.BillingEmail).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("failed to look up workspace by billing email: %w", err)
		}
	}

	return "", nil
}

func (p *Provisioner) createWorkspace(ctx context.Context, act Activation) (string, error) {
	name := act.DisplayName
	if name == "" {
		name = act.BillingEmail
	}
	tier := act.Tier
	if tier == "" {
		tier = "free"
	}

	var id string
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO herald.workspaces
			(name, billing_email, billing_tier, billing_status,
			 stripe_customer_id, stripe_subscription_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, name, act.BillingEmail, tier, models.BillingStatusActive,
		act.StripeCustomerID, act.StripeSubscriptionID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}

	p.logger.WithFields(logging.Fields{
		"workspace_id":  id,
		"billing_email": act.BillingEmail,
	}).Info("Created workspace for new billing actor")
	return id, nil
}

func (p *Provisioner) linkBillingIdentity(ctx context.Context, workspaceID string, act Activation) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE herald.workspaces
		SET stripe_customer_id = COALESCE(NULLIF($1, ''), stripe_customer_id),
		    stripe_subscription_id = COALESCE(NULLIF($2, ''), stripe_subscription_id),
		    billing_tier = COALESCE(NULLIF($3, ''), billing_tier),
		    billing_status = $4,
		    updated_at = NOW()
		WHERE id = $5
	`, act.StripeCustomerID, act.StripeSubscriptionID, act.Tier,
		models.BillingStatusActive, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to link billing identity: %w", err)
	}
	return nil
}
