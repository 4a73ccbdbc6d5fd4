// Package provisioner drives the workspace provisioning workflow: a paid
// subscription gets an external distribution profile created and linked to
// exactly one workspace. Creation is retried with bounded backoff on
// transient provider failures; a workspace whose billing succeeded but
// whose profile could not be created is flagged for operator repair, never
// silently dropped.
package provisioner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"postdeck/pkg/clients/ayrshare"
	"postdeck/pkg/crypto"
	"postdeck/pkg/logging"
	"postdeck/pkg/models"
)

// ProfileClient is the subset of the distribution API the provisioner needs.
type ProfileClient interface {
	CreateProfile(ctx context.Context, title string) (*ayrshare.Profile, error)
}

// Notifier surfaces provisioning failures to an operator channel.
type Notifier interface {
	ProvisioningFailed(workspaceID, workspaceName, reason string)
}

// Config tunes the retry behavior. Defaults give 3 attempts with
// 2s/4s/8s backoff. Encryptor, when set, encrypts the profile API key
// before it is written to the workspace row.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Encryptor   *crypto.FieldEncryptor
}

// DefaultConfig returns the production retry settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    8 * time.Second,
	}
}

// Provisioner creates and links distribution profiles for workspaces.
type Provisioner struct {
	db       *sql.DB
	client   ProfileClient
	notifier Notifier
	logger   logging.Logger
	cfg      Config
}

// New creates a Provisioner. notifier may be nil.
func New(db *sql.DB, client ProfileClient, notifier Notifier, logger logging.Logger, cfg Config) *Provisioner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay * 4
	}
	return &Provisioner{db: db, client: client, notifier: notifier, logger: logger, cfg: cfg}
}

// Result reports what Provision did.
type Result struct {
	ProfileRef   string
	SecondaryRef string
	// Skipped is true when the workspace already owned a usable profile
	// and no external call was made.
	Skipped bool
}

// ErrWorkspaceNotFound is returned when the workspace row does not exist.
var ErrWorkspaceNotFound = errors.New("workspace not found")

// Provision ensures the workspace owns a distribution profile. Idempotent:
// a workspace that already carries a real (non-placeholder) profile
// reference is returned as-is without touching the provider. The workspace
// row is locked for the duration of the provision step so two
// near-simultaneous billing events cannot create two external profiles for
// the same workspace.
func (p *Provisioner) Provision(ctx context.Context, workspaceID, displayName string) (*Result, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin provisioning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var name string
	var profileRef, secondaryRef sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT name, profile_ref, profile_secondary_ref
		FROM herald.workspaces
		WHERE id = $1
		FOR UPDATE
	`, workspaceID).Scan(&name, &profileRef, &secondaryRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace for provisioning: %w", err)
	}

	// Already provisioned: placeholder values do not count, a real
	// reference is never overwritten.
	if profileRef.Valid && !models.IsPlaceholderProfileRef(profileRef.String) {
		p.logger.WithFields(logging.Fields{
			"workspace_id": workspaceID,
			"profile_ref":  profileRef.String,
		}).Debug("Workspace already provisioned, skipping")
		return &Result{
			ProfileRef:   profileRef.String,
			SecondaryRef: secondaryRef.String,
			Skipped:      true,
		}, nil
	}

	if displayName == "" {
		displayName = name
	}

	profile, provErr := p.createProfileWithRetry(ctx, displayName)
	if provErr != nil {
		// The customer paid; billing stays active but the workspace is
		// flagged so operator tooling can target it.
		if _, err := tx.ExecContext(ctx, `
			UPDATE herald.workspaces
			SET billing_status = $1, needs_repair = TRUE, updated_at = NOW()
			WHERE id = $2
		`, models.BillingStatusActive, workspaceID); err != nil {
			return nil, fmt.Errorf("failed to flag workspace for repair: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit repair flag: %w", err)
		}

		p.logger.WithFields(logging.Fields{
			"workspace_id": workspaceID,
			"error":        provErr.Error(),
		}).Error("Profile provisioning failed, workspace flagged for repair")
		if p.notifier != nil {
			go p.notifier.ProvisioningFailed(workspaceID, displayName, provErr.Error())
		}
		return nil, fmt.Errorf("profile provisioning failed: %w", provErr)
	}

	storedKey := profile.ProfileKey
	if p.cfg.Encryptor != nil && storedKey != "" {
		encrypted, err := p.cfg.Encryptor.Encrypt(storedKey)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt profile key: %w", err)
		}
		storedKey = encrypted
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE herald.workspaces
		SET profile_ref = $1,
		    profile_secondary_ref = $2,
		    billing_status = $3,
		    needs_repair = FALSE,
		    updated_at = NOW()
		WHERE id = $4
	`, profile.RefID, storedKey, models.BillingStatusActive, workspaceID); err != nil {
		return nil, fmt.Errorf("failed to persist profile references: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit provisioning: %w", err)
	}

	p.logger.WithFields(logging.Fields{
		"workspace_id": workspaceID,
		"profile_ref":  profile.RefID,
	}).Info("Workspace provisioned with distribution profile")

	return &Result{
		ProfileRef:   profile.RefID,
		SecondaryRef: profile.ProfileKey,
	}, nil
}

// isTransient reports whether a provider error is worth retrying. Network
// errors retry; API errors defer to the provider's status code.
func isTransient(err error) bool {
	var apiErr *ayrshare.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return err != nil
}

// createProfileWithRetry makes at most cfg.MaxAttempts calls to the
// provider, backing off between attempts. Definitive client errors stop
// immediately; retrying them cannot change the provider's answer.
func (p *Provisioner) createProfileWithRetry(ctx context.Context, title string) (*ayrshare.Profile, error) {
	retry := retrypolicy.NewBuilder[*ayrshare.Profile]().
		WithBackoff(p.cfg.BaseDelay, p.cfg.MaxDelay).
		WithMaxRetries(p.cfg.MaxAttempts - 1).
		HandleIf(func(_ *ayrshare.Profile, err error) bool {
			return isTransient(err)
		}).
		OnRetry(func(e failsafe.ExecutionEvent[*ayrshare.Profile]) {
			p.logger.WithFields(logging.Fields{
				"attempt": e.Attempts(),
				"error":   e.LastError().Error(),
			}).Warn("Retrying profile creation after transient failure")
		}).
		Build()

	return failsafe.With[*ayrshare.Profile](retry).
		WithContext(ctx).
		Get(func() (*ayrshare.Profile, error) {
			return p.client.CreateProfile(ctx, title)
		})
}
