package provisioner

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestEnsureWorkspaceSkipsProvisionedWorkspace(t *testing.T) {
	client := &fakeProfileClient{}
	p, mock := newTestProvisioner(t, client, nil)

	act := Activation{
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: "sub_1",
		BillingEmail:         "owner@acme.test",
		Tier:                 "pro",
		DisplayName:          "Acme",
	}

	// Resolution by Stripe customer finds ws-1.
	mock.ExpectQuery(`SELECT id FROM herald\.workspaces WHERE stripe_customer_id`).
		WithArgs("cus_1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ws-1"))
	// Billing identity is refreshed.
	mock.ExpectExec(`UPDATE herald\.workspaces`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Provision finds an existing profile and skips.
	expectWorkspaceLock(mock, "Acme", "ref-1", "pk-1")
	mock.ExpectRollback()

	result, err := p.EnsureWorkspace(context.Background(), act)
	if err != nil {
		t.Fatalf("EnsureWorkspace: %v", err)
	}
	if result.WorkspaceID != "ws-1" {
		t.Fatalf("workspace = %q", result.WorkspaceID)
	}
	if result.Created {
		t.Fatal("existing workspace must not be reported as created")
	}
	if !result.Provision.Skipped {
		t.Fatal("expected provisioning skip")
	}
	if client.callCount() != 0 {
		t.Fatal("provider must not be called")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEnsureWorkspaceLinksSibling(t *testing.T) {
	client := &fakeProfileClient{profile: profileFixture()}
	p, mock := newTestProvisioner(t, client, nil)

	act := Activation{
		StripeCustomerID: "cus_new",
		BillingEmail:     "owner@acme.test",
		DisplayName:      "Acme",
	}

	// No workspace for this customer yet.
	mock.ExpectQuery(`SELECT id FROM herald\.workspaces WHERE stripe_customer_id`).
		WithArgs("cus_new").
		WillReturnError(sql.ErrNoRows)
	// A sibling owned by the same billing email exists.
	mock.ExpectQuery(`SELECT id FROM herald\.workspaces\s+WHERE billing_email`).
		WithArgs("owner@acme.test").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ws-sibling"))
	mock.ExpectExec(`UPDATE herald\.workspaces`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The sibling has no profile; it gets provisioned.
	expectWorkspaceLock(mock, "Acme", nil, nil)
	mock.ExpectExec(`UPDATE herald\.workspaces`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := p.EnsureWorkspace(context.Background(), act)
	if err != nil {
		t.Fatalf("EnsureWorkspace: %v", err)
	}
	if result.WorkspaceID != "ws-sibling" {
		t.Fatalf("expected sibling workspace, got %q", result.WorkspaceID)
	}
	if result.Created {
		t.Fatal("sibling must not be reported as created")
	}
	if result.Provision.ProfileRef == "" {
		t.Fatal("sibling should have been provisioned")
	}
}

func TestEnsureWorkspaceCreatesForNewActor(t *testing.T) {
	client := &fakeProfileClient{profile: profileFixture()}
	p, mock := newTestProvisioner(t, client, nil)

	act := Activation{
		StripeCustomerID: "cus_new",
		BillingEmail:     "new@actor.test",
		Tier:             "pro",
		DisplayName:      "New Co",
	}

	mock.ExpectQuery(`SELECT id FROM herald\.workspaces WHERE stripe_customer_id`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT id FROM herald\.workspaces\s+WHERE billing_email`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO herald\.workspaces`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ws-new"))
	expectWorkspaceLock(mock, "New Co", nil, nil)
	mock.ExpectExec(`UPDATE herald\.workspaces`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := p.EnsureWorkspace(context.Background(), act)
	if err != nil {
		t.Fatalf("EnsureWorkspace: %v", err)
	}
	if !result.Created {
		t.Fatal("expected new workspace")
	}
	if result.WorkspaceID != "ws-new" {
		t.Fatalf("workspace = %q", result.WorkspaceID)
	}
	if client.callCount() != 1 {
		t.Fatalf("expected 1 provider call, got %d", client.callCount())
	}
}
