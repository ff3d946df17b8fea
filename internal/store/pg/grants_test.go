package pg

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"gatehouse.dev/internal/auth"
)

func TestGrantsForPrincipal(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("from user_role_organizations uro").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"role_slug", "permission_slug", "organization_id"}).
			AddRow("ADMIN", "CREATE_USER", "org1").
			AddRow("ADMIN", "READ_ALL_USERS", "org1").
			AddRow("USER", "", "org2"))

	grants, err := store.GrantsForPrincipal(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GrantsForPrincipal: %v", err)
	}
	if len(grants) != 3 {
		t.Fatalf("expected 3 grants, got %d", len(grants))
	}
	resolved, err := auth.Aggregate(grants)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if resolved.OrganizationID != "org1" {
		t.Fatalf("expected first row organization, got %s", resolved.OrganizationID)
	}
	if len(resolved.Roles) != 2 || len(resolved.Permissions) != 2 {
		t.Fatalf("unexpected aggregation: %+v", resolved)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGrantsForPrincipalTimeout(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("from user_role_organizations uro").WillReturnError(context.DeadlineExceeded)

	if _, err := store.GrantsForPrincipal(context.Background(), "u1"); !errors.Is(err, auth.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
