package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/avolkov-dev/genrelay/internal/domain"
	"github.com/avolkov-dev/genrelay/internal/service"
)

func TestAccountCreateDefaultsCoefficient(t *testing.T) {
	svc := service.NewAccountService(newMockStore(), discardLogger())

	acct, err := svc.Create(context.Background(), "alice", 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if acct.Coefficient != 1.0 {
		t.Errorf("coefficient = %v, want 1.0", acct.Coefficient)
	}
	if acct.Balance != 100 {
		t.Errorf("balance = %d, want 100", acct.Balance)
	}
}

func TestAccountCreateValidation(t *testing.T) {
	svc := service.NewAccountService(newMockStore(), discardLogger())
	ctx := context.Background()

	if _, err := svc.Create(ctx, "", 100, 1.0); err == nil {
		t.Error("expected error for empty user_id")
	}
	if _, err := svc.Create(ctx, "bob", -1, 1.0); err == nil {
		t.Error("expected error for negative balance")
	}
	if _, err := svc.Create(ctx, "bob", 100, -0.5); err == nil {
		t.Error("expected error for negative coefficient")
	}
}

func TestAccountCreateDuplicate(t *testing.T) {
	svc := service.NewAccountService(newMockStore(), discardLogger())
	ctx := context.Background()

	if _, err := svc.Create(ctx, "alice", 100, 1.0); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, "alice", 50, 1.0); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAccountTopUp(t *testing.T) {
	svc := service.NewAccountService(newMockStore(), discardLogger())
	ctx := context.Background()

	if _, err := svc.Create(ctx, "alice", 100, 1.0); err != nil {
		t.Fatal(err)
	}

	acct, err := svc.TopUp(ctx, "alice", 25)
	if err != nil {
		t.Fatal(err)
	}
	if acct.Balance != 125 {
		t.Errorf("balance = %d, want 125", acct.Balance)
	}

	if _, err := svc.TopUp(ctx, "alice", 0); err == nil {
		t.Error("expected error for non-positive amount")
	}
	if _, err := svc.TopUp(ctx, "ghost", 10); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
