package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
)

// fakeTx satisfies pgx.Tx; ReadSnapshot must not call into it.
type fakeTx struct{ pgx.Tx }

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil tx, got %v", tx)
	}
}

func TestWithTx_RoundTrip(t *testing.T) {
	ctx := WithTx(context.Background(), nil)
	if tx := TxFromContext(ctx); tx != nil {
		t.Errorf("expected nil tx for nil value, got %v", tx)
	}
}

func TestReadSnapshot_ReusesAmbientTx(t *testing.T) {
	called := false
	ctx := WithTx(context.Background(), fakeTx{})
	err := ReadSnapshot(ctx, nil, func(inner context.Context) error {
		called = true
		if TxFromContext(inner) == nil {
			t.Error("expected ambient transaction to be visible")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected fn to be called")
	}
}
