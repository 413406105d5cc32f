package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActorContextRoundTrip(t *testing.T) {
	require.Empty(t, ActorFromContext(context.Background()))
	ctx := ContextWithActor(context.Background(), "dispatcher-3")
	require.Equal(t, "dispatcher-3", ActorFromContext(ctx))
}

func TestAuditLogValidate(t *testing.T) {
	valid := AuditLog{ActorID: "ops", Action: "ledger.adjust", Entity: "account", EntityID: "a-1"}
	require.NoError(t, valid.Validate())

	missingActor := valid
	missingActor.ActorID = ""
	require.Error(t, missingActor.Validate())

	missingEntity := valid
	missingEntity.EntityID = ""
	require.Error(t, missingEntity.Validate())
}

func TestIdempotencyKeyChecks(t *testing.T) {
	require.Error(t, checkKey("", "ledger.signal"))
	require.Error(t, checkKey("sig-1", ""))
	require.NoError(t, checkKey("sig-1", "ledger.signal"))

	var store *IdempotencyStore
	removed, err := store.Cleanup(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, removed)
}
