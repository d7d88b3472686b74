package storage

import (
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestTablesFromEnv(t *testing.T) {
	env := map[string]string{
		"BOARDS_TABLE":     "boards",
		"WORKSPACES_TABLE": "workspaces",
		"USERS_TABLE":      "users",
		"COMMAND_QUEUE":    "commands",
	}
	tables := TablesFromEnv(func(k string) string { return env[k] })
	if err := tables.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if tables.Boards != "boards" || tables.Commands != "commands" {
		t.Fatalf("unexpected tables: %#v", tables)
	}

	delete(env, "USERS_TABLE")
	err := TablesFromEnv(func(k string) string { return env[k] }).Validate()
	if err == nil || err.Error() != "missing USERS_TABLE" {
		t.Fatalf("expected missing USERS_TABLE, got %v", err)
	}
}

func TestSettleCreateAcceptsExisting(t *testing.T) {
	logger, hook := test.NewNullLogger()
	entry := logger.WithField("table", "boards")

	if err := settleCreate(entry, &azcore.ResponseError{ErrorCode: string(aztables.TableAlreadyExists)}); err != nil {
		t.Fatalf("existing table should not fail: %v", err)
	}
	if err := settleCreate(entry, &azcore.ResponseError{ErrorCode: queueAlreadyExists}); err != nil {
		t.Fatalf("existing queue should not fail: %v", err)
	}
	if err := settleCreate(entry, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last := hook.LastEntry(); last == nil || last.Message != "created" {
		t.Fatalf("expected creation to be logged, got %#v", last)
	}

	boom := errors.New("forbidden")
	if err := settleCreate(entry, boom); !errors.Is(err, boom) {
		t.Fatalf("expected other errors to pass through, got %v", err)
	}
	if err := settleCreate(entry, &azcore.ResponseError{ErrorCode: "AuthorizationFailure"}); err == nil {
		t.Fatal("expected unrelated response error to fail")
	}
}
