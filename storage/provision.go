package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

const queueAlreadyExists = "QueueAlreadyExists"

// TablesFromEnv reads table and queue names with lookup, usually os.Getenv.
func TablesFromEnv(lookup func(string) string) Tables {
	return Tables{
		Boards:     lookup("BOARDS_TABLE"),
		Workspaces: lookup("WORKSPACES_TABLE"),
		Users:      lookup("USERS_TABLE"),
		Commands:   lookup("COMMAND_QUEUE"),
	}
}

// Validate reports the first missing name.
func (t Tables) Validate() error {
	for _, f := range []struct{ env, v string }{
		{"BOARDS_TABLE", t.Boards},
		{"WORKSPACES_TABLE", t.Workspaces},
		{"USERS_TABLE", t.Users},
		{"COMMAND_QUEUE", t.Commands},
	} {
		if f.v == "" {
			return fmt.Errorf("missing %s", f.env)
		}
	}
	return nil
}

func (t Tables) tableNames() []string { return []string{t.Boards, t.Workspaces, t.Users} }

// Provision creates the tables and the command queue. Existing ones are
// left alone, so it is safe to run on every deploy.
func Provision(ctx context.Context, connStr string, names Tables, logger *log.Logger) error {
	if err := names.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names.tableNames() {
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err := settleCreate(logger.WithField("table", name), err); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, names.Commands, nil)
	if err != nil {
		return err
	}
	_, err = q.Create(ctx, nil)
	if err := settleCreate(logger.WithField("queue", names.Commands), err); err != nil {
		return fmt.Errorf("create queue %s: %w", names.Commands, err)
	}
	return nil
}

func settleCreate(entry *log.Entry, err error) error {
	switch {
	case err == nil:
		entry.Info("created")
		return nil
	case alreadyExists(err):
		entry.Debug("already exists")
		return nil
	default:
		return err
	}
}

func alreadyExists(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	return respErr.ErrorCode == string(aztables.TableAlreadyExists) || respErr.ErrorCode == queueAlreadyExists
}
