// Package storage reads the board read model from Azure tables and accepts
// commands into the command queue.
package storage

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"taskmate-sync/domain"
)

const (
	defaultQueueConcurrency = 4
	queuePerCPU             = 10
	maxQueueConcurrency     = 64
)

func queueConcurrencyForCPU(cpu int) int {
	if cpu < 1 {
		return defaultQueueConcurrency
	}
	n := cpu * queuePerCPU
	if n > maxQueueConcurrency {
		n = maxQueueConcurrency
	}
	return n
}

type commandQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	GetProperties(ctx context.Context, o *azqueue.GetQueuePropertiesOptions) (azqueue.GetQueuePropertiesResponse, error)
}

// Tables names the tables and queue used by Storage.
type Tables struct {
	Boards     string
	Workspaces string
	Users      string
	Commands   string
}

// Storage provides access to the read model and the command queue.
type Storage struct {
	boardTable       *aztables.Client
	workspaceTable   *aztables.Client
	userTable        *aztables.Client
	commandQueue     commandQueue
	queueConcurrency int
}

var retryStatusCodes = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// New creates a Storage instance from the given connection string.
func New(connStr string, names Tables) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, names.Commands, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		boardTable:       svc.NewClient(names.Boards),
		workspaceTable:   svc.NewClient(names.Workspaces),
		userTable:        svc.NewClient(names.Users),
		commandQueue:     cq,
		queueConcurrency: queueConcurrencyForCPU(runtime.NumCPU()),
	}, nil
}

func listPartition(ctx context.Context, table *aztables.Client, partition string) ([][]byte, error) {
	filter := "PartitionKey eq '" + escapeFilterValue(partition) + "'"
	pager := table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var rows [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		rows = append(rows, resp.Entities...)
	}
	return rows, nil
}

func escapeFilterValue(v string) string {
	out := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, v[i])
	}
	return string(out)
}

// FetchBoard loads the full board tree.
func (s *Storage) FetchBoard(ctx context.Context, boardID string) (domain.Board, error) {
	rows, err := listPartition(ctx, s.boardTable, boardID)
	if err != nil {
		return domain.Board{}, err
	}
	return assembleBoard(boardID, rows)
}

// FetchWorkspace loads a user's folders and boards. A user without a
// workspace gets an empty one.
func (s *Storage) FetchWorkspace(ctx context.Context, userID string) (domain.Workspace, error) {
	rows, err := listPartition(ctx, s.workspaceTable, userID)
	if err != nil {
		return domain.Workspace{}, err
	}
	return assembleWorkspace(userID, rows)
}

// FetchUser loads a user profile.
func (s *Storage) FetchUser(ctx context.Context, userID string) (domain.User, error) {
	ent, err := s.userTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return domain.User{}, domain.NotFound("user", userID)
		}
		return domain.User{}, err
	}
	return decodeUserEntity(ent.Value)
}

// UpsertUser creates or replaces a user profile.
func (s *Storage) UpsertUser(ctx context.Context, u domain.User) error {
	payload, err := sonic.Marshal(userEntity{
		Entity: aztables.Entity{PartitionKey: u.ID, RowKey: u.ID},
		Name:   u.Name,
		Email:  u.Email,
		Image:  u.Image,
	})
	if err == nil {
		_, err = s.userTable.UpsertEntity(ctx, payload, nil)
	}
	return err
}

// EnqueueCommands sends the given commands to the command queue, up to
// queueConcurrency at a time. The first failure is returned once every send
// has finished.
func (s *Storage) EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	limit := s.queueConcurrency
	if limit < 1 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
		sem      = make(chan struct{}, limit)
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}
	for _, cmd := range cmds {
		data, err := sonic.Marshal(domain.CommandEnvelope{UserID: userID, Command: cmd})
		if err != nil {
			fail(err)
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(msg string) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := s.commandQueue.EnqueueMessage(ctx, msg, nil); err != nil {
				fail(err)
			}
		}(string(data))
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// Ping checks that the command queue is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	_, err := s.commandQueue.GetProperties(ctx, nil)
	return err
}
