package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"taskmate-sync/domain"
)

type fakeQueue struct {
	mu       sync.Mutex
	inFlight int
	max      int
	count    int
	failAt   int
	sleep    time.Duration
	messages []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{failAt: -1, sleep: time.Millisecond}
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	idx := f.count
	f.count++
	f.inFlight++
	if f.inFlight > f.max {
		f.max = f.inFlight
	}
	f.messages = append(f.messages, content)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	if f.sleep > 0 {
		select {
		case <-time.After(f.sleep):
		case <-ctx.Done():
			return azqueue.EnqueueMessagesResponse{}, ctx.Err()
		}
	}
	if f.failAt >= 0 && idx == f.failAt {
		return azqueue.EnqueueMessagesResponse{}, errors.New("enqueue failure")
	}
	return azqueue.EnqueueMessagesResponse{}, nil
}

func (f *fakeQueue) GetProperties(ctx context.Context, o *azqueue.GetQueuePropertiesOptions) (azqueue.GetQueuePropertiesResponse, error) {
	return azqueue.GetQueuePropertiesResponse{}, nil
}

func commands(n int) []domain.Command {
	cmds := make([]domain.Command, n)
	for i := range cmds {
		cmds[i] = domain.Command{IdempotencyKey: "k", EntityType: domain.EntityTask, Type: domain.TaskToggle}
	}
	return cmds
}

func TestEnqueueCommandsUsesConcurrency(t *testing.T) {
	fq := newFakeQueue()
	fq.sleep = 5 * time.Millisecond
	store := &Storage{commandQueue: fq, queueConcurrency: 4}

	if err := store.EnqueueCommands(context.Background(), "user", commands(8)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if fq.max < 2 || fq.max > 4 {
		t.Fatalf("expected bounded concurrent sends, max in flight: %d", fq.max)
	}
	if fq.count != 8 {
		t.Fatalf("expected 8 sends, got %d", fq.count)
	}
	var env domain.CommandEnvelope
	if err := sonic.UnmarshalString(fq.messages[0], &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.UserID != "user" || env.Command.Type != domain.TaskToggle {
		t.Fatalf("unexpected envelope: %#v", env)
	}
}

func TestEnqueueCommandsPropagatesErrors(t *testing.T) {
	fq := newFakeQueue()
	fq.failAt = 2
	store := &Storage{commandQueue: fq, queueConcurrency: 3}

	if err := store.EnqueueCommands(context.Background(), "user", commands(6)); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnqueueCommandsSequentialWhenConfigured(t *testing.T) {
	fq := newFakeQueue()
	store := &Storage{commandQueue: fq, queueConcurrency: 1}

	if err := store.EnqueueCommands(context.Background(), "user", commands(5)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if fq.max != 1 {
		t.Fatalf("expected sequential sends, observed max in flight: %d", fq.max)
	}
}

func TestQueueConcurrencyForCPU(t *testing.T) {
	tests := []struct {
		name string
		cpu  int
		want int
	}{
		{name: "below minimum", cpu: 0, want: defaultQueueConcurrency},
		{name: "single cpu", cpu: 1, want: queuePerCPU},
		{name: "multi cpu scale", cpu: 4, want: 40},
		{name: "cap applied", cpu: 32, want: maxQueueConcurrency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := queueConcurrencyForCPU(tt.cpu); got != tt.want {
				t.Fatalf("queueConcurrencyForCPU(%d) = %d, want %d", tt.cpu, got, tt.want)
			}
		})
	}
}

func TestEscapeFilterValue(t *testing.T) {
	if got := escapeFilterValue("o'neil"); got != "o''neil" {
		t.Fatalf("unexpected escape: %s", got)
	}
}
