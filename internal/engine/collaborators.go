package engine

import (
	"context"
	"sync"
)

// Remote operations confirmed through a Committer.
const (
	OpTaskCreate     = "task.create"
	OpTaskStatus     = "task.status"
	OpTaskCheck      = "task.check"
	OpTaskChecklist  = "task.checklist"
	OpTaskReassign   = "task.reassign"
	OpTemplateUpdate = "template.update"
	OpIntakeReceive  = "intake.receive"
	OpIntakeResolve  = "intake.resolve"
)

// Mutation carries the full intent of a state change to the remote task API.
type Mutation struct {
	Op       string `json:"op"`
	EntityID string `json:"entity_id"`
	GroupID  string `json:"group_id,omitempty"`
	ActorID  string `json:"actor_id"`
	Data     any    `json:"data"`
}

// Committer confirms mutations with the remote persistence layer.
type Committer interface {
	Commit(ctx context.Context, m Mutation) error
}

// Conversations is the chat message store the engine annotates on a best-effort basis.
type Conversations interface {
	AnnotateMessage(ctx context.Context, messageID, taskID string) error
	AppendSystemMessage(ctx context.Context, groupID, text string) error
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns the release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	ent, ok := k.locks[key]
	if !ok {
		ent = &keyedEntry{}
		k.locks[key] = ent
	}
	ent.refs++
	k.mu.Unlock()

	ent.mu.Lock()
	return func() {
		ent.mu.Unlock()
		k.mu.Lock()
		ent.refs--
		if ent.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
