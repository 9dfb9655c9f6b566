package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/t77yq/rep4rep-bot/internal/model"
	"github.com/t77yq/rep4rep-bot/internal/steam"
)

// memStore is an in-memory AccountStore for tests
type memStore struct {
	mu        sync.Mutex
	accounts  map[string]*model.Account
	order     []string
	updateErr error
	logs      []model.TaskLogEntry
}

func newMemStore(accounts ...*model.Account) *memStore {
	s := &memStore{accounts: make(map[string]*model.Account)}
	for _, account := range accounts {
		s.accounts[account.ID] = account
		s.order = append(s.order, account.ID)
	}
	return s
}

func (s *memStore) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Account, 0, len(s.order))
	for _, id := range s.order {
		copied := *s.accounts[id]
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s not found", id)
	}
	copied := *account
	return &copied, nil
}

func (s *memStore) UpdateAccount(ctx context.Context, id string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	account, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("account %s not found", id)
	}
	for key, value := range fields {
		switch key {
		case "status":
			account.Status = model.AccountStatus(value.(string))
		case "tasks_today":
			account.TasksToday = value.(int)
		case "last_comment":
			at := value.(time.Time)
			account.LastComment = &at
		case "token":
			account.Token = value.(string)
		case "steam_id":
			account.SteamID = value.(string)
		}
	}
	return nil
}

func (s *memStore) AppendTaskLog(ctx context.Context, entry *model.TaskLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, *entry)
	return nil
}

func (s *memStore) account(id string) model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.accounts[id]
}

func (s *memStore) taskLogs() []model.TaskLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TaskLogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}

// fakeIdentity is an in-memory IdentityProvider. It tracks the peak
// number of simultaneously authenticated accounts.
type fakeIdentity struct {
	mu            sync.Mutex
	authed        map[string]bool
	authErr       map[string]error
	postDelay     time.Duration
	post          func(accountID, targetSteamID string) (string, error)
	postCounter   int
	current       int
	maxConcurrent int
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		authed:  make(map[string]bool),
		authErr: make(map[string]error),
	}
}

func (f *fakeIdentity) Authenticate(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.authErr[accountID]; err != nil {
		return err
	}
	if !f.authed[accountID] {
		f.authed[accountID] = true
		f.current++
		if f.current > f.maxConcurrent {
			f.maxConcurrent = f.current
		}
	}
	return nil
}

func (f *fakeIdentity) IsAuthenticated(accountID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authed[accountID]
}

func (f *fakeIdentity) Deauthenticate(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authed[accountID] {
		delete(f.authed, accountID)
		f.current--
	}
	return nil
}

func (f *fakeIdentity) PostComment(ctx context.Context, accountID, targetSteamID, text string) (string, error) {
	f.mu.Lock()
	if !f.authed[accountID] {
		f.mu.Unlock()
		return "", steam.ErrNotAuthenticated
	}
	post := f.post
	delay := f.postDelay
	f.postCounter++
	counter := f.postCounter
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if post != nil {
		return post(accountID, targetSteamID)
	}
	return fmt.Sprintf("comment-%d", counter), nil
}

func (f *fakeIdentity) peakConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxConcurrent
}

type ack struct {
	taskID    string
	commentID string
	profileID string
	at        time.Time
}

// fakeSource is an in-memory TaskSource. Acknowledged tasks disappear
// from subsequent Tasks calls.
type fakeSource struct {
	mu          sync.Mutex
	profiles    []model.SteamProfile
	profilesErr error
	tasksErr    map[string]error
	tasks       map[string][]model.Task
	added       []string
	acks        []ack

	// registerOnAdd makes AddProfile register a profile for the steam id,
	// the way the real service does
	registerOnAdd bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		tasks:    make(map[string][]model.Task),
		tasksErr: make(map[string]error),
	}
}

func (f *fakeSource) Profiles(ctx context.Context) ([]model.SteamProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profilesErr != nil {
		return nil, f.profilesErr
	}
	out := make([]model.SteamProfile, len(f.profiles))
	copy(out, f.profiles)
	return out, nil
}

func (f *fakeSource) AddProfile(ctx context.Context, steamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, steamID)
	if f.registerOnAdd {
		f.profiles = append(f.profiles, model.SteamProfile{
			ID:      "profile-" + steamID,
			SteamID: steamID,
		})
	}
	return nil
}

func (f *fakeSource) Tasks(ctx context.Context, profileID string) ([]model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.tasksErr[profileID]; err != nil {
		return nil, err
	}
	tasks := f.tasks[profileID]
	out := make([]model.Task, len(tasks))
	copy(out, tasks)
	return out, nil
}

func (f *fakeSource) CompleteTask(ctx context.Context, taskID, commentID, profileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, ack{taskID: taskID, commentID: commentID, profileID: profileID, at: time.Now()})

	remaining := f.tasks[profileID][:0]
	for _, task := range f.tasks[profileID] {
		if task.ID != taskID {
			remaining = append(remaining, task)
		}
	}
	f.tasks[profileID] = remaining
	return nil
}

func (f *fakeSource) ackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acks)
}

func (f *fakeSource) allAcks() []ack {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ack, len(f.acks))
	copy(out, f.acks)
	return out
}

// addAccountProfile registers a profile for the account and seeds n tasks
func (f *fakeSource) addAccountProfile(account *model.Account, taskCount int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	profileID := "profile-" + account.Login
	f.profiles = append(f.profiles, model.SteamProfile{
		ID:          profileID,
		SteamID:     account.SteamID,
		PersonaName: account.Login,
	})
	for i := 0; i < taskCount; i++ {
		f.tasks[profileID] = append(f.tasks[profileID], model.Task{
			ID:                  fmt.Sprintf("task-%s-%d", account.Login, i),
			TargetSteamID:       fmt.Sprintf("target-%d", i),
			RequiredCommentID:   fmt.Sprintf("required-%s-%d", account.Login, i),
			RequiredCommentText: "+rep",
		})
	}
}

// eventRecorder drains the orchestrator event stream into a slice
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(events <-chan Event) *eventRecorder {
	r := &eventRecorder{}
	go func() {
		for event := range events {
			r.mu.Lock()
			r.events = append(r.events, event)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *eventRecorder) add(event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *eventRecorder) count(eventType EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

func (r *eventRecorder) has(eventType EventType) bool {
	return r.count(eventType) > 0
}

func botAccount(id, login string) *model.Account {
	return &model.Account{
		ID:      id,
		Login:   login,
		SteamID: "7656119800000" + id,
		Status:  model.AccountStatusOffline,
	}
}
