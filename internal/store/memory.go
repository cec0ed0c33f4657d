package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/casebook/pkg/models"
)

// Memory is an in-process Store for development and tests. Records are
// copied on the way in and out so callers never share state with it.
type Memory struct {
	mu       sync.RWMutex
	nextID   int64
	users    map[int64]models.User
	projects map[int64]models.Project
	chatbots map[int64]models.Chatbot
	exchange map[int64]models.Exchange
	actions  []models.UserAction
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[int64]models.User),
		projects: make(map[int64]models.Project),
		chatbots: make(map[int64]models.Chatbot),
		exchange: make(map[int64]models.Exchange),
		now:      time.Now,
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrDuplicate
		}
	}
	u.ID = m.id()
	u.CreatedAt = m.now()
	u.UpdatedAt = u.CreatedAt
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateProject(ctx context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	p.CreatedAt = m.now()
	p.UpdatedAt = p.CreatedAt
	m.projects[p.ID] = *p
	return nil
}

func (m *Memory) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) ListProjects(ctx context.Context) ([]*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Project, 0, len(m.projects))
	for _, p := range m.projects {
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateChatbot(ctx context.Context, c *models.Chatbot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	c.CreatedAt = m.now()
	c.UpdatedAt = c.CreatedAt
	m.chatbots[c.ID] = *c
	return nil
}

func (m *Memory) GetChatbot(ctx context.Context, id int64) (*models.Chatbot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chatbots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *Memory) UpdateChatbot(ctx context.Context, c *models.Chatbot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.chatbots[c.ID]
	if !ok {
		return ErrNotFound
	}
	c.ProjectID = existing.ProjectID
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = m.now()
	m.chatbots[c.ID] = *c
	return nil
}

func (m *Memory) ListChatbotsByProject(ctx context.Context, projectID int64) ([]*models.Chatbot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Chatbot
	for _, c := range m.chatbots {
		if c.ProjectID == projectID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateExchange(ctx context.Context, ex *models.Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ex.ID = m.id()
	ex.CreatedAt = m.now()
	ex.UpdatedAt = ex.CreatedAt
	ex.Version = 1
	m.exchange[ex.ID] = copyExchange(ex)
	return nil
}

func (m *Memory) GetExchange(ctx context.Context, id int64) (*models.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ex, ok := m.exchange[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyExchange(&ex)
	return &out, nil
}

func (m *Memory) ListExchangesByProject(ctx context.Context, projectID int64) ([]*models.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Exchange
	for _, ex := range m.exchange {
		if ex.ProjectID == projectID {
			c := copyExchange(&ex)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CompareAndSwapExchange stores ex only if the stored row still has the
// given status and task handle and the version ex was read at.
func (m *Memory) CompareAndSwapExchange(ctx context.Context, ex *models.Exchange, status models.ExchangeStatus, handle string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.exchange[ex.ID]
	if !ok {
		return false, ErrNotFound
	}
	if current.Status != status || current.TaskHandle != handle || current.Version != ex.Version {
		return false, nil
	}
	ex.CreatedAt = current.CreatedAt
	ex.UpdatedAt = m.now()
	ex.Version = current.Version + 1
	m.exchange[ex.ID] = copyExchange(ex)
	return true, nil
}

func (m *Memory) InsertUserAction(ctx context.Context, a *models.UserAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.id()
	a.CreatedAt = m.now()
	m.actions = append(m.actions, *a)
	return nil
}

// ListUserActions returns the newest actions first
func (m *Memory) ListUserActions(ctx context.Context, limit int) ([]*models.UserAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.UserAction
	for i := len(m.actions) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		a := m.actions[i]
		out = append(out, &a)
	}
	return out, nil
}

func copyExchange(ex *models.Exchange) models.Exchange {
	out := *ex
	if ex.ChatbotID != nil {
		id := *ex.ChatbotID
		out.ChatbotID = &id
	}
	if ex.SubmittedAt != nil {
		at := *ex.SubmittedAt
		out.SubmittedAt = &at
	}
	return out
}
