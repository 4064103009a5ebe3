package whatsapp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/loyalty-whatsapp/internal/whatsapp/evolution"
)

type fakeGateway struct {
	mu sync.Mutex

	state      string
	stateErr   error
	qr         string
	connectErr error
	webhookErr error
	profileErr error
	instances  map[string]evolution.InstanceInfo
	stateHook  func()

	stateCalls   int
	connectCalls int
	webhooks     []evolution.WebhookConfig
	profileCalls int
	findCalls    int
}

func (f *fakeGateway) setState(state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

func (f *fakeGateway) ConnectionState(ctx context.Context, instance string) (*evolution.ConnectionStateResponse, error) {
	f.mu.Lock()
	hook := f.stateHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	resp := &evolution.ConnectionStateResponse{}
	resp.Instance.InstanceName = instance
	resp.Instance.State = f.state
	return resp, nil
}

func (f *fakeGateway) Connect(ctx context.Context, instance string) (*evolution.ConnectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return &evolution.ConnectResponse{Base64: f.qr}, nil
}

func (f *fakeGateway) SetWebhook(ctx context.Context, instance string, cfg evolution.WebhookConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhooks = append(f.webhooks, cfg)
	return f.webhookErr
}

func (f *fakeGateway) FetchProfile(ctx context.Context, instance string) (*evolution.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCalls++
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return &evolution.Profile{Name: "Sistema Puntos"}, nil
}

func (f *fakeGateway) FindInstance(ctx context.Context, instance string) (*evolution.InstanceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	info, ok := f.instances[instance]
	if !ok {
		return nil, evolution.ErrInstanceNotFound
	}
	return &info, nil
}

func (f *fakeGateway) counts() (state, connect, webhooks, profile int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateCalls, f.connectCalls, len(f.webhooks), f.profileCalls
}

func newTestManager(t *testing.T, gw *fakeGateway, cfg ManagerConfig) *Manager {
	t.Helper()
	if cfg.Instance == "" {
		cfg.Instance = "sistema-puntos-2025"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	m := NewManager(gw, cfg)
	t.Cleanup(m.Close)
	return m
}

func waitForStatus(t *testing.T, m *Manager, want Status) ConnectionState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := m.Status(); snap.Status == want {
			return snap
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s, last %+v", want, m.Status())
	return ConnectionState{}
}
