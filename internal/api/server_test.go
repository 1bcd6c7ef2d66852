package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"deal-radar/internal/platform"
	"deal-radar/internal/publish"
	"deal-radar/internal/storage"
)

type fakeStatusStore struct {
	counts map[string]int64
}

func (s *fakeStatusStore) EnsurePlatform(ctx context.Context, code, name string) (storage.Platform, error) {
	return storage.Platform{ID: int64(len(code)), Code: code, Name: name}, nil
}

func (s *fakeStatusStore) ListItemIDs(ctx context.Context, platformID int64) ([]string, error) {
	return nil, nil
}

func (s *fakeStatusStore) CountItems(ctx context.Context, platformID int64) (int64, error) {
	return s.counts["any"], nil
}

func (s *fakeStatusStore) AddItems(ctx context.Context, platformID int64, externalIDs []string) (int64, error) {
	return 0, nil
}

func (s *fakeStatusStore) DeleteItems(ctx context.Context, platformID int64, externalIDs []string) (int64, error) {
	return 0, nil
}

func (s *fakeStatusStore) DeleteOldest(ctx context.Context, platformID int64, n int) (int64, error) {
	return 0, nil
}

func (s *fakeStatusStore) ListHardDead(ctx context.Context, platformID int64, threshold int, reasons []string) ([]string, error) {
	return nil, nil
}

func (s *fakeStatusStore) ListMediaDead(ctx context.Context, platformID int64, threshold int) ([]string, error) {
	return nil, nil
}

func (s *fakeStatusStore) ListRecentItems(ctx context.Context, platformID int64, limit int) ([]storage.Item, error) {
	return nil, nil
}

func (s *fakeStatusStore) GetItem(ctx context.Context, platformID int64, externalID string) (*storage.Item, error) {
	return nil, nil
}

type nullPublisher struct{}

func (nullPublisher) Send(ctx context.Context, cand publish.Candidate) (publish.Outcome, error) {
	return publish.OutcomeSent, nil
}

func newTestServer() *Server {
	store := &fakeStatusStore{counts: map[string]int64{"any": 42}}
	gate := publish.NewGate(nullPublisher{}, publish.GateOptions{MaxPerHour: 10}, zerolog.Nop())
	return NewServer(store, gate, Options{
		Listen:    ":0",
		Platforms: []platform.Code{platform.Wildberries, platform.Ozon},
	}, zerolog.Nop())
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("health 应返回 200, 实际 %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("响应应为 ok: %v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status 应返回 200, 实际 %d", rec.Code)
	}

	var body struct {
		Platforms []struct {
			Code  string `json:"code"`
			Items int64  `json:"items"`
		} `json:"platforms"`
		Publishing struct {
			WindowUsed int `json:"window_used"`
			WindowMax  int `json:"window_max"`
		} `json:"publishing"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(body.Platforms) != 2 {
		t.Fatalf("应列出两个平台, 实际 %d", len(body.Platforms))
	}
	if body.Platforms[0].Code != "WB" || body.Platforms[0].Items != 42 {
		t.Fatalf("平台状态不正确: %+v", body.Platforms[0])
	}
	if body.Publishing.WindowMax != 10 {
		t.Fatalf("发布窗口上限应为 10, 实际 %d", body.Publishing.WindowMax)
	}
}
