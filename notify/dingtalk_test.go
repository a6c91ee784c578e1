package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var fixedNow = time.Date(2024, 9, 6, 6, 3, 5, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestNotifier(baseURL string) *Notifier {
	return New(http.DefaultClient, Config{
		BaseURL:     baseURL,
		AccessToken: "tok123",
		Secret:      "SECabc",
		Now:         func() time.Time { return fixedNow },
	}, testLogger())
}

func TestReportMissingFields(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()
	n := newTestNotifier(srv.URL)

	tests := []struct {
		name string
		ip   string
		ua   string
	}{
		{name: "missing ip", ua: "Mozilla/5.0"},
		{name: "missing ua", ip: "203.0.113.7"},
		{name: "missing both"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Report(context.Background(), tt.ip, tt.ua)
			if got.Success || got.Message != MsgMissingIPOrUA || got.Data != nil {
				t.Errorf("Report() = %+v, want missing IP/UA failure", got)
			}
		})
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("made %d network calls, want 0", n)
	}
}

func TestReportNotConfigured(t *testing.T) {
	n := New(http.DefaultClient, Config{}, testLogger())
	got := n.Report(context.Background(), "203.0.113.7", "Mozilla/5.0")
	if got.Success || got.Message != MsgNotConfigured {
		t.Errorf("Report() = %+v, want not configured failure", got)
	}
}

func TestReportSuccess(t *testing.T) {
	wantTS := strconv.FormatInt(fixedNow.UnixMilli(), 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/robot/send" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("access_token") != "tok123" {
			t.Errorf("access_token = %q", q.Get("access_token"))
		}
		if q.Get("timestamp") != wantTS {
			t.Errorf("timestamp = %q, want %q", q.Get("timestamp"), wantTS)
		}
		wantSign, _ := url.QueryUnescape(Sign(wantTS, "SECabc"))
		if got := q.Get("sign"); got != wantSign {
			t.Errorf("sign = %q, want base64 %q", got, wantSign)
		}

		var msg TextMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if msg.MsgType != "text" {
			t.Errorf("msgtype = %q", msg.MsgType)
		}
		wantContent := "公网IP: 203.0.113.7\nUA: Mozilla/5.0\n时间: 2024/9/6 14:03:05"
		if msg.Text.Content != wantContent {
			t.Errorf("content = %q, want %q", msg.Text.Content, wantContent)
		}
		_, _ = w.Write([]byte(`{"errcode": 0, "errmsg": "ok"}`))
	}))
	defer srv.Close()

	got := newTestNotifier(srv.URL).Report(context.Background(), "203.0.113.7", "Mozilla/5.0")
	if !got.Success {
		t.Fatalf("Report() = %+v, want success", got)
	}
	if got.Data == nil {
		t.Fatal("Report() missing echo data")
	}
	if got.Data.Timestamp != wantTS || got.Data.Sign != Sign(wantTS, "SECabc") {
		t.Errorf("echo = %+v", got.Data)
	}
	if !strings.HasPrefix(got.Data.Webhook, srv.URL+"/robot/send?access_token=tok123&timestamp="+wantTS+"&sign=") {
		t.Errorf("webhook = %q", got.Data.Webhook)
	}
	if string(got.Data.Response) != `{"errcode": 0, "errmsg": "ok"}` {
		t.Errorf("response = %s", got.Data.Response)
	}
}

func TestReportDeclaredFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantData    bool
	}{
		{
			name:        "robot error code",
			status:      http.StatusOK,
			body:        `{"errcode": 310000, "errmsg": "sign not match"}`,
			wantMessage: "sign not match",
			wantData:    true,
		},
		{
			name:        "missing errcode",
			status:      http.StatusOK,
			body:        `{}`,
			wantMessage: "unexpected robot response",
			wantData:    true,
		},
		{
			name:        "server error",
			status:      http.StatusBadGateway,
			body:        `bad gateway`,
			wantMessage: "robot API HTTP 502",
		},
		{
			name:        "not JSON",
			status:      http.StatusOK,
			body:        `<html></html>`,
			wantMessage: "decode response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got := newTestNotifier(srv.URL).Report(context.Background(), "203.0.113.7", "Mozilla/5.0")
			if got.Success {
				t.Fatalf("Report() = %+v, want failure", got)
			}
			if !strings.Contains(got.Message, tt.wantMessage) {
				t.Errorf("Message = %q, want it to contain %q", got.Message, tt.wantMessage)
			}
			if (got.Data != nil) != tt.wantData {
				t.Errorf("Data present = %v, want %v", got.Data != nil, tt.wantData)
			}
		})
	}
}

func TestReportTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := srv.URL
	srv.Close()

	got := newTestNotifier(baseURL).Report(context.Background(), "203.0.113.7", "Mozilla/5.0")
	if got.Success || got.Message == "" {
		t.Fatalf("Report() = %+v, want transport failure", got)
	}
	if strings.Contains(got.Message, "tok123") {
		t.Errorf("Message leaks access token: %q", got.Message)
	}
}
