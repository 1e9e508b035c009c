package telegram

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const testToken = "123456:test-token"

// fakeBotAPI はgetMe、sendMessage、setWebhookに応答するBot APIのスタブ。
type fakeBotAPI struct {
	mu          sync.Mutex
	server      *httptest.Server
	sent        []url.Values
	webhook     url.Values
	nextID      int
	failCode    int
	failDesc    string
	sendDelay   time.Duration
	rejectGetMe bool
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()
	f := &fakeBotAPI{nextID: 100}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBotAPI) endpoint() string {
	return f.server.URL + "/bot%s/%s"
}

func (f *fakeBotAPI) handle(w http.ResponseWriter, r *http.Request) {
	prefix := "/bot" + testToken + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeAPI(w, false, nil, 404, "Not Found")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeAPI(w, false, nil, 400, "Bad Request")
		return
	}

	switch strings.TrimPrefix(r.URL.Path, prefix) {
	case "getMe":
		if f.rejectGetMe {
			writeAPI(w, false, nil, 401, "Unauthorized")
			return
		}
		writeAPI(w, true, map[string]any{"id": 1, "is_bot": true, "first_name": "iCore", "username": "icore_bot"}, 0, "")
	case "sendMessage":
		f.mu.Lock()
		delay := f.sendDelay
		f.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		f.mu.Lock()
		f.sent = append(f.sent, r.PostForm)
		failCode, failDesc := f.failCode, f.failDesc
		f.nextID++
		id := f.nextID
		f.mu.Unlock()

		if failCode != 0 {
			writeAPI(w, false, nil, failCode, failDesc)
			return
		}
		chatID, _ := strconv.ParseInt(r.PostForm.Get("chat_id"), 10, 64)
		writeAPI(w, true, map[string]any{
			"message_id": id,
			"date":       0,
			"chat":       map[string]any{"id": chatID, "type": "private"},
			"text":       r.PostForm.Get("text"),
		}, 0, "")
	case "setWebhook":
		f.mu.Lock()
		f.webhook = r.PostForm
		f.mu.Unlock()
		writeAPI(w, true, true, 0, "")
	default:
		writeAPI(w, false, nil, 404, "Not Found: method not found")
	}
}

func (f *fakeBotAPI) fail(code int, desc string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCode, f.failDesc = code, desc
}

func (f *fakeBotAPI) delay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendDelay = d
}

func (f *fakeBotAPI) webhookParams() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.webhook
}

func (f *fakeBotAPI) sentMessages() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.sent...)
}

func writeAPI(w http.ResponseWriter, ok bool, result any, code int, desc string) {
	resp := map[string]any{"ok": ok}
	if ok {
		resp["result"] = result
	} else {
		resp["error_code"] = code
		resp["description"] = desc
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
