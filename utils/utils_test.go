package utils

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCacheWithoutRedisIsNoop(t *testing.T) {
	ctx := context.Background()
	c := NewCache(nil, 0)
	if c.Enabled() {
		t.Fatalf("cache without client must be disabled")
	}
	if c.ttl != defaultCacheTTL {
		t.Fatalf("expected default ttl, got %s", c.ttl)
	}

	c.SetJSON(ctx, "k", map[string]int{"a": 1})
	var out map[string]int
	if c.GetJSON(ctx, "k", &out) {
		t.Fatalf("disabled cache returned a value")
	}
	c.InvalidateByPrefix(ctx, "k")

	var nilCache *Cache
	if nilCache.Enabled() {
		t.Fatalf("nil cache must be disabled")
	}
}

func TestSanitizeText(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  Stadtbad  ", "Stadtbad"},
		{"<b>Hallenbad</b> Nord", "Hallenbad Nord"},
		{"<script>alert(1)</script>Freibad", "Freibad"},
		{"Bad & Sauna", "Bad &amp; Sauna"},
		{"Bad &amp; Sauna", "Bad &amp; Sauna"},
		{`<a href="javascript:x">Link</a> pool`, "Link pool"},
		{"&lt;img src=x onerror=alert(1)&gt;Stadtbad", "Stadtbad"},
		{"&lt;script&gt;alert(1)&lt;/script&gt;Bad", "Bad"},
	}
	for _, tc := range cases {
		if got := SanitizeText(tc.in); got != tc.want {
			t.Fatalf("SanitizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	// double-encoded markup must stay inert text
	got := SanitizeText("&amp;lt;img src=x onerror=alert(1)&amp;gt;Stadtbad")
	if strings.ContainsAny(got, "<>") {
		t.Fatalf("markup survived sanitizing: %q", got)
	}
}

func TestUniqueUint(t *testing.T) {
	got := UniqueUint([]uint{3, 1, 3, 2, 1})
	if want := []uint{3, 1, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("UniqueUint = %v, want %v", got, want)
	}
	if got := UniqueUint(nil); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}

func TestResponseEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		write      func(*gin.Context)
		wantStatus int
		wantCode   int
		wantMsg    string
		wantData   bool
	}{
		{"success", func(c *gin.Context) { Success(c, gin.H{"count": 3}) }, http.StatusOK, 0, "success", true},
		{"created", func(c *gin.Context) { Created(c, gin.H{"id": 1}) }, http.StatusCreated, 0, "created", true},
		{"accepted", func(c *gin.Context) { Accepted(c, gin.H{"task_id": "x"}) }, http.StatusAccepted, 0, "accepted", true},
		{"error", func(c *gin.Context) { Error(c, http.StatusNotFound, 40401, "pool not found") }, http.StatusNotFound, 40401, "pool not found", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			tt.write(c)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]interface{}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if int(body["code"].(float64)) != tt.wantCode || body["message"] != tt.wantMsg {
				t.Fatalf("unexpected envelope: %v", body)
			}
			if _, ok := body["data"]; ok != tt.wantData {
				t.Fatalf("data presence = %v, want %v", ok, tt.wantData)
			}
		})
	}
}
