package faceclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRecognize(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    Match
		wantErr error
	}{
		{
			name:   "Match",
			status: http.StatusOK,
			body:   `{"userId":"u-42","confidence":91.5}`,
			want:   Match{UserID: "u-42", Confidence: 91.5},
		},
		{
			name:    "Not found means no match",
			status:  http.StatusNotFound,
			body:    `{"error":"Face not recognized or confidence too low"}`,
			wantErr: ErrNoMatch,
		},
		{
			name:    "OK without user id means no match",
			status:  http.StatusOK,
			body:    `{"confidence":12}`,
			wantErr: ErrNoMatch,
		},
		{
			name:    "Server error is unavailable",
			status:  http.StatusInternalServerError,
			body:    `{"error":"boom"}`,
			wantErr: ErrUnavailable,
		},
		{
			name:    "Bad request is rejected",
			status:  http.StatusBadRequest,
			body:    `{"error":"No image data provided"}`,
			wantErr: ErrRejected,
		},
		{
			name:    "Garbage body is unavailable",
			status:  http.StatusOK,
			body:    `not json`,
			wantErr: ErrUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/recognize" || r.Method != http.MethodPost {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				var in map[string]string
				_ = json.NewDecoder(r.Body).Decode(&in)
				if in["image"] != "data:image/jpeg;base64,AAAA" {
					t.Errorf("image = %q", in["image"])
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(srv.URL, time.Second)
			got, err := c.Recognize(context.Background(), "data:image/jpeg;base64,AAAA")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Recognize() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Recognize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Recognize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRecognizeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, 50*time.Millisecond)
	_, err := c.Recognize(context.Background(), "img")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Recognize() error = %v, want ErrUnavailable", err)
	}
}

func TestRecognizeConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, time.Second)
	_, err := c.Recognize(context.Background(), "img")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Recognize() error = %v, want ErrUnavailable", err)
	}
}

func TestRegisterAndDeleteFace(t *testing.T) {
	var gotRegister, gotDelete map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/register-face":
			_ = json.NewDecoder(r.Body).Decode(&gotRegister)
			_, _ = w.Write([]byte(`{"success":true}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/api/delete-face":
			_ = json.NewDecoder(r.Body).Decode(&gotDelete)
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"User face not found"}`))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	if err := c.RegisterFace(context.Background(), "u1", "img"); err != nil {
		t.Fatalf("RegisterFace() error = %v", err)
	}
	if gotRegister["userId"] != "u1" || gotRegister["image"] != "img" {
		t.Errorf("register payload = %v", gotRegister)
	}
	if err := c.DeleteFace(context.Background(), "u1"); err != nil {
		t.Fatalf("DeleteFace() of missing face should succeed, got %v", err)
	}
	if gotDelete["userId"] != "u1" {
		t.Errorf("delete payload = %v", gotDelete)
	}
	if err := c.RegisterFace(context.Background(), "", "img"); !errors.Is(err, ErrRejected) {
		t.Errorf("RegisterFace() without user = %v, want ErrRejected", err)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	if err := New(srv.URL, time.Second).Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v", err)
	}
}
