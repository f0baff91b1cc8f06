package facebook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"smm-planner/internal/domain"
)

func TestBuildMessage(t *testing.T) {
	post := domain.PostRecord{
		Text:         "Открыта запись на персональные тренировки",
		CallToAction: "Запишитесь сегодня!",
		Hashtags:     []string{"fitness", "#gym", " "},
	}
	got := BuildMessage(post)
	want := "Открыта запись на персональные тренировки\n\nЗапишитесь сегодня!\n\n#fitness #gym"
	if got != want {
		t.Fatalf("сообщение собрано неверно:\n%q\n!=\n%q", got, want)
	}
}

func TestBuildMessageTextOnly(t *testing.T) {
	got := BuildMessage(domain.PostRecord{Text: "просто текст"})
	if got != "просто текст" {
		t.Fatalf("лишние блоки в сообщении: %q", got)
	}
}

func TestPublishSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v19.0/page42/feed" {
			t.Errorf("неожиданный путь %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("access_token") != "token" {
			t.Errorf("токен не передан")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"page42_777"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{GraphURL: srv.URL})
	externalID, err := client.Publish(context.Background(), domain.PostRecord{ID: "p1", Text: "пост"}, domain.ChannelCredentials{PageID: "page42", AccessToken: "token"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if externalID != "page42_777" {
		t.Fatalf("ожидали page42_777, получили %s", externalID)
	}
}

func TestPublishGraphError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token","type":"OAuthException","code":190}}`))
	}))
	defer srv.Close()

	client := NewClient(Config{GraphURL: srv.URL})
	_, err := client.Publish(context.Background(), domain.PostRecord{ID: "p1"}, domain.ChannelCredentials{PageID: "page42", AccessToken: "bad"})
	var pErr *domain.PublisherError
	if !errors.As(err, &pErr) {
		t.Fatalf("ожидали PublisherError, получили %v", err)
	}
	if pErr.Kind != "OAuthException" {
		t.Fatalf("ожидали kind OAuthException, получили %s", pErr.Kind)
	}
}

func TestMockDeterministic(t *testing.T) {
	mock := NewMock()
	first, err := mock.Publish(context.Background(), domain.PostRecord{ID: "p1"}, domain.ChannelCredentials{PageID: "page"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	second, _ := mock.Publish(context.Background(), domain.PostRecord{ID: "p1"}, domain.ChannelCredentials{PageID: "page"})
	if first != second {
		t.Fatalf("мок недетерминирован: %s != %s", first, second)
	}
}
