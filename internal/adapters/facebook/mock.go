package facebook

import (
	"context"
	"fmt"

	"smm-planner/internal/domain"
)

// Mock имитирует канал публикации без обращения к Graph API.
// Используется в dev-окружении, пока страница не подключена.
type Mock struct{}

var _ domain.Publisher = (*Mock)(nil)

// NewMock создаёт мок-канал.
func NewMock() *Mock {
	return &Mock{}
}

// Publish возвращает детерминированный внешний идентификатор.
func (m *Mock) Publish(_ context.Context, post domain.PostRecord, creds domain.ChannelCredentials) (string, error) {
	pageID := creds.PageID
	if pageID == "" {
		pageID = "mock_page"
	}
	return fmt.Sprintf("%s_%s", pageID, post.ID), nil
}
