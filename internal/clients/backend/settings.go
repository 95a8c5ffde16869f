package backend

import (
	"context"
	"net/http"

	"github.com/maxaizer/jobsync/internal/domain/models"
)

func (c *Client) GetSettings(ctx context.Context) (models.Settings, error) {
	body, err := c.read(ctx, request{
		endpoint: "settings_get",
		method:   http.MethodGet,
		path:     "/settings",
	}, c.readTTL)
	if err != nil {
		return models.Settings{}, err
	}
	return decode[models.Settings](body, "settings")
}

// UpdateSettings drops the cached settings read so the next GetSettings sees the change.
func (c *Client) UpdateSettings(ctx context.Context, settings models.Settings) error {
	_, err := c.write(ctx, request{
		endpoint: "settings_update",
		method:   http.MethodPost,
		path:     "/settings",
		body:     settings,
	})
	if c.cache != nil {
		c.cache.Invalidate(c.settingsKey())
	}
	return err
}

func (c *Client) settingsKey() string {
	return http.MethodGet + " " + c.baseURL + "/settings"
}

func (c *Client) Health(ctx context.Context) error {
	_, err := c.write(ctx, request{
		endpoint: "health",
		method:   http.MethodGet,
		path:     "/health",
	})
	return err
}
