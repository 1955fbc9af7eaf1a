package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/coverbridge/dbopen"
	"github.com/hazyhaar/coverbridge/feishu"
)

// MaskedSecret replaces the app secret in read responses.
const MaskedSecret = "******"

// FeishuConfig is a user's table credentials.
type FeishuConfig struct {
	UserID         string    `json:"userId"`
	AppID          string    `json:"appId"`
	AppSecret      string    `json:"appSecret"`
	AppToken       string    `json:"appToken"`
	TableID        string    `json:"tableId"`
	ImageFieldName string    `json:"imageFieldName"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Validate checks the fields required to reach the table.
func (c *FeishuConfig) Validate() error {
	var missing []string
	for _, f := range []struct{ name, v string }{
		{"appId", c.AppID}, {"appSecret", c.AppSecret},
		{"appToken", c.AppToken}, {"tableId", c.TableID},
	} {
		if strings.TrimSpace(f.v) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// ImageField returns the attachment field to write, defaulting to
// feishu.DefaultImageField.
func (c *FeishuConfig) ImageField() string {
	if c.ImageFieldName == "" {
		return feishu.DefaultImageField
	}
	return c.ImageFieldName
}

// Credentials returns the client credentials.
func (c *FeishuConfig) Credentials() feishu.Credentials {
	return feishu.Credentials{
		AppID:     c.AppID,
		AppSecret: c.AppSecret,
		AppToken:  c.AppToken,
		TableID:   c.TableID,
	}
}

// Masked returns a copy safe to send to the browser.
func (c FeishuConfig) Masked() FeishuConfig {
	if c.AppSecret != "" {
		c.AppSecret = MaskedSecret
	}
	c.ImageFieldName = c.ImageField()
	return c
}

// GetConfig returns the user's config or ErrConfigMissing.
func (s *Store) GetConfig(ctx context.Context, userID string) (*FeishuConfig, error) {
	var c FeishuConfig
	var created, updated int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id, app_id, app_secret, app_token, table_id, image_field_name,
		created_at, updated_at
		FROM feishu_config WHERE user_id = ?`, userID).Scan(
		&c.UserID, &c.AppID, &c.AppSecret, &c.AppToken, &c.TableID, &c.ImageFieldName,
		&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConfigMissing
	}
	if err != nil {
		return nil, fmt.Errorf("store: get config: %w", err)
	}
	c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &c, nil
}

// UpsertConfig validates and saves c for c.UserID. An empty image field name
// is stored as the default.
func (s *Store) UpsertConfig(ctx context.Context, c *FeishuConfig) error {
	if c.UserID == "" {
		return fmt.Errorf("%w: user id required", ErrInvalid)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	c.ImageFieldName = c.ImageField()
	now := s.stamp()
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO feishu_config (user_id, app_id, app_secret, app_token, table_id,
		image_field_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			app_id = excluded.app_id,
			app_secret = excluded.app_secret,
			app_token = excluded.app_token,
			table_id = excluded.table_id,
			image_field_name = excluded.image_field_name,
			updated_at = excluded.updated_at`,
		c.UserID, c.AppID, c.AppSecret, c.AppToken, c.TableID, c.ImageFieldName, now, now)
	if err != nil {
		return fmt.Errorf("store: upsert config: %w", err)
	}
	return nil
}

// DeleteConfig removes the user's config. Missing config is not an error.
func (s *Store) DeleteConfig(ctx context.Context, userID string) error {
	if _, err := dbopen.Exec(ctx, s.DB, `DELETE FROM feishu_config WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("store: delete config: %w", err)
	}
	return nil
}
