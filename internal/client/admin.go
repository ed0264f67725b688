package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/earnsigma/go_earnsigma/internal/models"
)

// nonEmptyString returns the first key holding a non-empty JSON string
func nonEmptyString(fields map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		if s := models.FirstString(fields, key); s != "" {
			return s
		}
	}
	return ""
}

// isTrue reports whether the field is the JSON literal true
func isTrue(fields map[string]json.RawMessage, key string) bool {
	var b bool
	raw, ok := fields[key]
	return ok && json.Unmarshal(raw, &b) == nil && b
}

// firstPresent returns the first field that is present and not null
func firstPresent(fields map[string]json.RawMessage, keys ...string) json.RawMessage {
	for _, key := range keys {
		if raw, ok := fields[key]; ok && string(raw) != "null" {
			return raw
		}
	}
	return nil
}

// MapAdminUserRow normalizes one creator record
func MapAdminUserRow(fields map[string]json.RawMessage) models.AdminUserRow {
	return models.AdminUserRow{
		CreatorID:   nonEmptyString(fields, "creator_id", "creatorId"),
		Email:       nonEmptyString(fields, "email"),
		Plan:        nonEmptyString(fields, "plan"),
		Status:      nonEmptyString(fields, "status"),
		Blocked:     isTrue(fields, "blocked"),
		CompUntil:   nonEmptyString(fields, "comp_until", "compUntil"),
		UploadState: nonEmptyString(fields, "upload_state", "last_upload_status", "uploadState"),
	}
}

func mapResourceHealth(raw json.RawMessage) *models.ResourceHealth {
	if raw == nil {
		return nil
	}
	fields, err := decodeFields(raw)
	if err != nil || fields == nil {
		return nil
	}
	return &models.ResourceHealth{
		ID:        nonEmptyString(fields, "id"),
		Status:    nonEmptyString(fields, "status"),
		CreatedAt: nonEmptyString(fields, "created_at", "createdAt"),
		Link:      nonEmptyString(fields, "link", "url"),
	}
}

// FetchAdminWhoAmI asks the backend whether the caller is an admin. A rejected
// request means "not an admin" and is not cached.
func (c *Client) FetchAdminWhoAmI(ctx context.Context, opts FetchOptions) (models.AdminWhoAmI, error) {
	if !opts.ForceRefresh {
		if cached, ok := c.adminWhoAmI.Get(ctx, opts.Scope); ok {
			return cached, nil
		}
	}

	key := "whoami:" + opts.Scope
	if opts.ForceRefresh {
		c.group.Forget(key)
	}

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		fields, err := c.getFields(ctx, http.MethodGet, "/v1/admin/whoami", nil, "admin role")
		if err != nil {
			var apiErr *models.APIError
			if errors.As(err, &apiErr) && apiErr.Status > 0 {
				return models.AdminWhoAmI{}, nil
			}
			return nil, err
		}

		whoami := models.AdminWhoAmI{
			IsAdmin: isTrue(fields, "is_admin") || isTrue(fields, "admin") || isTrue(fields, "isAdmin"),
			Email:   nonEmptyString(fields, "email"),
		}
		if err := c.adminWhoAmI.Put(ctx, opts.Scope, whoami); err != nil {
			return nil, err
		}
		return whoami, nil
	})
	if err != nil {
		return models.AdminWhoAmI{}, err
	}
	return value.(models.AdminWhoAmI), nil
}

// FetchAdminUsers lists creators, optionally filtered by search.
// Rows without a creator id are dropped.
func (c *Client) FetchAdminUsers(ctx context.Context, search string) (models.AdminUserList, error) {
	path := "/v1/admin/users"
	if search != "" {
		path += "?search=" + url.QueryEscape(search)
	}

	fields, err := c.getFields(ctx, http.MethodGet, path, nil, "admin users")
	if err != nil {
		return models.AdminUserList{}, err
	}

	var rows []map[string]json.RawMessage
	if raw, ok := fields["users"]; ok {
		_ = json.Unmarshal(raw, &rows)
	}

	list := models.AdminUserList{Users: make([]models.AdminUserRow, 0, len(rows))}
	for _, row := range rows {
		user := MapAdminUserRow(row)
		if user.CreatorID == "" {
			continue
		}
		list.Users = append(list.Users, user)
	}

	var total float64
	if raw, ok := fields["total"]; ok && json.Unmarshal(raw, &total) == nil {
		list.Total = int(total)
	} else {
		list.Total = len(list.Users)
	}
	return list, nil
}

// FetchAdminUserDetail fetches one creator with their latest upload and report
func (c *Client) FetchAdminUserDetail(ctx context.Context, creatorID string) (models.AdminUserDetail, error) {
	path := "/v1/admin/users/" + url.PathEscape(creatorID)
	fields, err := c.getFields(ctx, http.MethodGet, path, nil, "admin user detail")
	if err != nil {
		return models.AdminUserDetail{}, err
	}

	return models.AdminUserDetail{
		AdminUserRow: MapAdminUserRow(fields),
		LatestUpload: mapResourceHealth(firstPresent(fields, "latest_upload", "upload", "last_upload")),
		LatestReport: mapResourceHealth(firstPresent(fields, "latest_report", "report", "last_report")),
		FetchedAt:    c.now().UTC(),
	}, nil
}

// UpdateAdminUserBlocked blocks or unblocks a creator
func (c *Client) UpdateAdminUserBlocked(ctx context.Context, creatorID string, blocked bool) (models.AdminUserRow, error) {
	path := fmt.Sprintf("/v1/admin/users/%s/blocked", url.PathEscape(creatorID))
	fields, err := c.getFields(ctx, http.MethodPatch, path, map[string]bool{"blocked": blocked}, "blocked status")
	if err != nil {
		return models.AdminUserRow{}, err
	}
	return MapAdminUserRow(fields), nil
}

// UpdateAdminUserCompUntil sets or clears (nil) a creator's complimentary access end
func (c *Client) UpdateAdminUserCompUntil(ctx context.Context, creatorID string, compUntil *string) (models.AdminUserRow, error) {
	path := fmt.Sprintf("/v1/admin/users/%s/comp_until", url.PathEscape(creatorID))
	fields, err := c.getFields(ctx, http.MethodPatch, path, map[string]*string{"comp_until": compUntil}, "comp_until")
	if err != nil {
		return models.AdminUserRow{}, err
	}
	return MapAdminUserRow(fields), nil
}
