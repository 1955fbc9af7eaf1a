package feishu

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hazyhaar/coverbridge/horosafe"
)

// PageSize is the number of records or fields requested per page.
const PageSize = 100

// defaultMaxPages guards against a server that never clears has_more.
const defaultMaxPages = 10000

// Field describes one Bitable column.
type Field struct {
	FieldID   string `json:"field_id,omitempty"`
	FieldName string `json:"field_name"`
	Type      int    `json:"type"`
}

// RecordPage is one page of ListRecordsPage.
type RecordPage struct {
	Items     []Record `json:"items"`
	HasMore   bool     `json:"has_more"`
	PageToken string   `json:"page_token"`
	Total     int      `json:"total"`
}

// ListFields returns every field of the table, following pagination.
func (c *Client) ListFields(ctx context.Context) ([]Field, error) {
	var all []Field
	pageToken := ""
	for range c.maxPages {
		q := url.Values{}
		q.Set("page_size", strconv.Itoa(PageSize))
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}
		var page struct {
			Items     []Field `json:"items"`
			HasMore   bool    `json:"has_more"`
			PageToken string  `json:"page_token"`
		}
		u := c.tableURL("/fields") + "?" + q.Encode()
		if err := c.call(ctx, opListFields, c.timeout, jsonRequest(http.MethodGet, u, nil), &page); err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if !page.HasMore || page.PageToken == "" {
			break
		}
		pageToken = page.PageToken
	}
	if all == nil {
		all = []Field{}
	}
	return all, nil
}

// ListRecordsPage fetches one page of records. An empty pageToken asks for
// the first page; pageSize <= 0 uses PageSize.
func (c *Client) ListRecordsPage(ctx context.Context, pageSize int, pageToken string) (*RecordPage, error) {
	if pageSize <= 0 {
		pageSize = PageSize
	}
	q := url.Values{}
	q.Set("page_size", strconv.Itoa(pageSize))
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	u := c.tableURL("/records") + "?" + q.Encode()

	var page RecordPage
	if err := c.call(ctx, opListRecords, c.timeout, jsonRequest(http.MethodGet, u, nil), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListAllRecords follows pagination and returns every record in server
// order. Any page failure fails the whole call, and so does a table that
// still reports has_more after the page limit.
func (c *Client) ListAllRecords(ctx context.Context) ([]Record, error) {
	all := []Record{}
	pageToken := ""
	for n := range c.maxPages {
		page, err := c.ListRecordsPage(ctx, PageSize, pageToken)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		c.logger.Debug("feishu: records page", "page", n+1, "items", len(page.Items), "has_more", page.HasMore)
		if !page.HasMore || page.PageToken == "" {
			return all, nil
		}
		pageToken = page.PageToken
	}
	return nil, fmt.Errorf("%w: %s: has_more after %d pages (%d records read)",
		ErrIncomplete, opListRecords, c.maxPages, len(all))
}

// UpdateRecord sets the given fields on one record.
func (c *Client) UpdateRecord(ctx context.Context, recordID string, fields map[string]any) error {
	if err := validateRecordID(recordID); err != nil {
		return err
	}
	u := c.tableURL("/records/" + url.PathEscape(recordID))
	payload := map[string]any{"fields": fields}
	return c.call(ctx, opUpdateRecord, c.timeout, jsonRequest(http.MethodPut, u, payload), nil)
}

// AttachmentValue is the field value that sets an attachment field to a
// single uploaded file.
func AttachmentValue(fileToken string) []map[string]string {
	return []map[string]string{{"file_token": fileToken}}
}

func validateRecordID(id string) error {
	if err := horosafe.ValidateIdentifier(id); err != nil {
		return fmt.Errorf("feishu: %s: record id: %w", opUpdateRecord, err)
	}
	return nil
}
